// Package config содержит логику чтения конфигурации сервиса витрины.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса витрины.
// Учётные данные платёжного провайдера и администратора задаются только
// переменными окружения: значений по умолчанию у них нет и быть не должно.
// ADMIN_LOGIN/ADMIN_PASSWORD создают учётную запись администратора при
// первом запуске; без них административные операции недоступны.
type Config struct {
	RunAddress           string  `env:"RUN_ADDRESS"`
	DatabaseURI          string  `env:"DATABASE_URI"`
	ProviderAddress      string  `env:"PAYMENT_PROVIDER_ADDRESS"`
	ProviderClientID     string  `env:"PAYMENT_CLIENT_ID"`
	ProviderClientSecret string  `env:"PAYMENT_CLIENT_SECRET"`
	AuthSecret           string  `env:"AUTH_SECRET"`
	AdminLogin           string  `env:"ADMIN_LOGIN"`
	AdminPassword        string  `env:"ADMIN_PASSWORD"`
	Currency             string  `env:"CURRENCY"`
	ShippingFee          float64 `env:"SHIPPING_FEE"`
	TaxFee               float64 `env:"TAX_FEE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envProviderAddress := cfg.ProviderAddress
	envCurrency := cfg.Currency
	envShippingFee := cfg.ShippingFee
	envTaxFee := cfg.TaxFee

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ProviderAddress, "p", "", "payment provider address")
	flag.StringVar(&cfg.Currency, "c", "USD", "settlement currency code")
	flag.Float64Var(&cfg.ShippingFee, "shipping-fee", 10.00, "flat shipping fee")
	flag.Float64Var(&cfg.TaxFee, "tax-fee", 5.00, "flat tax fee")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envProviderAddress != "" {
		cfg.ProviderAddress = envProviderAddress
	}
	if envCurrency != "" {
		cfg.Currency = envCurrency
	}
	if envShippingFee != 0 {
		cfg.ShippingFee = envShippingFee
	}
	if envTaxFee != 0 {
		cfg.TaxFee = envTaxFee
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}

	return cfg, nil
}

// ShippingFeeCents возвращает фиксированную стоимость доставки в центах.
func (c *Config) ShippingFeeCents() int64 {
	return int64(c.ShippingFee * 100)
}

// TaxFeeCents возвращает фиксированный налог в центах.
func (c *Config) TaxFeeCents() int64 {
	return int64(c.TaxFee * 100)
}
