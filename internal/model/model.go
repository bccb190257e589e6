// Package model содержит доменные сущности сервиса витрины.
package model

import "time"

// User представляет зарегистрированного пользователя магазина.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	IsAdmin      bool
	CreatedAt    time.Time
}

// Product описывает товар каталога. Цена хранится в центах.
type Product struct {
	ID           int64
	Name         string
	PriceCents   int64
	Image        string
	Category     string
	Brand        string
	Description  string
	Rating       float64
	CountInStock int
	CreatedAt    time.Time
}

// CartLine описывает позицию корзины: товар и его количество.
type CartLine struct {
	ProductID  int64
	Name       string
	PriceCents int64
	Quantity   int
}

// ShippingInfo содержит адрес доставки. После оформления заказа
// снимок адреса неизменяем.
type ShippingInfo struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// OrderLine описывает позицию заказа: снимок товара на момент оформления,
// чтобы последующие изменения каталога не влияли на историю заказов.
type OrderLine struct {
	ProductID  int64
	Name       string
	PriceCents int64
	Quantity   int
}

// PaymentReceipt описывает подтверждение оплаты от платёжного провайдера.
// AmountCents равен нулю, если сумма в подтверждении не передавалась.
type PaymentReceipt struct {
	TransactionID string
	Status        string
	SettledAt     time.Time
	PayerEmail    string
	AmountCents   int64
}

// Order описывает заказ пользователя и его жизненный цикл.
// PaidAt и PaymentResult заполняются строго одновременно с IsPaid.
type Order struct {
	ID            string
	UserID        int64
	UserLogin     string
	Lines         []OrderLine
	Shipping      ShippingInfo
	PaymentMethod string
	TotalCents    int64
	IsPaid        bool
	PaidAt        *time.Time
	PaymentResult *PaymentReceipt
	IsDelivered   bool
	DeliveredAt   *time.Time
	CreatedAt     time.Time
}
