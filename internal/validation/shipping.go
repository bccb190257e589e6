// Package validation содержит функции валидации входных данных.
package validation

import (
	"regexp"
	"strings"

	"github.com/mmeshcher/storefront-system/internal/model"
)

var (
	postalCodeRe = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	emailRe      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// FieldError описывает ошибку валидации одного поля формы.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidateShipping проверяет адрес доставки до любого сетевого вызова.
// Для каждого некорректного поля возвращается ровно одна ошибка.
func ValidateShipping(info model.ShippingInfo) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(info.Name) == "" {
		errs = append(errs, FieldError{Field: "name", Error: "full name is required"})
	}
	if strings.TrimSpace(info.Address) == "" {
		errs = append(errs, FieldError{Field: "address", Error: "address is required"})
	}
	if strings.TrimSpace(info.City) == "" {
		errs = append(errs, FieldError{Field: "city", Error: "city is required"})
	}
	if !postalCodeRe.MatchString(info.PostalCode) {
		errs = append(errs, FieldError{Field: "postalCode", Error: "postal code must match 12345 or 12345-6789"})
	}
	if strings.TrimSpace(info.Country) == "" {
		errs = append(errs, FieldError{Field: "country", Error: "country is required"})
	}

	return errs
}

// IsValidEmail проверяет синтаксическую корректность адреса электронной почты.
func IsValidEmail(email string) bool {
	return emailRe.MatchString(email)
}
