package validation

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	cardExpiryRe = regexp.MustCompile(`^\d{2}/\d{2,4}$`)
	cardCVVRe    = regexp.MustCompile(`^\d{3,4}$`)
)

// IsValidCardNumber проверяет номер банковской карты по алгоритму Луна.
// Пробелы между группами цифр допускаются.
func IsValidCardNumber(number string) bool {
	number = strings.ReplaceAll(number, " ", "")
	if len(number) < 12 || len(number) > 19 {
		return false
	}

	sum := 0
	double := false

	for i := len(number) - 1; i >= 0; i-- {
		ch := rune(number[i])
		if !unicode.IsDigit(ch) {
			return false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum%10 == 0
}

// IsValidCardExpiry проверяет срок действия карты в формате MM/YY или MM/YYYY.
func IsValidCardExpiry(expiry string) bool {
	if !cardExpiryRe.MatchString(expiry) {
		return false
	}
	month := int(expiry[0]-'0')*10 + int(expiry[1]-'0')
	return month >= 1 && month <= 12
}

// IsValidCardCVV проверяет код безопасности карты: 3 или 4 цифры.
func IsValidCardCVV(cvv string) bool {
	return cardCVVRe.MatchString(cvv)
}
