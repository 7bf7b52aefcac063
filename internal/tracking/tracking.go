// Package tracking содержит генерацию и валидацию кодов отслеживания заказов.
package tracking

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Границы длины кода отслеживания.
const (
	MinLength     = 8
	MaxLength     = 12
	DefaultLength = 10
)

// Generate возвращает случайный код отслеживания указанной длины из
// алфавита A–Z0–9. Длина вне диапазона [8,12] заменяется на длину
// по умолчанию. Уникальность кода обеспечивает вызывающая сторона.
func Generate(length int) (string, error) {
	if length < MinLength || length > MaxLength {
		length = DefaultLength
	}

	max := big.NewInt(int64(len(alphabet)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		code[i] = alphabet[n.Int64()]
	}

	return string(code), nil
}

// IsValid проверяет, что строка является корректным кодом отслеживания:
// длина 8–12 символов, только заглавные латинские буквы и цифры.
func IsValid(code string) bool {
	if len(code) < MinLength || len(code) > MaxLength {
		return false
	}

	for i := 0; i < len(code); i++ {
		ch := code[i]
		if (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			return false
		}
	}

	return true
}
