package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/7Emma/e-shop-backend/internal/model"
)

// ErrOTPExpired возвращается при проверке просроченного кода.
var (
	ErrOTPExpired = errors.New("otp expired")
	// ErrOTPAttemptsExceeded возвращается после исчерпания попыток ввода.
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	// ErrOrderEmailMissing возвращается, если у заказа нет email для отправки кода.
	ErrOrderEmailMissing = errors.New("order has no email")
	// ErrInvalidAccessToken возвращается для отсутствующего или неверного токена доступа.
	ErrInvalidAccessToken = errors.New("invalid access token")
)

// InvalidCodeError возвращается при неверном коде и сообщает число
// оставшихся попыток.
type InvalidCodeError struct {
	AttemptsLeft int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid otp code, %d attempt(s) left", e.AttemptsLeft)
}

const (
	otpTTL         = 15 * time.Minute
	otpMaxAttempts = 5
)

// IssueOTP создаёт одноразовый код для кода отслеживания, отправляет его на
// email заказа и возвращает маскированный адрес. Прежние непроверенные коды
// для этого заказа удаляются: активен не более одного ожидающего кода.
// Сам код в ответе не раскрывается.
func (s *Service) IssueOTP(ctx context.Context, trackingCode string) (string, error) {
	order, err := s.repo.GetOrderByTrackingCode(ctx, trackingCode)
	if err != nil {
		return "", err
	}

	email := order.ShippingAddress.Email
	if email == "" {
		return "", ErrOrderEmailMissing
	}

	code, err := generateOTPCode()
	if err != nil {
		return "", err
	}

	if err := s.repo.DeleteUnverifiedOTPs(ctx, trackingCode); err != nil {
		return "", err
	}

	otp := &model.OTP{
		ID:           uuid.New(),
		TrackingCode: trackingCode,
		Email:        email,
		Code:         code,
		MaxAttempts:  otpMaxAttempts,
		ExpiresAt:    time.Now().Add(otpTTL),
	}
	if err := s.repo.CreateOTP(ctx, otp); err != nil {
		return "", err
	}

	if err := s.email.SendOTP(ctx, email, code, trackingCode); err != nil {
		return "", fmt.Errorf("send otp email: %w", err)
	}

	return maskEmail(email), nil
}

// VerifyOTP проверяет введённый код. При совпадении запись помечается
// проверенной и возвращается токен доступа к деталям заказа. Просроченные
// и исчерпавшие попытки записи удаляются — потребуется новый код.
func (s *Service) VerifyOTP(ctx context.Context, trackingCode, code string) (string, error) {
	otp, err := s.repo.GetOTPByTrackingCode(ctx, trackingCode)
	if err != nil {
		return "", err
	}

	if time.Now().After(otp.ExpiresAt) {
		_ = s.repo.DeleteOTP(ctx, otp.ID)
		return "", ErrOTPExpired
	}

	if otp.Attempts >= otp.MaxAttempts {
		_ = s.repo.DeleteOTP(ctx, otp.ID)
		return "", ErrOTPAttemptsExceeded
	}

	if otp.Code != code {
		attempts, err := s.repo.IncrementOTPAttempts(ctx, otp.ID)
		if err != nil {
			return "", err
		}
		left := otp.MaxAttempts - attempts
		if left < 0 {
			left = 0
		}
		return "", &InvalidCodeError{AttemptsLeft: left}
	}

	if err := s.repo.MarkOTPVerified(ctx, otp.ID); err != nil {
		return "", err
	}

	token := base64.StdEncoding.EncodeToString([]byte(trackingCode + ":" + otp.ID.String()))
	return token, nil
}

// CheckAccess проверяет токен доступа: код отслеживания внутри токена должен
// совпадать с запрошенным, а запись OTP — существовать, быть проверенной и
// не просроченной. Токен не подписан: его неподдельность опирается на
// непредсказуемость идентификатора записи OTP.
func (s *Service) CheckAccess(ctx context.Context, trackingCode, token string) error {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return ErrInvalidAccessToken
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 || parts[0] != trackingCode {
		return ErrInvalidAccessToken
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		return ErrInvalidAccessToken
	}

	otp, err := s.repo.GetOTPByID(ctx, id)
	if err != nil {
		return ErrInvalidAccessToken
	}
	if !otp.Verified || otp.TrackingCode != trackingCode {
		return ErrInvalidAccessToken
	}
	// Фоновая очистка могла ещё не удалить просроченную запись.
	if time.Now().After(otp.ExpiresAt) {
		return ErrInvalidAccessToken
	}

	return nil
}

// generateOTPCode возвращает шестизначный десятичный код с сохранением
// ведущих нулей.
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// maskEmail скрывает локальную часть адреса, сохраняя первые два символа:
// "jean.dupont@example.com" → "je***@example.com".
func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 2 {
		return email
	}
	return email[:2] + "***" + email[at:]
}
