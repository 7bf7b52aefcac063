package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Допустимое расхождение между временной меткой подписи и текущим временем.
const signatureTolerance = 5 * time.Minute

// ErrInvalidSignature возвращается, если подпись вебхука не прошла проверку.
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrSignatureExpired возвращается, если временная метка подписи
	// вышла за пределы допуска.
	ErrSignatureExpired = errors.New("webhook signature timestamp out of tolerance")
)

// Event описывает событие вебхука Stripe.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Session разбирает объект события как checkout-сессию.
func (e *Event) Session() (*Session, error) {
	var session Session
	if err := json.Unmarshal(e.Data.Object, &session); err != nil {
		return nil, fmt.Errorf("decode event object: %w", err)
	}
	return &session, nil
}

// ConstructEvent проверяет подпись заголовка Stripe-Signature
// (схема t=<unix>,v1=<hex HMAC-SHA256 от "<t>.<payload>">) и разбирает
// полезную нагрузку события. Сравнение подписи — за постоянное время.
func ConstructEvent(payload []byte, sigHeader, secret string) (*Event, error) {
	return constructEventAt(payload, sigHeader, secret, time.Now())
}

func constructEventAt(payload []byte, sigHeader, secret string, now time.Time) (*Event, error) {
	if sigHeader == "" {
		return nil, fmt.Errorf("%w: empty signature header", ErrInvalidSignature)
	}

	var (
		timestamp  int64
		signatures [][]byte
	)

	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(kv[1])
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return nil, fmt.Errorf("%w: header missing t or v1", ErrInvalidSignature)
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return nil, ErrSignatureExpired
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	valid := false
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	return &event, nil
}
