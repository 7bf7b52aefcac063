package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/7Emma/e-shop-backend/internal/model"
	"github.com/7Emma/e-shop-backend/internal/tracking"
)

// ErrInvalidTrackingCode возвращается для кода отслеживания неверного формата.
var (
	ErrInvalidTrackingCode = errors.New("invalid tracking code")
	// ErrOrderNotDelivered возвращается при подтверждении получения
	// недоставленного заказа.
	ErrOrderNotDelivered = errors.New("order is not delivered yet")
	// ErrAlreadyReceived возвращается при повторном подтверждении получения.
	ErrAlreadyReceived = errors.New("order receipt already confirmed")
	// ErrOrderNotReceived возвращается при оценке заказа до подтверждения получения.
	ErrOrderNotReceived = errors.New("order receipt is not confirmed")
	// ErrAlreadyRated возвращается при повторной оценке заказа.
	ErrAlreadyRated = errors.New("order already rated")
	// ErrInvalidRating возвращается для оценки вне диапазона [1,5].
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	// ErrInvalidStatus возвращается для недопустимого статуса в обновлении.
	ErrInvalidStatus = errors.New("invalid status value")
)

// GetOrderByTrackingCode возвращает заказ и признак полного доступа.
// Без валидного токена доступа раскрывается только минимум: вызывающая
// сторона обязана отфильтровать ответ по второму возвращаемому значению.
func (s *Service) GetOrderByTrackingCode(ctx context.Context, trackingCode, token string) (*model.Order, bool, error) {
	if !tracking.IsValid(trackingCode) {
		return nil, false, ErrInvalidTrackingCode
	}

	if token != "" {
		if err := s.CheckAccess(ctx, trackingCode, token); err != nil {
			return nil, false, err
		}
	}

	order, err := s.repo.GetOrderByTrackingCode(ctx, trackingCode)
	if err != nil {
		return nil, false, err
	}

	return order, token != "", nil
}

// GetOrderBySessionID возвращает заказ по идентификатору платёжной сессии.
// Используется страницей успешной оплаты: идентификатор сессии известен
// только оплатившему клиенту.
func (s *Service) GetOrderBySessionID(ctx context.Context, sessionID string) (*model.Order, error) {
	return s.repo.GetOrderByStripeSessionID(ctx, sessionID)
}

// ConfirmReceived подтверждает получение доставленного заказа.
func (s *Service) ConfirmReceived(ctx context.Context, trackingCode string) (*model.Order, error) {
	order, err := s.repo.GetOrderByTrackingCode(ctx, trackingCode)
	if err != nil {
		return nil, err
	}

	if order.Status != model.OrderStatusDelivered {
		return nil, ErrOrderNotDelivered
	}
	if order.IsReceived {
		return nil, ErrAlreadyReceived
	}

	ok, err := s.repo.MarkOrderReceived(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Конкурирующий запрос успел подтвердить получение первым.
		return nil, ErrAlreadyReceived
	}

	return s.repo.GetOrderByID(ctx, order.ID)
}

// RateOrder сохраняет однократную оценку полученного заказа.
func (s *Service) RateOrder(ctx context.Context, trackingCode string, score int) (*model.Order, error) {
	if score < 1 || score > 5 {
		return nil, ErrInvalidRating
	}

	order, err := s.repo.GetOrderByTrackingCode(ctx, trackingCode)
	if err != nil {
		return nil, err
	}

	if !order.IsReceived {
		return nil, ErrOrderNotReceived
	}
	if order.RatingScore != nil {
		return nil, ErrAlreadyRated
	}

	ok, err := s.repo.RateOrder(ctx, order.ID, score)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyRated
	}

	return s.repo.GetOrderByID(ctx, order.ID)
}

// GetAllOrders возвращает все заказы для административной панели.
func (s *Service) GetAllOrders(ctx context.Context) ([]model.Order, error) {
	return s.repo.GetAllOrders(ctx)
}

// OrderUpdate описывает частичное административное обновление заказа.
// Код отслеживания неизменяем и в обновление не входит.
type OrderUpdate struct {
	Status         *string
	PaymentStatus  *string
	TrackingNumber *string
}

// UpdateOrder применяет административное обновление и возвращает свежий заказ.
func (s *Service) UpdateOrder(ctx context.Context, id int64, update OrderUpdate) (*model.Order, error) {
	if update.Status != nil && !model.OrderStatus(*update.Status).Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *update.Status)
	}
	if update.PaymentStatus != nil && !model.PaymentStatus(*update.PaymentStatus).Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *update.PaymentStatus)
	}

	if err := s.repo.UpdateOrder(ctx, id, update.Status, update.PaymentStatus, update.TrackingNumber); err != nil {
		return nil, err
	}

	return s.repo.GetOrderByID(ctx, id)
}
