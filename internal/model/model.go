// Package model содержит доменные сущности интернет-магазина.
package model

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid проверяет, что статус заказа принадлежит множеству допустимых значений.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus описывает статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Valid проверяет, что статус оплаты принадлежит множеству допустимых значений.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed:
		return true
	}
	return false
}

// ShippingAddress содержит снимок адреса доставки на момент оформления заказа.
type ShippingAddress struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Street    string `json:"street"`
	City      string `json:"city"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
}

// OrderItem описывает одну позицию заказа. Для гостевых заказов ссылка
// на товар может отсутствовать — хранится только снимок названия и цены.
type OrderItem struct {
	ProductID  *int64
	Name       string
	Quantity   int
	PriceCents int64
}

// Order описывает заказ. Гостевые заказы не имеют пользователя и
// идентифицируются публичным кодом отслеживания. Код отслеживания
// назначается один раз при материализации и неизменяем.
type Order struct {
	ID                    int64
	UserID                *int64
	Items                 []OrderItem
	TotalCents            int64
	ShippingCents         int64
	ShippingAddress       ShippingAddress
	Status                OrderStatus
	PaymentStatus         PaymentStatus
	TrackingNumber        string
	TrackingCode          string
	StripeSessionID       string
	StripePaymentIntentID string
	IsReceived            bool
	ReceivedAt            *time.Time
	RatingScore           *int
	RatedAt               *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// OTP описывает одноразовый код доступа к деталям заказа, привязанный
// к коду отслеживания и email покупателя.
type OTP struct {
	ID           uuid.UUID
	TrackingCode string
	Email        string
	Code         string
	Attempts     int
	MaxAttempts  int
	Verified     bool
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Product описывает товар каталога. Ядро читает товары и списывает остатки,
// но не управляет каталогом.
type Product struct {
	ID          int64
	Name        string
	Description string
	PriceCents  int64
	Stock       int
	IsActive    bool
}
