// Package handler содержит HTTP-обработчики API интернет-магазина.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/7Emma/e-shop-backend/internal/model"
	"github.com/7Emma/e-shop-backend/internal/repository"
	"github.com/7Emma/e-shop-backend/internal/service"
	"github.com/7Emma/e-shop-backend/internal/stripe"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateCheckoutSession(ctx context.Context, addr model.ShippingAddress, items []service.CheckoutItem) (*service.CheckoutResult, error)
	MaterializeOrder(ctx context.Context, sess *stripe.Session) error
	GetPaymentStatus(ctx context.Context, sessionID string) (*service.PaymentState, error)

	GetOrderByTrackingCode(ctx context.Context, trackingCode, token string) (*model.Order, bool, error)
	GetOrderBySessionID(ctx context.Context, sessionID string) (*model.Order, error)
	ConfirmReceived(ctx context.Context, trackingCode string) (*model.Order, error)
	RateOrder(ctx context.Context, trackingCode string, score int) (*model.Order, error)

	IssueOTP(ctx context.Context, trackingCode string) (string, error)
	VerifyOTP(ctx context.Context, trackingCode, code string) (string, error)
	CheckAccess(ctx context.Context, trackingCode, token string) error

	GetAllOrders(ctx context.Context) ([]model.Order, error)
	UpdateOrder(ctx context.Context, id int64, update service.OrderUpdate) (*model.Order, error)
}

// Handler реализует HTTP-обработчики API интернет-магазина.
type Handler struct {
	service       Service
	logger        *zap.Logger
	webhookSecret string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, webhookSecret string) *Handler {
	return &Handler{
		service:       s,
		logger:        logger,
		webhookSecret: webhookSecret,
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("write response error", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, map[string]any{
		"success": false,
		"message": message,
	})
}

func (h *Handler) respondInternal(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, zap.Error(err))
	h.respondError(w, http.StatusInternalServerError, "Erreur interne du serveur")
}

func centsToEuros(cents int64) float64 {
	return float64(cents) / 100
}

type orderItemView struct {
	ProductID *int64  `json:"productId,omitempty"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type ratingView struct {
	Score   int        `json:"score"`
	RatedAt *time.Time `json:"ratedAt,omitempty"`
}

type orderView struct {
	ID              int64                 `json:"id"`
	TrackingCode    string                `json:"trackingCode"`
	Status          string                `json:"status"`
	PaymentStatus   string                `json:"paymentStatus"`
	Items           []orderItemView       `json:"items"`
	Total           float64               `json:"total"`
	ShippingCost    float64               `json:"shippingCost"`
	ShippingAddress model.ShippingAddress `json:"shippingAddress"`
	TrackingNumber  string                `json:"trackingNumber,omitempty"`
	IsReceived      bool                  `json:"isReceived"`
	ReceivedAt      *time.Time            `json:"receivedAt,omitempty"`
	Rating          *ratingView           `json:"rating,omitempty"`
	CreatedAt       time.Time             `json:"createdAt"`
}

func newOrderView(order *model.Order) orderView {
	items := make([]orderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemView{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     centsToEuros(item.PriceCents),
		})
	}

	view := orderView{
		ID:              order.ID,
		TrackingCode:    order.TrackingCode,
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		Items:           items,
		Total:           centsToEuros(order.TotalCents),
		ShippingCost:    centsToEuros(order.ShippingCents),
		ShippingAddress: order.ShippingAddress,
		TrackingNumber:  order.TrackingNumber,
		IsReceived:      order.IsReceived,
		ReceivedAt:      order.ReceivedAt,
		CreatedAt:       order.CreatedAt,
	}
	if order.RatingScore != nil {
		view.Rating = &ratingView{Score: *order.RatingScore, RatedAt: order.RatedAt}
	}
	return view
}

type cartItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type checkoutRequest struct {
	ShippingAddress model.ShippingAddress `json:"shippingAddress"`
	CartItems       []cartItemRequest     `json:"cartItems"`
}

// CreateCheckout проверяет корзину и создаёт платёжную сессию провайдера.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Corps de requête invalide")
		return
	}

	items := make([]service.CheckoutItem, 0, len(req.CartItems))
	for _, item := range req.CartItems {
		items = append(items, service.CheckoutItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	result, err := h.service.CreateCheckoutSession(r.Context(), req.ShippingAddress, items)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyCart):
			h.respondError(w, http.StatusBadRequest, "Le panier est vide")
		case errors.Is(err, service.ErrMissingEmail):
			h.respondError(w, http.StatusBadRequest, "L'adresse email est requise")
		case errors.Is(err, service.ErrInvalidQuantity):
			h.respondError(w, http.StatusBadRequest, "Quantité invalide (1 à 100 par article)")
		case errors.Is(err, repository.ErrProductNotFound):
			h.respondError(w, http.StatusNotFound, "Produit introuvable")
		case errors.Is(err, service.ErrProductUnavailable):
			h.respondError(w, http.StatusBadRequest, "Produit indisponible")
		case errors.Is(err, service.ErrInsufficientStock):
			h.respondError(w, http.StatusBadRequest, "Stock insuffisant")
		default:
			h.respondInternal(w, "create checkout session error", err)
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": result.SessionID,
		"url":       result.URL,
	})
}

// Webhook принимает события платёжного провайдера. Ошибки подписи отвечают
// текстом, а не JSON — контракт провайдера. Сбой материализации возвращает
// 500, чтобы провайдер повторил доставку события.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read payload failed", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	event, err := stripe.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if event.Type == "checkout.session.completed" {
		sess, err := event.Session()
		if err != nil {
			http.Error(w, "malformed event payload", http.StatusBadRequest)
			return
		}

		if err := h.service.MaterializeOrder(r.Context(), sess); err != nil {
			h.respondInternal(w, "materialize order error", err)
			return
		}
	}

	h.respondJSON(w, http.StatusOK, map[string]any{"received": true})
}

// PaymentStatus возвращает статус оплаты платёжной сессии.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.service.GetPaymentStatus(r.Context(), sessionID)
	if err != nil {
		h.respondInternal(w, "get payment status error", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"status":        state.Status,
		"paymentIntent": state.PaymentIntent,
	})
}

// TrackOrder возвращает заказ по коду отслеживания. Без валидного токена
// доступа раскрывается только код и статус.
func (h *Handler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	trackingCode := chi.URLParam(r, "trackingCode")

	token := r.Header.Get("X-OTP-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	order, full, err := h.service.GetOrderByTrackingCode(r.Context(), trackingCode, token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTrackingCode):
			h.respondError(w, http.StatusBadRequest, "Code de suivi invalide")
		case errors.Is(err, service.ErrInvalidAccessToken):
			h.respondError(w, http.StatusUnauthorized, "Token d'accès invalide ou expiré")
		case errors.Is(err, repository.ErrOrderNotFound):
			h.respondError(w, http.StatusNotFound, "Commande introuvable")
		default:
			h.respondInternal(w, "track order error", err)
		}
		return
	}

	if !full {
		h.respondJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"trackingCode": order.TrackingCode,
			"status":       string(order.Status),
			"requiresOtp":  true,
		})
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"order":   newOrderView(order),
	})
}

// OrderBySession возвращает заказ по идентификатору платёжной сессии.
// Идентификатор сессии известен только оплатившему клиенту и сам служит
// секретом страницы успешной оплаты.
func (h *Handler) OrderBySession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	order, err := h.service.GetOrderBySessionID(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			h.respondError(w, http.StatusNotFound, "Commande introuvable")
			return
		}
		h.respondInternal(w, "get order by session error", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"order":   newOrderView(order),
	})
}

// ConfirmReceived подтверждает получение доставленного заказа.
func (h *Handler) ConfirmReceived(w http.ResponseWriter, r *http.Request) {
	trackingCode := chi.URLParam(r, "trackingCode")

	order, err := h.service.ConfirmReceived(r.Context(), trackingCode)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			h.respondError(w, http.StatusNotFound, "Commande introuvable")
		case errors.Is(err, service.ErrOrderNotDelivered):
			h.respondError(w, http.StatusConflict, "La commande n'est pas encore livrée")
		case errors.Is(err, service.ErrAlreadyReceived):
			h.respondError(w, http.StatusConflict, "La réception a déjà été confirmée")
		default:
			h.respondInternal(w, "confirm received error", err)
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"order":   newOrderView(order),
	})
}

type rateRequest struct {
	Score int `json:"score"`
}

// RateOrder сохраняет однократную оценку полученного заказа.
func (h *Handler) RateOrder(w http.ResponseWriter, r *http.Request) {
	trackingCode := chi.URLParam(r, "trackingCode")

	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Corps de requête invalide")
		return
	}

	order, err := h.service.RateOrder(r.Context(), trackingCode, req.Score)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRating):
			h.respondError(w, http.StatusBadRequest, "La note doit être comprise entre 1 et 5")
		case errors.Is(err, repository.ErrOrderNotFound):
			h.respondError(w, http.StatusNotFound, "Commande introuvable")
		case errors.Is(err, service.ErrOrderNotReceived):
			h.respondError(w, http.StatusConflict, "Confirmez d'abord la réception de la commande")
		case errors.Is(err, service.ErrAlreadyRated):
			h.respondError(w, http.StatusConflict, "La commande a déjà été notée")
		default:
			h.respondInternal(w, "rate order error", err)
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"order":   newOrderView(order),
	})
}

type otpGenerateRequest struct {
	TrackingCode string `json:"trackingCode"`
}

// GenerateOTP создаёт и отправляет одноразовый код доступа на email заказа.
func (h *Handler) GenerateOTP(w http.ResponseWriter, r *http.Request) {
	var req otpGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackingCode == "" {
		h.respondError(w, http.StatusBadRequest, "Code de suivi requis")
		return
	}

	maskedEmail, err := h.service.IssueOTP(r.Context(), req.TrackingCode)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			h.respondError(w, http.StatusNotFound, "Commande introuvable")
		case errors.Is(err, service.ErrOrderEmailMissing):
			h.respondError(w, http.StatusBadRequest, "Aucun email associé à cette commande")
		default:
			h.respondInternal(w, "generate otp error", err)
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Code envoyé à " + maskedEmail,
		"email":   maskedEmail,
	})
}

type otpVerifyRequest struct {
	TrackingCode string `json:"trackingCode"`
	Code         string `json:"code"`
}

// VerifyOTP проверяет код и выдаёт токен доступа к деталям заказа.
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackingCode == "" || req.Code == "" {
		h.respondError(w, http.StatusBadRequest, "Code de suivi et code requis")
		return
	}

	token, err := h.service.VerifyOTP(r.Context(), req.TrackingCode, req.Code)
	if err != nil {
		var invalid *service.InvalidCodeError
		switch {
		case errors.Is(err, repository.ErrOTPNotFound):
			h.respondError(w, http.StatusNotFound, "Aucun code actif, demandez-en un nouveau")
		case errors.Is(err, service.ErrOTPExpired):
			h.respondError(w, http.StatusBadRequest, "Le code a expiré, demandez-en un nouveau")
		case errors.Is(err, service.ErrOTPAttemptsExceeded):
			h.respondError(w, http.StatusTooManyRequests, "Trop de tentatives, demandez un nouveau code")
		case errors.As(err, &invalid):
			h.respondJSON(w, http.StatusBadRequest, map[string]any{
				"success":      false,
				"message":      "Code incorrect",
				"attemptsLeft": invalid.AttemptsLeft,
			})
		default:
			h.respondInternal(w, "verify otp error", err)
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
	})
}

type otpCheckRequest struct {
	TrackingCode string `json:"trackingCode"`
	Token        string `json:"token"`
}

// CheckOTP проверяет валидность токена доступа без чтения заказа.
func (h *Handler) CheckOTP(w http.ResponseWriter, r *http.Request) {
	var req otpCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackingCode == "" || req.Token == "" {
		h.respondError(w, http.StatusBadRequest, "Code de suivi et token requis")
		return
	}

	if err := h.service.CheckAccess(r.Context(), req.TrackingCode, req.Token); err != nil {
		if errors.Is(err, service.ErrInvalidAccessToken) {
			h.respondJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"valid":   false,
				"message": "Token d'accès invalide ou expiré",
			})
			return
		}
		h.respondInternal(w, "check otp error", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"valid":   true,
	})
}

// AdminOrders возвращает все заказы для административной панели.
func (h *Handler) AdminOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.GetAllOrders(r.Context())
	if err != nil {
		h.respondInternal(w, "get all orders error", err)
		return
	}

	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, newOrderView(&orders[i]))
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"orders":  views,
	})
}

type orderUpdateRequest struct {
	Status         *string `json:"status"`
	PaymentStatus  *string `json:"paymentStatus"`
	TrackingNumber *string `json:"trackingNumber"`
}

// AdminUpdateOrder применяет частичное административное обновление заказа.
func (h *Handler) AdminUpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Identifiant de commande invalide")
		return
	}

	var req orderUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Corps de requête invalide")
		return
	}

	order, err := h.service.UpdateOrder(r.Context(), id, service.OrderUpdate{
		Status:         req.Status,
		PaymentStatus:  req.PaymentStatus,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidStatus):
			h.respondError(w, http.StatusBadRequest, "Statut invalide")
		case errors.Is(err, repository.ErrOrderNotFound):
			h.respondError(w, http.StatusNotFound, "Commande introuvable")
		default:
			h.respondInternal(w, "update order error", err)
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"order":   newOrderView(order),
	})
}
