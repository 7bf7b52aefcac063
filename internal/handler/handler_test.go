package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/7Emma/e-shop-backend/internal/middleware"
	"github.com/7Emma/e-shop-backend/internal/model"
	"github.com/7Emma/e-shop-backend/internal/repository"
	"github.com/7Emma/e-shop-backend/internal/service"
	"github.com/7Emma/e-shop-backend/internal/stripe"
)

const testWebhookSecret = "whsec_test"

type stubService struct {
	checkoutResult *service.CheckoutResult
	checkoutErr    error

	materializedSessions []string
	materializeErr       error

	paymentState    *service.PaymentState
	paymentStateErr error

	trackOrder *model.Order
	trackFull  bool
	trackErr   error

	sessionOrder *model.Order
	sessionErr   error

	confirmOrder *model.Order
	confirmErr   error

	rateOrder *model.Order
	rateScore int
	rateErr   error

	issueMasked string
	issueErr    error

	verifyToken string
	verifyErr   error

	checkErr error

	allOrders    []model.Order
	allOrdersErr error

	updatedOrder *model.Order
	updateErr    error
}

func (s *stubService) CreateCheckoutSession(ctx context.Context, addr model.ShippingAddress, items []service.CheckoutItem) (*service.CheckoutResult, error) {
	return s.checkoutResult, s.checkoutErr
}

func (s *stubService) MaterializeOrder(ctx context.Context, sess *stripe.Session) error {
	s.materializedSessions = append(s.materializedSessions, sess.ID)
	return s.materializeErr
}

func (s *stubService) GetPaymentStatus(ctx context.Context, sessionID string) (*service.PaymentState, error) {
	return s.paymentState, s.paymentStateErr
}

func (s *stubService) GetOrderByTrackingCode(ctx context.Context, trackingCode, token string) (*model.Order, bool, error) {
	return s.trackOrder, s.trackFull, s.trackErr
}

func (s *stubService) GetOrderBySessionID(ctx context.Context, sessionID string) (*model.Order, error) {
	return s.sessionOrder, s.sessionErr
}

func (s *stubService) ConfirmReceived(ctx context.Context, trackingCode string) (*model.Order, error) {
	return s.confirmOrder, s.confirmErr
}

func (s *stubService) RateOrder(ctx context.Context, trackingCode string, score int) (*model.Order, error) {
	s.rateScore = score
	return s.rateOrder, s.rateErr
}

func (s *stubService) IssueOTP(ctx context.Context, trackingCode string) (string, error) {
	return s.issueMasked, s.issueErr
}

func (s *stubService) VerifyOTP(ctx context.Context, trackingCode, code string) (string, error) {
	return s.verifyToken, s.verifyErr
}

func (s *stubService) CheckAccess(ctx context.Context, trackingCode, token string) error {
	return s.checkErr
}

func (s *stubService) GetAllOrders(ctx context.Context) ([]model.Order, error) {
	return s.allOrders, s.allOrdersErr
}

func (s *stubService) UpdateOrder(ctx context.Context, id int64, update service.OrderUpdate) (*model.Order, error) {
	return s.updatedOrder, s.updateErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()
	return NewHandler(svc, zap.NewNop(), testWebhookSecret)
}

func sampleOrder() *model.Order {
	productID := int64(1)
	return &model.Order{
		ID:           7,
		TrackingCode: "ABC12345DE",
		Items: []model.OrderItem{
			{ProductID: &productID, Name: "Casque", Quantity: 2, PriceCents: 2999},
		},
		TotalCents:    7075,
		ShippingCents: 599,
		ShippingAddress: model.ShippingAddress{
			FirstName: "Jean",
			LastName:  "Dupont",
			Email:     "jean@example.com",
			Street:    "123 Rue de la Paix",
			City:      "Paris",
			ZipCode:   "75001",
			Country:   "FR",
		},
		Status:          model.OrderStatusProcessing,
		PaymentStatus:   model.PaymentStatusPaid,
		StripeSessionID: "cs_1",
		CreatedAt:       time.Now(),
	}
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestCreateCheckout(t *testing.T) {
	reqBody := checkoutRequest{
		ShippingAddress: model.ShippingAddress{Email: "jean@example.com"},
		CartItems:       []cartItemRequest{{ProductID: 1, Quantity: 2}},
	}
	payload, _ := json.Marshal(reqBody)

	tests := []struct {
		name       string
		svc        *stubService
		body       []byte
		wantStatus int
	}{
		{
			name: "success",
			svc: &stubService{
				checkoutResult: &service.CheckoutResult{SessionID: "cs_1", URL: "https://pay/cs_1"},
			},
			body:       payload,
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed body",
			svc:        &stubService{},
			body:       []byte("{"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty cart",
			svc:        &stubService{checkoutErr: service.ErrEmptyCart},
			body:       payload,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown product",
			svc:        &stubService{checkoutErr: repository.ErrProductNotFound},
			body:       payload,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "insufficient stock",
			svc:        &stubService{checkoutErr: service.ErrInsufficientStock},
			body:       payload,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "provider failure",
			svc:        &stubService{checkoutErr: service.ErrPaymentProvider},
			body:       payload,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, tt.svc)

			req := httptest.NewRequest(http.MethodPost, "/api/payment/checkout", bytes.NewReader(tt.body))
			rec := httptest.NewRecorder()

			h.CreateCheckout(rec, req)

			res := rec.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}

			body := decodeBody(t, res)
			if tt.wantStatus == http.StatusOK {
				if body["success"] != true || body["sessionId"] != "cs_1" {
					t.Fatalf("unexpected body: %v", body)
				}
			} else if body["success"] != false || body["message"] == "" {
				t.Fatalf("error envelope missing: %v", body)
			}
		})
	}
}

func signWebhookPayload(payload []byte, secret string, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookEventPayload(t *testing.T, eventType, sessionID string) []byte {
	t.Helper()

	session, err := json.Marshal(map[string]any{"id": sessionID})
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": eventType,
		"data": map[string]any{"object": json.RawMessage(session)},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func TestWebhook_CompletedSession(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	payload := webhookEventPayload(t, "checkout.session.completed", "cs_1")

	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signWebhookPayload(payload, testWebhookSecret, time.Now()))
	rec := httptest.NewRecorder()

	h.Webhook(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	body := decodeBody(t, res)
	if body["received"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(svc.materializedSessions) != 1 || svc.materializedSessions[0] != "cs_1" {
		t.Fatalf("materialized sessions = %v", svc.materializedSessions)
	}
}

func TestWebhook_IgnoresOtherEventTypes(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	payload := webhookEventPayload(t, "payment_intent.created", "cs_1")

	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signWebhookPayload(payload, testWebhookSecret, time.Now()))
	rec := httptest.NewRecorder()

	h.Webhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(svc.materializedSessions) != 0 {
		t.Fatalf("unrelated event was materialized")
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	payload := webhookEventPayload(t, "checkout.session.completed", "cs_1")

	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signWebhookPayload(payload, "whsec_other", time.Now()))
	rec := httptest.NewRecorder()

	h.Webhook(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	// Отказ в подписи — текстовый ответ, не JSON.
	if ct := res.Header.Get("Content-Type"); strings.Contains(ct, "application/json") {
		t.Fatalf("signature failure answered with json: %q", ct)
	}
	if len(svc.materializedSessions) != 0 {
		t.Fatalf("unsigned event was materialized")
	}
}

func TestWebhook_MaterializeFailureTriggersRedelivery(t *testing.T) {
	svc := &stubService{materializeErr: context.DeadlineExceeded}
	h := newTestHandler(t, svc)

	payload := webhookEventPayload(t, "checkout.session.completed", "cs_1")

	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signWebhookPayload(payload, testWebhookSecret, time.Now()))
	rec := httptest.NewRecorder()

	h.Webhook(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestTrackOrder_MinimalView(t *testing.T) {
	svc := &stubService{trackOrder: sampleOrder(), trackFull: false}
	h := newTestHandler(t, svc)

	router := h.SetupRouter(middleware.NewAdminAuth(""))

	req := httptest.NewRequest(http.MethodGet, "/api/orders/track/ABC12345DE", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	raw := rec.Body.String()
	// Минимальный ответ не раскрывает ни адрес, ни позиции, ни сумму.
	for _, leaked := range []string{"shippingAddress", "items", "total", "jean@example.com"} {
		if strings.Contains(raw, leaked) {
			t.Fatalf("minimal view leaked %q: %s", leaked, raw)
		}
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["trackingCode"] != "ABC12345DE" || body["requiresOtp"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestTrackOrder_FullView(t *testing.T) {
	svc := &stubService{trackOrder: sampleOrder(), trackFull: true}
	h := newTestHandler(t, svc)

	router := h.SetupRouter(middleware.NewAdminAuth(""))

	req := httptest.NewRequest(http.MethodGet, "/api/orders/track/ABC12345DE", nil)
	req.Header.Set("X-OTP-Token", "some-token")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	body := decodeBody(t, res)
	order, ok := body["order"].(map[string]any)
	if !ok {
		t.Fatalf("full view has no order: %v", body)
	}
	if order["total"] != 70.75 {
		t.Fatalf("total = %v, want 70.75", order["total"])
	}
	addr, ok := order["shippingAddress"].(map[string]any)
	if !ok || addr["city"] != "Paris" {
		t.Fatalf("shipping address missing in full view: %v", order)
	}
}

func TestTrackOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "malformed code", err: service.ErrInvalidTrackingCode, wantStatus: http.StatusBadRequest},
		{name: "bad token", err: service.ErrInvalidAccessToken, wantStatus: http.StatusUnauthorized},
		{name: "unknown order", err: repository.ErrOrderNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{trackErr: tt.err})
			router := h.SetupRouter(middleware.NewAdminAuth(""))

			req := httptest.NewRequest(http.MethodGet, "/api/orders/track/ABC12345DE", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestConfirmReceived_ConflictMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "not delivered yet", err: service.ErrOrderNotDelivered, wantStatus: http.StatusConflict},
		{name: "already confirmed", err: service.ErrAlreadyReceived, wantStatus: http.StatusConflict},
		{name: "unknown order", err: repository.ErrOrderNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{confirmErr: tt.err})
			router := h.SetupRouter(middleware.NewAdminAuth(""))

			req := httptest.NewRequest(http.MethodPut, "/api/orders/track/ABC12345DE/confirm-received", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRateOrder_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "score out of range", err: service.ErrInvalidRating, wantStatus: http.StatusBadRequest},
		{name: "receipt not confirmed", err: service.ErrOrderNotReceived, wantStatus: http.StatusConflict},
		{name: "already rated", err: service.ErrAlreadyRated, wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{rateErr: tt.err})
			router := h.SetupRouter(middleware.NewAdminAuth(""))

			req := httptest.NewRequest(http.MethodPut, "/api/orders/track/ABC12345DE/rate",
				strings.NewReader(`{"score":4}`))
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRateOrder_ReadsScoreKey(t *testing.T) {
	svc := &stubService{rateOrder: sampleOrder()}
	h := newTestHandler(t, svc)
	router := h.SetupRouter(middleware.NewAdminAuth(""))

	// Клиент передаёт оценку в поле score.
	req := httptest.NewRequest(http.MethodPut, "/api/orders/track/ABC12345DE/rate",
		strings.NewReader(`{"score":4}`))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.rateScore != 4 {
		t.Fatalf("score passed to service = %d, want 4", svc.rateScore)
	}
}

func TestGenerateOTP(t *testing.T) {
	h := newTestHandler(t, &stubService{issueMasked: "je***@example.com"})

	body, _ := json.Marshal(otpGenerateRequest{TrackingCode: "ABC12345DE"})
	req := httptest.NewRequest(http.MethodPost, "/api/otp/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.GenerateOTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	respBody := decodeBody(t, res)
	if respBody["email"] != "je***@example.com" {
		t.Fatalf("masked email = %v", respBody["email"])
	}
}

func TestVerifyOTP_Mapping(t *testing.T) {
	body, _ := json.Marshal(otpVerifyRequest{TrackingCode: "ABC12345DE", Code: "123456"})

	t.Run("success returns token", func(t *testing.T) {
		h := newTestHandler(t, &stubService{verifyToken: "access-token"})

		req := httptest.NewRequest(http.MethodPost, "/api/otp/verify", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		h.VerifyOTP(rec, req)

		res := rec.Result()
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
		}
		if respBody := decodeBody(t, res); respBody["token"] != "access-token" {
			t.Fatalf("unexpected body: %v", respBody)
		}
	})

	t.Run("wrong code reports attempts left", func(t *testing.T) {
		h := newTestHandler(t, &stubService{verifyErr: &service.InvalidCodeError{AttemptsLeft: 3}})

		req := httptest.NewRequest(http.MethodPost, "/api/otp/verify", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		h.VerifyOTP(rec, req)

		res := rec.Result()
		defer res.Body.Close()

		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
		}
		if respBody := decodeBody(t, res); respBody["attemptsLeft"] != float64(3) {
			t.Fatalf("attemptsLeft = %v", respBody["attemptsLeft"])
		}
	})

	t.Run("exhausted attempts are rate limited", func(t *testing.T) {
		h := newTestHandler(t, &stubService{verifyErr: service.ErrOTPAttemptsExceeded})

		req := httptest.NewRequest(http.MethodPost, "/api/otp/verify", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		h.VerifyOTP(rec, req)

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
		}
	})

	t.Run("no pending code", func(t *testing.T) {
		h := newTestHandler(t, &stubService{verifyErr: repository.ErrOTPNotFound})

		req := httptest.NewRequest(http.MethodPost, "/api/otp/verify", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		h.VerifyOTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestCheckOTP(t *testing.T) {
	body, _ := json.Marshal(otpCheckRequest{TrackingCode: "ABC12345DE", Token: "tok"})

	t.Run("valid token", func(t *testing.T) {
		h := newTestHandler(t, &stubService{})

		req := httptest.NewRequest(http.MethodPost, "/api/otp/check", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		h.CheckOTP(rec, req)

		res := rec.Result()
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
		}
		if respBody := decodeBody(t, res); respBody["valid"] != true {
			t.Fatalf("unexpected body: %v", respBody)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		h := newTestHandler(t, &stubService{checkErr: service.ErrInvalidAccessToken})

		req := httptest.NewRequest(http.MethodPost, "/api/otp/check", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		h.CheckOTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	h := newTestHandler(t, &stubService{allOrders: []model.Order{*sampleOrder()}})
	router := h.SetupRouter(middleware.NewAdminAuth("s3cret"))

	t.Run("without token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/orders/admin/all", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("with token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/orders/admin/all", nil)
		req.Header.Set("X-Admin-Token", "s3cret")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		res := rec.Result()
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
		}
		body := decodeBody(t, res)
		orders, ok := body["orders"].([]any)
		if !ok || len(orders) != 1 {
			t.Fatalf("unexpected body: %v", body)
		}
	})
}

func TestAdminUpdateOrder(t *testing.T) {
	status := "shipped"
	updated := sampleOrder()
	updated.Status = model.OrderStatusShipped

	t.Run("success", func(t *testing.T) {
		h := newTestHandler(t, &stubService{updatedOrder: updated})
		router := h.SetupRouter(middleware.NewAdminAuth("s3cret"))

		body, _ := json.Marshal(orderUpdateRequest{Status: &status})
		req := httptest.NewRequest(http.MethodPut, "/api/orders/7/status", bytes.NewReader(body))
		req.Header.Set("X-Admin-Token", "s3cret")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("invalid status value", func(t *testing.T) {
		h := newTestHandler(t, &stubService{updateErr: service.ErrInvalidStatus})
		router := h.SetupRouter(middleware.NewAdminAuth("s3cret"))

		bad := "teleported"
		body, _ := json.Marshal(orderUpdateRequest{Status: &bad})
		req := httptest.NewRequest(http.MethodPut, "/api/orders/7/status", bytes.NewReader(body))
		req.Header.Set("X-Admin-Token", "s3cret")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("malformed order id", func(t *testing.T) {
		h := newTestHandler(t, &stubService{})
		router := h.SetupRouter(middleware.NewAdminAuth("s3cret"))

		req := httptest.NewRequest(http.MethodPut, "/api/orders/abc/status", bytes.NewReader([]byte("{}")))
		req.Header.Set("X-Admin-Token", "s3cret")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestRouter_NotFoundIsJSON(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter(middleware.NewAdminAuth(""))

	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	if body := decodeBody(t, res); body["success"] != false {
		t.Fatalf("not found is not the json envelope: %v", body)
	}
}
