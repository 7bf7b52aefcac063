// Package stripe предоставляет клиент REST API платёжного провайдера Stripe:
// создание и чтение checkout-сессий и проверку подписи вебхуков.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultBaseURL = "https://api.stripe.com"

// Client инкапсулирует HTTP-взаимодействие со Stripe.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient создаёт клиент Stripe с указанным секретным ключом.
func NewClient(secretKey string) *Client {
	return NewClientWithBaseURL(secretKey, defaultBaseURL)
}

// NewClientWithBaseURL создаёт клиент с нестандартным базовым адресом.
// Используется в тестах для подмены API на httptest-сервер.
func NewClientWithBaseURL(secretKey, baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 15 * time.Second

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: rc.StandardClient(),
	}
}

// LineItem описывает одну ценовую строку создаваемой сессии.
type LineItem struct {
	Name        string
	Description string
	UnitAmount  int64
	Quantity    int
}

// SessionParams содержит параметры создания checkout-сессии.
type SessionParams struct {
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Currency      string
	LineItems     []LineItem
	Metadata      map[string]string
}

// Address описывает почтовый адрес, собранный Stripe у покупателя.
type Address struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// CustomerDetails содержит контактные данные, собранные Stripe.
type CustomerDetails struct {
	Email   string   `json:"email"`
	Phone   string   `json:"phone"`
	Address *Address `json:"address"`
}

// Price описывает цену строки сессии в минимальных единицах валюты.
type Price struct {
	UnitAmount int64 `json:"unit_amount"`
}

// SessionLineItem описывает одну строку развёрнутой сессии.
type SessionLineItem struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Price       *Price `json:"price"`
}

// SessionLineItems содержит список строк развёрнутой сессии.
type SessionLineItems struct {
	Data []SessionLineItem `json:"data"`
}

// Session описывает checkout-сессию Stripe.
type Session struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	PaymentIntent   string            `json:"payment_intent"`
	PaymentStatus   string            `json:"payment_status"`
	AmountTotal     int64             `json:"amount_total"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails *CustomerDetails  `json:"customer_details"`
	LineItems       *SessionLineItems `json:"line_items"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// CreateCheckoutSession создаёт checkout-сессию и возвращает её
// идентификатор и URL страницы оплаты.
func (c *Client) CreateCheckoutSession(ctx context.Context, params SessionParams) (*Session, error) {
	currency := params.Currency
	if currency == "" {
		currency = "eur"
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("customer_email", params.CustomerEmail)
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("billing_address_collection", "required")
	form.Set("phone_number_collection[enabled]", "true")
	form.Set("customer_creation", "if_required")

	for i, item := range params.LineItems {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][product_data][name]", item.Name)
		if item.Description != "" {
			form.Set(prefix+"[price_data][product_data][description]", item.Description)
		}
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(item.UnitAmount, 10))
		form.Set(prefix+"[quantity]", strconv.Itoa(item.Quantity))
	}

	for k, v := range params.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	return c.do(ctx, http.MethodPost, "/v1/checkout/sessions", strings.NewReader(form.Encode()))
}

// GetCheckoutSession читает сессию по идентификатору, при необходимости
// разворачивая вложенные объекты. Операция идемпотентна и не изменяет
// ничего на стороне провайдера.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string, expand ...string) (*Session, error) {
	q := url.Values{}
	for i, e := range expand {
		q.Set(fmt.Sprintf("expand[%d]", i), e)
	}

	path := "/v1/checkout/sessions/" + url.PathEscape(sessionID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("stripe: %s (status %d)", apiErr.Error.Message, resp.StatusCode)
		}
		return nil, fmt.Errorf("stripe: unexpected status %d", resp.StatusCode)
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	return &session, nil
}
