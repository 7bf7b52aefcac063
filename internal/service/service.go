// Package service реализует бизнес-логику гостевого оформления заказов:
// создание платёжных сессий, материализацию оплаченных заказов,
// одноразовые коды доступа и выдачу информации по коду отслеживания.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/7Emma/e-shop-backend/internal/model"
	"github.com/7Emma/e-shop-backend/internal/repository"
	"github.com/7Emma/e-shop-backend/internal/stripe"
	"github.com/7Emma/e-shop-backend/internal/tracking"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateOrder(ctx context.Context, order *model.Order) (int64, error)
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	GetOrderByTrackingCode(ctx context.Context, trackingCode string) (*model.Order, error)
	GetOrderByStripeSessionID(ctx context.Context, sessionID string) (*model.Order, error)
	GetAllOrders(ctx context.Context) ([]model.Order, error)
	UpdateOrder(ctx context.Context, id int64, status, paymentStatus, trackingNumber *string) error
	MarkOrderReceived(ctx context.Context, id int64) (bool, error)
	RateOrder(ctx context.Context, id int64, score int) (bool, error)
	NextTrackingSeq(ctx context.Context) (int64, error)

	CreateOTP(ctx context.Context, otp *model.OTP) error
	GetOTPByTrackingCode(ctx context.Context, trackingCode string) (*model.OTP, error)
	GetOTPByID(ctx context.Context, id uuid.UUID) (*model.OTP, error)
	DeleteUnverifiedOTPs(ctx context.Context, trackingCode string) error
	DeleteOTP(ctx context.Context, id uuid.UUID) error
	IncrementOTPAttempts(ctx context.Context, id uuid.UUID) (int, error)
	MarkOTPVerified(ctx context.Context, id uuid.UUID) error
	DeleteExpiredOTPs(ctx context.Context) (int64, error)

	GetProductByID(ctx context.Context, id int64) (*model.Product, error)
	DecrementStock(ctx context.Context, productID int64, quantity int) error
}

// StripeClient описывает используемые операции платёжного провайдера.
type StripeClient interface {
	CreateCheckoutSession(ctx context.Context, params stripe.SessionParams) (*stripe.Session, error)
	GetCheckoutSession(ctx context.Context, sessionID string, expand ...string) (*stripe.Session, error)
}

// EmailSender описывает контракт отправки писем покупателям.
type EmailSender interface {
	SendOTP(ctx context.Context, to, code, trackingCode string) error
	SendOrderConfirmation(ctx context.Context, to string, order *model.Order) error
}

// ErrEmptyCart возвращается при попытке оформить пустую корзину.
var (
	ErrEmptyCart = errors.New("cart is empty")
	// ErrMissingEmail возвращается, если в адресе доставки нет email.
	ErrMissingEmail = errors.New("shipping address email is required")
	// ErrInvalidQuantity возвращается при количестве вне диапазона [1,100].
	ErrInvalidQuantity = errors.New("item quantity must be between 1 and 100")
	// ErrProductUnavailable возвращается для снятого с продажи товара.
	ErrProductUnavailable = errors.New("product is no longer available")
	// ErrInsufficientStock возвращается при нехватке остатка на складе.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrPaymentProvider возвращается при сбое обращения к платёжному провайдеру.
	ErrPaymentProvider = errors.New("payment provider request failed")
)

const (
	currency        = "eur"
	maxItemQuantity = 100

	freeShippingThresholdCents = 100_00
	shippingFlatCents          = 5_99
	taxRatePercent             = 18

	trackingProbeAttempts = 10
)

// Ключи метаданных платёжной сессии.
const (
	metaIsGuest         = "isGuest"
	metaFirstName       = "firstName"
	metaLastName        = "lastName"
	metaEmail           = "email"
	metaPhone           = "phone"
	metaShippingAddress = "shippingAddress"
	metaLineItems       = "lineMeta"
)

// lineKind помечает назначение ценовой строки сессии. Явный тег позволяет
// материализатору отличать товары от доставки и налога без разбора названий.
type lineKind string

const (
	lineKindProduct  lineKind = "product"
	lineKindShipping lineKind = "shipping"
	lineKindTax      lineKind = "tax"
)

type lineMeta struct {
	Kind      lineKind `json:"kind"`
	ProductID int64    `json:"productId,omitempty"`
}

// Service содержит бизнес-логику сервиса.
type Service struct {
	repo        Repository
	stripe      StripeClient
	email       EmailSender
	logger      *zap.Logger
	frontendURL string
}

// NewService создаёт сервис с указанными зависимостями.
func NewService(repo Repository, stripeClient StripeClient, emailSender EmailSender, logger *zap.Logger, frontendURL string) *Service {
	return &Service{
		repo:        repo,
		stripe:      stripeClient,
		email:       emailSender,
		logger:      logger,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CheckoutItem описывает позицию корзины в запросе оформления.
type CheckoutItem struct {
	ProductID int64
	Quantity  int
}

// CheckoutResult содержит идентификатор созданной сессии и URL страницы оплаты.
type CheckoutResult struct {
	SessionID string
	URL       string
}

// CreateCheckoutSession проверяет корзину по актуальному каталогу и создаёт
// платёжную сессию. Цены берутся из каталога, а не из запроса. Остатки при
// этом не резервируются: между проверкой и оплатой возможна гонка.
func (s *Service) CreateCheckoutSession(ctx context.Context, addr model.ShippingAddress, items []CheckoutItem) (*CheckoutResult, error) {
	if addr.Email == "" {
		return nil, ErrMissingEmail
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	var (
		lines    []stripe.LineItem
		meta     []lineMeta
		subtotal int64
	)

	for _, item := range items {
		if item.Quantity < 1 || item.Quantity > maxItemQuantity {
			return nil, fmt.Errorf("%w: product %d", ErrInvalidQuantity, item.ProductID)
		}

		product, err := s.repo.GetProductByID(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if !product.IsActive {
			return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, product.Name)
		}
		if product.Stock < item.Quantity {
			return nil, fmt.Errorf("%w: %s (%d available, %d requested)",
				ErrInsufficientStock, product.Name, product.Stock, item.Quantity)
		}

		lines = append(lines, stripe.LineItem{
			Name:        product.Name,
			Description: product.Description,
			UnitAmount:  product.PriceCents,
			Quantity:    item.Quantity,
		})
		meta = append(meta, lineMeta{Kind: lineKindProduct, ProductID: product.ID})
		subtotal += product.PriceCents * int64(item.Quantity)
	}

	shippingCents := int64(shippingFlatCents)
	if subtotal > freeShippingThresholdCents {
		shippingCents = 0
	}
	if shippingCents > 0 {
		lines = append(lines, stripe.LineItem{
			Name:       "Frais de livraison",
			UnitAmount: shippingCents,
			Quantity:   1,
		})
		meta = append(meta, lineMeta{Kind: lineKindShipping})
	}

	taxCents := (subtotal*taxRatePercent + 50) / 100
	lines = append(lines, stripe.LineItem{
		Name:       fmt.Sprintf("TVA (%d%%)", taxRatePercent),
		UnitAmount: taxCents,
		Quantity:   1,
	})
	meta = append(meta, lineMeta{Kind: lineKindTax})

	addrJSON, err := json.Marshal(addr)
	if err != nil {
		return nil, fmt.Errorf("marshal shipping address: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal line meta: %w", err)
	}

	session, err := s.stripe.CreateCheckoutSession(ctx, stripe.SessionParams{
		CustomerEmail: addr.Email,
		SuccessURL:    s.frontendURL + "/order-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.frontendURL + "/panier",
		Currency:      currency,
		LineItems:     lines,
		Metadata: map[string]string{
			metaIsGuest:         "true",
			metaFirstName:       addr.FirstName,
			metaLastName:        addr.LastName,
			metaEmail:           addr.Email,
			metaPhone:           addr.Phone,
			metaShippingAddress: string(addrJSON),
			metaLineItems:       string(metaJSON),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentProvider, err)
	}

	return &CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

// MaterializeOrder превращает завершённую платёжную сессию в сохранённый
// заказ с уникальным кодом отслеживания. Повторная доставка того же события
// распознаётся по идентификатору сессии и не создаёт дубликат.
func (s *Service) MaterializeOrder(ctx context.Context, sess *stripe.Session) error {
	full := sess

	// Полезная нагрузка вебхука не содержит развёрнутых строк — дочитываем
	// сессию у провайдера. Операция только читает уже подтверждённый платёж.
	if sess.LineItems == nil {
		backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			resolved, err := s.stripe.GetCheckoutSession(ctx, sess.ID, "customer_details", "line_items")
			if err != nil {
				return retry.RetryableError(err)
			}
			full = resolved
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: retrieve session %s: %s", ErrPaymentProvider, sess.ID, err)
		}
	}

	addr := shippingAddressFromSession(full)
	items, shippingCents := orderItemsFromSession(full)

	order := &model.Order{
		Items:                 items,
		TotalCents:            full.AmountTotal,
		ShippingCents:         shippingCents,
		ShippingAddress:       addr,
		Status:                model.OrderStatusProcessing,
		PaymentStatus:         model.PaymentStatusPaid,
		StripeSessionID:       sess.ID,
		StripePaymentIntentID: full.PaymentIntent,
	}

	created, err := s.insertWithUniqueCode(ctx, order)
	if err != nil {
		return err
	}
	if !created {
		// Повторная доставка вебхука: заказ уже материализован.
		s.logger.Info("webhook redelivery ignored",
			zap.String("sessionID", sess.ID))
		return nil
	}

	for _, item := range order.Items {
		if item.ProductID == nil {
			continue
		}
		if err := s.repo.DecrementStock(ctx, *item.ProductID, item.Quantity); err != nil {
			s.logger.Warn("stock decrement failed",
				zap.Int64("productID", *item.ProductID), zap.Error(err))
		}
	}

	to := full.Metadata[metaEmail]
	if to == "" {
		to = addr.Email
	}
	if to != "" {
		// Заказ уже сохранён: неудачная отправка письма не откатывает его.
		if err := s.email.SendOrderConfirmation(ctx, to, order); err != nil {
			s.logger.Error("order confirmation email failed",
				zap.String("trackingCode", order.TrackingCode), zap.Error(err))
		}
	}

	s.logger.Info("order materialized",
		zap.Int64("orderID", order.ID),
		zap.String("trackingCode", order.TrackingCode),
		zap.String("sessionID", sess.ID))

	return nil
}

// insertWithUniqueCode сохраняет заказ, подбирая уникальный код отслеживания.
// Уникальность гарантирует индекс БД: коллизия приводит к новой попытке,
// после исчерпания попыток код строится из выделенной последовательности.
// Возвращает false, если сессия уже была материализована ранее.
func (s *Service) insertWithUniqueCode(ctx context.Context, order *model.Order) (bool, error) {
	for attempt := 0; attempt < trackingProbeAttempts; attempt++ {
		code, err := tracking.Generate(tracking.DefaultLength)
		if err != nil {
			return false, fmt.Errorf("generate tracking code: %w", err)
		}

		order.TrackingCode = code
		id, err := s.repo.CreateOrder(ctx, order)
		if err == nil {
			order.ID = id
			return true, nil
		}
		if errors.Is(err, repository.ErrSessionAlreadyProcessed) {
			return false, nil
		}
		if errors.Is(err, repository.ErrTrackingCodeTaken) {
			continue
		}
		return false, err
	}

	code, err := s.fallbackTrackingCode(ctx)
	if err != nil {
		return false, err
	}

	order.TrackingCode = code
	id, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		if errors.Is(err, repository.ErrSessionAlreadyProcessed) {
			return false, nil
		}
		return false, err
	}
	order.ID = id
	return true, nil
}

func (s *Service) fallbackTrackingCode(ctx context.Context) (string, error) {
	n, err := s.repo.NextTrackingSeq(ctx)
	if err != nil {
		return "", err
	}

	suffix := strings.ToUpper(strconv.FormatInt(n, 36))
	if len(suffix) < 9 {
		suffix = strings.Repeat("0", 9-len(suffix)) + suffix
	}
	return "T" + suffix, nil
}

// shippingAddressFromSession восстанавливает адрес доставки из метаданных
// сессии. Данные, собранные провайдером у покупателя, имеют приоритет над
// значениями из формы магазина.
func shippingAddressFromSession(sess *stripe.Session) model.ShippingAddress {
	var addr model.ShippingAddress
	if raw := sess.Metadata[metaShippingAddress]; raw != "" {
		// Некорректные метаданные не фатальны: остаётся оверлей провайдера.
		_ = json.Unmarshal([]byte(raw), &addr)
	}
	if addr.FirstName == "" {
		addr.FirstName = sess.Metadata[metaFirstName]
	}
	if addr.LastName == "" {
		addr.LastName = sess.Metadata[metaLastName]
	}
	if addr.Email == "" {
		addr.Email = sess.Metadata[metaEmail]
	}
	if addr.Phone == "" {
		addr.Phone = sess.Metadata[metaPhone]
	}

	details := sess.CustomerDetails
	if details == nil {
		return addr
	}
	if details.Phone != "" {
		addr.Phone = details.Phone
	}
	if details.Address != nil {
		if details.Address.Line1 != "" {
			addr.Street = details.Address.Line1
		}
		if details.Address.City != "" {
			addr.City = details.Address.City
		}
		if details.Address.PostalCode != "" {
			addr.ZipCode = details.Address.PostalCode
		}
		if details.Address.Country != "" {
			addr.Country = details.Address.Country
		}
	}

	return addr
}

// orderItemsFromSession восстанавливает позиции заказа из строк сессии,
// отбрасывая строки доставки и налога. Классификация идёт по явным тегам из
// метаданных; для сессий без тегов остаётся эвристика по названию.
func orderItemsFromSession(sess *stripe.Session) ([]model.OrderItem, int64) {
	if sess.LineItems == nil {
		return nil, 0
	}

	var meta []lineMeta
	if raw := sess.Metadata[metaLineItems]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			meta = nil
		}
	}
	tagged := len(meta) == len(sess.LineItems.Data)

	var (
		items         []model.OrderItem
		shippingCents int64
	)
	for i, line := range sess.LineItems.Data {
		var unitAmount int64
		if line.Price != nil {
			unitAmount = line.Price.UnitAmount
		}

		kind := lineKindProduct
		var productID *int64
		if tagged {
			kind = meta[i].Kind
			if meta[i].ProductID != 0 {
				id := meta[i].ProductID
				productID = &id
			}
		} else if k, ok := surchargeKind(line.Description); ok {
			kind = k
		}

		switch kind {
		case lineKindShipping:
			shippingCents = unitAmount
			continue
		case lineKindTax:
			continue
		}

		items = append(items, model.OrderItem{
			ProductID:  productID,
			Name:       line.Description,
			Quantity:   line.Quantity,
			PriceCents: unitAmount,
		})
	}

	return items, shippingCents
}

// surchargeKind распознаёт служебные строки по названию. Налог проверяется
// раньше доставки: только строка доставки вносит вклад в shippingCents.
func surchargeKind(name string) (lineKind, bool) {
	switch {
	case strings.Contains(name, "TVA"):
		return lineKindTax, true
	case strings.Contains(name, "Frais"):
		return lineKindShipping, true
	}
	return "", false
}

// PaymentState описывает статус оплаты платёжной сессии.
type PaymentState struct {
	Status        string
	PaymentIntent string
}

// GetPaymentStatus возвращает статус оплаты сессии у провайдера.
func (s *Service) GetPaymentStatus(ctx context.Context, sessionID string) (*PaymentState, error) {
	session, err := s.stripe.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentProvider, err)
	}
	return &PaymentState{
		Status:        session.PaymentStatus,
		PaymentIntent: session.PaymentIntent,
	}, nil
}

// StartOTPCleanup запускает фоновое удаление просроченных записей OTP.
// Замена TTL-индекса документного хранилища поверх PostgreSQL.
func (s *Service) StartOTPCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.repo.DeleteExpiredOTPs(ctx)
				if err != nil {
					s.logger.Warn("expired otp cleanup failed", zap.Error(err))
					continue
				}
				if deleted > 0 {
					s.logger.Debug("expired otps removed", zap.Int64("count", deleted))
				}
			}
		}
	}()
}
