// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/7Emma/e-shop-backend/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrOTPNotFound возвращается, если запись OTP не найдена.
	ErrOTPNotFound = errors.New("otp not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrTrackingCodeTaken возвращается при коллизии кода отслеживания.
	ErrTrackingCodeTaken = errors.New("tracking code already taken")
	// ErrSessionAlreadyProcessed возвращается при повторной материализации
	// одной и той же платёжной сессии.
	ErrSessionAlreadyProcessed = errors.New("stripe session already processed")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrder сохраняет заказ вместе с позициями в одной транзакции и
// возвращает идентификатор заказа. Уникальность кода отслеживания и
// платёжной сессии обеспечивается индексами, а не предварительной проверкой.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *model.Order) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO orders (
			user_id, total_cents, shipping_cents,
			first_name, last_name, email, street, city, zip_code, country, phone,
			status, payment_status, tracking_number, tracking_code,
			stripe_session_id, stripe_payment_intent_id
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING id`,
		order.UserID, order.TotalCents, order.ShippingCents,
		order.ShippingAddress.FirstName, order.ShippingAddress.LastName,
		order.ShippingAddress.Email, order.ShippingAddress.Street,
		order.ShippingAddress.City, order.ShippingAddress.ZipCode,
		order.ShippingAddress.Country, order.ShippingAddress.Phone,
		string(order.Status), string(order.PaymentStatus),
		order.TrackingNumber, order.TrackingCode,
		order.StripeSessionID, order.StripePaymentIntentID,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			if strings.Contains(pgErr.ConstraintName, "stripe_session_id") {
				return 0, fmt.Errorf("%w: %s", ErrSessionAlreadyProcessed, order.StripeSessionID)
			}
			return 0, fmt.Errorf("%w: %s", ErrTrackingCodeTaken, order.TrackingCode)
		}
		return 0, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, name, quantity, price_cents)
			 VALUES ($1, $2, $3, $4, $5)`,
			id, item.ProductID, item.Name, item.Quantity, item.PriceCents,
		)
		if err != nil {
			return 0, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

const orderColumns = `id, user_id, total_cents, shipping_cents,
	first_name, last_name, email, street, city, zip_code, country, phone,
	status, payment_status, tracking_number, tracking_code,
	stripe_session_id, stripe_payment_intent_id,
	is_received, received_at, rating_score, rated_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		status string
		pay    string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.TotalCents, &o.ShippingCents,
		&o.ShippingAddress.FirstName, &o.ShippingAddress.LastName,
		&o.ShippingAddress.Email, &o.ShippingAddress.Street,
		&o.ShippingAddress.City, &o.ShippingAddress.ZipCode,
		&o.ShippingAddress.Country, &o.ShippingAddress.Phone,
		&status, &pay, &o.TrackingNumber, &o.TrackingCode,
		&o.StripeSessionID, &o.StripePaymentIntentID,
		&o.IsReceived, &o.ReceivedAt, &o.RatingScore, &o.RatedAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(pay)
	return &o, nil
}

func (r *PostgresRepository) getOrderBy(ctx context.Context, condition string, arg any) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+condition, arg)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := r.getOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

// GetOrderByID возвращает заказ с позициями по внутреннему идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	return r.getOrderBy(ctx, `id = $1`, id)
}

// GetOrderByTrackingCode возвращает заказ с позициями по коду отслеживания.
func (r *PostgresRepository) GetOrderByTrackingCode(ctx context.Context, trackingCode string) (*model.Order, error) {
	return r.getOrderBy(ctx, `tracking_code = $1`, trackingCode)
}

// GetOrderByStripeSessionID возвращает заказ по идентификатору платёжной сессии.
func (r *PostgresRepository) GetOrderByStripeSessionID(ctx context.Context, sessionID string) (*model.Order, error) {
	return r.getOrderBy(ctx, `stripe_session_id = $1`, sessionID)
}

func (r *PostgresRepository) getOrderItems(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT product_id, name, quantity, price_cents
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.PriceCents); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// GetAllOrders возвращает все заказы с позициями, новые первыми.
func (r *PostgresRepository) GetAllOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range orders {
		items, err := r.getOrderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

// UpdateOrder выполняет частичное обновление заказа администратором.
// Код отслеживания неизменяем и этим путём не обновляется.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, id int64, status, paymentStatus, trackingNumber *string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = COALESCE($2, status),
		     payment_status = COALESCE($3, payment_status),
		     tracking_number = COALESCE($4, tracking_number),
		     updated_at = now()
		 WHERE id = $1`,
		id, status, paymentStatus, trackingNumber,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkOrderReceived помечает доставленный заказ как полученный. Возвращает
// false, если заказ не в статусе delivered или уже был подтверждён.
func (r *PostgresRepository) MarkOrderReceived(ctx context.Context, id int64) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET is_received = TRUE, received_at = now(), updated_at = now()
		 WHERE id = $1 AND status = $2 AND is_received = FALSE`,
		id, string(model.OrderStatusDelivered),
	)
	if err != nil {
		return false, fmt.Errorf("mark order received: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// RateOrder сохраняет однократную оценку полученного заказа. Возвращает
// false, если заказ не получен или уже оценён.
func (r *PostgresRepository) RateOrder(ctx context.Context, id int64, score int) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET rating_score = $2, rated_at = now(), updated_at = now()
		 WHERE id = $1 AND is_received = TRUE AND rating_score IS NULL`,
		id, score,
	)
	if err != nil {
		return false, fmt.Errorf("rate order: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// NextTrackingSeq возвращает следующее значение резервной последовательности
// кодов отслеживания.
func (r *PostgresRepository) NextTrackingSeq(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT nextval('tracking_code_seq')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next tracking seq: %w", err)
	}
	return n, nil
}

// CreateOTP сохраняет новую запись одноразового кода.
func (r *PostgresRepository) CreateOTP(ctx context.Context, otp *model.OTP) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO otps (id, tracking_code, email, code, attempts, max_attempts, verified, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		otp.ID.String(), otp.TrackingCode, otp.Email, otp.Code,
		otp.Attempts, otp.MaxAttempts, otp.Verified, otp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}
	return nil
}

const otpColumns = `id, tracking_code, email, code, attempts, max_attempts, verified, expires_at, created_at`

func scanOTP(row pgx.Row) (*model.OTP, error) {
	var (
		o  model.OTP
		id string
	)
	err := row.Scan(&id, &o.TrackingCode, &o.Email, &o.Code,
		&o.Attempts, &o.MaxAttempts, &o.Verified, &o.ExpiresAt, &o.CreatedAt)
	if err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse otp id: %w", err)
	}
	o.ID = parsed

	return &o, nil
}

// GetOTPByTrackingCode возвращает последнюю запись OTP для кода отслеживания.
func (r *PostgresRepository) GetOTPByTrackingCode(ctx context.Context, trackingCode string) (*model.OTP, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+otpColumns+`
		 FROM otps
		 WHERE tracking_code = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		trackingCode,
	)

	otp, err := scanOTP(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("get otp: %w", err)
	}

	return otp, nil
}

// GetOTPByID возвращает запись OTP по идентификатору.
func (r *PostgresRepository) GetOTPByID(ctx context.Context, id uuid.UUID) (*model.OTP, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+otpColumns+` FROM otps WHERE id = $1`, id.String())

	otp, err := scanOTP(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("get otp by id: %w", err)
	}

	return otp, nil
}

// DeleteUnverifiedOTPs удаляет непроверенные записи OTP для кода отслеживания.
// Поддерживает инвариант: не более одной ожидающей записи на код.
func (r *PostgresRepository) DeleteUnverifiedOTPs(ctx context.Context, trackingCode string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM otps WHERE tracking_code = $1 AND verified = FALSE`,
		trackingCode,
	)
	if err != nil {
		return fmt.Errorf("delete unverified otps: %w", err)
	}
	return nil
}

// DeleteOTP удаляет запись OTP по идентификатору.
func (r *PostgresRepository) DeleteOTP(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM otps WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}

// IncrementOTPAttempts атомарно увеличивает счётчик попыток и возвращает
// новое значение.
func (r *PostgresRepository) IncrementOTPAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx,
		`UPDATE otps SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`,
		id.String(),
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrOTPNotFound
		}
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	return attempts, nil
}

// MarkOTPVerified помечает запись OTP как проверенную.
func (r *PostgresRepository) MarkOTPVerified(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE otps SET verified = TRUE WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("mark otp verified: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOTPNotFound
	}
	return nil
}

// DeleteExpiredOTPs удаляет просроченные записи OTP и возвращает их количество.
// Заменяет TTL-индекс документного хранилища: вызывается фоновым процессом.
func (r *PostgresRepository) DeleteExpiredOTPs(ctx context.Context) (int64, error) {
	var deleted int64
	err := r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx, `DELETE FROM otps WHERE expires_at < now()`)
		if err != nil {
			return fmt.Errorf("delete expired otps: %w", err)
		}
		deleted = cmdTag.RowsAffected()
		return nil
	})
	return deleted, err
}

// GetProductByID возвращает товар по идентификатору.
func (r *PostgresRepository) GetProductByID(ctx context.Context, id int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, description, price_cents, stock, is_active
		 FROM products
		 WHERE id = $1`,
		id,
	)

	var p model.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.Stock, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &p, nil
}

// DecrementStock атомарно списывает остаток товара, не опускаясь ниже нуля.
func (r *PostgresRepository) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE products SET stock = GREATEST(stock - $2, 0) WHERE id = $1`,
		productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	return nil
}
