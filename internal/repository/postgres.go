package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/echobeats-checkout/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const orderColumns = `id, product_id, product_name, amount_minor, currency, customer_email,
	gateway_reference, status, created_at, updated_at`

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
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

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second},
	}

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

// withRetry повторяет fn при конфликте сериализации, взаимной блокировке или обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(r.delays) {
			return err
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrder создаёт заказ в статусе pending. Идентификатор выдаёт последовательность БД.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o model.NewOrder) (*model.Order, error) {
	currency := o.Currency
	if currency == "" {
		currency = model.DefaultCurrency
	}

	var order *model.Order
	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`INSERT INTO orders (product_id, product_name, amount_minor, currency, customer_email, status)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+orderColumns,
			o.ProductID, o.ProductName, model.MinorUnits(o.Amount, currency), currency,
			o.CustomerEmail, string(model.OrderStatusPending),
		)

		var err error
		order, err = scanOrder(row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	return order, nil
}

// UpdateOrderStatus заменяет статус и ссылку на авторизацию заказа.
// Строка заказа блокируется на время транзакции, поэтому обновления одного заказа выполняются последовательно.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus, reference string) (*model.Order, error) {
	var order *model.Order
	err := r.withRetry(ctx, func() error {
		var err error
		order, err = r.updateOrderStatusTx(ctx, id, status, reference)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *PostgresRepository) updateOrderStatusTx(ctx context.Context, id int64, status model.OrderStatus, reference string) (*model.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	if current.Status == status && current.GatewayReference == reference {
		return current, nil
	}

	if !current.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	updated, err := scanOrder(tx.QueryRow(ctx,
		`UPDATE orders SET status = $2, gateway_reference = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING `+orderColumns,
		id, string(status), reference,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrReferenceInUse, reference)
		}
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return updated, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// GetOrderByGatewayReference возвращает заказ по идентификатору авторизации у провайдера.
func (r *PostgresRepository) GetOrderByGatewayReference(ctx context.Context, reference string) (*model.Order, error) {
	if reference == "" {
		return nil, ErrOrderNotFound
	}

	order, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE gateway_reference = $1`,
		reference,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by reference: %w", err)
	}
	return order, nil
}

// CreateSubscriber добавляет подписчика. Для уже известного адреса возвращает существующую запись.
func (r *PostgresRepository) CreateSubscriber(ctx context.Context, email string) (*model.Subscriber, error) {
	var s model.Subscriber
	err := r.pool.QueryRow(ctx,
		`INSERT INTO subscribers (email) VALUES ($1)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING id, email, created_at`,
		email,
	).Scan(&s.ID, &s.Email, &s.CreatedAt)
	if err == nil {
		return &s, nil
	}

	var pgErr *pgconn.PgError
	if !errors.Is(err, pgx.ErrNoRows) && !(errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation) {
		return nil, fmt.Errorf("insert subscriber: %w", err)
	}

	return r.GetSubscriberByEmail(ctx, email)
}

// GetSubscriberByEmail возвращает подписчика по адресу.
func (r *PostgresRepository) GetSubscriberByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	var s model.Subscriber
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, created_at FROM subscribers WHERE email = $1`,
		email,
	).Scan(&s.ID, &s.Email, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return &s, nil
}

// ListSubscribers возвращает всех подписчиков в порядке регистрации.
func (r *PostgresRepository) ListSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, created_at FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select subscribers: %w", err)
	}
	defer rows.Close()

	var res []model.Subscriber
	for rows.Next() {
		var s model.Subscriber
		if err := rows.Scan(&s.ID, &s.Email, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o           model.Order
		amountMinor int64
		status      string
	)

	err := row.Scan(
		&o.ID, &o.ProductID, &o.ProductName, &amountMinor, &o.Currency, &o.CustomerEmail,
		&o.GatewayReference, &status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Amount = model.MajorUnits(amountMinor, o.Currency)
	o.Status = model.OrderStatus(status)

	return &o, nil
}
