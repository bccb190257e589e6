// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/storefront-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrProductNotFound возвращается, если товар каталога не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrTransactionUsed возвращается, если идентификатор транзакции уже
	// подтверждает оплату другого заказа.
	ErrTransactionUsed = errors.New("transaction id already used by another order")
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

// withRetry повторяет операцию при конфликте сериализации или дедлоке:
// заказ одновременно обновляют покупатель (оплата) и администратор (доставка).
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		return err
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, isAdmin bool) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, is_admin) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, isAdmin,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, is_admin, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// ListUsers возвращает всех зарегистрированных пользователей.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, login, is_admin, created_at FROM users ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Login, &u.IsAdmin, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

const productColumns = `id, name, price, image, category, brand, description, rating, count_in_stock, created_at`

func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.PriceCents, &p.Image, &p.Category,
		&p.Brand, &p.Description, &p.Rating, &p.CountInStock, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProduct добавляет товар в каталог.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO products (name, price, image, category, brand, description, rating, count_in_stock)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+productColumns,
		p.Name, p.PriceCents, p.Image, p.Category, p.Brand, p.Description, p.Rating, p.CountInStock,
	)

	created, err := scanProduct(row)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return created, nil
}

// UpdateProduct обновляет карточку товара целиком.
func (r *PostgresRepository) UpdateProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE products
		 SET name = $2, price = $3, image = $4, category = $5, brand = $6,
		     description = $7, rating = $8, count_in_stock = $9
		 WHERE id = $1
		 RETURNING `+productColumns,
		p.ID, p.Name, p.PriceCents, p.Image, p.Category, p.Brand, p.Description, p.Rating, p.CountInStock,
	)

	updated, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}
	return updated, nil
}

// DeleteProduct удаляет товар каталога. История заказов не затрагивается:
// позиции заказов хранят снимок товара.
func (r *PostgresRepository) DeleteProduct(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// GetProduct возвращает товар каталога по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`,
		id,
	)

	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// ListProducts возвращает товары каталога, при непустой категории
// отфильтрованные по ней.
func (r *PostgresRepository) ListProducts(ctx context.Context, category string) ([]model.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	args := []any{}
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// CreateOrder сохраняет новый заказ с денормализованными позициями
// и возвращает его в статусе «не оплачен».
func (r *PostgresRepository) CreateOrder(ctx context.Context, userID int64, lines []model.OrderLine, shipping model.ShippingInfo, paymentMethod string, totalCents int64) (*model.Order, error) {
	orderID := uuid.NewString()

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO orders (id, user_id, shipping_name, shipping_address, shipping_city,
			                     shipping_postal, shipping_country, payment_method, total)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			orderID, userID, shipping.Name, shipping.Address, shipping.City,
			shipping.PostalCode, shipping.Country, paymentMethod, totalCents,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, line := range lines {
			_, err = tx.Exec(ctx,
				`INSERT INTO order_items (order_id, product_id, name, price, quantity)
				 VALUES ($1, $2, $3, $4, $5)`,
				orderID, line.ProductID, line.Name, line.PriceCents, line.Quantity,
			)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.GetOrderByID(ctx, orderID)
}

const orderColumns = `o.id, o.user_id, o.shipping_name, o.shipping_address, o.shipping_city,
	o.shipping_postal, o.shipping_country, o.payment_method, o.total,
	o.is_paid, o.paid_at, o.txn_id, o.txn_status, o.txn_settled_at, o.payer_email,
	o.is_delivered, o.delivered_at, o.created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o            model.Order
		txnID        *string
		txnStatus    *string
		txnSettledAt *time.Time
		payerEmail   *string
	)

	err := row.Scan(
		&o.ID, &o.UserID, &o.Shipping.Name, &o.Shipping.Address, &o.Shipping.City,
		&o.Shipping.PostalCode, &o.Shipping.Country, &o.PaymentMethod, &o.TotalCents,
		&o.IsPaid, &o.PaidAt, &txnID, &txnStatus, &txnSettledAt, &payerEmail,
		&o.IsDelivered, &o.DeliveredAt, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if txnID != nil {
		receipt := &model.PaymentReceipt{
			TransactionID: *txnID,
		}
		if txnStatus != nil {
			receipt.Status = *txnStatus
		}
		if txnSettledAt != nil {
			receipt.SettledAt = *txnSettledAt
		}
		if payerEmail != nil {
			receipt.PayerEmail = *payerEmail
		}
		o.PaymentResult = receipt
	}

	return &o, nil
}

// GetOrderByID возвращает заказ с позициями.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, orderID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`,
		orderID,
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT product_id, name, price, quantity FROM order_items WHERE order_id = $1 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line model.OrderLine
		if err := rows.Scan(&line.ProductID, &line.Name, &line.PriceCents, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		order.Lines = append(order.Lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return order, nil
}

// MarkOrderPaid атомарно переводит заказ в состояние «оплачен», сохраняя
// подтверждение провайдера. Повторное подтверждение уже оплаченного заказа
// не меняет paid_at и возвращает признак alreadyPaid.
func (r *PostgresRepository) MarkOrderPaid(ctx context.Context, orderID string, receipt model.PaymentReceipt) (*model.Order, bool, error) {
	var alreadyPaid bool

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var isPaid bool
		err = tx.QueryRow(ctx,
			`SELECT is_paid FROM orders WHERE id = $1 FOR UPDATE`,
			orderID,
		).Scan(&isPaid)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if isPaid {
			alreadyPaid = true
			return tx.Commit(ctx)
		}

		cmdTag, err := tx.Exec(ctx,
			`UPDATE orders
			 SET is_paid = TRUE, paid_at = now(),
			     txn_id = $2, txn_status = $3, txn_settled_at = $4, payer_email = $5
			 WHERE id = $1 AND is_paid = FALSE`,
			orderID, receipt.TransactionID, receipt.Status, receipt.SettledAt, receipt.PayerEmail,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrTransactionUsed, receipt.TransactionID)
			}
			return fmt.Errorf("mark order paid: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			alreadyPaid = true
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, false, err
	}

	order, err := r.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}

	return order, alreadyPaid, nil
}

// MarkOrderDelivered атомарно отмечает заказ доставленным. Переход
// необратим; повторный вызов возвращает то же состояние.
func (r *PostgresRepository) MarkOrderDelivered(ctx context.Context, orderID string) (*model.Order, bool, error) {
	var alreadyDelivered bool

	err := r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE orders SET is_delivered = TRUE, delivered_at = now()
			 WHERE id = $1 AND is_delivered = FALSE`,
			orderID,
		)
		if err != nil {
			return fmt.Errorf("mark order delivered: %w", err)
		}
		alreadyDelivered = cmdTag.RowsAffected() == 0
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	order, err := r.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, false, ErrOrderNotFound
		}
		return nil, false, err
	}

	return order, alreadyDelivered, nil
}

// ListOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.user_id = $1 ORDER BY o.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// ListAllOrders возвращает все заказы с логином покупателя, новые первыми.
func (r *PostgresRepository) ListAllOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`, u.login
		 FROM orders o JOIN users u ON u.id = o.user_id
		 ORDER BY o.created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var (
			o            model.Order
			txnID        *string
			txnStatus    *string
			txnSettledAt *time.Time
			payerEmail   *string
		)

		err := rows.Scan(
			&o.ID, &o.UserID, &o.Shipping.Name, &o.Shipping.Address, &o.Shipping.City,
			&o.Shipping.PostalCode, &o.Shipping.Country, &o.PaymentMethod, &o.TotalCents,
			&o.IsPaid, &o.PaidAt, &txnID, &txnStatus, &txnSettledAt, &payerEmail,
			&o.IsDelivered, &o.DeliveredAt, &o.CreatedAt, &o.UserLogin,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		if txnID != nil {
			o.PaymentResult = &model.PaymentReceipt{TransactionID: *txnID}
			if txnStatus != nil {
				o.PaymentResult.Status = *txnStatus
			}
			if txnSettledAt != nil {
				o.PaymentResult.SettledAt = *txnSettledAt
			}
			if payerEmail != nil {
				o.PaymentResult.PayerEmail = *payerEmail
			}
		}

		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
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

	return orders, nil
}
