package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/payaddons/stripe-gateway/internal/domain"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a postgres-backed order store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const orderColumns = `id, order_key, status, currency, total, email, first_name, last_name, phone, country, locale, user_id, transaction_id, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return s.scanOrder(ctx, row, "order.get", strconv.FormatInt(id, 10))
}

func (s *PostgresStore) GetByKey(ctx context.Context, key string) (*Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_key = $1`, key)
	return s.scanOrder(ctx, row, "order.get_by_key", key)
}

func (s *PostgresStore) ByIntentID(ctx context.Context, intentID string) (*Order, error) {
	return s.byMeta(ctx, MetaIntentID, intentID, "order.by_intent")
}

func (s *PostgresStore) BySetupIntentID(ctx context.Context, setupIntentID string) (*Order, error) {
	return s.byMeta(ctx, MetaSetupIntentID, setupIntentID, "order.by_setup_intent")
}

func (s *PostgresStore) ByChargeID(ctx context.Context, chargeID string) (*Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE transaction_id = $1`, chargeID)
	return s.scanOrder(ctx, row, "order.by_charge", chargeID)
}

func (s *PostgresStore) byMeta(ctx context.Context, metaKey, metaValue, op string) (*Order, error) {
	// The unique index on order_meta guarantees at most one order per
	// intent id, so a bare QueryRow is safe here.
	row := s.pool.QueryRow(ctx,
		`SELECT `+prefixedOrderColumns("o")+`
		 FROM orders o
		 JOIN order_meta m ON m.order_id = o.id
		 WHERE m.meta_key = $1 AND m.meta_value = $2`, metaKey, metaValue)
	return s.scanOrder(ctx, row, op, metaValue)
}

func prefixedOrderColumns(alias string) string {
	return alias + `.id, ` + alias + `.order_key, ` + alias + `.status, ` + alias + `.currency, ` +
		alias + `.total, ` + alias + `.email, ` + alias + `.first_name, ` + alias + `.last_name, ` +
		alias + `.phone, ` + alias + `.country, ` + alias + `.locale, ` + alias + `.user_id, ` +
		alias + `.transaction_id, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func (s *PostgresStore) scanOrder(ctx context.Context, row pgx.Row, op, identifier string) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Key, &o.Status, &o.Currency, &o.Total, &o.Email,
		&o.FirstName, &o.LastName, &o.Phone, &o.Country, &o.Locale, &o.UserID,
		&o.TransactionID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "order", identifier)
		}
		return nil, domain.Internal(err, op, "failed to load order")
	}

	if err := s.loadChildren(ctx, &o); err != nil {
		return nil, domain.Internal(err, op, "failed to load order details")
	}
	return &o, nil
}

func (s *PostgresStore) loadChildren(ctx context.Context, o *Order) error {
	o.Meta = make(map[string]string)
	rows, err := s.pool.Query(ctx,
		`SELECT meta_key, meta_value FROM order_meta WHERE order_id = $1`, o.ID)
	if err != nil {
		return fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("scan meta: %w", err)
		}
		o.Meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate meta: %w", err)
	}

	noteRows, err := s.pool.Query(ctx,
		`SELECT message, created_at FROM order_notes WHERE order_id = $1 ORDER BY created_at`, o.ID)
	if err != nil {
		return fmt.Errorf("query notes: %w", err)
	}
	defer noteRows.Close()
	for noteRows.Next() {
		var n Note
		if err := noteRows.Scan(&n.Message, &n.CreatedAt); err != nil {
			return fmt.Errorf("scan note: %w", err)
		}
		o.Notes = append(o.Notes, n)
	}
	if err := noteRows.Err(); err != nil {
		return fmt.Errorf("iterate notes: %w", err)
	}

	refundRows, err := s.pool.Query(ctx,
		`SELECT refund_id, amount, reason, created_at FROM order_refunds WHERE order_id = $1 ORDER BY created_at`, o.ID)
	if err != nil {
		return fmt.Errorf("query refunds: %w", err)
	}
	defer refundRows.Close()
	for refundRows.Next() {
		var r OrderRefund
		if err := refundRows.Scan(&r.RefundID, &r.Amount, &r.Reason, &r.CreatedAt); err != nil {
			return fmt.Errorf("scan refund: %w", err)
		}
		o.Refunds = append(o.Refunds, r)
	}
	return refundRows.Err()
}

// Save writes the order row and replaces its meta, notes and refunds
// in a single transaction.
func (s *PostgresStore) Save(ctx context.Context, o *Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Internal(err, "order.save", "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, order_key, status, currency, total, email, first_name, last_name, phone, country, locale, user_id, transaction_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   total = EXCLUDED.total,
		   transaction_id = EXCLUDED.transaction_id,
		   updated_at = now()`,
		o.ID, o.Key, o.Status, o.Currency, o.Total, o.Email, o.FirstName,
		o.LastName, o.Phone, o.Country, o.Locale, o.UserID, o.TransactionID)
	if err != nil {
		return domain.Internal(err, "order.save", "failed to save order")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_meta WHERE order_id = $1`, o.ID); err != nil {
		return domain.Internal(err, "order.save", "failed to clear order meta")
	}
	for k, v := range o.Meta {
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_meta (order_id, meta_key, meta_value) VALUES ($1, $2, $3)`,
			o.ID, k, v); err != nil {
			return domain.Internal(err, "order.save", "failed to save order meta")
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_notes WHERE order_id = $1`, o.ID); err != nil {
		return domain.Internal(err, "order.save", "failed to clear order notes")
	}
	for _, n := range o.Notes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_notes (order_id, message, created_at) VALUES ($1, $2, $3)`,
			o.ID, n.Message, n.CreatedAt); err != nil {
			return domain.Internal(err, "order.save", "failed to save order note")
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_refunds WHERE order_id = $1`, o.ID); err != nil {
		return domain.Internal(err, "order.save", "failed to clear order refunds")
	}
	for _, r := range o.Refunds {
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_refunds (order_id, refund_id, amount, reason, created_at) VALUES ($1, $2, $3, $4, $5)`,
			o.ID, r.RefundID, r.Amount, r.Reason, r.CreatedAt); err != nil {
			return domain.Internal(err, "order.save", "failed to save order refund")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Internal(err, "order.save", "failed to commit order")
	}
	return nil
}

func (s *PostgresStore) CustomerID(ctx context.Context, userID int64) (string, error) {
	var customerID string
	err := s.pool.QueryRow(ctx,
		`SELECT customer_id FROM user_customers WHERE user_id = $1`, userID).Scan(&customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", domain.Internal(err, "order.customer_id", "failed to load customer mapping")
	}
	return customerID, nil
}

func (s *PostgresStore) SaveCustomerID(ctx context.Context, userID int64, customerID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_customers (user_id, customer_id) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET customer_id = EXCLUDED.customer_id`,
		userID, customerID)
	if err != nil {
		return domain.Internal(err, "order.save_customer_id", "failed to save customer mapping")
	}
	return nil
}

func (s *PostgresStore) DeleteCustomerID(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM user_customers WHERE user_id = $1`, userID)
	if err != nil {
		return domain.Internal(err, "order.delete_customer_id", "failed to delete customer mapping")
	}
	return nil
}
