package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"tienda/checkout-service/internal/order"
	"tienda/checkout-service/pkg/contracts"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Orders is the Postgres-backed order store. Per-order serialization
// comes from the row lock taken in ReconcileTx: two concurrent calls
// for the same order id queue up on SELECT ... FOR UPDATE, so the
// second one observes the first one's committed state.
type Orders struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewOrders(pool *pgxpool.Pool, logger *slog.Logger) *Orders {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orders{pool: pool, logger: logger}
}

const orderColumns = `id, order_number, user_id, user_email, status, payment_status,
	gateway_reference, gateway_payment_id, gateway_status_raw,
	total_cents, currency, paid_at, cancelled_at, created_at, updated_at`

func (s *Orders) GetOrder(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1`, orderID)

	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if o.Items, err = s.loadItems(ctx, s.pool, orderID); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Orders) ReconcileTx(ctx context.Context, orderID uuid.UUID, fn func(ctx context.Context, tx order.Tx, o *order.Order) (bool, error)) (*order.Order, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE`, orderID)

	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if o.Items, err = s.loadItems(ctx, tx, orderID); err != nil {
		return nil, err
	}

	scope := &txScope{tx: tx}
	dirty, err := fn(ctx, scope, o)
	if err != nil {
		return nil, err
	}
	if !dirty {
		return o, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET status = $2,
		    payment_status = $3,
		    gateway_payment_id = $4,
		    gateway_status_raw = $5,
		    paid_at = $6,
		    cancelled_at = $7,
		    updated_at = $8
		WHERE id = $1`,
		o.ID, o.Status, o.PaymentStatus, o.GatewayPaymentID,
		o.GatewayStatusRaw, o.PaidAt, o.CancelledAt, o.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	for _, evt := range scope.events {
		payload, err := json.Marshal(evt)
		if err != nil {
			return nil, fmt.Errorf("marshal event: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_outbox (event_id, event_type, payload)
			VALUES ($1, $2, $3)`,
			evt.EventID, contracts.EventTypePaymentReconciled, payload,
		)
		if err != nil {
			return nil, fmt.Errorf("insert outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reconcile: %w", err)
	}
	return o, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Orders) loadItems(ctx context.Context, q queryer, orderID uuid.UUID) ([]order.Item, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, price_cents, total_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []order.Item
	for rows.Next() {
		var it order.Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.PriceCents, &it.TotalCents); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.UserEmail, &o.Status, &o.PaymentStatus,
		&o.GatewayReference, &o.GatewayPaymentID, &o.GatewayStatusRaw,
		&o.TotalCents, &o.Currency, &o.PaidAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

// txScope implements order.Tx on top of the open transaction.
type txScope struct {
	tx     pgx.Tx
	events []contracts.PaymentReconciledEvent
}

func (t *txScope) DecrementStock(ctx context.Context, productID uuid.UUID, qty int32) (int64, error) {
	var left int64
	err := t.tx.QueryRow(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1
		RETURNING stock`, productID, qty,
	).Scan(&left)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("product %s not found", productID)
		}
		return 0, fmt.Errorf("decrement stock: %w", err)
	}
	return left, nil
}

func (t *txScope) AppendEvent(evt contracts.PaymentReconciledEvent) {
	t.events = append(t.events, evt)
}
