package order

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tienda/checkout-service/pkg/contracts"
	"tienda/checkout-service/pkg/metrics"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrAlreadyTerminal = errors.New("order already cancelled or refunded")
)

// Tx is the transactional scope handed to a reconciliation callback.
// Everything done through it commits or rolls back together with the
// order row update.
type Tx interface {
	// DecrementStock reduces the product's stock by qty and returns the
	// remaining level, which may be negative when oversold.
	DecrementStock(ctx context.Context, productID uuid.UUID, qty int32) (int64, error)
	// AppendEvent stages an outbox event persisted with the order update.
	AppendEvent(evt contracts.PaymentReconciledEvent)
}

// Store is the order persistence contract. ReconcileTx must serialize
// concurrent calls for the same order id: the callback observes the
// order under a per-order lock and its writes are committed only when
// the callback returns dirty=true with a nil error.
type Store interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error)
	ReconcileTx(ctx context.Context, orderID uuid.UUID, fn func(ctx context.Context, tx Tx, o *Order) (bool, error)) (*Order, error)
}

// Watcher receives an update after every committed transition.
type Watcher interface {
	Broadcast(Update)
}

type Update struct {
	OrderID       string `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	Status        Status `json:"status"`
	PaymentStatus Status `json:"payment_status"`
	GatewayStatus string `json:"gateway_status,omitempty"`
}

type Result struct {
	Order        *Order `json:"order"`
	StockApplied bool   `json:"stock_applied"`
}

// Engine is the order payment reconciliation state machine. It holds
// no state of its own; callers fetch the gateway status themselves and
// hand it in, which keeps the engine free of network I/O.
type Engine struct {
	store   Store
	watch   Watcher
	metrics *metrics.Checkout
	logger  *slog.Logger
	now     func() time.Time
}

func NewEngine(store Store, watch Watcher, m *metrics.Checkout, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		watch:   watch,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) Get(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	return e.store.GetOrder(ctx, orderID)
}

// Reconcile applies a freshly fetched gateway payment status to an
// order. The stock decrement fires at most once per order, on the
// first transition to approved; repeated deliveries of the same status
// only refresh the audit fields. Orders already cancelled or refunded
// are left untouched.
func (e *Engine) Reconcile(ctx context.Context, orderID uuid.UUID, rawStatus, gatewayPaymentID string) (*Result, error) {
	res := &Result{}
	terminalNoop := false

	o, err := e.store.ReconcileTx(ctx, orderID, func(ctx context.Context, tx Tx, o *Order) (bool, error) {
		terminalNoop = false
		res.StockApplied = false

		if o.Status.Terminal() {
			terminalNoop = true
			e.logger.Info("order is terminal, gateway status ignored",
				"order_id", o.ID, "order_number", o.OrderNumber,
				"status", o.Status, "gateway_status", rawStatus)
			return false, nil
		}

		status, paymentStatus := MapGatewayStatus(rawStatus)
		now := e.now()

		o.Status = status
		o.PaymentStatus = paymentStatus
		o.GatewayStatusRaw = rawStatus
		if gatewayPaymentID != "" && gatewayPaymentID != o.GatewayPaymentID {
			o.GatewayPaymentID = gatewayPaymentID
		}

		if status == StatusApproved && o.PaidAt == nil {
			o.PaidAt = &now
			for _, it := range o.Items {
				left, err := tx.DecrementStock(ctx, it.ProductID, it.Quantity)
				if err != nil {
					return false, err
				}
				if left < 0 {
					e.logger.Warn("stock oversold",
						"order_id", o.ID, "product_id", it.ProductID,
						"quantity", it.Quantity, "stock", left)
				}
			}
			res.StockApplied = true
		}

		if (status == StatusCancelled || status == StatusRejected) && o.CancelledAt == nil {
			o.CancelledAt = &now
		}

		o.UpdatedAt = now
		tx.AppendEvent(e.event(o, res.StockApplied, now))
		return true, nil
	})
	if err != nil {
		e.count(metrics.OutcomeError)
		return nil, err
	}

	res.Order = o
	if terminalNoop {
		e.count(metrics.OutcomeTerminalNoop)
		return res, nil
	}

	switch {
	case res.StockApplied:
		e.count(metrics.OutcomeApplied)
		if e.metrics != nil {
			e.metrics.StockDecrements.Add(float64(len(o.Items)))
		}
	default:
		e.count(metrics.OutcomeUpdated)
	}

	e.broadcast(o)
	e.logger.Info("order reconciled",
		"order_id", o.ID, "order_number", o.OrderNumber,
		"status", o.Status, "gateway_status", rawStatus,
		"stock_applied", res.StockApplied)
	return res, nil
}

// Cancel is the administrator-triggered transition to cancelled. It
// never contacts the gateway and never touches stock: an approved,
// already-decremented order that gets cancelled needs a manual refund,
// this only records that the cancellation happened. A second cancel is
// a conflict rather than a silent no-op so a re-issuing admin UI gets
// surfaced.
func (e *Engine) Cancel(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	o, err := e.store.ReconcileTx(ctx, orderID, func(ctx context.Context, tx Tx, o *Order) (bool, error) {
		if o.Status.Terminal() {
			return false, ErrAlreadyTerminal
		}

		now := e.now()
		o.Status = StatusCancelled
		o.PaymentStatus = StatusCancelled
		if o.CancelledAt == nil {
			o.CancelledAt = &now
		}
		o.UpdatedAt = now
		tx.AppendEvent(e.event(o, false, now))
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	e.broadcast(o)
	e.logger.Info("order cancelled by admin", "order_id", o.ID, "order_number", o.OrderNumber)
	return o, nil
}

func (e *Engine) event(o *Order, stockApplied bool, now time.Time) contracts.PaymentReconciledEvent {
	return contracts.PaymentReconciledEvent{
		EventID:       uuid.New().String(),
		OrderID:       o.ID.String(),
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID.String(),
		UserEmail:     o.UserEmail,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		GatewayStatus: o.GatewayStatusRaw,
		StockApplied:  stockApplied,
		OccurredAt:    now,
	}
}

func (e *Engine) broadcast(o *Order) {
	if e.watch == nil {
		return
	}
	e.watch.Broadcast(Update{
		OrderID:       o.ID.String(),
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		GatewayStatus: o.GatewayStatusRaw,
	})
}

func (e *Engine) count(outcome string) {
	if e.metrics != nil {
		e.metrics.Reconciliations.WithLabelValues(outcome).Inc()
	}
}
