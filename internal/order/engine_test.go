package order

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tienda/checkout-service/pkg/contracts"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// memStore implements Store in memory. A single mutex serializes all
// transactions, which is a superset of the per-order guarantee the
// Postgres store gives via row locks.
type memStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*Order
	stock  map[uuid.UUID]int64
	events []contracts.PaymentReconciledEvent
}

func newMemStore() *memStore {
	return &memStore{
		orders: make(map[uuid.UUID]*Order),
		stock:  make(map[uuid.UUID]int64),
	}
}

func (s *memStore) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *memStore) ReconcileTx(ctx context.Context, orderID uuid.UUID, fn func(ctx context.Context, tx Tx, o *Order) (bool, error)) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}

	work := stored.Clone()
	tx := &memTx{store: s, staged: make(map[uuid.UUID]int64)}

	dirty, err := fn(ctx, tx, work)
	if err != nil {
		// Rollback: staged decrements and the working copy are dropped.
		return nil, err
	}
	if !dirty {
		return work, nil
	}

	for productID, qty := range tx.staged {
		s.stock[productID] -= qty
	}
	s.orders[orderID] = work.Clone()
	s.events = append(s.events, tx.events...)
	return work, nil
}

type memTx struct {
	store  *memStore
	staged map[uuid.UUID]int64
	events []contracts.PaymentReconciledEvent
}

func (t *memTx) DecrementStock(ctx context.Context, productID uuid.UUID, qty int32) (int64, error) {
	current, ok := t.store.stock[productID]
	if !ok {
		return 0, fmt.Errorf("product %s not found", productID)
	}
	t.staged[productID] += int64(qty)
	return current - t.staged[productID], nil
}

func (t *memTx) AppendEvent(evt contracts.PaymentReconciledEvent) {
	t.events = append(t.events, evt)
}

func seedOrder(s *memStore, stock int64, qty int32) (*Order, uuid.UUID) {
	productID := uuid.New()
	s.stock[productID] = stock

	o := &Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD-TEST-1",
		UserID:        uuid.New(),
		UserEmail:     "buyer@example.com",
		Status:        StatusPending,
		PaymentStatus: StatusPending,
		TotalCents:    2 * 149990,
		Currency:      "MXN",
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
		Items: []Item{{
			ID:          uuid.New(),
			ProductID:   productID,
			ProductName: "Producto de prueba",
			Quantity:    qty,
			PriceCents:  149990,
			TotalCents:  int64(qty) * 149990,
		}},
	}
	o.Items[0].OrderID = o.ID
	s.orders[o.ID] = o
	return o, productID
}

func newTestEngine(s *memStore) *Engine {
	return NewEngine(s, nil, nil, nil)
}

func TestReconcileApprovedHappyPath(t *testing.T) {
	store := newMemStore()
	o, productID := seedOrder(store, 10, 2)
	e := newTestEngine(store)

	res, err := e.Reconcile(context.Background(), o.ID, "approved", "PAY1")
	require.NoError(t, err)

	assert.True(t, res.StockApplied)
	assert.Equal(t, StatusApproved, res.Order.Status)
	assert.Equal(t, StatusApproved, res.Order.PaymentStatus)
	assert.Equal(t, "approved", res.Order.GatewayStatusRaw)
	assert.Equal(t, "PAY1", res.Order.GatewayPaymentID)
	require.NotNil(t, res.Order.PaidAt)
	assert.Nil(t, res.Order.CancelledAt)
	assert.Equal(t, int64(8), store.stock[productID])

	require.Len(t, store.events, 1)
	assert.True(t, store.events[0].StockApplied)
	assert.Equal(t, "approved", store.events[0].Status)
}

func TestReconcileDuplicateApprovalIsIdempotent(t *testing.T) {
	store := newMemStore()
	o, productID := seedOrder(store, 10, 2)
	e := newTestEngine(store)

	firstPaidAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return firstPaidAt }
	first, err := e.Reconcile(context.Background(), o.ID, "approved", "PAY1")
	require.NoError(t, err)
	require.True(t, first.StockApplied)

	e.now = func() time.Time { return firstPaidAt.Add(time.Hour) }
	second, err := e.Reconcile(context.Background(), o.ID, "approved", "PAY1")
	require.NoError(t, err)

	assert.False(t, second.StockApplied)
	assert.Equal(t, StatusApproved, second.Order.Status)
	require.NotNil(t, second.Order.PaidAt)
	assert.Equal(t, firstPaidAt, *second.Order.PaidAt, "paidAt keeps the first call's timestamp")
	assert.Equal(t, int64(8), store.stock[productID], "stock decremented exactly once")
}

func TestReconcileRejectedStampsCancelledAt(t *testing.T) {
	store := newMemStore()
	o, productID := seedOrder(store, 10, 2)
	e := newTestEngine(store)

	res, err := e.Reconcile(context.Background(), o.ID, "rejected", "PAY1")
	require.NoError(t, err)

	assert.False(t, res.StockApplied)
	assert.Equal(t, StatusRejected, res.Order.Status)
	assert.Equal(t, StatusRejected, res.Order.PaymentStatus)
	require.NotNil(t, res.Order.CancelledAt)
	assert.Nil(t, res.Order.PaidAt)
	assert.Equal(t, int64(10), store.stock[productID], "rejection never touches stock")
}

func TestReconcilePendingUpdatesAuditTrail(t *testing.T) {
	store := newMemStore()
	o, _ := seedOrder(store, 10, 2)
	e := newTestEngine(store)

	res, err := e.Reconcile(context.Background(), o.ID, "in_process", "PAY1")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, res.Order.Status)
	assert.Equal(t, "in_process", res.Order.GatewayStatusRaw)
	assert.Equal(t, "PAY1", res.Order.GatewayPaymentID)
	require.Len(t, store.events, 1, "audit updates are recorded even without side effects")
}

func TestReconcileAfterAdminCancelIsNoop(t *testing.T) {
	store := newMemStore()
	o, productID := seedOrder(store, 10, 2)
	e := newTestEngine(store)

	_, err := e.Cancel(context.Background(), o.ID)
	require.NoError(t, err)
	eventsBefore := len(store.events)

	res, err := e.Reconcile(context.Background(), o.ID, "approved", "PAY1")
	require.NoError(t, err)

	assert.False(t, res.StockApplied)
	assert.Equal(t, StatusCancelled, res.Order.Status)
	assert.Nil(t, res.Order.PaidAt)
	assert.Empty(t, res.Order.GatewayPaymentID, "terminal short-circuit skips all writes")
	assert.Equal(t, int64(10), store.stock[productID])
	assert.Len(t, store.events, eventsBefore, "no event for a terminal no-op")
}

func TestReconcileRefundedIsFullyTerminal(t *testing.T) {
	store := newMemStore()
	o, _ := seedOrder(store, 10, 2)
	e := newTestEngine(store)

	_, err := e.Reconcile(context.Background(), o.ID, "approved", "PAY1")
	require.NoError(t, err)
	_, err = e.Reconcile(context.Background(), o.ID, "refunded", "PAY1")
	require.NoError(t, err)

	res, err := e.Reconcile(context.Background(), o.ID, "approved", "PAY1")
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, res.Order.Status)
	assert.False(t, res.StockApplied)
}

func TestReconcilePrefersMostSpecificPaymentID(t *testing.T) {
	store := newMemStore()
	o, _ := seedOrder(store, 10, 2)
	e := newTestEngine(store)

	res, err := e.Reconcile(context.Background(), o.ID, "pending", "PAY1")
	require.NoError(t, err)
	assert.Equal(t, "PAY1", res.Order.GatewayPaymentID)

	// A later signal carrying a different payment id wins.
	res, err = e.Reconcile(context.Background(), o.ID, "pending", "PAY2")
	require.NoError(t, err)
	assert.Equal(t, "PAY2", res.Order.GatewayPaymentID)

	// A signal without a payment id keeps the recorded one.
	res, err = e.Reconcile(context.Background(), o.ID, "pending", "")
	require.NoError(t, err)
	assert.Equal(t, "PAY2", res.Order.GatewayPaymentID)
}

func TestReconcileUnknownOrder(t *testing.T) {
	e := newTestEngine(newMemStore())

	_, err := e.Reconcile(context.Background(), uuid.New(), "approved", "PAY1")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestReconcileRollsBackOnStockFailure(t *testing.T) {
	store := newMemStore()
	o, productID := seedOrder(store, 10, 2)

	// Second line item references a product the catalog no longer has.
	o.Items = append(o.Items, Item{
		ID:        uuid.New(),
		OrderID:   o.ID,
		ProductID: uuid.New(),
		Quantity:  1,
	})
	store.orders[o.ID] = o

	e := newTestEngine(store)
	_, err := e.Reconcile(context.Background(), o.ID, "approved", "PAY1")
	require.Error(t, err)

	reloaded, err := store.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, reloaded.Status)
	assert.Nil(t, reloaded.PaidAt, "order update rolled back with the failed decrement")
	assert.Equal(t, int64(10), store.stock[productID], "no partial stock decrement")
	assert.Empty(t, store.events)
}

func TestReconcileConcurrentApprovals(t *testing.T) {
	store := newMemStore()
	o, productID := seedOrder(store, 10, 2)
	e := newTestEngine(store)

	var applied atomic.Int32
	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			res, err := e.Reconcile(context.Background(), o.ID, "approved", "PAY1")
			if err != nil {
				return err
			}
			if res.StockApplied {
				applied.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), applied.Load(), "exactly one call applied the side effect")
	assert.Equal(t, int64(8), store.stock[productID], "stock decremented by the item quantity, once")
}

func TestReconcileOversellIsNotFatal(t *testing.T) {
	store := newMemStore()
	o, productID := seedOrder(store, 1, 2)
	e := newTestEngine(store)

	res, err := e.Reconcile(context.Background(), o.ID, "approved", "PAY1")
	require.NoError(t, err)
	assert.True(t, res.StockApplied)
	assert.Equal(t, int64(-1), store.stock[productID])
}

func TestCancel(t *testing.T) {
	store := newMemStore()
	o, productID := seedOrder(store, 10, 2)
	e := newTestEngine(store)

	// Approved and decremented first; cancel must not restock.
	_, err := e.Reconcile(context.Background(), o.ID, "approved", "PAY1")
	require.NoError(t, err)

	cancelled, err := e.Cancel(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, StatusCancelled, cancelled.PaymentStatus)
	require.NotNil(t, cancelled.CancelledAt)
	assert.NotNil(t, cancelled.PaidAt, "payment history is kept")
	assert.Equal(t, int64(8), store.stock[productID], "cancel never restocks")
}

func TestCancelTwiceIsConflict(t *testing.T) {
	store := newMemStore()
	o, _ := seedOrder(store, 10, 2)
	e := newTestEngine(store)

	_, err := e.Cancel(context.Background(), o.ID)
	require.NoError(t, err)

	_, err = e.Cancel(context.Background(), o.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestCancelUnknownOrder(t *testing.T) {
	e := newTestEngine(newMemStore())

	_, err := e.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
