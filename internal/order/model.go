package order

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether no further automatic transition is allowed.
// Rejected orders are not terminal: the buyer may retry the payment and
// the gateway can still move them to approved.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

type Order struct {
	ID               uuid.UUID  `json:"id"`
	OrderNumber      string     `json:"order_number"`
	UserID           uuid.UUID  `json:"user_id"`
	UserEmail        string     `json:"user_email,omitempty"`
	Status           Status     `json:"status"`
	PaymentStatus    Status     `json:"payment_status"`
	GatewayReference string     `json:"gateway_reference,omitempty"`
	GatewayPaymentID string     `json:"gateway_payment_id,omitempty"`
	GatewayStatusRaw string     `json:"gateway_status_raw,omitempty"`
	TotalCents       int64      `json:"total_cents"`
	Currency         string     `json:"currency"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Items            []Item     `json:"items"`
}

type Item struct {
	ID          uuid.UUID `json:"id"`
	OrderID     uuid.UUID `json:"order_id"`
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int32     `json:"quantity"`
	PriceCents  int64     `json:"price_cents"`
	TotalCents  int64     `json:"total_cents"`
}

// Clone returns a deep copy so callers can mutate a working copy
// inside a transaction without touching the loaded snapshot.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = make([]Item, len(o.Items))
	copy(cp.Items, o.Items)
	if o.PaidAt != nil {
		t := *o.PaidAt
		cp.PaidAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}
