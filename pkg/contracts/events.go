package contracts

import "time"

const EventTypePaymentReconciled = "checkout.payment-reconciled"

// PaymentReconciledEvent is recorded in the order outbox for every
// committed order transition, whether or not a side effect fired.
type PaymentReconciledEvent struct {
	EventID       string    `json:"event_id"`
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	UserID        string    `json:"user_id"`
	UserEmail     string    `json:"user_email,omitempty"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	GatewayStatus string    `json:"gateway_status"`
	StockApplied  bool      `json:"stock_applied"`
	OccurredAt    time.Time `json:"occurred_at"`
}
