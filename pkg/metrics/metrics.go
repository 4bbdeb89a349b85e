package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reconciliation outcome labels.
const (
	OutcomeApplied      = "applied"
	OutcomeUpdated      = "updated"
	OutcomeTerminalNoop = "terminal_noop"
	OutcomeError        = "error"
)

type Checkout struct {
	Reconciliations *prometheus.CounterVec
	StockDecrements prometheus.Counter
	WebhookEvents   *prometheus.CounterVec
	GatewayRequests *prometheus.CounterVec
}

func NewCheckout() *Checkout {
	m := &Checkout{
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "reconciliations_total",
			Help:      "Reconciliation calls by outcome.",
		}, []string{"outcome"}),
		StockDecrements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "stock_decrements_total",
			Help:      "Order line items whose stock was decremented.",
		}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "webhook_events_total",
			Help:      "Gateway webhook deliveries by result.",
		}, []string{"result"}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "gateway_requests_total",
			Help:      "Outbound payment gateway requests.",
		}, []string{"op", "result"}),
	}

	prometheus.MustRegister(m.Reconciliations, m.StockDecrements, m.WebhookEvents, m.GatewayRequests)
	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}
