package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tienda/checkout-service/internal/gateway"
	"tienda/checkout-service/internal/order"
	"tienda/checkout-service/pkg/metrics"

	"github.com/google/uuid"
)

// Gateway is the slice of the payment processor client the handlers
// need; the caller fetches payment state, the engine stays offline.
type Gateway interface {
	GetPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
}

type Server struct {
	engine  *order.Engine
	gateway Gateway
	metrics *metrics.Checkout
	logger  *slog.Logger
	mux     *http.ServeMux
}

func NewServer(engine *order.Engine, gw Gateway, m *metrics.Checkout, logger *slog.Logger) *Server {
	s := &Server{
		engine:  engine,
		gateway: gw,
		metrics: m,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// The gateway probes the webhook URL with GET and HEAD before
	// enabling deliveries; the GET pattern covers both.
	s.mux.HandleFunc("GET /checkout/webhook", s.webhookProbe)
	s.mux.HandleFunc("POST /checkout/webhook", s.webhook)
	s.mux.HandleFunc("POST /checkout/verify-payment", s.verifyPayment)
	s.mux.HandleFunc("POST /checkout/verify-order", s.verifyOrder)
	s.mux.HandleFunc("GET /checkout/orders/{orderID}", s.getOrder)
	s.mux.HandleFunc("POST /admin/orders/{orderID}/cancel", s.adminCancel)
	s.mux.HandleFunc("GET /healthz", s.health)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// HandleFunc lets the app attach extra routes, e.g. the websocket
// status stream.
func (s *Server) HandleFunc(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) webhookProbe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// webhook receives the gateway's push notifications. Anything that
// goes wrong after the envelope parsed is logged and acknowledged with
// 200 anyway: a non-2xx answer makes the gateway redeliver forever,
// and redelivery is already our retry mechanism.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	var env struct {
		Type string `json:"type"`
		Data struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.countWebhook("bad_payload")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if env.Type != "payment" {
		s.logger.Info("webhook event ignored", "type", env.Type)
		s.countWebhook("ignored")
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	paymentID := env.Data.ID.String()
	if paymentID == "" {
		s.countWebhook("bad_payload")
		writeError(w, http.StatusBadRequest, "payment id missing")
		return
	}

	p, err := s.gateway.GetPayment(r.Context(), paymentID)
	if err != nil {
		s.logger.Error("webhook: fetch payment failed", "payment_id", paymentID, "err", err)
		s.ackWithError(w)
		return
	}

	orderID, err := uuid.Parse(p.ExternalReference)
	if err != nil {
		s.logger.Error("webhook: payment has no usable order reference",
			"payment_id", paymentID, "external_reference", p.ExternalReference)
		s.ackWithError(w)
		return
	}

	res, err := s.engine.Reconcile(r.Context(), orderID, p.Status, p.ID)
	if err != nil {
		s.logger.Error("webhook: reconcile failed", "order_id", orderID, "payment_id", paymentID, "err", err)
		s.ackWithError(w)
		return
	}

	s.countWebhook("ok")
	writeJSON(w, http.StatusOK, map[string]any{
		"received":       true,
		"order_id":       res.Order.ID,
		"status":         res.Order.Status,
		"payment_status": res.Order.PaymentStatus,
	})
}

func (s *Server) ackWithError(w http.ResponseWriter) {
	s.countWebhook("error")
	writeJSON(w, http.StatusOK, map[string]any{"received": false})
}

// verifyPayment is the pull-style check keyed by gateway payment id,
// hit from the payment-redirect landing page.
func (s *Server) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentID string `json:"payment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PaymentID == "" {
		writeError(w, http.StatusBadRequest, "payment_id required")
		return
	}

	p, err := s.gateway.GetPayment(r.Context(), req.PaymentID)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}

	orderID, err := uuid.Parse(p.ExternalReference)
	if err != nil {
		writeError(w, http.StatusNotFound, "payment has no order reference")
		return
	}

	res, err := s.engine.Reconcile(r.Context(), orderID, p.Status, p.ID)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse(res.Order, res.StockApplied, true, ""))
}

// verifyOrder is the buyer/admin-triggered check keyed by order id.
// When no gateway payment id is recorded yet, or the gateway cannot
// answer, the stored state is returned as informational rather than
// guessing or failing.
func (s *Server) verifyOrder(w http.ResponseWriter, r *http.Request) {
	callerID, role, err := callerFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id required")
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := s.engine.Get(r.Context(), orderID)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	if o.UserID != callerID && role != "admin" {
		writeError(w, http.StatusForbidden, "not your order")
		return
	}

	if o.GatewayPaymentID == "" {
		writeJSON(w, http.StatusOK, verifyResponse(o, false, false,
			"no gateway payment recorded yet, returning stored state"))
		return
	}

	p, err := s.gateway.GetPayment(r.Context(), o.GatewayPaymentID)
	if err != nil {
		s.logger.Warn("verify: gateway lookup failed, returning stored state",
			"order_id", orderID, "payment_id", o.GatewayPaymentID, "err", err)
		writeJSON(w, http.StatusOK, verifyResponse(o, false, false,
			"could not verify with the gateway, returning stored state"))
		return
	}

	res, err := s.engine.Reconcile(r.Context(), orderID, p.Status, p.ID)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse(res.Order, res.StockApplied, true, ""))
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	callerID, role, err := callerFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := s.engine.Get(r.Context(), orderID)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	if o.UserID != callerID && role != "admin" {
		writeError(w, http.StatusForbidden, "not your order")
		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (s *Server) adminCancel(w http.ResponseWriter, r *http.Request) {
	_, role, err := callerFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if role != "admin" {
		writeError(w, http.StatusForbidden, "administrators only")
		return
	}

	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := s.engine.Cancel(r.Context(), orderID)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (s *Server) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "order already cancelled or refunded")
	default:
		s.logger.Error("order operation failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	}
}

func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment not found")
	case errors.Is(err, gateway.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "payment gateway unavailable, retry")
	default:
		s.logger.Error("gateway request failed", "err", err)
		writeError(w, http.StatusBadGateway, "payment gateway error")
	}
}

func (s *Server) countWebhook(result string) {
	if s.metrics != nil {
		s.metrics.WebhookEvents.WithLabelValues(result).Inc()
	}
}

func verifyResponse(o *order.Order, stockApplied, verified bool, msg string) map[string]any {
	resp := map[string]any{
		"verified":       verified,
		"order_id":       o.ID,
		"status":         o.Status,
		"payment_status": o.PaymentStatus,
		"gateway_status": o.GatewayStatusRaw,
		"stock_applied":  stockApplied,
	}
	if msg != "" {
		resp["message"] = msg
	}
	return resp
}

func callerFromRequest(r *http.Request) (uuid.UUID, string, error) {
	value := r.Header.Get("X-User-ID")
	if value == "" {
		return uuid.Nil, "", errors.New("missing X-User-ID header")
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, "", errors.New("invalid X-User-ID header")
	}
	return id, r.Header.Get("X-User-Role"), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
