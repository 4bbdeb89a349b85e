package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token", 2*time.Second, nil, nil)
}

func TestGetPayment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/123456", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":                 123456,
			"status":             "approved",
			"external_reference": "0b6cdcdc-9c5e-4f0e-9a17-0e8696a2a7a1",
			"transaction_amount": 1499.90,
			"currency_id":        "MXN",
		})
	})

	p, err := c.GetPayment(context.Background(), "123456")
	require.NoError(t, err)

	assert.Equal(t, "123456", p.ID)
	assert.Equal(t, "approved", p.Status)
	assert.Equal(t, "0b6cdcdc-9c5e-4f0e-9a17-0e8696a2a7a1", p.ExternalReference)
	assert.Equal(t, int64(149990), p.AmountCents())
}

func TestGetPaymentNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetPayment(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestGetPaymentServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.GetPayment(context.Background(), "123")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGetPaymentUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(srv.URL, "test-token", time.Second, nil, nil)

	_, err := c.GetPayment(context.Background(), "123")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCreatePreference(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)

		var req PreferenceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "order-1", req.ExternalReference)
		require.Len(t, req.Items, 1)
		assert.True(t, req.Items[0].UnitPrice.Equal(decimal.RequireFromString("1499.90")))

		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":         "pref-1",
			"init_point": "https://gateway.example/start/pref-1",
		})
	})

	pref, err := c.CreatePreference(context.Background(), PreferenceRequest{
		ExternalReference: "order-1",
		Items: []PreferenceItem{{
			ID:         "sku-1",
			Title:      "Producto",
			Quantity:   2,
			UnitPrice:  decimal.RequireFromString("1499.90"),
			CurrencyID: "MXN",
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "pref-1", pref.ID)
	assert.Equal(t, "https://gateway.example/start/pref-1", pref.InitPoint)
}
