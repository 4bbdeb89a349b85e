package notify

import (
	"testing"

	"tienda/checkout-service/pkg/contracts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplatePerStatus(t *testing.T) {
	m := NewMailer("localhost", "587", "", "", "no-reply@voxa.mx", "https://tienda.voxa.mx", nil)

	cases := []struct {
		status      string
		wantSubject string
	}{
		{"approved", "Pago confirmado - Pedido ORD-1"},
		{"rejected", "Pago rechazado - Pedido ORD-1"},
		{"cancelled", "Pedido cancelado - Pedido ORD-1"},
		{"refunded", "Reembolso procesado - Pedido ORD-1"},
	}
	for _, tc := range cases {
		subject, intro := m.template(contracts.PaymentReconciledEvent{Status: tc.status, OrderNumber: "ORD-1"})
		assert.Equal(t, tc.wantSubject, subject)
		assert.NotEmpty(t, intro)
	}

	// Intermediate gateway states produce no mail.
	subject, _ := m.template(contracts.PaymentReconciledEvent{Status: "pending", OrderNumber: "ORD-1"})
	assert.Empty(t, subject)
}

func TestSendStatusEmailSkips(t *testing.T) {
	// Unreachable SMTP host: a send attempt would fail, so a nil error
	// proves the event was skipped.
	m := NewMailer("127.0.0.1", "1", "", "", "no-reply@voxa.mx", "https://tienda.voxa.mx", nil)

	require.NoError(t, m.SendStatusEmail(contracts.PaymentReconciledEvent{
		Status:      "approved",
		OrderNumber: "ORD-1",
	}), "no recipient")

	require.NoError(t, m.SendStatusEmail(contracts.PaymentReconciledEvent{
		Status:      "pending",
		OrderNumber: "ORD-1",
		UserEmail:   "buyer@example.com",
	}), "pending transition")
}

func TestRenderHTMLLinksToOrder(t *testing.T) {
	m := NewMailer("localhost", "587", "", "", "no-reply@voxa.mx", "https://tienda.voxa.mx", nil)

	body := m.renderHTML(contracts.PaymentReconciledEvent{
		OrderID:     "abc-123",
		OrderNumber: "ORD-1",
		Status:      "approved",
	}, "Recibimos tu pago.")

	assert.Contains(t, body, "https://tienda.voxa.mx/cuenta/pedidos/abc-123")
	assert.Contains(t, body, "ORD-1")
}
