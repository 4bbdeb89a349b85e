// Package notify renders and sends buyer-facing order status emails.
package notify

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"tienda/checkout-service/pkg/contracts"
)

type Mailer struct {
	addr   string
	auth   smtp.Auth
	from   string
	appURL string
	logger *slog.Logger
}

func NewMailer(host, port, user, password, from, appURL string, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, password, host)
	}
	return &Mailer{
		addr:   host + ":" + port,
		auth:   auth,
		from:   from,
		appURL: appURL,
		logger: logger,
	}
}

// SendStatusEmail mails the buyer about a settled payment outcome.
// Pending transitions and events without a recipient are skipped: the
// buyer only hears about results, not intermediate gateway states.
func (m *Mailer) SendStatusEmail(evt contracts.PaymentReconciledEvent) error {
	if evt.UserEmail == "" {
		m.logger.Info("no recipient on event, skipping email", "order_id", evt.OrderID)
		return nil
	}

	subject, intro := m.template(evt)
	if subject == "" {
		return nil
	}

	body := m.renderHTML(evt, intro)
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + evt.UserEmail,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{evt.UserEmail}, []byte(msg)); err != nil {
		return fmt.Errorf("send status email: %w", err)
	}

	m.logger.Info("status email sent", "order_number", evt.OrderNumber, "status", evt.Status)
	return nil
}

func (m *Mailer) template(evt contracts.PaymentReconciledEvent) (subject, intro string) {
	switch evt.Status {
	case "approved":
		return fmt.Sprintf("Pago confirmado - Pedido %s", evt.OrderNumber),
			"Recibimos tu pago y tu pedido está en preparación."
	case "rejected":
		return fmt.Sprintf("Pago rechazado - Pedido %s", evt.OrderNumber),
			"El pago de tu pedido fue rechazado. Puedes intentarlo de nuevo desde tu cuenta."
	case "cancelled":
		return fmt.Sprintf("Pedido cancelado - Pedido %s", evt.OrderNumber),
			"Tu pedido fue cancelado. Si ya habías pagado, el reembolso se gestionará por separado."
	case "refunded":
		return fmt.Sprintf("Reembolso procesado - Pedido %s", evt.OrderNumber),
			"El reembolso de tu pedido fue procesado por el medio de pago."
	default:
		return "", ""
	}
}

func (m *Mailer) renderHTML(evt contracts.PaymentReconciledEvent, intro string) string {
	orderURL := fmt.Sprintf("%s/cuenta/pedidos/%s", m.appURL, evt.OrderID)
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="text-align: center; margin-bottom: 30px;">
    <h1 style="color: #000; font-size: 28px; margin: 0;">VOXA</h1>
    <p style="color: #666; margin: 5px 0 0 0;">Tienda en línea</p>
  </div>
  <div style="background-color: #f9f9f9; padding: 30px; border-radius: 8px;">
    <h2 style="color: #000; margin-top: 0;">Pedido %s</h2>
    <p>%s</p>
    <div style="text-align: center; margin: 30px 0;">
      <a href="%s" style="display: inline-block; background-color: #000; color: #fff; padding: 12px 30px; text-decoration: none; border-radius: 5px; font-weight: bold;">Ver mi pedido</a>
    </div>
  </div>
</body>
</html>`, evt.OrderNumber, intro, orderURL)
}
