package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tienda/checkout-service/internal/config"
	"tienda/checkout-service/internal/notify"
	"tienda/checkout-service/pkg/contracts"
	"tienda/checkout-service/pkg/messaging"

	"github.com/rabbitmq/amqp091-go"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.LoadNotify()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer, err := messaging.NewRabbitConsumer(cfg.RabbitURL, cfg.EventsExchange, cfg.Queue, logger)
	if err != nil {
		log.Fatalf("notify worker failed: %v", err)
	}
	defer consumer.Close()

	mailer := notify.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom, cfg.AppURL, logger)

	logger.Info("notify worker consuming", "queue", cfg.Queue, "exchange", cfg.EventsExchange)
	if err := consumer.Start(ctx, handle(mailer, logger)); err != nil {
		log.Fatalf("notify worker failed: %v", err)
	}
}

func handle(mailer *notify.Mailer, logger *slog.Logger) func(context.Context, amqp091.Delivery) {
	return func(ctx context.Context, msg amqp091.Delivery) {
		var evt contracts.PaymentReconciledEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			logger.Error("invalid reconciliation event", "err", err)
			_ = msg.Nack(false, false)
			return
		}

		if err := mailer.SendStatusEmail(evt); err != nil {
			logger.Error("send status email failed", "order_id", evt.OrderID, "err", err)
			_ = msg.Nack(false, true)
			return
		}

		_ = msg.Ack(false)
	}
}
