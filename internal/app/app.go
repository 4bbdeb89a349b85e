package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tienda/checkout-service/internal/config"
	"tienda/checkout-service/internal/gateway"
	"tienda/checkout-service/internal/httpapi"
	"tienda/checkout-service/internal/order"
	"tienda/checkout-service/internal/storage"
	"tienda/checkout-service/internal/websocket"
	"tienda/checkout-service/pkg/messaging"
	"tienda/checkout-service/pkg/metrics"
)

type App struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	engine    *order.Engine
	wsHub     *websocket.Hub
	publisher messaging.Publisher
	outbox    *messaging.OutboxDispatcher
	httpSrv   *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	m := metrics.NewCheckout()
	wsHub := websocket.NewHub()

	orders := storage.NewOrders(store.Pool(), logger)
	engine := order.NewEngine(orders, wsHub, m, logger)

	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAccessToken, cfg.GatewayTimeout, m, logger)

	publisher, err := messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.EventsExchange)
	if err != nil {
		store.Close()
		return nil, err
	}

	api := httpapi.NewServer(engine, gw, m, logger)
	wsHandler := websocket.NewHandler(wsHub, engine, logger)
	api.HandleFunc("GET /checkout/orders/{orderID}/ws", wsHandler.ServeWS)

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	outbox := messaging.NewOutboxDispatcher(store.Pool(), publisher, cfg.OutboxInterval, cfg.OutboxBatchSize, logger)

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		engine:    engine,
		wsHub:     wsHub,
		publisher: publisher,
		outbox:    outbox,
		httpSrv:   httpSrv,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)

	a.outbox.Start(ctx)
	go a.wsHub.Run(ctx)

	go func() {
		a.logger.Info("checkout http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	a.publisher.Close()
	a.store.Close()
}

func Run() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}
