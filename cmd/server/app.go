package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskmesh/taskmesh/internal/api"
	"github.com/taskmesh/taskmesh/internal/audit"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/delivery"
	"github.com/taskmesh/taskmesh/internal/domain/recur"
	"github.com/taskmesh/taskmesh/internal/events"
	"github.com/taskmesh/taskmesh/internal/idempotency"
	"github.com/taskmesh/taskmesh/internal/resilience"
	"github.com/taskmesh/taskmesh/internal/scheduler"
	"github.com/taskmesh/taskmesh/internal/service"
	"github.com/taskmesh/taskmesh/internal/store"
)

// application owns every long-lived component and their shutdown.
type application struct {
	cfg    *config.Config
	logger *slog.Logger

	records store.RecordStore
	bus     *events.Bus
	sweeper *idempotency.Sweeper
	sched   *scheduler.Scheduler
	deliver *delivery.Handler
	server  *http.Server

	cancel context.CancelFunc
}

// newApplication wires the services to the bus and the primitives to the
// configured backends. Nothing starts running until run is called.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	records, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(logger)

	ledger := idempotency.NewLedger(records, cfg.Ledger.TTL, logger)
	tracker := idempotency.NewTracker(records, cfg.Ledger.TTL, logger)
	sweeper := idempotency.NewSweeper(records, cfg.Ledger.SweepInterval, logger)

	engine := recur.NewEngine(recur.DefaultParams())

	channels := []delivery.Channel{
		delivery.NewLogChannel(delivery.ChannelEmail, logger),
		delivery.NewLogChannel(delivery.ChannelInApp, logger),
		delivery.NewLogChannel(delivery.ChannelPush, logger),
	}
	deliverHandler := delivery.NewHandler(channels, delivery.HandlerConfig{
		Fallbacks: cfg.Delivery.Fallbacks,
		Breaker: resilience.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenDuration:     cfg.Breaker.OpenDuration,
		},
		Retry: resilience.Policy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
			Jitter:     cfg.Retry.Jitter,
		},
		DeferDelay:  cfg.Delivery.DeferDelay,
		MaxDeferred: cfg.Delivery.MaxDeferred,
		QueueTick:   cfg.Delivery.QueueTick,
	}, logger)

	auditLog := audit.NewLog(cfg.Audit.Path, cfg.Audit.RotateBytes, logger)

	notifications := service.NewNotificationService(deliverHandler, bus, logger)

	reminderService := service.NewReminderService(
		nil, notifications, ledger, bus, cfg.Delivery.PrimaryChannel, logger)
	sched := scheduler.New(reminderService.FireTrigger, cfg.Scheduler.Tick, logger)
	reminderService.SetScheduler(sched)

	taskService := service.NewTaskService(ledger, tracker, records, bus, logger)
	recurringService := service.NewRecurringTaskService(engine, ledger, records, bus, logger)
	auditService := service.NewAuditService(auditLog, ledger, logger)

	taskService.Register(bus)
	recurringService.Register(bus)
	reminderService.Register(bus)
	auditService.Register(bus)

	readiness := api.Readiness{
		SubscriptionCount: bus.SubscriptionCount,
		SweepsRunning:     sweeper.Running,
		SchedulerRunning:  sched.Running,
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(readiness, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &application{
		cfg:     cfg,
		logger:  logger,
		records: records,
		bus:     bus,
		sweeper: sweeper,
		sched:   sched,
		deliver: deliverHandler,
		server:  server,
	}, nil
}

func openStore(cfg config.StoreConfig) (store.RecordStore, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.DSN)
	case "postgres":
		return store.NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// run starts the periodic loops and the health server, then blocks until
// ctx is cancelled.
func (a *application) run(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	defer a.cancel()

	a.sweeper.Start(ctx)
	a.sched.Start(ctx)
	a.deliver.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("health server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("health server shutdown failed", "error", err)
	}
	if err := a.records.Close(); err != nil {
		a.logger.Error("record store close failed", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}
