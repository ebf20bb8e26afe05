package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"contactlink/internal/config"
	"contactlink/internal/database"
	"contactlink/internal/handlers"
	"contactlink/internal/logger"
	"contactlink/internal/metrics"
	"contactlink/internal/service"
	"contactlink/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// run wires the store, service and router, then serves until ctx is done.
func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	tx, pinger, closeStore, err := openStore(ctx, cfg.Database, log, m)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := service.NewReconciliationService(tx, log, m)
	router := handlers.NewRouter(handlers.RouterConfig{
		Identifier:     svc,
		Store:          pinger,
		Gatherer:       prometheus.DefaultGatherer,
		Logger:         log,
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", srv.Addr, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// openStore builds the transactor for the configured driver along with a
// health pinger and a close func.
func openStore(ctx context.Context, cfg config.Database, log *slog.Logger, m *metrics.Metrics) (service.Transactor, handlers.Pinger, func(), error) {
	if cfg.Driver == config.DriverMemory {
		log.Warn("using in-memory contact store; data is lost on exit")
		s := store.NewMemoryStore()
		return s, s, func() {}, nil
	}

	db, err := database.New(ctx, database.Options{
		Driver:     cfg.Driver,
		URL:        cfg.URL,
		MaxRetries: cfg.MaxRetries,
		TxTimeout:  cfg.TxTimeout,
		Logger:     log,
		OnRetry: func(int, error) {
			m.IncrementTxRetry()
		},
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}
	return store.NewSQLTransactor(db), db, closeDB, nil
}
