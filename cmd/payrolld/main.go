// Package main runs the payroll ledger daemon: REST API, scheduled payrun
// execution and the persistence layer behind them.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/payroll_ledger/internal/app"
	"github.com/R3E-Network/payroll_ledger/internal/app/httpapi"
	"github.com/R3E-Network/payroll_ledger/internal/app/metrics"
	"github.com/R3E-Network/payroll_ledger/internal/app/storage/postgres"
	"github.com/R3E-Network/payroll_ledger/internal/config"
	"github.com/R3E-Network/payroll_ledger/internal/middleware"
	"github.com/R3E-Network/payroll_ledger/internal/platform/migrations"
	"github.com/R3E-Network/payroll_ledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("payrolld").WithError(err).Fatal("load configuration")
	}
	log := logger.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN)
		if err != nil {
			log.WithError(err).Fatal("connect database")
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

		if err := migrations.Apply(ctx, db.DB); err != nil {
			log.WithError(err).Fatal("apply migrations")
		}
		stores.Ledger = postgres.New(db)
	} else {
		log.Warn("database DSN not set; using in-memory store")
	}

	application, err := app.New(ctx, stores, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	handler := httpapi.NewHandler(application.Ledger, application.Events)

	auth := middleware.NewAuthMiddleware([]byte(cfg.Auth.Secret), log, []string{"/healthz", "/metrics"})
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, log)
	cors := middleware.NewCORSMiddleware(cfg.Server.CORSOrigins)
	chained := metrics.InstrumentHandler(cors.Handler(auth.Handler(limiter.Handler(handler))))

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      chained,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("payroll ledger listening on %s", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.WithError(err).Error("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
}
