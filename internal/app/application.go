// Package app assembles the payroll ledger application: stores, registry,
// bank, event publisher, ledger manager and lifecycle-managed runners.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/R3E-Network/payroll_ledger/internal/app/chain"
	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/payroll_ledger/internal/app/events"
	"github.com/R3E-Network/payroll_ledger/internal/app/services/ledger"
	"github.com/R3E-Network/payroll_ledger/internal/app/services/payrun"
	"github.com/R3E-Network/payroll_ledger/internal/app/services/registry"
	"github.com/R3E-Network/payroll_ledger/internal/app/storage"
	"github.com/R3E-Network/payroll_ledger/internal/app/storage/memory"
	"github.com/R3E-Network/payroll_ledger/internal/app/system"
	"github.com/R3E-Network/payroll_ledger/internal/config"
	"github.com/R3E-Network/payroll_ledger/pkg/logger"
)

// Stores encapsulates persistence dependencies. A nil store defaults to the
// in-memory implementation.
type Stores struct {
	Ledger storage.LedgerStore
}

// Application ties the ledger services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	closers []func() error

	Ledger   *ledger.Manager
	Registry *registry.Service
	Bank     chain.Bank
	Events   *events.StreamHub
}

// New builds a fully initialised application from the configuration.
func New(ctx context.Context, stores Stores, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	if stores.Ledger == nil {
		stores.Ledger = memory.New()
	}
	if err := stores.Ledger.EnsureOwner(ctx, cfg.Owner); err != nil {
		return nil, fmt.Errorf("ensure owner: %w", err)
	}

	reg := registry.New(log)
	for _, a := range cfg.Assets {
		if _, err := reg.Register(asset.ID(a.ID), a.Decimals); err != nil {
			return nil, fmt.Errorf("register asset %s: %w", a.ID, err)
		}
	}

	app := &Application{manager: system.NewManager(), log: log, Registry: reg}

	var bank chain.Bank
	if cfg.Bridge.Endpoint != "" {
		httpClient := &http.Client{Timeout: 10 * time.Second}
		bridge, err := chain.NewBridgeBank(httpClient, cfg.Bridge.Endpoint, cfg.Bridge.APIKey, log)
		if err != nil {
			return nil, fmt.Errorf("configure bridge bank: %w", err)
		}
		bank = bridge
	} else {
		log.Warn("bridge endpoint not set; using in-process bank")
		bank = chain.NewMemoryBank()
	}
	app.Bank = bank

	var publisher events.Publisher
	if cfg.Redis.Addr != "" {
		redisPub, err := events.NewRedisPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			return nil, fmt.Errorf("configure redis publisher: %w", err)
		}
		publisher = redisPub
		app.closers = append(app.closers, redisPub.Close)
	} else {
		publisher = events.NewLogPublisher(log)
	}

	// Every event also feeds the websocket stream.
	app.Events = events.NewStreamHub()
	publisher = events.Multi(publisher, app.Events)

	manager, err := ledger.New(stores.Ledger, reg, bank, publisher, log)
	if err != nil {
		return nil, fmt.Errorf("build ledger manager: %w", err)
	}
	app.Ledger = manager

	if cfg.Payrun.Schedule != "" {
		runner, err := payrun.New(manager, cfg.Payrun.Schedule, cfg.Payrun.Actor, cfg.Payrun.BatchLimit, log)
		if err != nil {
			return nil, fmt.Errorf("configure payrun: %w", err)
		}
		if err := app.Attach(runner); err != nil {
			return nil, err
		}
	} else {
		log.Warn("payrun schedule not set; scheduled execution disabled")
	}

	return app, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and releases held connections.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	for _, closeFn := range a.closers {
		if closeErr := closeFn(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
