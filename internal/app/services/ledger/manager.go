// Package ledger implements the payment escrow and fund-routing core: an
// append-only payment ledger, per-asset escrow accounting, role-gated
// routing of idle custody, and batch scheduling/execution on top of them.
//
// The manager serializes every mutating operation behind a single mutex,
// mirroring the externally-sequenced transaction log the design assumes. No
// component caches balances; every balance read and write goes through the
// store's escrow credit/debit pair.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/R3E-Network/payroll_ledger/internal/app/chain"
	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/payroll_ledger/internal/app/domain/payment"
	"github.com/R3E-Network/payroll_ledger/internal/app/events"
	"github.com/R3E-Network/payroll_ledger/internal/app/metrics"
	"github.com/R3E-Network/payroll_ledger/internal/app/services/registry"
	"github.com/R3E-Network/payroll_ledger/internal/app/storage"
	"github.com/R3E-Network/payroll_ledger/pkg/logger"
)

// Manager is the ledger state machine.
type Manager struct {
	mu       sync.Mutex
	store    storage.LedgerStore
	registry *registry.Service
	bank     chain.Bank
	events   events.Publisher
	log      *logger.Logger
}

// New wires a manager over its collaborators. The store must already carry
// the owner principal (see storage.AccessStore.EnsureOwner).
func New(store storage.LedgerStore, reg *registry.Service, bank chain.Bank, publisher events.Publisher, log *logger.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("asset registry is required")
	}
	if bank == nil {
		return nil, fmt.Errorf("chain bank is required")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Manager{
		store:    store,
		registry: reg,
		bank:     bank,
		events:   publisher,
		log:      log,
	}, nil
}

// Registry exposes the asset registry backing this ledger.
func (m *Manager) Registry() *registry.Service { return m.registry }

// Read surface --------------------------------------------------------------

// FreeBalance reads the escrow balance currently held for an asset.
func (m *Manager) FreeBalance(ctx context.Context, id asset.ID) (*big.Int, error) {
	return m.store.FreeBalance(ctx, id)
}

// Payment returns a single ledger record.
func (m *Manager) Payment(ctx context.Context, index uint64) (payment.Payment, error) {
	return m.store.Payment(ctx, index)
}

// Payments lists records from offset, up to limit (0 = no limit).
func (m *Manager) Payments(ctx context.Context, offset uint64, limit int) ([]payment.Payment, error) {
	return m.store.ListPayments(ctx, offset, limit)
}

// PaymentCount returns the ledger length.
func (m *Manager) PaymentCount(ctx context.Context) (uint64, error) {
	return m.store.CountPayments(ctx)
}

// RoutingEntries lists the yield/emergency routing journal.
func (m *Manager) RoutingEntries(ctx context.Context) ([]payment.RoutingEntry, error) {
	return m.store.ListRouting(ctx)
}

// outstanding sums the unexecuted obligations of one asset. Used to keep
// the shortfall gauge honest after routing draw-downs.
func (m *Manager) outstanding(ctx context.Context, id asset.ID) (*big.Int, error) {
	all, err := m.store.ListPayments(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, p := range all {
		if !p.Executed && p.Asset == id {
			total.Add(total, p.Amount)
		}
	}
	return total, nil
}

func (m *Manager) observeEscrow(ctx context.Context, id asset.ID) {
	balance, err := m.store.FreeBalance(ctx, id)
	if err != nil {
		return
	}
	metrics.SetEscrowBalance(string(id), balance)

	obligations, err := m.outstanding(ctx, id)
	if err != nil {
		return
	}
	shortfall := new(big.Int).Sub(obligations, balance)
	if shortfall.Sign() < 0 {
		shortfall.SetInt64(0)
	}
	metrics.SetEscrowShortfall(string(id), shortfall)
}
