// Package storage declares the persistence interfaces for the payroll
// ledger. Implementations must keep batch admission atomic: either every
// record is appended and every credit applied, or nothing is.
package storage

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/payroll_ledger/internal/app/domain/payment"
)

// Storage-level sentinels. The ledger service surfaces these unchanged.
var (
	ErrNotFound           = errors.New("payment not found")
	ErrAlreadyExecuted    = errors.New("payment already executed")
	ErrInsufficientEscrow = errors.New("insufficient escrow balance")
)

// PaymentStore persists the append-only payment ledger.
type PaymentStore interface {
	// AppendBatch assigns sequential indices to the records in input order
	// and applies the escrow credits in the same atomic step.
	AppendBatch(ctx context.Context, payments []payment.Payment, credits map[asset.ID]*big.Int) ([]payment.Payment, error)
	Payment(ctx context.Context, index uint64) (payment.Payment, error)
	ListPayments(ctx context.Context, offset uint64, limit int) ([]payment.Payment, error)
	CountPayments(ctx context.Context) (uint64, error)
	// MarkExecuted flips the executed flag; ErrAlreadyExecuted when set,
	// ErrNotFound when out of range.
	MarkExecuted(ctx context.Context, index uint64, at time.Time) (payment.Payment, error)
}

// EscrowStore holds the per-asset custody balances. These two mutators are
// the only balance writers in the system.
type EscrowStore interface {
	CreditEscrow(ctx context.Context, id asset.ID, amount *big.Int) (*big.Int, error)
	// DebitEscrow fails with ErrInsufficientEscrow when amount exceeds the
	// current balance.
	DebitEscrow(ctx context.Context, id asset.ID, amount *big.Int) (*big.Int, error)
	FreeBalance(ctx context.Context, id asset.ID) (*big.Int, error)
	Balances(ctx context.Context) (map[asset.ID]*big.Int, error)
}

// AccessStore persists the role set: one owner and a mutable admin set.
type AccessStore interface {
	// EnsureOwner records the owner on first call and verifies it on later
	// calls; the owner is never reassigned.
	EnsureOwner(ctx context.Context, principal string) error
	Owner(ctx context.Context) (string, error)
	IsAdmin(ctx context.Context, principal string) (bool, error)
	AddAdmin(ctx context.Context, principal string) error
	RemoveAdmin(ctx context.Context, principal string) error
	ListAdmins(ctx context.Context) ([]string, error)
}

// StateStore persists the pause flag and per-asset yield wallet designation.
type StateStore interface {
	Paused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
	// YieldWallet returns the designated wallet for an asset, or "" when
	// none has been designated yet.
	YieldWallet(ctx context.Context, id asset.ID) (string, error)
	SetYieldWallet(ctx context.Context, id asset.ID, wallet string) error
}

// RoutingStore journals yield movements and emergency withdrawals.
type RoutingStore interface {
	AppendRouting(ctx context.Context, entry payment.RoutingEntry) (payment.RoutingEntry, error)
	ListRouting(ctx context.Context) ([]payment.RoutingEntry, error)
}

// LedgerStore bundles everything the ledger manager needs.
type LedgerStore interface {
	PaymentStore
	EscrowStore
	AccessStore
	StateStore
	RoutingStore
}
