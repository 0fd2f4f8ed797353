// Package chain abstracts the transfer primitives the ledger uses to move
// custody. The ledger core never talks to a chain directly; it asks a Bank
// to pull funds into custody or push them out, and treats any rejection as
// a transfer failure for the operation at hand.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
)

// ErrTransferRejected is returned when the underlying holder refuses a
// movement (missing allowance, insufficient source balance, bridge refusal).
var ErrTransferRejected = errors.New("transfer rejected")

// Receipt identifies a completed custody movement.
type Receipt struct {
	Ref string `json:"ref"`
}

// Bank moves value between external principals and the ledger's custody.
// External-balance assets follow approve-then-pull: Pull fails unless the
// source has pre-authorized custody for at least the requested amount.
type Bank interface {
	// PullNative collects attached native value from a principal into custody.
	PullNative(ctx context.Context, from string, amount *big.Int) (Receipt, error)
	// TransferNative pays native value out of custody.
	TransferNative(ctx context.Context, to string, amount *big.Int) (Receipt, error)
	// Pull collects an external-balance asset into custody via allowance.
	Pull(ctx context.Context, id asset.ID, from string, amount *big.Int) (Receipt, error)
	// Transfer pays an external-balance asset out of custody.
	Transfer(ctx context.Context, id asset.ID, to string, amount *big.Int) (Receipt, error)
}
