// Package payment defines the append-only payment records custodied by the
// ledger and the routing journal for yield movements.
package payment

import (
	"math/big"
	"time"

	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
)

// Payment is a scheduled payout obligation. Index, Recipient, Asset, Amount
// and ChainTag are immutable after admission; Executed only ever flips from
// false to true.
type Payment struct {
	Index        uint64    `json:"index"`
	Recipient    string    `json:"recipient"`
	Asset        asset.ID  `json:"asset"`
	Amount       *big.Int  `json:"amount"`
	ChainTag     string    `json:"chain_tag"`
	Executed     bool      `json:"executed"`
	ScheduledSeq uint64    `json:"scheduled_seq"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	ExecutedAt   time.Time `json:"executed_at,omitempty"`
}

// Clone returns a deep copy so callers cannot alias the stored amount.
func (p Payment) Clone() Payment {
	if p.Amount != nil {
		p.Amount = new(big.Int).Set(p.Amount)
	}
	return p
}

// RoutingDirection labels entries in the routing journal.
type RoutingDirection string

const (
	RoutingToYield   RoutingDirection = "to_yield"
	RoutingFromYield RoutingDirection = "from_yield"
	RoutingEmergency RoutingDirection = "emergency_withdraw"
)

// RoutingEntry records a single custody movement outside the schedule and
// execute flow. Emergency withdrawals are journaled but never reconciled
// against escrow accounting.
type RoutingEntry struct {
	ID           string           `json:"id"`
	Direction    RoutingDirection `json:"direction"`
	Asset        asset.ID         `json:"asset"`
	Counterparty string           `json:"counterparty"`
	Amount       *big.Int         `json:"amount"`
	Memo         string           `json:"memo,omitempty"`
	Actor        string           `json:"actor"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Clone returns a deep copy of the entry.
func (e RoutingEntry) Clone() RoutingEntry {
	if e.Amount != nil {
		e.Amount = new(big.Int).Set(e.Amount)
	}
	return e
}
