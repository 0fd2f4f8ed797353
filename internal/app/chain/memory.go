package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
)

// CustodyAccount is the holder key under which the memory bank books the
// ledger's own funds.
const CustodyAccount = "custody"

type holding struct {
	holder string
	asset  asset.ID
}

// MemoryBank is an in-process Bank for tests and local development. It
// books balances per holder and enforces the approve-then-pull discipline
// for external assets the same way a token contract would.
type MemoryBank struct {
	mu         sync.Mutex
	balances   map[holding]*big.Int
	allowances map[holding]*big.Int
	seq        uint64
}

var _ Bank = (*MemoryBank)(nil)

// NewMemoryBank creates an empty bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances:   make(map[holding]*big.Int),
		allowances: make(map[holding]*big.Int),
	}
}

// Mint credits a holder out of thin air. Test setup only.
func (b *MemoryBank) Mint(holder string, id asset.ID, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := holding{holder: holder, asset: id}
	b.balances[key] = new(big.Int).Add(b.balanceLocked(key), amount)
}

// Approve authorizes custody to pull up to amount of an asset from a holder.
// Mirrors the allowance a payer grants before scheduling token payments.
func (b *MemoryBank) Approve(holder string, id asset.ID, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allowances[holding{holder: holder, asset: id}] = new(big.Int).Set(amount)
}

// BalanceOf reads a holder's balance. Test assertions only.
func (b *MemoryBank) BalanceOf(holder string, id asset.ID) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return new(big.Int).Set(b.balanceLocked(holding{holder: holder, asset: id}))
}

func (b *MemoryBank) PullNative(_ context.Context, from string, amount *big.Int) (Receipt, error) {
	return b.move(from, CustodyAccount, asset.Native, amount, false)
}

func (b *MemoryBank) TransferNative(_ context.Context, to string, amount *big.Int) (Receipt, error) {
	return b.move(CustodyAccount, to, asset.Native, amount, false)
}

func (b *MemoryBank) Pull(_ context.Context, id asset.ID, from string, amount *big.Int) (Receipt, error) {
	return b.move(from, CustodyAccount, id, amount, true)
}

func (b *MemoryBank) Transfer(_ context.Context, id asset.ID, to string, amount *big.Int) (Receipt, error) {
	return b.move(CustodyAccount, to, id, amount, false)
}

func (b *MemoryBank) move(from, to string, id asset.ID, amount *big.Int, spendAllowance bool) (Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Receipt{}, fmt.Errorf("%w: non-positive amount", ErrTransferRejected)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fromKey := holding{holder: from, asset: id}
	if spendAllowance {
		allowance := b.allowanceLocked(fromKey)
		if amount.Cmp(allowance) > 0 {
			return Receipt{}, fmt.Errorf("%w: allowance of %s from %s exhausted", ErrTransferRejected, id, from)
		}
	}

	balance := b.balanceLocked(fromKey)
	if amount.Cmp(balance) > 0 {
		return Receipt{}, fmt.Errorf("%w: %s holds insufficient %s", ErrTransferRejected, from, id)
	}

	b.balances[fromKey] = new(big.Int).Sub(balance, amount)
	toKey := holding{holder: to, asset: id}
	b.balances[toKey] = new(big.Int).Add(b.balanceLocked(toKey), amount)
	if spendAllowance {
		b.allowances[fromKey] = new(big.Int).Sub(b.allowanceLocked(fromKey), amount)
	}

	b.seq++
	return Receipt{Ref: fmt.Sprintf("mem-%d", b.seq)}, nil
}

func (b *MemoryBank) balanceLocked(key holding) *big.Int {
	if bal, ok := b.balances[key]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (b *MemoryBank) allowanceLocked(key holding) *big.Int {
	if allowance, ok := b.allowances[key]; ok {
		return allowance
	}
	return big.NewInt(0)
}
