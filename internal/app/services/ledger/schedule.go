package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/payroll_ledger/internal/app/domain/payment"
	"github.com/R3E-Network/payroll_ledger/internal/app/events"
	"github.com/R3E-Network/payroll_ledger/internal/app/metrics"
)

// ScheduleRequest admits a batch of payment obligations. The four slices
// are parallel; Amounts are human-readable decimal strings scaled through
// the asset registry. NativeValue is the inbound native custody attached to
// the call and must equal the batch's native total exactly.
type ScheduleRequest struct {
	Recipients  []string
	Assets      []asset.ID
	Amounts     []string
	ChainTags   []string
	NativeValue *big.Int
}

type scheduledPosition struct {
	record payment.Payment
	pulled bool // external pull completed, needs compensation on abort
}

// ScheduleBatch validates and admits a batch in one atomic step: every
// validation error aborts before any state change, a failed external pull
// refunds the pulls that preceded it, and on success escrow credit plus
// record append happen together.
func (m *Manager) ScheduleBatch(ctx context.Context, caller string, req ScheduleRequest) ([]payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	paused, err := m.store.Paused(ctx)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, ErrPaused
	}

	n := len(req.Recipients)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidAmount)
	}
	if len(req.Assets) != n || len(req.Amounts) != n || len(req.ChainTags) != n {
		return nil, ErrLengthMismatch
	}

	positions := make([]scheduledPosition, 0, n)
	nativeTotal := big.NewInt(0)
	for i := 0; i < n; i++ {
		recipient := strings.TrimSpace(req.Recipients[i])
		if recipient == "" {
			return nil, fmt.Errorf("%w: empty recipient at position %d", ErrInvalidAmount, i)
		}

		res := m.registry.Resolve(req.Assets[i])
		amount, err := m.registry.Scale(req.Amounts[i], res.Asset)
		if err != nil {
			return nil, fmt.Errorf("%w: position %d: %v", ErrInvalidAmount, i, err)
		}

		if res.Kind == asset.KindNative {
			nativeTotal.Add(nativeTotal, amount)
		}

		positions = append(positions, scheduledPosition{record: payment.Payment{
			Recipient: recipient,
			Asset:     res.Asset,
			Amount:    amount,
			ChainTag:  req.ChainTags[i],
		}})
	}

	attached := req.NativeValue
	if attached == nil {
		attached = big.NewInt(0)
	}
	if attached.Cmp(nativeTotal) != 0 {
		return nil, fmt.Errorf("%w: attached %s, required %s", ErrValueMismatch, attached, nativeTotal)
	}

	// Collect funds into custody. Native value arrives as one pull for the
	// whole batch; external assets are pulled position by position, and any
	// rejection refunds everything collected so far.
	nativePulled := false
	if nativeTotal.Sign() > 0 {
		if _, err := m.bank.PullNative(ctx, caller, nativeTotal); err != nil {
			return nil, fmt.Errorf("%w: native pull: %v", ErrTransferFailed, err)
		}
		nativePulled = true
	}

	for i := range positions {
		if positions[i].record.Asset.IsNative() {
			continue
		}
		if _, err := m.bank.Pull(ctx, positions[i].record.Asset, caller, positions[i].record.Amount); err != nil {
			m.refundCollected(ctx, caller, positions, nativePulled, nativeTotal)
			return nil, fmt.Errorf("%w: pull %s at position %d: %v", ErrTransferFailed, positions[i].record.Asset, i, err)
		}
		positions[i].pulled = true
	}

	credits := make(map[asset.ID]*big.Int)
	records := make([]payment.Payment, 0, n)
	for _, pos := range positions {
		records = append(records, pos.record)
		total, ok := credits[pos.record.Asset]
		if !ok {
			total = big.NewInt(0)
			credits[pos.record.Asset] = total
		}
		total.Add(total, pos.record.Amount)
	}

	admitted, err := m.store.AppendBatch(ctx, records, credits)
	if err != nil {
		m.refundCollected(ctx, caller, positions, nativePulled, nativeTotal)
		return nil, fmt.Errorf("admit batch: %w", err)
	}

	for _, p := range admitted {
		m.events.Publish(ctx, events.New(events.TypePaymentScheduled, caller, map[string]any{
			"index":     p.Index,
			"recipient": p.Recipient,
			"asset":     string(p.Asset),
			"amount":    p.Amount.String(),
			"chain_tag": p.ChainTag,
		}))
	}
	metrics.RecordScheduledBatch(len(admitted))
	for id := range credits {
		m.observeEscrow(ctx, id)
	}

	m.log.WithField("caller", caller).
		WithField("count", len(admitted)).
		WithField("first_index", admitted[0].Index).
		Info("batch scheduled")
	return admitted, nil
}

// refundCollected pushes already-pulled funds back to the payer after a
// mid-batch failure, so an aborted admission leaves no funds stranded in
// custody. Refund failures are logged; there is nothing further to do with
// them inside an already failing call.
func (m *Manager) refundCollected(ctx context.Context, caller string, positions []scheduledPosition, nativePulled bool, nativeTotal *big.Int) {
	if nativePulled {
		if _, err := m.bank.TransferNative(ctx, caller, nativeTotal); err != nil {
			m.log.WithError(err).WithField("caller", caller).Error("native refund failed after aborted admission")
		}
	}
	for _, pos := range positions {
		if !pos.pulled {
			continue
		}
		if _, err := m.bank.Transfer(ctx, pos.record.Asset, caller, pos.record.Amount); err != nil {
			m.log.WithError(err).
				WithField("caller", caller).
				WithField("asset", string(pos.record.Asset)).
				Error("refund failed after aborted admission")
		}
	}
}
