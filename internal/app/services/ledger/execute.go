package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/R3E-Network/payroll_ledger/internal/app/chain"
	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/payroll_ledger/internal/app/events"
	"github.com/R3E-Network/payroll_ledger/internal/app/metrics"
)

// ResultStatus classifies the outcome of one execution attempt.
type ResultStatus string

const (
	StatusExecuted ResultStatus = "executed"
	StatusSkipped  ResultStatus = "skipped"
	StatusFailed   ResultStatus = "failed"
)

// Result is the per-index outcome of an execution run.
type Result struct {
	Index   uint64        `json:"index"`
	Status  ResultStatus  `json:"status"`
	Receipt chain.Receipt `json:"receipt,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Report collects every per-index outcome of a run.
type Report struct {
	Attempted int      `json:"attempted"`
	Executed  int      `json:"executed"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// ExecuteBatch walks ledger positions [0, min(upTo, count)) in increasing
// order and pays each unexecuted record out. A failure at one index is
// captured in the report and iteration continues; the batch as a whole
// never aborts because of one bad record. Only a structural bad range is a
// hard error. Execution is deliberately not gated by the pause flag:
// already-escrowed funds stay payable while new admission is frozen.
func (m *Manager) ExecuteBatch(ctx context.Context, caller string, upTo int) (Report, error) {
	if upTo <= 0 {
		return Report{}, ErrInvalidRange
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	count, err := m.store.CountPayments(ctx)
	if err != nil {
		return Report{}, err
	}
	limit := uint64(upTo)
	if limit > count {
		limit = count
	}

	report := Report{Results: make([]Result, 0, limit)}
	touched := make(map[asset.ID]struct{})

	for index := uint64(0); index < limit; index++ {
		report.Attempted++
		result := m.executeOne(ctx, caller, index)
		report.Results = append(report.Results, result)

		switch result.Status {
		case StatusExecuted:
			report.Executed++
		case StatusSkipped:
			report.Skipped++
		case StatusFailed:
			report.Failed++
		}
		if result.Status != StatusSkipped {
			if p, err := m.store.Payment(ctx, index); err == nil {
				touched[p.Asset] = struct{}{}
			}
		}
	}

	for id := range touched {
		m.observeEscrow(ctx, id)
	}

	m.log.WithField("caller", caller).
		WithField("attempted", report.Attempted).
		WithField("executed", report.Executed).
		WithField("failed", report.Failed).
		Info("execution run finished")
	return report, nil
}

// executeOne performs debit + transfer + mark for a single index as its own
// atomic unit. Preconditions are validated immediately before the transfer;
// nothing here trusts a balance read from before the previous index.
func (m *Manager) executeOne(ctx context.Context, caller string, index uint64) Result {
	started := time.Now()

	p, err := m.store.Payment(ctx, index)
	if err != nil {
		return failedResult(index, err, started)
	}
	if p.Executed {
		return Result{Index: index, Status: StatusSkipped}
	}

	if _, err := m.store.DebitEscrow(ctx, p.Asset, p.Amount); err != nil {
		m.log.WithError(err).WithField("index", index).Warn("execution debit refused")
		return failedResult(index, err, started)
	}

	receipt, err := m.payOut(ctx, p.Asset, p.Recipient, p.Amount)
	if err != nil {
		// Undo the debit so the unexecuted record stays backed by escrow.
		if _, creditErr := m.store.CreditEscrow(ctx, p.Asset, p.Amount); creditErr != nil {
			m.log.WithError(creditErr).WithField("index", index).Error("re-credit after failed transfer")
		}
		m.log.WithError(err).WithField("index", index).Warn("execution transfer refused")
		return failedResult(index, errors.Join(ErrTransferFailed, err), started)
	}

	executed, err := m.store.MarkExecuted(ctx, index, time.Now().UTC())
	if err != nil {
		return failedResult(index, err, started)
	}

	m.events.Publish(ctx, events.New(events.TypePaymentExecuted, caller, map[string]any{
		"index":     executed.Index,
		"recipient": executed.Recipient,
		"asset":     string(executed.Asset),
		"amount":    executed.Amount.String(),
		"receipt":   receipt.Ref,
	}))
	metrics.RecordExecution("executed", time.Since(started))
	return Result{Index: index, Status: StatusExecuted, Receipt: receipt}
}

func (m *Manager) payOut(ctx context.Context, id asset.ID, recipient string, amount *big.Int) (chain.Receipt, error) {
	if id.IsNative() {
		return m.bank.TransferNative(ctx, recipient, amount)
	}
	return m.bank.Transfer(ctx, id, recipient, amount)
}

func failedResult(index uint64, err error, started time.Time) Result {
	metrics.RecordExecution("failed", time.Since(started))
	return Result{Index: index, Status: StatusFailed, Error: err.Error()}
}
