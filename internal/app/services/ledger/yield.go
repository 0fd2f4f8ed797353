package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/R3E-Network/payroll_ledger/internal/app/chain"
	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/payroll_ledger/internal/app/domain/payment"
	"github.com/R3E-Network/payroll_ledger/internal/app/events"
	"github.com/R3E-Network/payroll_ledger/internal/app/metrics"
)

// MoveToYield routes idle escrow to an external yield wallet. Admin-only.
// The debit is allowed to draw the balance below outstanding obligations;
// the shortfall gauge tracks the gap until funds are recalled. The wallet
// becomes the designated recall counterparty for the asset.
func (m *Manager) MoveToYield(ctx context.Context, caller string, id asset.ID, wallet, amountStr, memo string) (payment.RoutingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireAdmin(ctx, caller); err != nil {
		return payment.RoutingEntry{}, err
	}
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return payment.RoutingEntry{}, fmt.Errorf("%w: yield wallet is required", ErrInvalidAmount)
	}

	res := m.registry.Resolve(id)
	amount, err := m.registry.Scale(amountStr, res.Asset)
	if err != nil {
		return payment.RoutingEntry{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	if _, err := m.store.DebitEscrow(ctx, res.Asset, amount); err != nil {
		return payment.RoutingEntry{}, err
	}
	if _, err := m.payOut(ctx, res.Asset, wallet, amount); err != nil {
		if _, creditErr := m.store.CreditEscrow(ctx, res.Asset, amount); creditErr != nil {
			m.log.WithError(creditErr).WithField("asset", string(res.Asset)).Error("re-credit after failed yield transfer")
		}
		return payment.RoutingEntry{}, fmt.Errorf("%w: yield transfer: %v", ErrTransferFailed, err)
	}
	if err := m.store.SetYieldWallet(ctx, res.Asset, wallet); err != nil {
		m.log.WithError(err).WithField("asset", string(res.Asset)).Error("persist yield wallet designation")
	}

	entry, err := m.journalRouting(ctx, caller, payment.RoutingEntry{
		Direction:    payment.RoutingToYield,
		Asset:        res.Asset,
		Counterparty: wallet,
		Amount:       amount,
		Memo:         memo,
	})
	if err != nil {
		return payment.RoutingEntry{}, err
	}

	m.observeEscrow(ctx, res.Asset)
	m.log.WithField("caller", caller).
		WithField("asset", string(res.Asset)).
		WithField("wallet", wallet).
		WithField("amount", amount.String()).
		Info("escrow routed to yield")
	return entry, nil
}

// RecallFromYield pulls funds back from the asset's designated yield wallet
// and credits them to escrow. Admin-only. The recall counterparty is always
// the wallet recorded by the most recent MoveToYield for the asset.
func (m *Manager) RecallFromYield(ctx context.Context, caller string, id asset.ID, amountStr, memo string) (payment.RoutingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireAdmin(ctx, caller); err != nil {
		return payment.RoutingEntry{}, err
	}

	res := m.registry.Resolve(id)
	wallet, err := m.store.YieldWallet(ctx, res.Asset)
	if err != nil {
		return payment.RoutingEntry{}, err
	}
	if wallet == "" {
		return payment.RoutingEntry{}, fmt.Errorf("%w: no yield wallet designated for %s", ErrNotFound, res.Asset)
	}

	amount, err := m.registry.Scale(amountStr, res.Asset)
	if err != nil {
		return payment.RoutingEntry{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	if _, err := m.pullIn(ctx, res.Asset, wallet, amount); err != nil {
		return payment.RoutingEntry{}, fmt.Errorf("%w: yield recall: %v", ErrTransferFailed, err)
	}
	if _, err := m.store.CreditEscrow(ctx, res.Asset, amount); err != nil {
		return payment.RoutingEntry{}, err
	}

	entry, err := m.journalRouting(ctx, caller, payment.RoutingEntry{
		Direction:    payment.RoutingFromYield,
		Asset:        res.Asset,
		Counterparty: wallet,
		Amount:       amount,
		Memo:         memo,
	})
	if err != nil {
		return payment.RoutingEntry{}, err
	}

	m.observeEscrow(ctx, res.Asset)
	m.log.WithField("caller", caller).
		WithField("asset", string(res.Asset)).
		WithField("wallet", wallet).
		WithField("amount", amount.String()).
		Info("escrow recalled from yield")
	return entry, nil
}

// EmergencyWithdraw moves custody funds to an arbitrary destination without
// touching escrow accounting. Owner-only, journaled, and meant for incident
// response; the escrow books will disagree with custody afterwards until
// reconciled out of band.
func (m *Manager) EmergencyWithdraw(ctx context.Context, caller string, id asset.ID, destination, amountStr, memo string) (payment.RoutingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(ctx, caller); err != nil {
		return payment.RoutingEntry{}, err
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return payment.RoutingEntry{}, fmt.Errorf("%w: destination is required", ErrInvalidAmount)
	}

	res := m.registry.Resolve(id)
	amount, err := m.registry.Scale(amountStr, res.Asset)
	if err != nil {
		return payment.RoutingEntry{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	if _, err := m.payOut(ctx, res.Asset, destination, amount); err != nil {
		return payment.RoutingEntry{}, fmt.Errorf("%w: emergency transfer: %v", ErrTransferFailed, err)
	}

	entry, err := m.journalRouting(ctx, caller, payment.RoutingEntry{
		Direction:    payment.RoutingEmergency,
		Asset:        res.Asset,
		Counterparty: destination,
		Amount:       amount,
		Memo:         memo,
	})
	if err != nil {
		return payment.RoutingEntry{}, err
	}

	m.log.WithField("caller", caller).
		WithField("asset", string(res.Asset)).
		WithField("destination", destination).
		WithField("amount", amount.String()).
		Warn("emergency withdrawal executed")
	return entry, nil
}

func (m *Manager) pullIn(ctx context.Context, id asset.ID, from string, amount *big.Int) (chain.Receipt, error) {
	if id.IsNative() {
		return m.bank.PullNative(ctx, from, amount)
	}
	return m.bank.Pull(ctx, id, from, amount)
}

func (m *Manager) journalRouting(ctx context.Context, caller string, entry payment.RoutingEntry) (payment.RoutingEntry, error) {
	entry.Actor = caller
	stored, err := m.store.AppendRouting(ctx, entry)
	if err != nil {
		return payment.RoutingEntry{}, fmt.Errorf("journal routing: %w", err)
	}

	eventType := events.TypeFundsRouted
	if stored.Direction == payment.RoutingEmergency {
		eventType = events.TypeEmergencyWithdraw
	}
	m.events.Publish(ctx, events.New(eventType, caller, map[string]any{
		"routing_id":   stored.ID,
		"direction":    string(stored.Direction),
		"asset":        string(stored.Asset),
		"counterparty": stored.Counterparty,
		"amount":       stored.Amount.String(),
	}))
	metrics.RecordRouting(string(stored.Direction))
	return stored, nil
}
