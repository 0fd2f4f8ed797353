package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/R3E-Network/payroll_ledger/internal/app/chain"
	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/payroll_ledger/internal/app/services/registry"
	"github.com/R3E-Network/payroll_ledger/internal/app/storage/memory"
)

const (
	testOwner = "owner-1"
	testPayer = "payer-1"
	usdc      = asset.ID("usdc")
)

func newTestManager(t *testing.T) (*Manager, *memory.Store, *chain.MemoryBank) {
	t.Helper()

	store := memory.New()
	if err := store.EnsureOwner(context.Background(), testOwner); err != nil {
		t.Fatalf("ensure owner: %v", err)
	}

	reg := registry.New(nil)
	if _, err := reg.Register(usdc, 6); err != nil {
		t.Fatalf("register usdc: %v", err)
	}

	bank := chain.NewMemoryBank()
	manager, err := New(store, reg, bank, nil, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, store, bank
}

func native(units int64) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(units), unit)
}

func usdcUnits(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), big.NewInt(1_000_000))
}

// assertConservation checks escrow equals the sum of unexecuted obligations
// for an asset. Only valid while no routing has occurred.
func assertConservation(t *testing.T, m *Manager, id asset.ID) {
	t.Helper()
	ctx := context.Background()

	balance, err := m.FreeBalance(ctx, id)
	if err != nil {
		t.Fatalf("free balance: %v", err)
	}
	all, err := m.Payments(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	outstanding := big.NewInt(0)
	for _, p := range all {
		if !p.Executed && p.Asset == id {
			outstanding.Add(outstanding, p.Amount)
		}
	}
	if balance.Cmp(outstanding) != 0 {
		t.Fatalf("conservation broken for %s: escrow %s, outstanding %s", id, balance, outstanding)
	}
}

func TestScheduleBatchAdmitsAndEscrows(t *testing.T) {
	manager, _, bank := newTestManager(t)
	ctx := context.Background()

	bank.Mint(testPayer, asset.Native, native(100))

	admitted, err := manager.ScheduleBatch(ctx, testPayer, ScheduleRequest{
		Recipients:  []string{"alice", "bob"},
		Assets:      []asset.ID{asset.Native, asset.Native},
		Amounts:     []string{"60", "40"},
		ChainTags:   []string{"mainnet", "mainnet"},
		NativeValue: native(100),
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(admitted) != 2 {
		t.Fatalf("expected 2 records, got %d", len(admitted))
	}
	if admitted[0].Index != 0 || admitted[1].Index != 1 {
		t.Fatalf("indices not sequential: %d, %d", admitted[0].Index, admitted[1].Index)
	}
	if admitted[0].Executed || admitted[1].Executed {
		t.Fatal("admitted records must be unexecuted")
	}

	balance, err := manager.FreeBalance(ctx, asset.Native)
	if err != nil {
		t.Fatalf("free balance: %v", err)
	}
	if balance.Cmp(native(100)) != 0 {
		t.Fatalf("escrow should hold 100 native, got %s", balance)
	}
	if got := bank.BalanceOf(testPayer, asset.Native); got.Sign() != 0 {
		t.Fatalf("payer should be drained, holds %s", got)
	}
	if got := bank.BalanceOf(chain.CustodyAccount, asset.Native); got.Cmp(native(100)) != 0 {
		t.Fatalf("custody should hold 100 native, got %s", got)
	}
	assertConservation(t, manager, asset.Native)
}

func TestScheduleBatchValueMismatch(t *testing.T) {
	manager, _, bank := newTestManager(t)
	ctx := context.Background()

	bank.Mint(testPayer, asset.Native, native(100))

	_, err := manager.ScheduleBatch(ctx, testPayer, ScheduleRequest{
		Recipients:  []string{"alice"},
		Assets:      []asset.ID{asset.Native},
		Amounts:     []string{"60"},
		ChainTags:   []string{""},
		NativeValue: native(100),
	})
	if !errors.Is(err, ErrValueMismatch) {
		t.Fatalf("expected ErrValueMismatch, got %v", err)
	}

	count, err := manager.PaymentCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected batch must not admit records, got %d", count)
	}
	if got := bank.BalanceOf(testPayer, asset.Native); got.Cmp(native(100)) != 0 {
		t.Fatalf("payer funds must be untouched, holds %s", got)
	}
}

func TestScheduleBatchLengthMismatch(t *testing.T) {
	manager, _, _ := newTestManager(t)

	_, err := manager.ScheduleBatch(context.Background(), testPayer, ScheduleRequest{
		Recipients: []string{"alice", "bob"},
		Assets:     []asset.ID{asset.Native},
		Amounts:    []string{"1", "2"},
		ChainTags:  []string{"", ""},
	})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestScheduleBatchEmptyAndInvalid(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := manager.ScheduleBatch(ctx, testPayer, ScheduleRequest{}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("empty batch: expected ErrInvalidAmount, got %v", err)
	}

	_, err := manager.ScheduleBatch(ctx, testPayer, ScheduleRequest{
		Recipients: []string{"alice"},
		Assets:     []asset.ID{usdc},
		Amounts:    []string{"0"},
		ChainTags:  []string{""},
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: expected ErrInvalidAmount, got %v", err)
	}

	_, err = manager.ScheduleBatch(ctx, testPayer, ScheduleRequest{
		Recipients: []string{"   "},
		Assets:     []asset.ID{usdc},
		Amounts:    []string{"1"},
		ChainTags:  []string{""},
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("blank recipient: expected ErrInvalidAmount, got %v", err)
	}
}

func TestScheduleBatchWhilePaused(t *testing.T) {
	manager, _, bank := newTestManager(t)
	ctx := context.Background()

	if err := manager.Pause(ctx, testOwner); err != nil {
		t.Fatalf("pause: %v", err)
	}

	bank.Mint(testPayer, asset.Native, native(10))
	_, err := manager.ScheduleBatch(ctx, testPayer, ScheduleRequest{
		Recipients:  []string{"alice"},
		Assets:      []asset.ID{asset.Native},
		Amounts:     []string{"10"},
		ChainTags:   []string{""},
		NativeValue: native(10),
	})
	if !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
}

func TestScheduleBatchRefundsOnPullFailure(t *testing.T) {
	manager, _, bank := newTestManager(t)
	ctx := context.Background()

	// Payer holds native and usdc but never approves the usdc pull, so the
	// second position is rejected and the native pull must be unwound.
	bank.Mint(testPayer, asset.Native, native(10))
	bank.Mint(testPayer, usdc, usdcUnits(50))

	_, err := manager.ScheduleBatch(ctx, testPayer, ScheduleRequest{
		Recipients:  []string{"alice", "bob"},
		Assets:      []asset.ID{asset.Native, usdc},
		Amounts:     []string{"10", "50"},
		ChainTags:   []string{"", ""},
		NativeValue: native(10),
	})
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	count, err := manager.PaymentCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("aborted batch must not admit records, got %d", count)
	}
	if got := bank.BalanceOf(testPayer, asset.Native); got.Cmp(native(10)) != 0 {
		t.Fatalf("native not refunded: payer holds %s", got)
	}
	if got := bank.BalanceOf(testPayer, usdc); got.Cmp(usdcUnits(50)) != 0 {
		t.Fatalf("usdc should be untouched: payer holds %s", got)
	}
	balance, err := manager.FreeBalance(ctx, asset.Native)
	if err != nil {
		t.Fatalf("free balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("no escrow should remain, got %s", balance)
	}
}

func TestExecuteBatchSettlesPayments(t *testing.T) {
	manager, _, bank := newTestManager(t)
	ctx := context.Background()

	bank.Mint(testPayer, asset.Native, native(100))
	bank.Mint(testPayer, usdc, usdcUnits(25))
	bank.Approve(testPayer, usdc, usdcUnits(25))

	if _, err := manager.ScheduleBatch(ctx, testPayer, ScheduleRequest{
		Recipients:  []string{"alice", "bob"},
		Assets:      []asset.ID{asset.Native, usdc},
		Amounts:     []string{"100", "25"},
		ChainTags:   []string{"", ""},
		NativeValue: native(100),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	report, err := manager.ExecuteBatch(ctx, testOwner, 10)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report.Attempted != 2 || report.Executed != 2 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Results[0].Receipt.Ref == "" {
		t.Fatal("executed result should carry a receipt")
	}

	if got := bank.BalanceOf("alice", asset.Native); got.Cmp(native(100)) != 0 {
		t.Fatalf("alice should hold 100 native, got %s", got)
	}
	if got := bank.BalanceOf("bob", usdc); got.Cmp(usdcUnits(25)) != 0 {
		t.Fatalf("bob should hold 25 usdc, got %s", got)
	}
	assertConservation(t, manager, asset.Native)
	assertConservation(t, manager, usdc)

	// Re-running the same range is a no-op: everything reports skipped.
	report, err = manager.ExecuteBatch(ctx, testOwner, 10)
	if err != nil {
		t.Fatalf("re-execute: %v", err)
	}
	if report.Executed != 0 || report.Skipped != 2 {
		t.Fatalf("re-execution should skip settled records: %+v", report)
	}

	p, err := manager.Payment(ctx, 0)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if !p.Executed || p.ExecutedAt.IsZero() {
		t.Fatalf("record not marked executed: %+v", p)
	}
}

func TestExecuteBatchInvalidRange(t *testing.T) {
	manager, _, _ := newTestManager(t)

	if _, err := manager.ExecuteBatch(context.Background(), testOwner, 0); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := manager.ExecuteBatch(context.Background(), testOwner, -3); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestExecuteBatchFailureIsolation(t *testing.T) {
	manager, _, bank := newTestManager(t)
	ctx := context.Background()

	bank.Mint(testPayer, asset.Native, native(17))
	bank.Mint(testPayer, usdc, usdcUnits(5))
	bank.Approve(testPayer, usdc, usdcUnits(5))

	if _, err := manager.ScheduleBatch(ctx, testPayer, ScheduleRequest{
		Recipients:  []string{"alice", "bob", "carol"},
		Assets:      []asset.ID{asset.Native, usdc, asset.Native},
		Amounts:     []string{"10", "5", "7"},
		ChainTags:   []string{"", "", ""},
		NativeValue: native(17),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Route the usdc escrow away so index 1 cannot be backed at execution.
	if err := manager.AddAdmin(ctx, testOwner, "router"); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if _, err := manager.MoveToYield(ctx, "router", usdc, "yield-vault", "5", ""); err != nil {
		t.Fatalf("move to yield: %v", err)
	}

	report, err := manager.ExecuteBatch(ctx, testOwner, 3)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report.Executed != 2 || report.Failed != 1 {
		t.Fatalf("expected 2 executed and 1 failed, got %+v", report)
	}
	if report.Results[0].Status != StatusExecuted ||
		report.Results[1].Status != StatusFailed ||
		report.Results[2].Status != StatusExecuted {
		t.Fatalf("per-index statuses wrong: %+v", report.Results)
	}
	if got := bank.BalanceOf("alice", asset.Native); got.Cmp(native(10)) != 0 {
		t.Fatalf("alice not paid: %s", got)
	}
	if got := bank.BalanceOf("carol", asset.Native); got.Cmp(native(7)) != 0 {
		t.Fatalf("carol not paid despite earlier failure: %s", got)
	}

	// Recalling the routed funds makes the failed index payable again.
	bank.Approve("yield-vault", usdc, usdcUnits(5))
	if _, err := manager.RecallFromYield(ctx, "router", usdc, "5", ""); err != nil {
		t.Fatalf("recall: %v", err)
	}

	report, err = manager.ExecuteBatch(ctx, testOwner, 3)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if report.Executed != 1 || report.Skipped != 2 {
		t.Fatalf("retry should settle only index 1: %+v", report)
	}
	if got := bank.BalanceOf("bob", usdc); got.Cmp(usdcUnits(5)) != 0 {
		t.Fatalf("bob not paid after recall: %s", got)
	}
}

func TestExecuteWorksWhilePaused(t *testing.T) {
	manager, _, bank := newTestManager(t)
	ctx := context.Background()

	bank.Mint(testPayer, asset.Native, native(5))
	if _, err := manager.ScheduleBatch(ctx, testPayer, ScheduleRequest{
		Recipients:  []string{"alice"},
		Assets:      []asset.ID{asset.Native},
		Amounts:     []string{"5"},
		ChainTags:   []string{""},
		NativeValue: native(5),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := manager.Pause(ctx, testOwner); err != nil {
		t.Fatalf("pause: %v", err)
	}

	report, err := manager.ExecuteBatch(ctx, testOwner, 1)
	if err != nil {
		t.Fatalf("execute while paused: %v", err)
	}
	if report.Executed != 1 {
		t.Fatalf("pause must not block execution: %+v", report)
	}
}

func TestPauseIsOwnerOnlyAndIdempotent(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := manager.AddAdmin(ctx, testOwner, "admin-1"); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if err := manager.Pause(ctx, "admin-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("admin pause should be rejected, got %v", err)
	}

	if err := manager.Pause(ctx, testOwner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := manager.Pause(ctx, testOwner); err != nil {
		t.Fatalf("second pause should be a no-op, got %v", err)
	}
	paused, err := manager.IsPaused(ctx)
	if err != nil {
		t.Fatalf("is paused: %v", err)
	}
	if !paused {
		t.Fatal("ledger should be paused")
	}

	if err := manager.Unpause(ctx, testOwner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := manager.Unpause(ctx, testOwner); err != nil {
		t.Fatalf("second unpause should be a no-op, got %v", err)
	}
}

func TestAdminManagement(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := manager.AddAdmin(ctx, "stranger", "admin-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner add should fail, got %v", err)
	}

	if err := manager.AddAdmin(ctx, testOwner, "admin-1"); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	isAdmin, err := manager.IsAdmin(ctx, "admin-1")
	if err != nil {
		t.Fatalf("is admin: %v", err)
	}
	if !isAdmin {
		t.Fatal("admin-1 should be an admin")
	}

	// The owner holds no implicit admin role.
	isAdmin, err = manager.IsAdmin(ctx, testOwner)
	if err != nil {
		t.Fatalf("is admin: %v", err)
	}
	if isAdmin {
		t.Fatal("owner must not be implicitly admin")
	}

	if err := manager.RemoveAdmin(ctx, testOwner, "admin-1"); err != nil {
		t.Fatalf("remove admin: %v", err)
	}
	isAdmin, _ = manager.IsAdmin(ctx, "admin-1")
	if isAdmin {
		t.Fatal("admin-1 should be removed")
	}
}

func TestMoveToYieldRequiresAdmin(t *testing.T) {
	manager, _, bank := newTestManager(t)
	ctx := context.Background()

	bank.Mint(testPayer, asset.Native, native(10))
	if _, err := manager.ScheduleBatch(ctx, testPayer, ScheduleRequest{
		Recipients:  []string{"alice"},
		Assets:      []asset.ID{asset.Native},
		Amounts:     []string{"10"},
		ChainTags:   []string{""},
		NativeValue: native(10),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Even the owner needs explicit admin membership for routing.
	if _, err := manager.MoveToYield(ctx, testOwner, asset.Native, "vault", "10", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("owner without admin role should be rejected, got %v", err)
	}

	if err := manager.AddAdmin(ctx, testOwner, testOwner); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	entry, err := manager.MoveToYield(ctx, testOwner, asset.Native, "vault", "10", "idle funds")
	if err != nil {
		t.Fatalf("move to yield: %v", err)
	}
	if entry.Counterparty != "vault" || entry.Amount.Cmp(native(10)) != 0 {
		t.Fatalf("unexpected journal entry: %+v", entry)
	}

	// Escrow is drawn below the outstanding obligation.
	balance, err := manager.FreeBalance(ctx, asset.Native)
	if err != nil {
		t.Fatalf("free balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("escrow should be drained, got %s", balance)
	}
	if got := bank.BalanceOf("vault", asset.Native); got.Cmp(native(10)) != 0 {
		t.Fatalf("vault should hold the routed funds, got %s", got)
	}
}

func TestMoveToYieldInsufficientEscrow(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := manager.AddAdmin(ctx, testOwner, "admin-1"); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if _, err := manager.MoveToYield(ctx, "admin-1", asset.Native, "vault", "1", ""); !errors.Is(err, ErrInsufficientEscrow) {
		t.Fatalf("expected ErrInsufficientEscrow, got %v", err)
	}
}

func TestRecallWithoutDesignatedWallet(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := manager.AddAdmin(ctx, testOwner, "admin-1"); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if _, err := manager.RecallFromYield(ctx, "admin-1", asset.Native, "1", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without a designated wallet, got %v", err)
	}
}

func TestRecallUsesDesignatedWallet(t *testing.T) {
	manager, store, bank := newTestManager(t)
	ctx := context.Background()

	bank.Mint(testPayer, usdc, usdcUnits(30))
	bank.Approve(testPayer, usdc, usdcUnits(30))
	if _, err := manager.ScheduleBatch(ctx, testPayer, ScheduleRequest{
		Recipients: []string{"alice"},
		Assets:     []asset.ID{usdc},
		Amounts:    []string{"30"},
		ChainTags:  []string{""},
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := manager.AddAdmin(ctx, testOwner, "admin-1"); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if _, err := manager.MoveToYield(ctx, "admin-1", usdc, "vault-a", "30", ""); err != nil {
		t.Fatalf("move: %v", err)
	}

	wallet, err := store.YieldWallet(ctx, usdc)
	if err != nil {
		t.Fatalf("yield wallet: %v", err)
	}
	if wallet != "vault-a" {
		t.Fatalf("designation not persisted: %q", wallet)
	}

	bank.Approve("vault-a", usdc, usdcUnits(30))
	entry, err := manager.RecallFromYield(ctx, "admin-1", usdc, "30", "")
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if entry.Counterparty != "vault-a" {
		t.Fatalf("recall must pull from the designated wallet, got %q", entry.Counterparty)
	}

	balance, err := manager.FreeBalance(ctx, usdc)
	if err != nil {
		t.Fatalf("free balance: %v", err)
	}
	if balance.Cmp(usdcUnits(30)) != 0 {
		t.Fatalf("escrow not restored, got %s", balance)
	}
	assertConservation(t, manager, usdc)
}

func TestEmergencyWithdrawOwnerOnly(t *testing.T) {
	manager, _, bank := newTestManager(t)
	ctx := context.Background()

	bank.Mint(testPayer, asset.Native, native(10))
	if _, err := manager.ScheduleBatch(ctx, testPayer, ScheduleRequest{
		Recipients:  []string{"alice"},
		Assets:      []asset.ID{asset.Native},
		Amounts:     []string{"10"},
		ChainTags:   []string{""},
		NativeValue: native(10),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := manager.AddAdmin(ctx, testOwner, "admin-1"); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if _, err := manager.EmergencyWithdraw(ctx, "admin-1", asset.Native, "cold-wallet", "10", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("admin emergency withdraw should be rejected, got %v", err)
	}

	entry, err := manager.EmergencyWithdraw(ctx, testOwner, asset.Native, "cold-wallet", "10", "incident")
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if entry.Direction != "emergency_withdraw" {
		t.Fatalf("unexpected direction: %s", entry.Direction)
	}

	// Escrow accounting is deliberately untouched: the books still show the
	// obligation as backed even though custody was drained.
	balance, err := manager.FreeBalance(ctx, asset.Native)
	if err != nil {
		t.Fatalf("free balance: %v", err)
	}
	if balance.Cmp(native(10)) != 0 {
		t.Fatalf("escrow books must be unchanged, got %s", balance)
	}
	if got := bank.BalanceOf("cold-wallet", asset.Native); got.Cmp(native(10)) != 0 {
		t.Fatalf("destination not funded, got %s", got)
	}

	entries, err := manager.RoutingEntries(ctx)
	if err != nil {
		t.Fatalf("routing entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(entries))
	}
}

func TestPaymentNotFound(t *testing.T) {
	manager, _, _ := newTestManager(t)

	if _, err := manager.Payment(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
