package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/payroll_ledger/internal/app/domain/payment"
	"github.com/R3E-Network/payroll_ledger/internal/app/storage"
)

func TestAppendBatchAssignsSequentialIndices(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, err := store.AppendBatch(ctx, []payment.Payment{
		{Recipient: "alice", Asset: asset.Native, Amount: big.NewInt(10)},
		{Recipient: "bob", Asset: asset.Native, Amount: big.NewInt(20)},
	}, map[asset.ID]*big.Int{asset.Native: big.NewInt(30)})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first[0].Index != 0 || first[1].Index != 1 {
		t.Fatalf("unexpected indices: %d, %d", first[0].Index, first[1].Index)
	}
	if first[0].ScheduledSeq != first[1].ScheduledSeq {
		t.Fatal("batch members should share a scheduling sequence")
	}

	second, err := store.AppendBatch(ctx, []payment.Payment{
		{Recipient: "carol", Asset: asset.Native, Amount: big.NewInt(5)},
	}, map[asset.ID]*big.Int{asset.Native: big.NewInt(5)})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second[0].Index != 2 {
		t.Fatalf("indices must continue across batches, got %d", second[0].Index)
	}
	if second[0].ScheduledSeq == first[0].ScheduledSeq {
		t.Fatal("batches should carry distinct sequences")
	}

	balance, err := store.FreeBalance(ctx, asset.Native)
	if err != nil {
		t.Fatalf("free balance: %v", err)
	}
	if balance.Cmp(big.NewInt(35)) != 0 {
		t.Fatalf("credits not applied, got %s", balance)
	}
}

func TestPaymentCloneIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()

	admitted, err := store.AppendBatch(ctx, []payment.Payment{
		{Recipient: "alice", Asset: asset.Native, Amount: big.NewInt(10)},
	}, nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// Mutating a returned record must not touch stored state.
	admitted[0].Amount.SetInt64(999)
	stored, err := store.Payment(ctx, 0)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if stored.Amount.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("stored amount aliased, got %s", stored.Amount)
	}
}

func TestMarkExecuted(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.AppendBatch(ctx, []payment.Payment{
		{Recipient: "alice", Asset: asset.Native, Amount: big.NewInt(10)},
	}, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	at := time.Now()
	executed, err := store.MarkExecuted(ctx, 0, at)
	if err != nil {
		t.Fatalf("mark executed: %v", err)
	}
	if !executed.Executed {
		t.Fatal("record should be executed")
	}

	if _, err := store.MarkExecuted(ctx, 0, at); !errors.Is(err, storage.ErrAlreadyExecuted) {
		t.Fatalf("expected ErrAlreadyExecuted, got %v", err)
	}
	if _, err := store.MarkExecuted(ctx, 5, at); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDebitEscrowUnderflow(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreditEscrow(ctx, asset.Native, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := store.DebitEscrow(ctx, asset.Native, big.NewInt(11)); !errors.Is(err, storage.ErrInsufficientEscrow) {
		t.Fatalf("expected ErrInsufficientEscrow, got %v", err)
	}
	remaining, err := store.DebitEscrow(ctx, asset.Native, big.NewInt(10))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if remaining.Sign() != 0 {
		t.Fatalf("balance should be zero, got %s", remaining)
	}
}

func TestListPaymentsWindow(t *testing.T) {
	store := New()
	ctx := context.Background()

	records := make([]payment.Payment, 5)
	for i := range records {
		records[i] = payment.Payment{Recipient: "r", Asset: asset.Native, Amount: big.NewInt(int64(i + 1))}
	}
	if _, err := store.AppendBatch(ctx, records, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	window, err := store.ListPayments(ctx, 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(window) != 2 || window[0].Index != 1 || window[1].Index != 2 {
		t.Fatalf("unexpected window: %+v", window)
	}

	all, err := store.ListPayments(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 records, got %d", len(all))
	}

	empty, err := store.ListPayments(ctx, 99, 0)
	if err != nil {
		t.Fatalf("list beyond end: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty window, got %d", len(empty))
	}
}

func TestOwnerAndAdmins(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.Owner(ctx); err == nil {
		t.Fatal("owner read before initialisation should fail")
	}
	if err := store.EnsureOwner(ctx, "owner-1"); err != nil {
		t.Fatalf("ensure owner: %v", err)
	}
	if err := store.EnsureOwner(ctx, "owner-1"); err != nil {
		t.Fatalf("re-ensure same owner: %v", err)
	}
	if err := store.EnsureOwner(ctx, "owner-2"); err == nil {
		t.Fatal("owner reassignment must fail")
	}

	if err := store.AddAdmin(ctx, "admin-1"); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	ok, _ := store.IsAdmin(ctx, "admin-1")
	if !ok {
		t.Fatal("admin-1 should be an admin")
	}
	if err := store.RemoveAdmin(ctx, "admin-1"); err != nil {
		t.Fatalf("remove admin: %v", err)
	}
	ok, _ = store.IsAdmin(ctx, "admin-1")
	if ok {
		t.Fatal("admin-1 should be removed")
	}
}

func TestYieldWalletDesignation(t *testing.T) {
	store := New()
	ctx := context.Background()

	wallet, err := store.YieldWallet(ctx, "usdc")
	if err != nil {
		t.Fatalf("yield wallet: %v", err)
	}
	if wallet != "" {
		t.Fatalf("expected no designation, got %q", wallet)
	}

	if err := store.SetYieldWallet(ctx, "usdc", " vault-a "); err != nil {
		t.Fatalf("set yield wallet: %v", err)
	}
	wallet, _ = store.YieldWallet(ctx, "usdc")
	if wallet != "vault-a" {
		t.Fatalf("designation not normalised: %q", wallet)
	}
}

func TestRoutingJournal(t *testing.T) {
	store := New()
	ctx := context.Background()

	entry, err := store.AppendRouting(ctx, payment.RoutingEntry{
		Direction:    payment.RoutingToYield,
		Asset:        "usdc",
		Counterparty: "vault",
		Amount:       big.NewInt(100),
		Actor:        "admin-1",
	})
	if err != nil {
		t.Fatalf("append routing: %v", err)
	}
	if entry.ID == "" || entry.CreatedAt.IsZero() {
		t.Fatalf("entry not stamped: %+v", entry)
	}

	entries, err := store.ListRouting(ctx)
	if err != nil {
		t.Fatalf("list routing: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != entry.ID {
		t.Fatalf("unexpected journal: %+v", entries)
	}
}
