package memory

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/payroll_ledger/internal/app/domain/payment"
	"github.com/R3E-Network/payroll_ledger/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu           sync.RWMutex
	payments     []payment.Payment
	balances     map[asset.ID]*big.Int
	owner        string
	admins       map[string]struct{}
	paused       bool
	yieldWallets map[asset.ID]string
	routing      []payment.RoutingEntry
	nextSeq      uint64
}

var _ storage.LedgerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		balances:     make(map[asset.ID]*big.Int),
		admins:       make(map[string]struct{}),
		yieldWallets: make(map[asset.ID]string),
		nextSeq:      1,
	}
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) AppendBatch(_ context.Context, payments []payment.Payment, credits map[asset.ID]*big.Int) ([]payment.Payment, error) {
	if len(payments) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, amount := range credits {
		if amount == nil || amount.Sign() < 0 {
			return nil, fmt.Errorf("invalid credit for asset %s", id)
		}
	}

	now := time.Now().UTC()
	seq := s.nextSeq
	s.nextSeq++

	out := make([]payment.Payment, 0, len(payments))
	for _, p := range payments {
		p = p.Clone()
		p.Index = uint64(len(s.payments))
		p.Executed = false
		p.ScheduledSeq = seq
		p.ScheduledAt = now
		s.payments = append(s.payments, p)
		out = append(out, p.Clone())
	}

	for id, amount := range credits {
		s.balances[id] = new(big.Int).Add(s.balanceLocked(id), amount)
	}

	return out, nil
}

func (s *Store) Payment(_ context.Context, index uint64) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index >= uint64(len(s.payments)) {
		return payment.Payment{}, storage.ErrNotFound
	}
	return s.payments[index].Clone(), nil
}

func (s *Store) ListPayments(_ context.Context, offset uint64, limit int) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset >= uint64(len(s.payments)) {
		return []payment.Payment{}, nil
	}
	end := uint64(len(s.payments))
	if limit > 0 && offset+uint64(limit) < end {
		end = offset + uint64(limit)
	}

	result := make([]payment.Payment, 0, end-offset)
	for _, p := range s.payments[offset:end] {
		result = append(result, p.Clone())
	}
	return result, nil
}

func (s *Store) CountPayments(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.payments)), nil
}

func (s *Store) MarkExecuted(_ context.Context, index uint64, at time.Time) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index >= uint64(len(s.payments)) {
		return payment.Payment{}, storage.ErrNotFound
	}
	if s.payments[index].Executed {
		return payment.Payment{}, storage.ErrAlreadyExecuted
	}

	s.payments[index].Executed = true
	s.payments[index].ExecutedAt = at.UTC()
	return s.payments[index].Clone(), nil
}

// EscrowStore implementation --------------------------------------------------

func (s *Store) CreditEscrow(_ context.Context, id asset.ID, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid credit amount")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := new(big.Int).Add(s.balanceLocked(id), amount)
	s.balances[id] = next
	return new(big.Int).Set(next), nil
}

func (s *Store) DebitEscrow(_ context.Context, id asset.ID, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid debit amount")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.balanceLocked(id)
	if amount.Cmp(current) > 0 {
		return nil, storage.ErrInsufficientEscrow
	}
	next := new(big.Int).Sub(current, amount)
	s.balances[id] = next
	return new(big.Int).Set(next), nil
}

func (s *Store) FreeBalance(_ context.Context, id asset.ID) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return new(big.Int).Set(s.balanceLocked(id)), nil
}

func (s *Store) Balances(_ context.Context) (map[asset.ID]*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[asset.ID]*big.Int, len(s.balances))
	for id, bal := range s.balances {
		result[id] = new(big.Int).Set(bal)
	}
	return result, nil
}

func (s *Store) balanceLocked(id asset.ID) *big.Int {
	if bal, ok := s.balances[id]; ok {
		return bal
	}
	return big.NewInt(0)
}

// AccessStore implementation --------------------------------------------------

func (s *Store) EnsureOwner(_ context.Context, principal string) error {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return fmt.Errorf("owner principal is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owner == "" {
		s.owner = principal
		return nil
	}
	if s.owner != principal {
		return fmt.Errorf("owner already set to %s", s.owner)
	}
	return nil
}

func (s *Store) Owner(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.owner == "" {
		return "", fmt.Errorf("owner not configured")
	}
	return s.owner, nil
}

func (s *Store) IsAdmin(_ context.Context, principal string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.admins[principal]
	return ok, nil
}

func (s *Store) AddAdmin(_ context.Context, principal string) error {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return fmt.Errorf("admin principal is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.admins[principal] = struct{}{}
	return nil
}

func (s *Store) RemoveAdmin(_ context.Context, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.admins, principal)
	return nil
}

func (s *Store) ListAdmins(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, 0, len(s.admins))
	for principal := range s.admins {
		result = append(result, principal)
	}
	return result, nil
}

// StateStore implementation ---------------------------------------------------

func (s *Store) Paused(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.paused, nil
}

func (s *Store) SetPaused(_ context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = paused
	return nil
}

func (s *Store) YieldWallet(_ context.Context, id asset.ID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.yieldWallets[id], nil
}

func (s *Store) SetYieldWallet(_ context.Context, id asset.ID, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.yieldWallets[id] = strings.TrimSpace(wallet)
	return nil
}

// RoutingStore implementation -------------------------------------------------

func (s *Store) AppendRouting(_ context.Context, entry payment.RoutingEntry) (payment.RoutingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry = entry.Clone()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()

	s.routing = append(s.routing, entry)
	return entry.Clone(), nil
}

func (s *Store) ListRouting(_ context.Context) ([]payment.RoutingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]payment.RoutingEntry, 0, len(s.routing))
	for _, entry := range s.routing {
		result = append(result, entry.Clone())
	}
	return result, nil
}
