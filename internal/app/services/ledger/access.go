package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/payroll_ledger/internal/app/events"
)

// IsOwner reports whether the principal is the ledger owner.
func (m *Manager) IsOwner(ctx context.Context, principal string) (bool, error) {
	owner, err := m.store.Owner(ctx)
	if err != nil {
		return false, err
	}
	return owner == principal, nil
}

// IsAdmin reports admin membership. The owner is not implicitly an admin;
// it must add itself like any other principal.
func (m *Manager) IsAdmin(ctx context.Context, principal string) (bool, error) {
	return m.store.IsAdmin(ctx, principal)
}

// Admins lists the current admin set.
func (m *Manager) Admins(ctx context.Context) ([]string, error) {
	return m.store.ListAdmins(ctx)
}

// AddAdmin grants admin membership. Owner-only.
func (m *Manager) AddAdmin(ctx context.Context, caller, principal string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(ctx, caller); err != nil {
		return err
	}
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return fmt.Errorf("admin principal is required")
	}
	if err := m.store.AddAdmin(ctx, principal); err != nil {
		return err
	}

	m.log.WithField("principal", principal).WithField("caller", caller).Info("admin added")
	m.events.Publish(ctx, events.New(events.TypeAdminChanged, caller, map[string]any{
		"principal": principal,
		"action":    "added",
	}))
	return nil
}

// RemoveAdmin revokes admin membership. Owner-only.
func (m *Manager) RemoveAdmin(ctx context.Context, caller, principal string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(ctx, caller); err != nil {
		return err
	}
	if err := m.store.RemoveAdmin(ctx, principal); err != nil {
		return err
	}

	m.log.WithField("principal", principal).WithField("caller", caller).Info("admin removed")
	m.events.Publish(ctx, events.New(events.TypeAdminChanged, caller, map[string]any{
		"principal": principal,
		"action":    "removed",
	}))
	return nil
}

func (m *Manager) requireOwner(ctx context.Context, caller string) error {
	owner, err := m.store.Owner(ctx)
	if err != nil {
		return err
	}
	if caller != owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	return nil
}

func (m *Manager) requireAdmin(ctx context.Context, caller string) error {
	ok, err := m.store.IsAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not an admin", ErrUnauthorized, caller)
	}
	return nil
}
