package ledger

import (
	"context"

	"github.com/R3E-Network/payroll_ledger/internal/app/events"
)

// IsPaused reads the pause flag.
func (m *Manager) IsPaused(ctx context.Context) (bool, error) {
	return m.store.Paused(ctx)
}

// Pause freezes new batch admission. Owner-only, idempotent: pausing an
// already paused ledger is a no-op success. Execution of already-escrowed
// obligations stays available while paused.
func (m *Manager) Pause(ctx context.Context, caller string) error {
	return m.setPaused(ctx, caller, true)
}

// Unpause re-opens batch admission. Owner-only, idempotent.
func (m *Manager) Unpause(ctx context.Context, caller string) error {
	return m.setPaused(ctx, caller, false)
}

func (m *Manager) setPaused(ctx context.Context, caller string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOwner(ctx, caller); err != nil {
		return err
	}

	current, err := m.store.Paused(ctx)
	if err != nil {
		return err
	}
	if current == paused {
		return nil
	}
	if err := m.store.SetPaused(ctx, paused); err != nil {
		return err
	}

	m.log.WithField("paused", paused).WithField("caller", caller).Info("pause flag toggled")
	m.events.Publish(ctx, events.New(events.TypePauseToggled, caller, map[string]any{
		"paused": paused,
	}))
	return nil
}
