package system

import (
	"context"
	"fmt"
	"sync"
)

// Manager owns the registered services and drives their lifecycle. Services
// start in registration order and stop in reverse order.
type Manager struct {
	mu       sync.Mutex
	services []Service
	names    map[string]struct{}
	started  bool
}

// NewManager creates an empty lifecycle manager.
func NewManager() *Manager {
	return &Manager{names: make(map[string]struct{})}
}

// Register adds a service. Registration is rejected after Start and for
// duplicate names.
func (m *Manager) Register(service Service) error {
	if service == nil {
		return fmt.Errorf("service is nil")
	}
	name := service.Name()
	if name == "" {
		return fmt.Errorf("service name is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("register %s: manager already started", name)
	}
	if _, exists := m.names[name]; exists {
		return fmt.Errorf("service %s already registered", name)
	}
	m.names[name] = struct{}{}
	m.services = append(m.services, service)
	return nil
}

// Start starts every registered service in order. On failure the services
// already started are stopped in reverse order before returning the error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("manager already started")
	}

	for i, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m.services[j].Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}
	m.started = true
	return nil
}

// Stop stops every service in reverse registration order. All services are
// attempted; the first error is returned.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}

	var firstErr error
	for i := len(m.services) - 1; i >= 0; i-- {
		if err := m.services[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s: %w", m.services[i].Name(), err)
		}
	}
	m.started = false
	return firstErr
}
