// Package events carries the ledger's read-side notification channel.
// Every state-changing success publishes exactly one event; dashboards
// subscribe instead of polling.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/payroll_ledger/pkg/logger"
)

// Type enumerates the emitted event kinds.
type Type string

const (
	TypePaymentScheduled  Type = "payment.scheduled"
	TypePaymentExecuted   Type = "payment.executed"
	TypeFundsRouted       Type = "funds.routed"
	TypeEmergencyWithdraw Type = "emergency.withdraw"
	TypePauseToggled      Type = "pause.toggled"
	TypeAdminChanged      Type = "admin.changed"
)

// Event is a single ledger notification.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Actor      string         `json:"actor,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	EmittedAt  time.Time      `json:"emitted_at"`
}

// New stamps an event with identity and emission time.
func New(eventType Type, actor string, attributes map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Actor:      actor,
		Attributes: attributes,
		EmittedAt:  time.Now().UTC(),
	}
}

// Publisher delivers events to subscribers. Publish must not fail the
// operation that produced the event; implementations log and move on.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

// LogPublisher writes events to the structured log. Default sink when no
// broker is configured.
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher creates a publisher over the given logger.
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) {
	p.log.WithField("event_id", event.ID).
		WithField("event_type", string(event.Type)).
		WithField("actor", event.Actor).
		WithFields(map[string]interface{}{"attributes": event.Attributes}).
		Info("ledger event")
}
