package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/payroll_ledger/pkg/logger"
)

// Channel is the Redis pub/sub channel events are published on.
const Channel = "payroll.events"

// RedisPublisher fans events out over Redis pub/sub for external
// dashboards. Delivery is best-effort; a broken broker never blocks the
// ledger operation that emitted the event.
type RedisPublisher struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisPublisher connects to the broker at addr (host:port).
func NewRedisPublisher(addr, password string, db int, log *logger.Logger) (*RedisPublisher, error) {
	if log == nil {
		log = logger.NewDefault("events-redis")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(addr),
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisPublisher{client: client, log: log}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.WithError(err).Warn("encode event failed")
		return
	}
	if err := p.client.Publish(ctx, Channel, payload).Err(); err != nil {
		p.log.WithError(err).
			WithField("event_type", string(event.Type)).
			Warn("publish event failed")
	}
}

// Close releases the broker connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
