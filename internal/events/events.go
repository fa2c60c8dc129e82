// Package events defines the typed pipeline events and their Redis pub/sub
// publisher. Publishing is fire-and-forget: failures are logged and counted,
// never propagated into the operation that raised the event.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/telemetry"
)

// Channel is the process-wide pub/sub channel all events go out on.
const Channel = "dealbrain:events"

// Type names one event kind.
type Type string

const (
	ListingCreated        Type = "listing.created"
	ListingUpdated        Type = "listing.updated"
	ListingDeleted        Type = "listing.deleted"
	ValuationRecalculated Type = "valuation.recalculated"
	ImportCompleted       Type = "import.completed"
	PriceChanged          Type = "price.changed"
)

// ListingEvent is the payload of listing.created and listing.deleted.
type ListingEvent struct {
	ListingID int64     `json:"listing_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ListingUpdatedEvent carries the names of the fields that changed.
type ListingUpdatedEvent struct {
	ListingID int64     `json:"listing_id"`
	Changes   []string  `json:"changes"`
	Timestamp time.Time `json:"timestamp"`
}

// ValuationRecalculatedEvent reports listings whose valuation was recomputed.
type ValuationRecalculatedEvent struct {
	ListingIDs []int64   `json:"listing_ids"`
	Timestamp  time.Time `json:"timestamp"`
}

// ImportCompletedEvent reports the outcome of one bulk import job.
type ImportCompletedEvent struct {
	ImportJobID     int64     `json:"import_job_id"`
	ListingsCreated int       `json:"listings_created"`
	ListingsUpdated int       `json:"listings_updated"`
	Timestamp       time.Time `json:"timestamp"`
}

// PriceChangedEvent reports a price move past the configured threshold.
type PriceChangedEvent struct {
	ListingID int64           `json:"listing_id"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Envelope is the wire form: {type, data}.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Publisher emits events. Implementations must never return an error to the
// caller; delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, typ Type, payload any)
}

// RedisPublisher publishes envelopes to the shared Redis channel.
type RedisPublisher struct {
	rdb     *redis.Client
	metrics *telemetry.Metrics
	log     zerolog.Logger
}

func NewRedisPublisher(rdb *redis.Client, metrics *telemetry.Metrics, log zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		rdb:     rdb,
		metrics: metrics,
		log:     log.With().Str("component", "events").Logger(),
	}
}

// Publish marshals the payload into an envelope and fires it at the channel.
func (p *RedisPublisher) Publish(ctx context.Context, typ Type, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.metrics.RecordEvent(string(typ), err)
		p.log.Error().Err(err).Str("type", string(typ)).Msg("event payload marshal failed")
		return
	}
	msg, err := json.Marshal(Envelope{Type: typ, Data: data})
	if err != nil {
		p.metrics.RecordEvent(string(typ), err)
		p.log.Error().Err(err).Str("type", string(typ)).Msg("event envelope marshal failed")
		return
	}

	err = p.rdb.Publish(ctx, Channel, msg).Err()
	p.metrics.RecordEvent(string(typ), err)
	if err != nil {
		p.log.Warn().Err(err).Str("type", string(typ)).Msg("event publish failed")
		return
	}
	p.log.Debug().Str("type", string(typ)).Msg("event published")
}

// Nop is a Publisher that drops everything. Used in tests and when Redis is
// not configured.
type Nop struct{}

func (Nop) Publish(context.Context, Type, any) {}
