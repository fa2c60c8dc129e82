// Package recalc is the asynchronous revaluation queue: rule and field
// changes enqueue affected listings onto a Redis list, and a worker pool
// drains it, re-running the valuation engine per listing under its advisory
// lock.
package recalc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/persistence"
	"github.com/dealbrain/dealbrain/internal/telemetry"
)

// Reason classifies why a listing needs revaluation.
type Reason string

const (
	ReasonRulesetCreated   Reason = "ruleset_created"
	ReasonRulesetUpdated   Reason = "ruleset_updated"
	ReasonRulesetDeleted   Reason = "ruleset_deleted"
	ReasonRuleGroupCreated Reason = "rule_group_created"
	ReasonRuleGroupUpdated Reason = "rule_group_updated"
	ReasonRuleCreated      Reason = "rule_created"
	ReasonRuleUpdated      Reason = "rule_updated"
	ReasonRuleDeleted      Reason = "rule_deleted"
	ReasonFieldUpdate      Reason = "field_update"
)

// Valid reports whether the reason is one of the closed set.
func (r Reason) Valid() bool {
	switch r {
	case ReasonRulesetCreated, ReasonRulesetUpdated, ReasonRulesetDeleted,
		ReasonRuleGroupCreated, ReasonRuleGroupUpdated,
		ReasonRuleCreated, ReasonRuleUpdated, ReasonRuleDeleted,
		ReasonFieldUpdate:
		return true
	}
	return false
}

// QueueKey is the Redis list the worker pool drains.
const QueueKey = "dealbrain:recalc:queue"

const coalescePrefix = "dealbrain:recalc:seen:"

// DefaultCoalesceWindow suppresses duplicate (listing, reason) enqueues.
const DefaultCoalesceWindow = 5 * time.Second

const defaultBatchSize = 100

// Job is one queued recalculation.
type Job struct {
	ListingID int64  `json:"listing_id"`
	Reason    Reason `json:"reason"`
}

// Request describes what to enqueue: explicit listings, or every listing a
// ruleset change could affect.
type Request struct {
	ListingIDs []int64
	RulesetID  *int64
	Reason     Reason
}

// Enqueuer pushes recalculation jobs. Enqueue is idempotent per
// (listing, reason) within the coalesce window.
type Enqueuer struct {
	rdb      *redis.Client
	listings persistence.ListingsRepo
	window   time.Duration
	batch    int
	metrics  *telemetry.Metrics
	log      zerolog.Logger
}

func NewEnqueuer(rdb *redis.Client, listings persistence.ListingsRepo, window time.Duration, batch int, metrics *telemetry.Metrics, log zerolog.Logger) *Enqueuer {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Enqueuer{
		rdb:      rdb,
		listings: listings,
		window:   window,
		batch:    batch,
		metrics:  metrics,
		log:      log.With().Str("component", "recalc").Logger(),
	}
}

// Enqueue expands the request to listing IDs, drops duplicates seen within
// the coalesce window, and pushes the rest. Returns how many jobs were
// actually queued.
func (e *Enqueuer) Enqueue(ctx context.Context, req Request) (int, error) {
	if !req.Reason.Valid() {
		return 0, apperr.Validation("unknown recalculation reason %q", req.Reason)
	}

	ids := append([]int64(nil), req.ListingIDs...)
	if req.RulesetID != nil {
		// A ruleset change affects listings pinned to it and, because
		// dynamic selection can pick it up, every active listing.
		pinned, err := e.listings.IDsWithRuleset(ctx, *req.RulesetID)
		if err != nil {
			return 0, err
		}
		active, err := e.listings.ActiveIDs(ctx)
		if err != nil {
			return 0, err
		}
		ids = append(ids, pinned...)
		ids = append(ids, active...)
	}
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	var payloads []any
	for _, id := range ids {
		admitted, err := e.rdb.SetNX(ctx, coalesceKey(id, req.Reason), "1", e.window).Result()
		if err != nil {
			return 0, fmt.Errorf("recalc coalesce check: %w", err)
		}
		if !admitted {
			continue
		}
		b, err := json.Marshal(Job{ListingID: id, Reason: req.Reason})
		if err != nil {
			return 0, fmt.Errorf("recalc job marshal: %w", err)
		}
		payloads = append(payloads, b)
	}

	enqueued := 0
	for start := 0; start < len(payloads); start += e.batch {
		end := start + e.batch
		if end > len(payloads) {
			end = len(payloads)
		}
		if err := e.rdb.LPush(ctx, QueueKey, payloads[start:end]...).Err(); err != nil {
			return enqueued, fmt.Errorf("recalc enqueue: %w", err)
		}
		enqueued += end - start
	}

	e.metrics.RecordRecalcJobs(string(req.Reason), enqueued)
	e.log.Info().
		Str("reason", string(req.Reason)).
		Int("candidates", len(ids)).
		Int("enqueued", enqueued).
		Msg("recalculation enqueued")
	return enqueued, nil
}

func coalesceKey(id int64, reason Reason) string {
	return fmt.Sprintf("%s%d:%s", coalescePrefix, id, reason)
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
