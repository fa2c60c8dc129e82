package recalc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dealbrain/dealbrain/internal/events"
	"github.com/dealbrain/dealbrain/internal/persistence"
	"github.com/dealbrain/dealbrain/internal/telemetry"
	"github.com/dealbrain/dealbrain/internal/valuation"
)

const popTimeout = 2 * time.Second

// Worker drains the recalculation queue with a fixed-size pool. Each job
// re-runs the valuation engine for one listing inside its advisory lock, so
// a concurrent ingest of the same listing cannot interleave.
type Worker struct {
	rdb         *redis.Client
	uow         persistence.UnitOfWork
	engine      *valuation.Engine
	publisher   events.Publisher
	metrics     *telemetry.Metrics
	concurrency int
	log         zerolog.Logger
}

func NewWorker(rdb *redis.Client, uow persistence.UnitOfWork, engine *valuation.Engine, publisher events.Publisher, metrics *telemetry.Metrics, concurrency int, log zerolog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Worker{
		rdb:         rdb,
		uow:         uow,
		engine:      engine,
		publisher:   publisher,
		metrics:     metrics,
		concurrency: concurrency,
		log:         log.With().Str("component", "recalc_worker").Logger(),
	}
}

// Run blocks until ctx is canceled, draining the queue with the configured
// number of goroutines.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("concurrency", w.concurrency).Msg("recalc worker started")
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error { return w.loop(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		w.log.Info().Msg("recalc worker stopped")
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := w.rdb.BRPop(ctx, popTimeout, QueueKey).Result()
		switch {
		case err == redis.Nil:
			continue
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		case err != nil:
			w.log.Warn().Err(err).Msg("recalc queue pop failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		// BRPOP returns [key, payload].
		if len(res) != 2 {
			continue
		}
		w.Handle(ctx, []byte(res[1]))
	}
}

// Handle processes one raw queue payload. Malformed payloads and per-job
// failures are logged and dropped; the queue keeps moving.
func (w *Worker) Handle(ctx context.Context, payload []byte) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		w.log.Error().Err(err).Str("payload", string(payload)).Msg("malformed recalc job")
		return
	}

	ran, err := w.process(ctx, job)
	if err != nil {
		w.log.Warn().Err(err).
			Int64("listing_id", job.ListingID).
			Str("reason", string(job.Reason)).
			Msg("recalculation failed")
		return
	}
	if !ran {
		return
	}

	w.publisher.Publish(ctx, events.ValuationRecalculated, events.ValuationRecalculatedEvent{
		ListingIDs: []int64{job.ListingID},
		Timestamp:  time.Now().UTC(),
	})
}

func (w *Worker) process(ctx context.Context, job Job) (bool, error) {
	ran := false
	err := w.uow.WithListingLock(ctx, fmt.Sprintf("listing:%d", job.ListingID), func(repo *persistence.Repository) error {
		l, err := repo.Listings.Get(ctx, job.ListingID)
		if err != nil {
			return err
		}
		if l == nil {
			// Deleted since enqueue.
			return nil
		}
		if !l.HasPrice() {
			w.log.Debug().Int64("listing_id", l.ID).Msg("skipping recalc of unpriced listing")
			return nil
		}
		if _, err := w.engine.Run(ctx, repo, l); err != nil {
			return err
		}
		w.metrics.RecordValuation()
		ran = true
		return nil
	})
	return ran, err
}
