package recalc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/events"
	"github.com/dealbrain/dealbrain/internal/persistence/memstore"
	"github.com/dealbrain/dealbrain/internal/telemetry"
	"github.com/dealbrain/dealbrain/internal/valuation"
)

func jobPayload(t *testing.T, id int64, reason Reason) []byte {
	t.Helper()
	b, err := json.Marshal(Job{ListingID: id, Reason: reason})
	require.NoError(t, err)
	return b
}

func TestReasonValid(t *testing.T) {
	valid := []Reason{
		ReasonRulesetCreated, ReasonRulesetUpdated, ReasonRulesetDeleted,
		ReasonRuleGroupCreated, ReasonRuleGroupUpdated,
		ReasonRuleCreated, ReasonRuleUpdated, ReasonRuleDeleted,
		ReasonFieldUpdate,
	}
	for _, r := range valid {
		assert.True(t, r.Valid(), string(r))
	}
	assert.False(t, Reason("bogus").Valid())
	assert.False(t, Reason("").Valid())
}

func TestEnqueueRejectsUnknownReason(t *testing.T) {
	rdb, _ := redismock.NewClientMock()
	e := NewEnqueuer(rdb, nil, 0, 0, nil, zerolog.Nop())

	_, err := e.Enqueue(context.Background(), Request{ListingIDs: []int64{1}, Reason: "made_up"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestEnqueueCoalesces(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	metrics := telemetry.NewWithRegistry(prometheus.NewRegistry())
	e := NewEnqueuer(rdb, nil, 5*time.Second, 0, metrics, zerolog.Nop())

	mock.ExpectSetNX(coalesceKey(7, ReasonFieldUpdate), "1", 5*time.Second).SetVal(true)
	mock.ExpectSetNX(coalesceKey(8, ReasonFieldUpdate), "1", 5*time.Second).SetVal(false)
	mock.ExpectLPush(QueueKey, jobPayload(t, 7, ReasonFieldUpdate)).SetVal(1)

	n, err := e.Enqueue(context.Background(), Request{ListingIDs: []int64{7, 8}, Reason: ReasonFieldUpdate})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the coalesced listing must not enqueue twice")

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RecalcJobsTotal.WithLabelValues("field_update")))
}

func TestEnqueueRulesetFanout(t *testing.T) {
	store := memstore.New()
	rulesetID := int64(42)
	pinnedActive := store.SeedListing(domain.Listing{Title: "pinned active", RulesetID: &rulesetID})
	dynamic := store.SeedListing(domain.Listing{Title: "dynamic"})
	pinnedInactive := store.SeedListing(domain.Listing{Title: "pinned inactive", Status: domain.StatusInactive, RulesetID: &rulesetID})

	rdb, mock := redismock.NewClientMock()
	e := NewEnqueuer(rdb, store.Repo().Listings, 5*time.Second, 0, nil, zerolog.Nop())

	// Pinned IDs come first (sorted), then the active candidates, deduped.
	order := []int64{pinnedActive.ID, pinnedInactive.ID, dynamic.ID}
	for _, id := range order {
		mock.ExpectSetNX(coalesceKey(id, ReasonRulesetUpdated), "1", 5*time.Second).SetVal(true)
	}
	mock.ExpectLPush(QueueKey,
		jobPayload(t, order[0], ReasonRulesetUpdated),
		jobPayload(t, order[1], ReasonRulesetUpdated),
		jobPayload(t, order[2], ReasonRulesetUpdated),
	).SetVal(3)

	n, err := e.Enqueue(context.Background(), Request{RulesetID: &rulesetID, Reason: ReasonRulesetUpdated})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueBatchesPushes(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	e := NewEnqueuer(rdb, nil, 5*time.Second, 2, nil, zerolog.Nop())

	for _, id := range []int64{1, 2, 3} {
		mock.ExpectSetNX(coalesceKey(id, ReasonRuleCreated), "1", 5*time.Second).SetVal(true)
	}
	mock.ExpectLPush(QueueKey, jobPayload(t, 1, ReasonRuleCreated), jobPayload(t, 2, ReasonRuleCreated)).SetVal(2)
	mock.ExpectLPush(QueueKey, jobPayload(t, 3, ReasonRuleCreated)).SetVal(3)

	n, err := e.Enqueue(context.Background(), Request{ListingIDs: []int64{1, 2, 3}, Reason: ReasonRuleCreated})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

type capturedEvent struct {
	typ     events.Type
	payload any
}

type fakePublisher struct {
	published []capturedEvent
}

func (f *fakePublisher) Publish(_ context.Context, typ events.Type, payload any) {
	f.published = append(f.published, capturedEvent{typ: typ, payload: payload})
}

func newTestWorker(store *memstore.Store, pub events.Publisher) *Worker {
	rdb, _ := redismock.NewClientMock()
	metrics := telemetry.NewWithRegistry(prometheus.NewRegistry())
	return NewWorker(rdb, store, valuation.NewEngine(zerolog.Nop()), pub, metrics, 1, zerolog.Nop())
}

func TestWorkerHandleRunsValuation(t *testing.T) {
	store := memstore.New()
	price := decimal.NewFromInt(500)
	listing := store.SeedListing(domain.Listing{Title: "Lenovo M920q", PriceUSD: &price, RamGB: 8})

	pub := &fakePublisher{}
	w := newTestWorker(store, pub)

	w.Handle(context.Background(), jobPayload(t, listing.ID, ReasonFieldUpdate))

	stored := store.Listing(listing.ID)
	require.NotNil(t, stored.AdjustedPriceUSD)
	assert.True(t, stored.AdjustedPriceUSD.Equal(price), "no ruleset means zero adjustment")
	assert.NotEmpty(t, stored.ValuationBreakdown)

	require.Len(t, pub.published, 1)
	assert.Equal(t, events.ValuationRecalculated, pub.published[0].typ)
	evt, ok := pub.published[0].payload.(events.ValuationRecalculatedEvent)
	require.True(t, ok)
	assert.Equal(t, []int64{listing.ID}, evt.ListingIDs)
}

func TestWorkerHandleSkipsMissingListing(t *testing.T) {
	store := memstore.New()
	pub := &fakePublisher{}
	w := newTestWorker(store, pub)

	w.Handle(context.Background(), jobPayload(t, 999, ReasonFieldUpdate))
	assert.Empty(t, pub.published, "a deleted listing must not emit an event")
}

func TestWorkerHandleSkipsUnpricedListing(t *testing.T) {
	store := memstore.New()
	listing := store.SeedListing(domain.Listing{Title: "no price yet", Quality: domain.QualityPartial})

	pub := &fakePublisher{}
	w := newTestWorker(store, pub)

	w.Handle(context.Background(), jobPayload(t, listing.ID, ReasonFieldUpdate))
	assert.Empty(t, pub.published)
	assert.Nil(t, store.Listing(listing.ID).AdjustedPriceUSD)
}

func TestWorkerHandleMalformedPayload(t *testing.T) {
	store := memstore.New()
	pub := &fakePublisher{}
	w := newTestWorker(store, pub)

	w.Handle(context.Background(), []byte("{not json"))
	assert.Empty(t, pub.published)
}
