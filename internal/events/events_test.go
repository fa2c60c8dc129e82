package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealbrain/dealbrain/internal/telemetry"
)

func envelopeBytes(t *testing.T, typ Type, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	msg, err := json.Marshal(Envelope{Type: typ, Data: data})
	require.NoError(t, err)
	return msg
}

func TestPublishSendsEnvelope(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	metrics := telemetry.NewWithRegistry(prometheus.NewRegistry())
	p := NewRedisPublisher(rdb, metrics, zerolog.Nop())

	payload := ListingEvent{ListingID: 7, Timestamp: time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)}
	mock.ExpectPublish(Channel, envelopeBytes(t, ListingCreated, payload)).SetVal(1)

	p.Publish(context.Background(), ListingCreated, payload)

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsPublishedTotal.WithLabelValues("listing.created", "ok")))
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	metrics := telemetry.NewWithRegistry(prometheus.NewRegistry())
	p := NewRedisPublisher(rdb, metrics, zerolog.Nop())

	payload := ListingEvent{ListingID: 3, Timestamp: time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)}
	mock.ExpectPublish(Channel, envelopeBytes(t, ListingDeleted, payload)).SetErr(errors.New("broken pipe"))

	p.Publish(context.Background(), ListingDeleted, payload)

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsPublishedTotal.WithLabelValues("listing.deleted", "error")))
}

func TestPublishUnmarshalablePayload(t *testing.T) {
	rdb, _ := redismock.NewClientMock()
	metrics := telemetry.NewWithRegistry(prometheus.NewRegistry())
	p := NewRedisPublisher(rdb, metrics, zerolog.Nop())

	// A channel cannot be marshaled; nothing must reach Redis.
	p.Publish(context.Background(), ListingCreated, make(chan int))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsPublishedTotal.WithLabelValues("listing.created", "error")))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := ListingUpdatedEvent{
		ListingID: 11,
		Changes:   []string{"price_usd", "quality"},
		Timestamp: time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	raw := envelopeBytes(t, ListingUpdated, payload)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, ListingUpdated, env.Type)

	var got ListingUpdatedEvent
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, payload.ListingID, got.ListingID)
	assert.Equal(t, payload.Changes, got.Changes)
	assert.True(t, payload.Timestamp.Equal(got.Timestamp))
}
