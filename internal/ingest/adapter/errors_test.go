package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindRetryable(t *testing.T) {
	retryable := []ErrorKind{KindTimeout, KindNetworkError, KindRateLimited}
	terminal := []ErrorKind{KindItemNotFound, KindInvalidSchema, KindParseError, KindNoStructuredData, KindAdapterDisabled, KindNoAdapterFound}

	for _, k := range retryable {
		assert.True(t, k.Retryable(), "kind %s", k)
	}
	for _, k := range terminal {
		assert.False(t, k.Retryable(), "kind %s", k)
	}
}

func TestErrorFormattingAndMeta(t *testing.T) {
	err := NewError(KindItemNotFound, "ebay", "item %s gone", "123").WithMeta("status", 404)
	assert.Equal(t, "ITEM_NOT_FOUND [ebay]: item 123 gone", err.Error())
	assert.Equal(t, 404, err.Meta["status"])

	cause := errors.New("dial tcp: refused")
	wrapped := WrapError(KindNetworkError, "jsonld", cause, "fetch failed")
	assert.Contains(t, wrapped.Error(), "NETWORK_ERROR")
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}

func TestKindOfThroughWrapping(t *testing.T) {
	inner := NewError(KindRateLimited, "ebay", "429 from api")
	outer := fmt.Errorf("ingest: %w", inner)

	assert.Equal(t, KindRateLimited, KindOf(outer))
	assert.True(t, IsKind(outer, KindRateLimited))
	assert.True(t, Retryable(outer))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestKindFromStatus(t *testing.T) {
	assert.Equal(t, KindItemNotFound, KindFromStatus(404))
	assert.Equal(t, KindInvalidSchema, KindFromStatus(401))
	assert.Equal(t, KindInvalidSchema, KindFromStatus(403))
	assert.Equal(t, KindRateLimited, KindFromStatus(429))
	assert.Equal(t, KindNetworkError, KindFromStatus(500))
	assert.Equal(t, KindNetworkError, KindFromStatus(503))
	assert.Equal(t, KindParseError, KindFromStatus(418))
}

func TestClassifyTransportError(t *testing.T) {
	err := ClassifyTransportError("jsonld", context.DeadlineExceeded)
	require.NotNil(t, err)
	assert.Equal(t, KindTimeout, err.Kind)

	err = ClassifyTransportError("jsonld", errors.New("connection reset"))
	assert.Equal(t, KindNetworkError, err.Kind)
}
