package postgres

import (
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealbrain/dealbrain/internal/apperr"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestMapErrClassifiesDriverErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"unique violation", &pq.Error{Code: "23505"}, apperr.KindConflict},
		{"undefined table", &pq.Error{Code: "42P01"}, apperr.KindDBSchema},
		{"undefined column", &pq.Error{Code: "42703"}, apperr.KindDBSchema},
		{"connection failure", &pq.Error{Code: "08006"}, apperr.KindDBUnavailable},
		{"too many connections", &pq.Error{Code: "53300"}, apperr.KindDBUnavailable},
		{"admin shutdown", &pq.Error{Code: "57P01"}, apperr.KindDBUnavailable},
		{"bad conn", driver.ErrBadConn, apperr.KindDBUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapErr("op", tt.err)
			assert.True(t, apperr.IsKind(got, tt.want), "got %v", got)
			assert.ErrorContains(t, got, "op")
		})
	}
}

func TestMapErrWrapsUnknownErrors(t *testing.T) {
	cause := errors.New("boom")
	got := mapErr("insert listing", cause)

	assert.Equal(t, apperr.Kind(""), apperr.KindOf(got))
	assert.ErrorIs(t, got, cause)
	assert.ErrorContains(t, got, "insert listing")

	// Check constraint violations stay unclassified too.
	got = mapErr("op", &pq.Error{Code: "23514"})
	assert.Equal(t, apperr.Kind(""), apperr.KindOf(got))
}

func TestMapErrNil(t *testing.T) {
	assert.NoError(t, mapErr("op", nil))
}

func TestMarshalMapEmptyBecomesNull(t *testing.T) {
	b, err := marshalMap("op", nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = marshalMap("op", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestUnmarshalMapRoundTrip(t *testing.T) {
	b, err := marshalMap("op", map[string]any{"system_baseline": true})
	require.NoError(t, err)

	m, err := unmarshalMap("op", b)
	require.NoError(t, err)
	assert.Equal(t, true, m["system_baseline"])

	m, err = unmarshalMap("op", nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestRequireAffected(t *testing.T) {
	assert.NoError(t, requireAffected("op", sqlmock.NewResult(0, 1)))

	err := requireAffected("op", sqlmock.NewResult(0, 0))
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound), "got %v", err)
}
