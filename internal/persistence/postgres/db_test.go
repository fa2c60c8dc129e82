package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPingableDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestHealthCheckerHealthy(t *testing.T) {
	db, mock := newPingableDB(t)
	h := &healthChecker{db: db, timeout: 5 * time.Second}

	mock.ExpectPing()

	check := h.Health(context.Background())
	assert.True(t, check.Healthy)
	assert.Empty(t, check.Errors)
	assert.Contains(t, check.ConnectionPool, "open")
	assert.GreaterOrEqual(t, check.ResponseTimeMS, int64(0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheckerPingFailure(t *testing.T) {
	db, mock := newPingableDB(t)
	h := &healthChecker{db: db, timeout: 5 * time.Second}

	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)

	check := h.Health(context.Background())
	assert.False(t, check.Healthy)
	require.Len(t, check.Errors, 1)
	assert.Contains(t, check.Errors[0], "ping failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheckerPing(t *testing.T) {
	db, mock := newPingableDB(t)
	h := &healthChecker{db: db, timeout: 5 * time.Second}

	mock.ExpectPing()
	assert.NoError(t, h.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
