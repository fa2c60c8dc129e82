package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealbrain/dealbrain/internal/persistence"
	"github.com/dealbrain/dealbrain/internal/telemetry"
)

type fakeDB struct {
	check persistence.HealthCheck
}

func (f fakeDB) Health(context.Context) persistence.HealthCheck { return f.check }
func (f fakeDB) Ping(context.Context) error {
	if f.check.Healthy {
		return nil
	}
	return errors.New("down")
}

func healthyDB() fakeDB {
	return fakeDB{check: persistence.HealthCheck{
		Healthy:        true,
		ConnectionPool: map[string]int{"open": 2, "in_use": 0, "idle": 2},
		LastCheck:      time.Now().UTC(),
		ResponseTimeMS: 3,
	}}
}

func getHealth(t *testing.T, srv *Server) (*httptest.ResponseRecorder, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHealthAllDependenciesUp(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")

	srv := New(":0", Deps{
		DB:       healthyDB(),
		Redis:    RedisPinger{RDB: rdb},
		Gatherer: prometheus.NewRegistry(),
		Version:  "test",
	}, zerolog.Nop())

	rec, resp := getHealth(t, srv)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, "pass", resp.Checks["database"].Status)
	assert.Equal(t, "pass", resp.Checks["redis"].Status)
	assert.True(t, resp.Database.Healthy)
	assert.Equal(t, 2, resp.Database.ConnectionPool["open"])
	assert.NotEmpty(t, resp.Uptime)
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-cache")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthRedisFailureDegrades(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.ExpectPing().SetErr(errors.New("connection refused"))

	srv := New(":0", Deps{
		DB:       healthyDB(),
		Redis:    RedisPinger{RDB: rdb},
		Gatherer: prometheus.NewRegistry(),
	}, zerolog.Nop())

	rec, resp := getHealth(t, srv)
	assert.Equal(t, http.StatusOK, rec.Code, "cache loss is not an outage")
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "fail", resp.Checks["redis"].Status)
	assert.Contains(t, resp.Checks["redis"].Message, "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthDatabaseFailureIsUnhealthy(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")

	db := fakeDB{check: persistence.HealthCheck{
		Healthy: false,
		Errors:  []string{"ping failed: connection reset"},
	}}
	srv := New(":0", Deps{
		DB:       db,
		Redis:    RedisPinger{RDB: rdb},
		Gatherer: prometheus.NewRegistry(),
	}, zerolog.Nop())

	rec, resp := getHealth(t, srv)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "fail", resp.Checks["database"].Status)
	assert.Equal(t, "ping failed: connection reset", resp.Checks["database"].Message)
}

func TestHealthWithoutRedis(t *testing.T) {
	srv := New(":0", Deps{
		DB:       healthyDB(),
		Gatherer: prometheus.NewRegistry(),
	}, zerolog.Nop())

	rec, resp := getHealth(t, srv)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "skip", resp.Checks["redis"].Status)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewWithRegistry(reg)
	m.RecordIngest("ebay_api", "created")
	m.RecordValuation()

	srv := New(":0", Deps{DB: healthyDB(), Gatherer: reg}, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `dealbrain_ingest_total{adapter="ebay_api",outcome="created"} 1`)
	assert.Contains(t, body, "dealbrain_valuations_total 1")
}

func TestMethodNotAllowed(t *testing.T) {
	srv := New(":0", Deps{DB: healthyDB(), Gatherer: prometheus.NewRegistry()}, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", strings.NewReader("{}")))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
