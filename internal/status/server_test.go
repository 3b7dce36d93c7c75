package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/sqs-dispatcher/sqsjobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStats sqsjobs.Stats

func (f fakeStats) Stats() sqsjobs.Stats {
	return sqsjobs.Stats(f)
}

type fakeQueue struct {
	state *sqsjobs.QueueState
	err   error
}

func (f *fakeQueue) State(context.Context) (*sqsjobs.QueueState, error) {
	return f.state, f.err
}

func TestHealthz(t *testing.T) {
	q := &fakeQueue{state: &sqsjobs.QueueState{Queue: "https://q", Active: 4}}
	srv := New(Config{}, fakeStats{}, q, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(4), resp.Queue.Active)
}

func TestHealthzDegraded(t *testing.T) {
	q := &fakeQueue{err: errors.Str("throttled")}
	srv := New(Config{}, fakeStats{}, q, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "throttled", resp.Error)
}

func TestStats(t *testing.T) {
	srv := New(Config{}, fakeStats{Cycles: 3, Received: 10, Acknowledged: 9}, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var st sqsjobs.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, sqsjobs.Stats{Cycles: 3, Received: 10, Acknowledged: 9}, st)
}

func TestStartStopsWithContext(t *testing.T) {
	srv := New(Config{Address: "127.0.0.1:0"}, fakeStats{}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Start(ctx)
	}()

	cancel()
	require.NoError(t, <-done)
}
