package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpadapter "github.com/agxdata/nyc311-weather-etl/internal/adapter/http"
	"github.com/agxdata/nyc311-weather-etl/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStatus struct {
	err  error
	last *pipeline.RunStatus
}

func (m *mockStatus) CheckReadiness(_ context.Context) error { return m.err }

func (m *mockStatus) LastRun() (pipeline.RunStatus, bool) {
	if m.last == nil {
		return pipeline.RunStatus{}, false
	}
	return *m.last, true
}

type mockTrigger struct {
	accept bool
	calls  int
}

func (m *mockTrigger) TriggerRun() bool {
	m.calls++
	return m.accept
}

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockStatus{err: readyErr}, nil, slog.Default())
}

func serve(srv *httpadapter.Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil), http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := serve(newTestServer(nil), http.MethodGet, "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := serve(newTestServer(fmt.Errorf("pipeline has not completed a run yet")), http.MethodGet, "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "pipeline has not completed a run yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil), http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestLatestRun(t *testing.T) {
	t.Run("no run yet", func(t *testing.T) {
		rec := serve(newTestServer(nil), http.MethodGet, "/runs/latest")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("finished run", func(t *testing.T) {
		started := time.Date(2025, 10, 1, 3, 0, 0, 0, time.UTC)
		finished := started.Add(90 * time.Second)
		status := &mockStatus{last: &pipeline.RunStatus{
			RunID: "run-1", StartedAt: started, FinishedAt: &finished, Outcome: pipeline.OutcomeSuccess,
		}}
		srv := httpadapter.NewServer(":0", status, nil, slog.Default())

		rec := serve(srv, http.MethodGet, "/runs/latest")
		require.Equal(t, http.StatusOK, rec.Code)

		var got pipeline.RunStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, pipeline.OutcomeSuccess, got.Outcome)
		assert.True(t, finished.Equal(*got.FinishedAt))
	})
}

func TestTriggerRun(t *testing.T) {
	trigger := &mockTrigger{accept: true}
	srv := httpadapter.NewServer(":0", &mockStatus{}, trigger, slog.Default())

	rec := serve(srv, http.MethodPost, "/runs")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	trigger.accept = false
	rec = serve(srv, http.MethodPost, "/runs")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 2, trigger.calls)
}

func TestTriggerRunDisabled(t *testing.T) {
	rec := serve(newTestServer(nil), http.MethodPost, "/runs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
