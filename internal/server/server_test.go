package server

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linetally/internal/config"
	"linetally/internal/count"
	"linetally/internal/detect"
	"linetally/internal/pipeline"
	"linetally/internal/storage"
	"linetally/internal/ws"
)

type emptySource struct{}

func (emptySource) Next(ctx context.Context) (image.Image, error) { return nil, io.EOF }

type noopDetector struct{}

func (noopDetector) Detect(ctx context.Context, img image.Image) ([]detect.Detection, error) {
	return nil, nil
}
func (noopDetector) Close() error { return nil }

func testPipelineConfig() *config.Config {
	startY, endX, endY := 100.0, 200.0, 100.0
	zero := 0.0
	return &config.Config{
		Counting: config.CountingConfig{
			StartX: &zero, StartY: &startY,
			EndX: &endX, EndY: &endY,
		},
	}
}

func newTestServer(t *testing.T, store *storage.Store) *Server {
	t.Helper()
	cfg := testPipelineConfig()
	pipe := pipeline.New(cfg, noopDetector{}, pipeline.Options{Store: store})
	require.NoError(t, pipe.Run(context.Background(), emptySource{}))
	return New(pipe, store, ws.NewHub())
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := storage.Open(filepath.Join(dir, "events.db"), filepath.Join(dir, "csv"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedEvents(t *testing.T, s *storage.Store) {
	t.Helper()
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s.Enqueue([]count.CrossingEvent{
		{ID: uuid.NewString(), Timestamp: ts, Direction: "in", TrackID: 1},
		{ID: uuid.NewString(), Timestamp: ts.Add(time.Minute), Direction: "out", TrackID: 2},
	})
	// The writer is async; wait for both rows to land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := s.Events("2025-06-01", 10)
		require.NoError(t, err)
		if len(events) == 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("events not persisted in time, have %d", len(events))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatsSnapshot(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var snap pipeline.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(0), snap.Totals.In)
}

func TestEventsEndpoint(t *testing.T) {
	store := openStore(t)
	seedEvents(t, store)
	srv := newTestServer(t, store)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?day=2025-06-01", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var events []storage.EventRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "out", events[0].Direction)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?day=someday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsWithoutStore(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRollupEndpoint(t *testing.T) {
	store := openStore(t)
	seedEvents(t, store)
	_, err := store.RollupDay("2025-06-01")
	require.NoError(t, err)
	srv := newTestServer(t, store)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rollups?day=2025-06-01", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var rollup storage.Rollup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rollup))
	assert.Equal(t, int64(1), rollup.In)
	assert.Equal(t, int64(1), rollup.Out)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rollups?day=2024-01-01", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportEndpoint(t *testing.T) {
	store := openStore(t)
	seedEvents(t, store)
	srv := newTestServer(t, store)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/export?day=2025-06-01", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["path"], "2025-06-01_counts.csv")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export?day=2025-06-01", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
