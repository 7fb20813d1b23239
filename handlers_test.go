package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"itk-fetcher/fetch"
	"itk-fetcher/pkg/itk"
)

type stubSource struct {
	calls atomic.Int32
}

func (s *stubSource) Fetch(context.Context, string, string) ([]itk.Tweet, error) {
	s.calls.Add(1)
	return nil, nil
}

type stubStore struct{}

func (stubStore) LoadWatermarks(context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

func (stubStore) SaveWatermarks(context.Context, map[string]string) error {
	return nil
}

type stubWriter struct{}

func (stubWriter) WriteBatch(_ context.Context, batch *itk.Batch) (string, error) {
	return "tweets/" + batch.Timestamp + ".json", nil
}

func newTestCollector(source fetch.Source) *Collector {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	accounts := []itk.Account{{Handle: "FabrizioRomano", Name: "Fabrizio Romano", Reliability: 0.95, Tier: 1}}
	return &Collector{
		fetcher: fetch.New(source, stubStore{}, stubWriter{}, accounts, logger),
		logger:  logger,
	}
}

func TestHandleHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("body = %q, want health status", w.Body.String())
	}
}

func TestHandleHealthMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()

	handleHealth(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleFetch(t *testing.T) {
	source := &stubSource{}
	c := newTestCollector(source)

	req := httptest.NewRequest(http.MethodPost, "/fetchz", nil)
	w := httptest.NewRecorder()

	c.handleFetch(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "completed") {
		t.Errorf("body = %q, want completion status", w.Body.String())
	}
	if source.calls.Load() != 1 {
		t.Errorf("source fetched %d times, want 1", source.calls.Load())
	}
}

func TestHandleFetchMethodNotAllowed(t *testing.T) {
	c := newTestCollector(&stubSource{})

	req := httptest.NewRequest(http.MethodGet, "/fetchz", nil)
	w := httptest.NewRecorder()

	c.handleFetch(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

// TestHandleFetchConflict verifies a trigger while a cycle is in flight is
// refused rather than queued.
func TestHandleFetchConflict(t *testing.T) {
	source := &stubSource{}
	c := newTestCollector(source)

	c.mu.Lock()
	defer c.mu.Unlock()

	req := httptest.NewRequest(http.MethodPost, "/fetchz", nil)
	w := httptest.NewRecorder()

	c.handleFetch(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if source.calls.Load() != 0 {
		t.Errorf("source fetched %d times during held lock, want 0", source.calls.Load())
	}
}

// TestRunCycleSkipsWhenBusy verifies the scheduler path also refuses to
// overlap cycles.
func TestRunCycleSkipsWhenBusy(t *testing.T) {
	source := &stubSource{}
	c := newTestCollector(source)

	c.mu.Lock()
	c.runCycle(context.Background())
	c.mu.Unlock()

	if source.calls.Load() != 0 {
		t.Errorf("source fetched %d times while busy, want 0", source.calls.Load())
	}

	c.runCycle(context.Background())
	if source.calls.Load() != 1 {
		t.Errorf("source fetched %d times when free, want 1", source.calls.Load())
	}
}
