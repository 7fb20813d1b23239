package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"itk-fetcher/fetch"
)

// Collector wires the fetcher to the scheduler and the HTTP trigger. The
// mutex guarantees cycles never overlap, whichever side starts one.
type Collector struct {
	fetcher *fetch.Fetcher
	logger  *slog.Logger
	mu      sync.Mutex
}

// runCycle runs one fetch cycle unless another is already in flight.
func (c *Collector) runCycle(ctx context.Context) {
	if !c.tryRun(ctx) {
		c.logger.Warn("Fetch cycle already in progress, skipping")
	}
}

// tryRun reports whether it actually ran a cycle.
func (c *Collector) tryRun(ctx context.Context) bool {
	if !c.mu.TryLock() {
		return false
	}
	defer c.mu.Unlock()

	if err := c.fetcher.Run(ctx); err != nil {
		c.logger.Warn("Fetch cycle abandoned", "error", err)
	}
	return true
}

// serve exposes the health check and a manual fetch trigger.
func (c *Collector) serve() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/fetchz", c.handleFetch)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	c.logger.Info("Starting HTTP server", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		c.logger.Error("Server failed", "error", err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "healthy"}); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (c *Collector) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c.logger.Info("Manual fetch triggered")

	if !c.tryRun(r.Context()) {
		http.Error(w, "Fetch cycle already in progress", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, `{"status":"completed"}`); err != nil {
		c.logger.Warn("Failed to write response", "error", err)
	}
}
