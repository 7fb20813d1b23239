// Package main implements a collector that polls a fixed roster of ITK
// Twitter accounts on a fixed interval and writes newly seen tweets as
// timestamped batch files.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"itk-fetcher/config"
	"itk-fetcher/fetch"
	"itk-fetcher/scrape"
	"itk-fetcher/store"
	"itk-fetcher/twitter"
)

const defaultInterval = time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	accounts, err := config.Load(os.Getenv("ACCOUNTS_FILE"))
	if err != nil {
		logger.Error("Failed to load account roster", "error", err)
		os.Exit(1)
	}

	// Source selection: the API client unless a mirror is configured.
	var source fetch.Source
	if mirror := os.Getenv("SCRAPE_BASE_URL"); mirror != "" {
		logger.Info("Using mirror scrape source", "base_url", mirror)
		source = scrape.New(&http.Client{Timeout: 30 * time.Second}, mirror, logger)
	} else {
		bearer := os.Getenv("TWITTER_BEARER_TOKEN")
		if bearer == "" {
			logger.Error("TWITTER_BEARER_TOKEN environment variable required")
			os.Exit(1)
		}
		source = twitter.New(&http.Client{Timeout: 30 * time.Second}, bearer, logger)
	}

	// Check for local development mode
	localStorage := os.Getenv("LOCAL_STORAGE")
	bucket := os.Getenv("STORAGE_BUCKET")

	// Default to local development mode if no bucket specified
	if bucket == "" && localStorage == "" {
		localStorage = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local development mode", "storage_path", localStorage)
	}

	var st *store.Store
	if localStorage != "" {
		logger.Info("Running in local development mode", "storage_path", localStorage)
		if err := os.MkdirAll(localStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
		st = store.New(nil, "", localStorage, logger)
	} else {
		var opts []option.ClientOption
		if credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON"); credsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(credsJSON)))
		}
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
		st = store.New(client, bucket, "", logger)
	}

	if batches, err := st.ListBatches(ctx); err != nil {
		logger.Warn("Failed to list existing batches", "error", err)
	} else {
		logger.Info("Existing batches found", "count", len(batches))
	}

	interval := defaultInterval
	if v := os.Getenv("FETCH_INTERVAL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			logger.Error("Invalid FETCH_INTERVAL", "value", v, "error", err)
			os.Exit(1)
		}
		interval = parsed
	}

	collector := &Collector{
		fetcher: fetch.New(source, st, st, accounts, logger),
		logger:  logger,
	}

	go collector.serve()

	logger.Info("ITK fetcher starting",
		"accounts", len(accounts),
		"interval", interval.String())

	// Run once at startup, then on the fixed interval until interrupted.
	collector.runCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, stopping scheduler")
			return
		case <-ticker.C:
			collector.runCycle(ctx)
		}
	}
}
