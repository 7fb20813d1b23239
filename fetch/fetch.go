// Package fetch runs collection cycles across the tracked accounts.
package fetch

import (
	"context"
	"log/slog"
	"time"

	"itk-fetcher/pkg/itk"
)

// Source interface for fetching an account's timeline.
type Source interface {
	// Fetch returns tweets strictly newer than sinceID, newest first,
	// bounded to one page. An empty sinceID means no lower bound.
	Fetch(ctx context.Context, handle, sinceID string) ([]itk.Tweet, error)
}

// Store interface for watermark persistence.
type Store interface {
	LoadWatermarks(ctx context.Context) (map[string]string, error)
	SaveWatermarks(ctx context.Context, watermarks map[string]string) error
}

// Writer interface for batch persistence.
type Writer interface {
	WriteBatch(ctx context.Context, batch *itk.Batch) (string, error)
}

// Fetcher walks the account roster once per Run, collecting new tweets and
// advancing per-account watermarks.
type Fetcher struct {
	source   Source
	store    Store
	writer   Writer
	logger   *slog.Logger
	accounts []itk.Account
}

// New creates a new fetcher over the given roster.
func New(source Source, store Store, writer Writer, accounts []itk.Account, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		source:   source,
		store:    store,
		writer:   writer,
		logger:   logger,
		accounts: accounts,
	}
}

// Run executes one fetch cycle. A single account's failure never aborts the
// cycle; the only error returned is context cancellation. Watermarks are
// saved even when the batch write fails: the watermark bounds the next
// cycle's request volume, and losing one batch is the documented tradeoff.
func (f *Fetcher) Run(ctx context.Context) error {
	now := time.Now().UTC()
	f.logger.Info("Starting fetch cycle", "accounts", len(f.accounts), "timestamp", now.Format(time.RFC3339))

	watermarks, err := f.store.LoadWatermarks(ctx)
	if err != nil {
		f.logger.Warn("Failed to load watermarks, fetching without since bounds", "error", err)
		watermarks = map[string]string{}
	}

	var records []itk.Record
	covered := make([]string, 0, len(f.accounts))

	for _, acct := range f.accounts {
		select {
		case <-ctx.Done():
			f.logger.Info("Context cancelled, abandoning fetch cycle", "error", ctx.Err())
			return ctx.Err()
		default:
		}

		covered = append(covered, acct.Handle)
		sinceID := watermarks[acct.Handle]

		tweets, err := f.source.Fetch(ctx, acct.Handle, sinceID)
		if err != nil {
			// Watermark untouched; the account is retried next cycle.
			f.logger.Warn("Account fetch failed", "handle", acct.Handle, "since_id", sinceID, "error", err)
			continue
		}
		if len(tweets) == 0 {
			continue
		}

		for _, t := range tweets {
			records = append(records, Normalize(t, acct))
		}

		// Newest first: the head of the page becomes the new watermark.
		watermarks[acct.Handle] = tweets[0].ID
		f.logger.Info("New tweets collected",
			"handle", acct.Handle,
			"count", len(tweets),
			"watermark", tweets[0].ID,
			"previous", sinceID)
	}

	if len(records) > 0 {
		batch := &itk.Batch{
			Timestamp:  now.Format("20060102_150405"),
			FetchTime:  now,
			TweetCount: len(records),
			Accounts:   covered,
			Tweets:     records,
		}
		location, err := f.writer.WriteBatch(ctx, batch)
		if err != nil {
			// Accepted data loss: these tweets are not re-fetched once the
			// watermarks advance below.
			f.logger.Error("Batch write failed, tweets from this cycle are dropped", "tweet_count", len(records), "error", err)
		} else {
			f.logger.Info("Batch written", "location", location, "tweet_count", len(records))
		}
	} else {
		f.logger.Info("No new tweets found in this fetch cycle")
	}

	if err := f.store.SaveWatermarks(ctx, watermarks); err != nil {
		f.logger.Error("Failed to save watermarks, next cycle may re-fetch tweets", "error", err)
	}

	f.logger.Info("Fetch cycle complete", "new_tweets", len(records), "accounts", len(f.accounts))
	return nil
}
