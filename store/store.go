// Package store persists watermark state and batch artifacts.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"itk-fetcher/pkg/itk"
)

const (
	watermarkKey = "last_seen.json"
	batchPrefix  = "tweets/"
)

// Store reads and writes collector state, either in a Cloud Storage bucket
// or under a local directory for development.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	cycleSeq  atomic.Uint64 // disambiguates batches started within one second
}

// New creates a new store. Exactly one of bucket or localPath should be set;
// localPath wins when both are.
func New(client *storage.Client, bucket, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// LoadWatermarks reads the last-seen tweet ID per handle. Absent state is a
// normal first run and loads as an empty map. Corrupt state also degrades to
// an empty map, which re-fetches whatever the source still serves.
func (s *Store) LoadWatermarks(ctx context.Context) (map[string]string, error) {
	data, err := s.read(ctx, watermarkKey)
	if err != nil {
		if isNotFound(err) {
			s.logger.Info("No prior watermark state, starting fresh")
			return map[string]string{}, nil
		}
		return map[string]string{}, fmt.Errorf("load watermarks: %w", err)
	}

	watermarks := make(map[string]string)
	if err := json.Unmarshal(data, &watermarks); err != nil {
		s.logger.Warn("Watermark state is corrupt, starting fresh", "error", err)
		return map[string]string{}, nil
	}

	s.logger.Info("Watermark state loaded", "accounts", len(watermarks))
	return watermarks, nil
}

// SaveWatermarks overwrites the persisted watermark map.
func (s *Store) SaveWatermarks(ctx context.Context, watermarks map[string]string) error {
	data, err := json.MarshalIndent(watermarks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal watermarks: %w", err)
	}

	if err := s.write(ctx, watermarkKey, data); err != nil {
		return fmt.Errorf("save watermarks: %w", err)
	}

	s.logger.Info("Watermark state saved", "accounts", len(watermarks))
	return nil
}

// WriteBatch persists one cycle's batch and returns its location. A batch
// with no tweets is never written; the empty location signals the no-op.
func (s *Store) WriteBatch(ctx context.Context, batch *itk.Batch) (string, error) {
	if len(batch.Tweets) == 0 {
		s.logger.Info("No new tweets this cycle, skipping batch write")
		return "", nil
	}

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal batch: %w", err)
	}

	key := s.batchKey(batch.Timestamp)
	if err := s.write(ctx, key, data); err != nil {
		return "", fmt.Errorf("write batch: %w", err)
	}

	s.logger.Info("Batch saved", "key", key, "tweet_count", batch.TweetCount)
	return key, nil
}

// ListBatches returns the keys of all persisted batches.
func (s *Store) ListBatches(ctx context.Context) ([]string, error) {
	var keys []string

	if s.localPath != "" {
		entries, err := os.ReadDir(filepath.Join(s.localPath, strings.TrimSuffix(batchPrefix, "/")))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("read local batch directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			keys = append(keys, batchPrefix+entry.Name())
		}
		return keys, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix: batchPrefix,
	})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		keys = append(keys, attrs.Name)
	}

	return keys, nil
}

// batchKey derives a fresh object key from the cycle timestamp. The sequence
// number keeps keys unique even if two cycles start within the same second.
func (s *Store) batchKey(timestamp string) string {
	seq := s.cycleSeq.Add(1)
	return fmt.Sprintf("%stweets_%s_%04d.json", batchPrefix, timestamp, seq)
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	// Local filesystem storage
	if s.localPath != "" {
		data, err := os.ReadFile(filepath.Join(s.localPath, filepath.FromSlash(key)))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errStorageNotFound
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	// Cloud Storage with retry logic for reliability
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(errStorageNotFound)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, errStorageNotFound) {
			return nil, errStorageNotFound
		}
		return nil, fmt.Errorf("load after retries: %w", err)
	}

	return data, nil
}

func (s *Store) write(ctx context.Context, key string, data []byte) error {
	// Local filesystem storage; rename keeps readers from seeing a torn file.
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return fmt.Errorf("create local storage directory: %w", err)
		}
		tmpPath := filePath + ".tmp"
		if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		if err := os.Rename(tmpPath, filePath); err != nil {
			return fmt.Errorf("finalize local write: %w", err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	return nil
}

var errStorageNotFound = errors.New("storage: object doesn't exist")

func isNotFound(err error) bool {
	return errors.Is(err, errStorageNotFound)
}
