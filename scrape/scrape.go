// Package scrape fetches user timelines from a self-hosted HTML mirror.
// It implements the same contract as the API client and exists so the
// collector can run without API credentials, typically in development.
package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"itk-fetcher/pkg/itk"
)

// timeLayout matches the tooltip format used by mirror timelines.
const timeLayout = "Jan 2, 2006 · 3:04 PM MST"

// Client scrapes a mirror timeline page per account.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// New creates a new mirror scraper rooted at baseURL.
func New(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// Fetch returns tweets for handle strictly newer than sinceID, newest first.
// Reshares and replies are dropped during parsing; engagement counters and
// media come from whatever the mirror exposes.
func (c *Client) Fetch(ctx context.Context, handle, sinceID string) ([]itk.Tweet, error) {
	pageURL := fmt.Sprintf("%s/%s", c.baseURL, handle)

	body, err := c.fetchPage(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch timeline for @%s: %w", handle, err)
	}

	tweets, err := parseTimeline(body, handle, sinceID)
	if err != nil {
		return nil, fmt.Errorf("parse timeline for @%s: %w", handle, err)
	}

	c.logger.Info("Timeline scraped", "handle", handle, "count", len(tweets), "since_id", sinceID)
	return tweets, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (data []byte, err error) {
	err = retry.Do(
		func() error {
			c.logger.Debug("HTTP request starting",
				"method", "GET",
				"url", pageURL,
				"purpose", "fetch_timeline_page")

			req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if reqErr != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", reqErr))
			}
			req.Header.Set("User-Agent", "itk-fetcher/1.0")
			req.Header.Set("Accept", "text/html,application/xhtml+xml")

			startTime := time.Now()
			resp, doErr := c.httpClient.Do(req)
			duration := time.Since(startTime)

			if doErr != nil {
				c.logger.Warn("HTTP request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", doErr)
				return doErr
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Debug("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode == http.StatusNotFound {
				return retry.Unrecoverable(fmt.Errorf("HTTP 404: unknown account"))
			}
			if resp.StatusCode != http.StatusOK {
				c.logger.Warn("HTTP request returned non-OK status, will retry", "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			var readErr error
			data, readErr = io.ReadAll(resp.Body)
			if readErr != nil {
				return fmt.Errorf("read response body: %w", readErr)
			}
			return nil
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			c.logger.Info("Retrying page fetch after error", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return data, nil
}

func parseTimeline(body []byte, handle, sinceID string) ([]itk.Tweet, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	var tweets []itk.Tweet
	doc.Find(".timeline-item").Each(func(_ int, s *goquery.Selection) {
		// Original content only: drop reshares and replies.
		if s.Find(".retweet-header").Length() > 0 || s.Find(".replying-to").Length() > 0 {
			return
		}

		href, ok := s.Find("a.tweet-link").First().Attr("href")
		if !ok {
			return
		}
		id := tweetIDFromPath(href)
		if id == "" {
			return
		}
		if sinceID != "" && !newerThan(id, sinceID) {
			return
		}

		tweet := itk.Tweet{
			ID:           id,
			Text:         strings.TrimSpace(s.Find(".tweet-content").First().Text()),
			AuthorHandle: handle,
		}

		if title, ok := s.Find(".tweet-date a").First().Attr("title"); ok {
			if ts, parseErr := time.Parse(timeLayout, title); parseErr == nil {
				tweet.CreatedAt = ts.UTC()
			}
		}

		s.Find(".tweet-stats .tweet-stat").Each(func(_ int, stat *goquery.Selection) {
			n := statCount(stat.Text())
			switch {
			case stat.Find(".icon-comment").Length() > 0:
				tweet.Metrics.Replies = n
			case stat.Find(".icon-retweet").Length() > 0:
				tweet.Metrics.Retweets = n
			case stat.Find(".icon-quote").Length() > 0:
				tweet.Metrics.Quotes = n
			case stat.Find(".icon-heart").Length() > 0:
				tweet.Metrics.Likes = n
			}
		})

		s.Find(".attachments .still-image").Each(func(_ int, img *goquery.Selection) {
			if src, ok := img.Attr("href"); ok {
				tweet.Media = append(tweet.Media, itk.Media{Type: "photo", URL: src})
			}
		})

		tweets = append(tweets, tweet)
	})

	return tweets, nil
}

// tweetIDFromPath extracts the status ID from a permalink like
// "/SomeHandle/status/1234567890#m".
func tweetIDFromPath(href string) string {
	idx := strings.Index(href, "/status/")
	if idx < 0 {
		return ""
	}
	id := href[idx+len("/status/"):]
	if cut := strings.IndexAny(id, "#?/"); cut >= 0 {
		id = id[:cut]
	}
	return id
}

// newerThan reports whether tweet ID a is newer than b. Snowflake IDs grow
// monotonically, so numeric comparison is ordering by creation time.
func newerThan(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na > nb
	}
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

func statCount(s string) int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
