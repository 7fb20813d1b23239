// Package twitter fetches user timelines from the X API v2.
package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"itk-fetcher/pkg/itk"
)

const (
	defaultBaseURL = "https://api.twitter.com"
	maxPageSize    = 100 // Maximum for the user timeline endpoint
	maxRateWait    = 16 * time.Minute

	// Field selections and expansions are owned here; callers never see them.
	tweetFields = "created_at,text,author_id,public_metrics,entities,context_annotations,possibly_sensitive"
	expansions  = "attachments.media_keys,author_id"
	mediaFields = "url,preview_image_url,type,alt_text,height,width"
	userFields  = "username,name,verified"
)

// ErrUserNotFound indicates a handle could not be resolved to a user ID
// (deleted or renamed account). Distinct from transient network failures.
var ErrUserNotFound = errors.New("user not found")

// Client talks to the X API v2 using app-only bearer authentication.
// It owns rate-limit waits; callers see a request either succeed or fail.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	bearer     string
	ids        map[string]string // handle -> resolved user ID
}

// New creates a new API client.
func New(httpClient *http.Client, bearer string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    defaultBaseURL,
		bearer:     bearer,
		ids:        make(map[string]string),
	}
}

// Fetch returns up to one page of original tweets for handle, strictly newer
// than sinceID, newest first. Retweets and replies are excluded by request
// parameters. A full page may leave older unseen tweets behind; those are
// picked up on the next cycle once the watermark has advanced.
func (c *Client) Fetch(ctx context.Context, handle, sinceID string) ([]itk.Tweet, error) {
	userID, err := c.resolveUser(ctx, handle)
	if err != nil {
		return nil, err
	}
	return c.userTweets(ctx, handle, userID, sinceID)
}

// resolveUser resolves a handle to its stable user ID, caching the result for
// the lifetime of the client.
func (c *Client) resolveUser(ctx context.Context, handle string) (string, error) {
	if id, ok := c.ids[handle]; ok {
		return id, nil
	}

	endpoint := fmt.Sprintf("%s/2/users/by/username/%s", c.baseURL, url.PathEscape(handle))

	body, err := c.get(ctx, endpoint, "resolve_user")
	if err != nil {
		return "", fmt.Errorf("resolve @%s: %w", handle, err)
	}

	var resp struct {
		Data *struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
		Errors []struct {
			Title string `json:"title"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode user response: %w", err)
	}

	// The API reports unknown handles as a partial error with HTTP 200.
	if resp.Data == nil || resp.Data.ID == "" {
		c.logger.Warn("Account could not be resolved", "handle", handle)
		return "", fmt.Errorf("resolve @%s: %w", handle, ErrUserNotFound)
	}

	c.logger.Info("Account resolved", "handle", handle, "user_id", resp.Data.ID)
	c.ids[handle] = resp.Data.ID
	return resp.Data.ID, nil
}

func (c *Client) userTweets(ctx context.Context, handle, userID, sinceID string) ([]itk.Tweet, error) {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(maxPageSize))
	q.Set("exclude", "retweets,replies")
	q.Set("tweet.fields", tweetFields)
	q.Set("expansions", expansions)
	q.Set("media.fields", mediaFields)
	q.Set("user.fields", userFields)
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	endpoint := fmt.Sprintf("%s/2/users/%s/tweets?%s", c.baseURL, url.PathEscape(userID), q.Encode())

	body, err := c.get(ctx, endpoint, "user_timeline")
	if err != nil {
		return nil, fmt.Errorf("fetch timeline for @%s: %w", handle, err)
	}

	var resp timelineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode timeline response: %w", err)
	}

	if len(resp.Data) == 0 {
		c.logger.Info("No new tweets", "handle", handle)
		return nil, nil
	}

	media := make(map[string]itk.Media, len(resp.Includes.Media))
	for _, m := range resp.Includes.Media {
		media[m.MediaKey] = itk.Media{
			Type:       m.Type,
			URL:        m.URL,
			PreviewURL: m.PreviewImageURL,
			AltText:    m.AltText,
			Width:      m.Width,
			Height:     m.Height,
		}
	}

	handles := make(map[string]string, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		handles[u.ID] = u.Username
	}

	tweets := make([]itk.Tweet, 0, len(resp.Data))
	for _, t := range resp.Data {
		tweet := itk.Tweet{
			ID:           t.ID,
			Text:         t.Text,
			CreatedAt:    t.CreatedAt,
			AuthorID:     t.AuthorID,
			AuthorHandle: handles[t.AuthorID],
			Metrics: itk.Metrics{
				Retweets: t.PublicMetrics.RetweetCount,
				Replies:  t.PublicMetrics.ReplyCount,
				Likes:    t.PublicMetrics.LikeCount,
				Quotes:   t.PublicMetrics.QuoteCount,
			},
		}
		if tweet.AuthorHandle == "" {
			tweet.AuthorHandle = handle
		}
		for _, key := range t.Attachments.MediaKeys {
			if m, ok := media[key]; ok {
				tweet.Media = append(tweet.Media, m)
			}
		}
		tweet.Topics = topics(t.ContextAnnotations)
		tweets = append(tweets, tweet)
	}

	c.logger.Info("Tweets fetched",
		"handle", handle,
		"count", len(tweets),
		"newest_id", resp.Meta.NewestID,
		"since_id", sinceID)

	return tweets, nil
}

// get performs one authenticated GET with retry. Rate limiting is waited out
// here using the reset header, so callers only ever see success or failure.
func (c *Client) get(ctx context.Context, endpoint, purpose string) ([]byte, error) {
	var body []byte

	err := retry.Do(
		func() error {
			c.logger.Debug("Twitter API request starting",
				"method", "GET",
				"url", endpoint,
				"purpose", purpose)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Authorization", "Bearer "+c.bearer)
			req.Header.Set("User-Agent", "itk-fetcher/1.0")

			startTime := time.Now()
			resp, err := c.httpClient.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("Twitter API request failed, will retry",
					"url", endpoint,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Debug("Twitter API request completed",
				"url", endpoint,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				if waitErr := c.waitForRateLimit(ctx, resp.Header.Get("x-rate-limit-reset")); waitErr != nil {
					return retry.Unrecoverable(waitErr)
				}
				return fmt.Errorf("HTTP 429")
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				return retry.Unrecoverable(fmt.Errorf("HTTP %d: check bearer token", resp.StatusCode))
			case resp.StatusCode != http.StatusOK:
				c.logger.Warn("Twitter API returned non-OK status, will retry", "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response body: %w", err)
			}
			return nil
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying Twitter API request after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return body, nil
}

// waitForRateLimit sleeps until the window given by the reset header reopens.
func (c *Client) waitForRateLimit(ctx context.Context, resetHeader string) error {
	wait := time.Minute
	if resetHeader != "" {
		if resetUnix, err := strconv.ParseInt(resetHeader, 10, 64); err == nil {
			until := time.Until(time.Unix(resetUnix, 0))
			if until > 0 {
				wait = until
			}
		}
	}
	if wait > maxRateWait {
		return fmt.Errorf("rate limit reset %s away, giving up this call", wait.Round(time.Second))
	}

	c.logger.Warn("Rate limited, waiting for window reset", "wait", wait.Round(time.Second).String())

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func topics(annotations []contextAnnotation) []string {
	if len(annotations) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(annotations))
	var names []string
	for _, a := range annotations {
		if a.Entity.Name == "" || seen[a.Entity.Name] {
			continue
		}
		seen[a.Entity.Name] = true
		names = append(names, a.Entity.Name)
	}
	return names
}

// Wire types for the timeline endpoint.
type timelineResponse struct {
	Data     []apiTweet `json:"data"`
	Includes struct {
		Media []apiMedia `json:"media"`
		Users []apiUser  `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NewestID    string `json:"newest_id"`
	} `json:"meta"`
}

type apiTweet struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
	AuthorID      string    `json:"author_id"`
	PublicMetrics struct {
		RetweetCount int `json:"retweet_count"`
		ReplyCount   int `json:"reply_count"`
		LikeCount    int `json:"like_count"`
		QuoteCount   int `json:"quote_count"`
	} `json:"public_metrics"`
	Attachments struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
	ContextAnnotations []contextAnnotation `json:"context_annotations"`
}

type contextAnnotation struct {
	Domain struct {
		Name string `json:"name"`
	} `json:"domain"`
	Entity struct {
		Name string `json:"name"`
	} `json:"entity"`
}

type apiMedia struct {
	MediaKey        string `json:"media_key"`
	Type            string `json:"type"`
	URL             string `json:"url"`
	PreviewImageURL string `json:"preview_image_url"`
	AltText         string `json:"alt_text"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
}

type apiUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}
