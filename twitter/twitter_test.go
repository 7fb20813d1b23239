package twitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const userJSON = `{"data":{"id":"330262748","name":"Fabrizio Romano","username":"FabrizioRomano"}}`

const timelineJSON = `{
  "data": [
    {
      "id": "1960000000000000002",
      "text": "Here we go!",
      "created_at": "2025-08-25T14:30:00.000Z",
      "author_id": "330262748",
      "public_metrics": {"retweet_count": 1200, "reply_count": 300, "like_count": 9000, "quote_count": 150},
      "attachments": {"media_keys": ["3_111"]},
      "context_annotations": [
        {"domain": {"name": "Sports"}, "entity": {"name": "Football"}},
        {"domain": {"name": "Person"}, "entity": {"name": "Football"}}
      ]
    },
    {
      "id": "1960000000000000001",
      "text": "Medical booked.",
      "created_at": "2025-08-25T13:00:00.000Z",
      "author_id": "330262748"
    }
  ],
  "includes": {
    "media": [
      {"media_key": "3_111", "type": "photo", "url": "https://pbs.example/img.jpg", "alt_text": "announcement", "width": 1200, "height": 675}
    ],
    "users": [
      {"id": "330262748", "name": "Fabrizio Romano", "username": "FabrizioRomano"}
    ]
  },
  "meta": {"result_count": 2, "newest_id": "1960000000000000002"}
}`

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(srv.Client(), "test-token", testLogger())
	c.baseURL = srv.URL
	return c
}

func TestFetch(t *testing.T) {
	var gotSinceID, gotExclude, gotAuth string

	mux := http.NewServeMux()
	mux.HandleFunc("/2/users/by/username/FabrizioRomano", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, userJSON)
	})
	mux.HandleFunc("/2/users/330262748/tweets", func(w http.ResponseWriter, r *http.Request) {
		gotSinceID = r.URL.Query().Get("since_id")
		gotExclude = r.URL.Query().Get("exclude")
		fmt.Fprint(w, timelineJSON)
	})

	c := newTestClient(t, mux)

	tweets, err := c.Fetch(context.Background(), "FabrizioRomano", "1950000000000000000")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization header = %q, want bearer token", gotAuth)
	}
	if gotSinceID != "1950000000000000000" {
		t.Errorf("since_id = %q, want watermark passed through", gotSinceID)
	}
	if gotExclude != "retweets,replies" {
		t.Errorf("exclude = %q, want retweets,replies", gotExclude)
	}

	if len(tweets) != 2 {
		t.Fatalf("got %d tweets, want 2", len(tweets))
	}

	first := tweets[0]
	if first.ID != "1960000000000000002" {
		t.Errorf("first tweet ID = %q, want newest first", first.ID)
	}
	if first.AuthorHandle != "FabrizioRomano" {
		t.Errorf("author handle = %q, want resolved from includes", first.AuthorHandle)
	}
	if first.Metrics.Likes != 9000 || first.Metrics.Retweets != 1200 {
		t.Errorf("metrics = %+v, want counters mapped", first.Metrics)
	}
	if len(first.Media) != 1 || first.Media[0].URL != "https://pbs.example/img.jpg" {
		t.Errorf("media = %+v, want resolved from includes", first.Media)
	}
	if first.Media[0].AltText != "announcement" || first.Media[0].Width != 1200 {
		t.Errorf("media detail = %+v, want alt text and dimensions", first.Media[0])
	}
	if len(first.Topics) != 1 || first.Topics[0] != "Football" {
		t.Errorf("topics = %v, want deduplicated entity names", first.Topics)
	}
	want := time.Date(2025, 8, 25, 14, 30, 0, 0, time.UTC)
	if !first.CreatedAt.Equal(want) {
		t.Errorf("created_at = %v, want %v", first.CreatedAt, want)
	}

	second := tweets[1]
	if len(second.Media) != 0 || len(second.Topics) != 0 {
		t.Errorf("tweet without attachments got media %v topics %v", second.Media, second.Topics)
	}
}

func TestFetchEmptyTimeline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/2/users/by/username/FabrizioRomano", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, userJSON)
	})
	mux.HandleFunc("/2/users/330262748/tweets", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"meta":{"result_count":0}}`)
	})

	c := newTestClient(t, mux)

	tweets, err := c.Fetch(context.Background(), "FabrizioRomano", "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(tweets) != 0 {
		t.Errorf("got %d tweets, want 0", len(tweets))
	}
}

func TestFetchUserNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/2/users/by/username/GhostAccount", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"errors":[{"title":"Not Found Error","detail":"Could not find user"}]}`)
	})

	c := newTestClient(t, mux)

	_, err := c.Fetch(context.Background(), "GhostAccount", "")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Fetch() error = %v, want ErrUserNotFound", err)
	}
}

// TestResolveUserCached verifies the handle is resolved once per process.
func TestResolveUserCached(t *testing.T) {
	var resolves atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/2/users/by/username/FabrizioRomano", func(w http.ResponseWriter, _ *http.Request) {
		resolves.Add(1)
		fmt.Fprint(w, userJSON)
	})
	mux.HandleFunc("/2/users/330262748/tweets", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"meta":{"result_count":0}}`)
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	for range 3 {
		if _, err := c.Fetch(ctx, "FabrizioRomano", ""); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}

	if got := resolves.Load(); got != 1 {
		t.Errorf("user resolved %d times, want 1", got)
	}
}

// TestFetchRateLimited verifies a 429 is waited out and the call retried.
func TestFetchRateLimited(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/2/users/by/username/FabrizioRomano", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, userJSON)
	})
	mux.HandleFunc("/2/users/330262748/tweets", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("x-rate-limit-reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, timelineJSON)
	})

	c := newTestClient(t, mux)

	tweets, err := c.Fetch(context.Background(), "FabrizioRomano", "")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(tweets) != 2 {
		t.Errorf("got %d tweets after rate-limit retry, want 2", len(tweets))
	}
	if calls.Load() < 2 {
		t.Errorf("timeline called %d times, want a retry after 429", calls.Load())
	}
}

func TestFetchUnauthorized(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/2/users/by/username/FabrizioRomano", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := newTestClient(t, mux)

	if _, err := c.Fetch(context.Background(), "FabrizioRomano", ""); err == nil {
		t.Fatal("Fetch() error = nil, want failure on bad credentials")
	}
	if calls.Load() != 1 {
		t.Errorf("request attempted %d times, want no retry on 401", calls.Load())
	}
}
