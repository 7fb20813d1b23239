// Package itk contains the core domain types for the ITK tweet collector.
package itk

import "time"

// Account is one tracked reporter. The roster is fixed for the process
// lifetime; accounts are never discovered dynamically.
type Account struct {
	Handle      string  `yaml:"handle" json:"handle"`           // Twitter handle without the @
	Name        string  `yaml:"name" json:"name"`               // Display name
	Reliability float64 `yaml:"reliability" json:"reliability"` // 0.0-1.0 track record score
	Tier        int     `yaml:"tier" json:"tier"`               // 1 is most trusted
}

// Media describes one attachment on a tweet.
type Media struct {
	Type       string `json:"type"`
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url"`
	AltText    string `json:"alt_text"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// Metrics holds the public engagement counters of a tweet.
type Metrics struct {
	Retweets int `json:"retweet_count"`
	Replies  int `json:"reply_count"`
	Likes    int `json:"like_count"`
	Quotes   int `json:"quote_count"`
}

// Tweet is a raw item as returned by a source client, with media and topic
// lookups already resolved by the adapter. Pages are ordered newest first.
type Tweet struct {
	ID           string
	Text         string
	CreatedAt    time.Time
	AuthorID     string
	AuthorHandle string
	Metrics      Metrics
	Media        []Media
	Topics       []string
}

// Author is the author block of a normalized record.
type Author struct {
	Handle      string  `json:"username"`
	Name        string  `json:"name"`
	ID          string  `json:"id"`
	Reliability float64 `json:"reliability"`
	Tier        int     `json:"tier"`
}

// Record is the canonical output shape written into batch artifacts.
// The shape is fixed-field: missing optional data maps to empty values,
// never to absent keys.
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Author    Author    `json:"author"`
	Metrics   Metrics   `json:"metrics"`
	Media     []Media   `json:"media"`
	Tags      []string  `json:"tags"`
}

// Batch is one fetch cycle's output artifact. Field order is stable for
// downstream consumers.
type Batch struct {
	Timestamp  string    `json:"timestamp"`   // Cycle timestamp, 20060102_150405
	FetchTime  time.Time `json:"fetch_time"`  // Cycle start in RFC 3339
	TweetCount int       `json:"tweet_count"` // len(Tweets)
	Accounts   []string  `json:"accounts"`    // Handles covered this cycle
	Tweets     []Record  `json:"tweets"`      // Ordered as fetched
}
