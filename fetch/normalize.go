package fetch

import (
	"strings"

	"itk-fetcher/pkg/itk"
)

// Fallback scores for tweets whose apparent author is not the configured
// account (the adapter resolves authorship on its own).
const (
	fallbackReliability = 0.5
	fallbackTier        = 3
)

// Normalize maps a raw tweet plus its account metadata onto the canonical
// record shape. Pure function: the same inputs always give the same record.
// Missing optional data becomes empty values, never absent fields.
func Normalize(t itk.Tweet, acct itk.Account) itk.Record {
	author := itk.Author{
		Handle:      acct.Handle,
		Name:        acct.Name,
		ID:          t.AuthorID,
		Reliability: acct.Reliability,
		Tier:        acct.Tier,
	}
	if t.AuthorHandle != "" && !strings.EqualFold(t.AuthorHandle, acct.Handle) {
		author.Handle = t.AuthorHandle
		author.Name = ""
		author.Reliability = fallbackReliability
		author.Tier = fallbackTier
	}

	record := itk.Record{
		ID:        t.ID,
		Text:      t.Text,
		CreatedAt: t.CreatedAt,
		Author:    author,
		Metrics:   t.Metrics,
		Media:     make([]itk.Media, 0, len(t.Media)),
		Tags:      make([]string, 0, len(t.Topics)),
	}
	record.Media = append(record.Media, t.Media...)
	record.Tags = append(record.Tags, t.Topics...)
	return record
}
