package repository

import (
	"time"

	"github.com/sifan077/linkpay/internal/app/model"
)

type bucketKey struct {
	dim   model.Dimension
	value string
}

// Totals rebuilds link rollups and facet buckets from click records.
type Totals struct {
	LinkID         string
	Clicks         int64
	UniqueVisitors int64
	Earnings       int64
	LastClickedAt  *time.Time

	buckets map[bucketKey]*model.FacetBucket
	order   []bucketKey
}

// NewTotals returns empty totals for linkID.
func NewTotals(linkID string) *Totals {
	return &Totals{LinkID: linkID, buckets: make(map[bucketKey]*model.FacetBucket)}
}

// Add folds one click into the totals.
func (t *Totals) Add(c *model.Click) {
	t.Clicks++
	if c.IsUnique {
		t.UniqueVisitors++
	}
	t.Earnings += c.Earned
	if t.LastClickedAt == nil || c.Timestamp.After(*t.LastClickedAt) {
		ts := c.Timestamp
		t.LastClickedAt = &ts
	}

	for _, hit := range c.FacetHits() {
		key := bucketKey{dim: hit.Dimension, value: hit.Value}
		b, ok := t.buckets[key]
		if !ok {
			b = &model.FacetBucket{
				LinkID:      t.LinkID,
				Dimension:   hit.Dimension,
				Value:       hit.Value,
				FirstSeenAt: c.Timestamp,
				LastSeenAt:  c.Timestamp,
			}
			t.buckets[key] = b
			t.order = append(t.order, key)
		}
		b.Count++
		b.Earnings += hit.Earnings
		if c.Timestamp.Before(b.FirstSeenAt) {
			b.FirstSeenAt = c.Timestamp
		}
		if c.Timestamp.After(b.LastSeenAt) {
			b.LastSeenAt = c.Timestamp
		}
	}
}

// Buckets returns the rebuilt facet buckets in first-seen order.
func (t *Totals) Buckets() []model.FacetBucket {
	out := make([]model.FacetBucket, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, *t.buckets[key])
	}
	return out
}
