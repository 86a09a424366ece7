package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLink_EffectiveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		link Link
		want LinkStatus
	}{
		{"active without expiry", Link{Status: LinkStatusActive}, LinkStatusActive},
		{"active future expiry", Link{Status: LinkStatusActive, ExpiresAt: &future}, LinkStatusActive},
		{"active past expiry", Link{Status: LinkStatusActive, ExpiresAt: &past}, LinkStatusExpired},
		{"inactive past expiry", Link{Status: LinkStatusInactive, ExpiresAt: &past}, LinkStatusInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.link.EffectiveStatus(now))
		})
	}
}

func TestReferrerFacet(t *testing.T) {
	assert.Equal(t, DirectReferrer, ReferrerFacet(""))
	assert.Equal(t, "news.ycombinator.com", ReferrerFacet("https://news.ycombinator.com/item?id=1"))
	assert.Equal(t, "google.com", ReferrerFacet("https://www.Google.com/search"))
	assert.Equal(t, UnknownFacet, ReferrerFacet("not a url"))
}

func TestClick_FacetHits(t *testing.T) {
	c := Click{Country: "DE", Browser: "Firefox", Earned: 1500}

	hits := c.FacetHits()
	require.Len(t, hits, len(Dimensions))

	byDim := map[Dimension]FacetHit{}
	for _, h := range hits {
		byDim[h.Dimension] = h
	}
	assert.Equal(t, "DE", byDim[DimensionCountry].Value)
	assert.Equal(t, int64(1500), byDim[DimensionCountry].Earnings)
	assert.Equal(t, int64(0), byDim[DimensionBrowser].Earnings)
	assert.Equal(t, UnknownFacet, byDim[DimensionOS].Value)
	assert.Equal(t, DirectReferrer, byDim[DimensionReferrer].Value)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, PeriodAll, p)

	p, err = ParsePeriod("Week")
	require.NoError(t, err)
	assert.Equal(t, PeriodWeek, p)
	assert.Equal(t, 7*24*time.Hour, p.Span())

	_, err = ParsePeriod("decade")
	assert.Error(t, err)
}

func TestLinkPatch(t *testing.T) {
	title := "new"
	delay := 5
	patch := LinkPatch{Title: &title, RedirectDelay: &delay, ClearExpiry: true}

	assert.ElementsMatch(t, []string{"title", "settings_redirect_delay", "expires_at"}, patch.Columns())
	assert.True(t, LinkPatch{}.IsEmpty())

	exp := time.Now()
	l := Link{Title: "old", ExpiresAt: &exp}
	patch.Apply(&l)
	assert.Equal(t, "new", l.Title)
	assert.Equal(t, 5, l.Settings.RedirectDelay)
	assert.Nil(t, l.ExpiresAt)
}
