package model

import "time"

// Dimension names a click classification axis.
type Dimension string

const (
	DimensionCountry  Dimension = "country"
	DimensionBrowser  Dimension = "browser"
	DimensionOS       Dimension = "os"
	DimensionDevice   Dimension = "device"
	DimensionReferrer Dimension = "referrer"
)

// Dimensions lists every axis a click is counted under, in report order.
var Dimensions = []Dimension{
	DimensionCountry,
	DimensionBrowser,
	DimensionOS,
	DimensionDevice,
	DimensionReferrer,
}

// UnknownFacet is the bucket value for a dimension the classifier could not resolve.
const UnknownFacet = "unknown"

// FacetBucket counts the clicks of one link sharing a facet value.
type FacetBucket struct {
	LinkID      string    `json:"linkId" gorm:"primaryKey;size:36"`
	Dimension   Dimension `json:"dimension" gorm:"primaryKey;size:16"`
	Value       string    `json:"value" gorm:"primaryKey;size:255"`
	Count       int64     `json:"count" gorm:"not null;default:0"`
	Earnings    int64     `json:"earnings" gorm:"not null;default:0"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// FacetHit is a single increment against one bucket.
type FacetHit struct {
	Dimension Dimension
	Value     string
	Earnings  int64
}

// FacetValue returns the value a click contributes to dim.
func (c *Click) FacetValue(dim Dimension) string {
	var v string
	switch dim {
	case DimensionCountry:
		v = c.Country
	case DimensionBrowser:
		v = c.Browser
	case DimensionOS:
		v = c.OS
	case DimensionDevice:
		v = c.Device
	case DimensionReferrer:
		v = ReferrerFacet(c.Referer)
	}
	if v == "" {
		return UnknownFacet
	}
	return v
}

// FacetHits returns one hit per dimension for c. Earnings are attributed to the
// country bucket only.
func (c *Click) FacetHits() []FacetHit {
	hits := make([]FacetHit, 0, len(Dimensions))
	for _, dim := range Dimensions {
		hit := FacetHit{Dimension: dim, Value: c.FacetValue(dim)}
		if dim == DimensionCountry {
			hit.Earnings = c.Earned
		}
		hits = append(hits, hit)
	}
	return hits
}
