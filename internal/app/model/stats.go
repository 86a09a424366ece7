package model

import (
	"fmt"
	"strings"
	"time"
)

// Period selects the time window of an analytics query.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
	PeriodAll   Period = "all"
)

// ParsePeriod validates a period query value. Empty means all.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodAll, nil
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear, PeriodAll:
		return p, nil
	default:
		return "", fmt.Errorf("unknown period %q", s)
	}
}

// Span is the rolling length of a bounded period. It is zero for PeriodAll.
func (p Period) Span() time.Duration {
	switch p {
	case PeriodDay:
		return 24 * time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	case PeriodYear:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// DailyClicks is one point of a per-day click series.
type DailyClicks struct {
	Date   string `json:"date"`
	Clicks int64  `json:"clicks"`
}

// StatsReport is the analytics view of one link over a period.
type StatsReport struct {
	LinkID         string           `json:"linkId"`
	Period         Period           `json:"period"`
	From           *time.Time       `json:"from,omitempty"`
	To             time.Time        `json:"to"`
	TotalClicks    int64            `json:"totalClicks"`
	TotalEarnings  int64            `json:"totalEarnings"`
	UniqueVisitors int64            `json:"uniqueVisitors"`
	Countries      map[string]int64 `json:"countries"`
	Browsers       map[string]int64 `json:"browsers"`
	OS             map[string]int64 `json:"os"`
	Devices        map[string]int64 `json:"devices"`
	Referrers      map[string]int64 `json:"referrers"`
	ClicksByDate   []DailyClicks    `json:"clicksByDate"`
	RecentClicks   []Click          `json:"recentClicks"`
}

// NewStatsReport returns a report with every collection initialised empty.
func NewStatsReport(linkID string, period Period, now time.Time) *StatsReport {
	return &StatsReport{
		LinkID:       linkID,
		Period:       period,
		To:           now,
		Countries:    map[string]int64{},
		Browsers:     map[string]int64{},
		OS:           map[string]int64{},
		Devices:      map[string]int64{},
		Referrers:    map[string]int64{},
		ClicksByDate: []DailyClicks{},
		RecentClicks: []Click{},
	}
}

// Breakdown returns the map holding counts for dim.
func (r *StatsReport) Breakdown(dim Dimension) map[string]int64 {
	switch dim {
	case DimensionCountry:
		return r.Countries
	case DimensionBrowser:
		return r.Browsers
	case DimensionOS:
		return r.OS
	case DimensionDevice:
		return r.Devices
	case DimensionReferrer:
		return r.Referrers
	default:
		return nil
	}
}
