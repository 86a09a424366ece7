package model

import (
	"time"

	"github.com/google/uuid"
)

// Click is one resolved visit. Rows are append-only.
type Click struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	LinkID    string    `json:"linkId" gorm:"size:36;not null;index:idx_clicks_link_ts,priority:1;index:idx_clicks_link_ip_ts,priority:1"`
	OwnerID   string    `json:"ownerId" gorm:"size:64;not null;index"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index:idx_clicks_link_ts,priority:2,sort:desc;index:idx_clicks_link_ip_ts,priority:3"`
	IP        string    `json:"ip" gorm:"size:64;not null;index:idx_clicks_link_ip_ts,priority:2"`
	UserAgent string    `json:"userAgent" gorm:"type:text"`
	Referer   string    `json:"referer,omitempty" gorm:"type:text"`
	Country   string    `json:"country,omitempty" gorm:"size:8"`
	City      string    `json:"city,omitempty" gorm:"size:128"`
	Browser   string    `json:"browser,omitempty" gorm:"size:64"`
	OS        string    `json:"os,omitempty" gorm:"size:64"`
	Device    string    `json:"device,omitempty" gorm:"size:16"`
	Language  string    `json:"language,omitempty" gorm:"size:16"`
	IsUnique  bool      `json:"isUnique" gorm:"not null"`
	Earned    int64     `json:"earned" gorm:"not null"`
}

const (
	ClickStreamName     = "CLICKS"
	ClickStreamSubject  = "clicks.events"
	ClickConsumerName   = "click-recorder"
	ClickStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)

// NewClickID returns a fresh click event id.
func NewClickID() string {
	return uuid.NewString()
}

// ClickInput is a raw visit captured at redirect time, before classification.
// It is also the payload published on the click stream.
type ClickInput struct {
	EventID        string    `json:"eventId"`
	LinkID         string    `json:"linkId"`
	IP             string    `json:"ip"`
	UserAgent      string    `json:"userAgent"`
	Referer        string    `json:"referer,omitempty"`
	AcceptLanguage string    `json:"acceptLanguage,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}
