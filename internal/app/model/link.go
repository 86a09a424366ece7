package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LinkStatus is the stored lifecycle state of a link. Expiry is never stored;
// see Link.EffectiveStatus.
type LinkStatus string

const (
	LinkStatusActive   LinkStatus = "active"
	LinkStatusInactive LinkStatus = "inactive"
	LinkStatusExpired  LinkStatus = "expired"
)

// LinkSettings controls how a visitor is taken through the interstitial.
type LinkSettings struct {
	RedirectDelay     int    `json:"redirectDelay" gorm:"not null;default:0"`
	PasswordHash      string `json:"-" gorm:"size:72"`
	AdsEnabled        bool   `json:"adsEnabled" gorm:"not null"`
	InterstitialPages int    `json:"interstitialPages" gorm:"not null;default:1"`
}

// HasPassword reports whether visitors must supply a password.
func (s LinkSettings) HasPassword() bool {
	return s.PasswordHash != ""
}

// Link describes a shortened URL together with its click rollups.
type Link struct {
	ID             string       `json:"id" gorm:"primaryKey;size:36"`
	ShortCode      string       `json:"shortCode" gorm:"size:64;not null;uniqueIndex"`
	OwnerID        string       `json:"ownerId" gorm:"size:64;not null;index"`
	DestinationURL string       `json:"destinationUrl" gorm:"type:text;not null"`
	Title          string       `json:"title" gorm:"size:255"`
	Status         LinkStatus   `json:"status" gorm:"size:16;not null;default:active"`
	Settings       LinkSettings `json:"settings" gorm:"embedded;embeddedPrefix:settings_"`
	Campaign       string       `json:"campaign,omitempty" gorm:"size:128"`
	Tags           []string     `json:"tags" gorm:"serializer:json"`
	PublisherRate  int          `json:"publisherRate" gorm:"not null;default:80"`
	PlatformRate   int          `json:"platformRate" gorm:"not null;default:20"`
	ExpiresAt      *time.Time   `json:"expiresAt,omitempty" gorm:"index"`
	CreatedAt      time.Time    `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt      time.Time    `json:"updatedAt" gorm:"autoUpdateTime"`

	// Rollups, eventually consistent with the click log.
	Clicks         int64      `json:"clicks" gorm:"not null;default:0"`
	UniqueVisitors int64      `json:"uniqueVisitors" gorm:"not null;default:0"`
	Earnings       int64      `json:"earnings" gorm:"not null;default:0"`
	LastClickedAt  *time.Time `json:"lastClickedAt,omitempty"`
}

// BeforeCreate assigns the store identity when the caller left it empty.
func (l *Link) BeforeCreate(_ *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// IsExpired reports whether ExpiresAt lies before now.
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// EffectiveStatus derives the status visitors observe at now.
func (l *Link) EffectiveStatus(now time.Time) LinkStatus {
	if l.Status != LinkStatusActive {
		return l.Status
	}
	if l.IsExpired(now) {
		return LinkStatusExpired
	}
	return LinkStatusActive
}

// RollupDelta is a set of commutative increments applied to a link.
type RollupDelta struct {
	Clicks         int64
	UniqueVisitors int64
	Earnings       int64
	ClickedAt      time.Time
}
