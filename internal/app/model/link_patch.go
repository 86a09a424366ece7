package model

import "time"

// LinkPatch lists the owner-editable fields of a link. Nil leaves a field unchanged.
// The short code and rollups are deliberately absent.
type LinkPatch struct {
	DestinationURL    *string
	Title             *string
	Status            *LinkStatus
	ExpiresAt         *time.Time
	ClearExpiry       bool
	Campaign          *string
	Tags              *[]string
	RedirectDelay     *int
	PasswordHash      *string
	AdsEnabled        *bool
	InterstitialPages *int
}

// Columns returns the column names the patch touches.
func (p LinkPatch) Columns() []string {
	var cols []string
	add := func(set bool, col string) {
		if set {
			cols = append(cols, col)
		}
	}
	add(p.DestinationURL != nil, "destination_url")
	add(p.Title != nil, "title")
	add(p.Status != nil, "status")
	add(p.ExpiresAt != nil || p.ClearExpiry, "expires_at")
	add(p.Campaign != nil, "campaign")
	add(p.Tags != nil, "tags")
	add(p.RedirectDelay != nil, "settings_redirect_delay")
	add(p.PasswordHash != nil, "settings_password_hash")
	add(p.AdsEnabled != nil, "settings_ads_enabled")
	add(p.InterstitialPages != nil, "settings_interstitial_pages")
	return cols
}

// IsEmpty reports whether the patch changes nothing.
func (p LinkPatch) IsEmpty() bool {
	return len(p.Columns()) == 0
}

// Apply copies the set fields onto l.
func (p LinkPatch) Apply(l *Link) {
	if p.DestinationURL != nil {
		l.DestinationURL = *p.DestinationURL
	}
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.ClearExpiry {
		l.ExpiresAt = nil
	} else if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		l.ExpiresAt = &t
	}
	if p.Campaign != nil {
		l.Campaign = *p.Campaign
	}
	if p.Tags != nil {
		l.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.RedirectDelay != nil {
		l.Settings.RedirectDelay = *p.RedirectDelay
	}
	if p.PasswordHash != nil {
		l.Settings.PasswordHash = *p.PasswordHash
	}
	if p.AdsEnabled != nil {
		l.Settings.AdsEnabled = *p.AdsEnabled
	}
	if p.InterstitialPages != nil {
		l.Settings.InterstitialPages = *p.InterstitialPages
	}
}
