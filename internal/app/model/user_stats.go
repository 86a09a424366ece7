package model

import "time"

// UserStats is the lifetime rollup of one link owner.
type UserStats struct {
	OwnerID       string    `json:"ownerId" gorm:"primaryKey;size:64"`
	TotalLinks    int64     `json:"totalLinks" gorm:"not null;default:0"`
	TotalClicks   int64     `json:"totalClicks" gorm:"not null;default:0"`
	TotalEarnings int64     `json:"totalEarnings" gorm:"not null;default:0"`
	Balance       int64     `json:"balance" gorm:"not null;default:0"`
	UpdatedAt     time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// UserStatsDelta is a set of commutative increments applied to UserStats.
type UserStatsDelta struct {
	Links    int64
	Clicks   int64
	Earnings int64
	Balance  int64
}
