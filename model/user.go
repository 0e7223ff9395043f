package model

import "time"

// User is a registered walkie-talkie user. Username doubles as the display
// name; uniqueness is case-insensitive through UsernameLower.
type User struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	Username          string     `gorm:"size:32;not null" json:"username"`
	UsernameLower     string     `gorm:"uniqueIndex;size:32;not null" json:"-"`
	DeviceID          string     `gorm:"size:128" json:"deviceId"`
	Latitude          *float64   `json:"latitude,omitempty"`
	Longitude         *float64   `json:"longitude,omitempty"`
	LocationUpdatedAt *time.Time `json:"locationUpdatedAt,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}
