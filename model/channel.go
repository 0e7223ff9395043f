package model

import "time"

// LocationChannel is a named circular geofence.
type LocationChannel struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:64;not null" json:"name"`
	Latitude  float64   `gorm:"index:idx_channel_lat_lon;not null" json:"latitude"`
	Longitude float64   `gorm:"index:idx_channel_lat_lon;not null" json:"longitude"`
	RadiusKm  float64   `gorm:"not null" json:"radius"`
	CreatedBy string    `gorm:"size:36" json:"createdBy"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// ChannelParticipant is the membership relation; re-joining refreshes JoinedAt.
type ChannelParticipant struct {
	ChannelID string    `gorm:"primaryKey;size:36" json:"channelId"`
	UserID    string    `gorm:"primaryKey;size:36;index" json:"userId"`
	JoinedAt  time.Time `gorm:"not null" json:"joinedAt"`
}
