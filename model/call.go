package model

import "time"

const (
	CallPending   = "pending"
	CallConnected = "connected"
	CallActive    = "active" // group calls
)

// Call is either a 1:1 call (CallerID + CalleeID) or a group call bound to a
// location channel (ChannelID + IsGroup). Group membership is never stored
// here; it is always the channel's current membership.
type Call struct {
	ID          string    `gorm:"primaryKey;size:96" json:"id"`
	CallerID    string    `gorm:"index;size:36;not null" json:"callerId"`
	CalleeID    string    `gorm:"index;size:36" json:"calleeId,omitempty"`
	ChannelID   string    `gorm:"index:idx_call_channel;size:36" json:"channelId,omitempty"`
	IsGroup     bool      `gorm:"index:idx_call_channel;not null;default:false" json:"isGroup"`
	Status      string    `gorm:"size:16;not null" json:"status"`
	AudioActive bool      `gorm:"not null;default:false" json:"audioActive"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// HasParticipant reports whether userID is the caller or callee of a 1:1 call,
// or the starter of a group call.
func (c *Call) HasParticipant(userID string) bool {
	return userID != "" && (c.CallerID == userID || c.CalleeID == userID)
}

// Other returns the other party of a 1:1 call.
func (c *Call) Other(userID string) string {
	if c.CalleeID == userID {
		return c.CallerID
	}
	return c.CalleeID
}
