package model

import "time"

const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
)

// Friendship is a friend request or an accepted friendship. One row per pair;
// UserID is the requester and FriendID the target.
type Friendship struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	UserID     string     `gorm:"uniqueIndex:idx_friendship_pair;size:36;not null" json:"userId"`
	FriendID   string     `gorm:"uniqueIndex:idx_friendship_pair;index;size:36;not null" json:"friendId"`
	Status     string     `gorm:"size:16;not null;default:pending" json:"status"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty"`
}

// Other returns the user on the other side of the friendship.
func (f *Friendship) Other(userID string) string {
	if f.UserID == userID {
		return f.FriendID
	}
	return f.UserID
}
