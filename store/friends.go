package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/walkietalkie/server/apperr"
	"github.com/kasuganosora/walkietalkie/server/model"
	"gorm.io/gorm"
)

// FriendRequest is a pending friendship with the requester's display name.
type FriendRequest struct {
	model.Friendship
	FromUsername string `json:"fromUsername"`
}

func pairQuery(db *gorm.DB, a, b string) *gorm.DB {
	return db.Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", a, b, b, a)
}

// CreateFriendRequest inserts a pending request from -> to. Any existing row
// for the pair, in either direction, is a Conflict.
func (s *Store) CreateFriendRequest(ctx context.Context, fromID, toID string) (*model.Friendship, error) {
	f := &model.Friendship{
		ID:       uuid.NewString(),
		UserID:   fromID,
		FriendID: toID,
		Status:   model.FriendshipPending,
	}
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := pairQuery(tx.Model(&model.Friendship{}), fromID, toID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("friend request already exists or already friends")
		}
		return tx.Create(f).Error
	})
	if err != nil {
		return nil, mapErr(err, "friend request")
	}
	return f, nil
}

// GetFriendshipBetween looks the pair up regardless of direction.
func (s *Store) GetFriendshipBetween(ctx context.Context, a, b string) (*model.Friendship, error) {
	var f model.Friendship
	if err := pairQuery(s.conn(ctx), a, b).First(&f).Error; err != nil {
		return nil, mapErr(err, "friendship")
	}
	return &f, nil
}

func (s *Store) GetFriendship(ctx context.Context, id string) (*model.Friendship, error) {
	var f model.Friendship
	if err := s.conn(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, mapErr(err, "friend request")
	}
	return &f, nil
}

// FriendIDs returns the ids of every accepted friend of userID.
func (s *Store) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	var rows []model.Friendship
	err := s.conn(ctx).
		Where("status = ? AND (user_id = ? OR friend_id = ?)", model.FriendshipAccepted, userID, userID).
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err, "friendship")
	}
	ids := make([]string, 0, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].Other(userID))
	}
	return ids, nil
}

// GetFriendsOf returns accepted friends only.
func (s *Store) GetFriendsOf(ctx context.Context, userID string) ([]model.User, error) {
	ids, err := s.FriendIDs(ctx, userID)
	if err != nil || len(ids) == 0 {
		return []model.User{}, err
	}
	var users []model.User
	if err := s.conn(ctx).Where("id IN ?", ids).Order("username_lower").Find(&users).Error; err != nil {
		return nil, mapErr(err, "user")
	}
	return users, nil
}

// GetFriendRequestsTo returns pending requests addressed to userID.
func (s *Store) GetFriendRequestsTo(ctx context.Context, userID string) ([]FriendRequest, error) {
	var out []FriendRequest
	err := s.conn(ctx).
		Table("friendships").
		Select("friendships.*, users.username AS from_username").
		Joins("JOIN users ON users.id = friendships.user_id").
		Where("friendships.friend_id = ? AND friendships.status = ?", userID, model.FriendshipPending).
		Order("friendships.created_at").
		Scan(&out).Error
	if err != nil {
		return nil, mapErr(err, "friend request")
	}
	return out, nil
}

// AcceptFriendRequest moves a pending request to accepted.
func (s *Store) AcceptFriendRequest(ctx context.Context, id string) (*model.Friendship, error) {
	now := time.Now()
	res := s.conn(ctx).Model(&model.Friendship{}).
		Where("id = ? AND status = ?", id, model.FriendshipPending).
		Updates(map[string]any{"status": model.FriendshipAccepted, "accepted_at": now})
	if err := affected(res, "friend request"); err != nil {
		return nil, err
	}
	return s.GetFriendship(ctx, id)
}

// RejectFriendRequest deletes a pending request.
func (s *Store) RejectFriendRequest(ctx context.Context, id string) error {
	res := s.conn(ctx).Where("id = ? AND status = ?", id, model.FriendshipPending).Delete(&model.Friendship{})
	return affected(res, "friend request")
}

// RemoveFriendship deletes the pair's row in either direction.
func (s *Store) RemoveFriendship(ctx context.Context, a, b string) error {
	res := pairQuery(s.conn(ctx), a, b).Delete(&model.Friendship{})
	return affected(res, "friendship")
}
