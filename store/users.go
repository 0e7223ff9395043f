package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/walkietalkie/server/model"
)

// SearchLimit caps SearchUsers results.
const SearchLimit = 20

// CreateUser inserts a new user. A case-insensitive username clash is a
// Conflict.
func (s *Store) CreateUser(ctx context.Context, username, deviceID string) (*model.User, error) {
	u := &model.User{
		ID:            uuid.NewString(),
		Username:      username,
		UsernameLower: strings.ToLower(username),
		DeviceID:      deviceID,
	}
	if err := s.conn(ctx).Create(u).Error; err != nil {
		return nil, mapErr(err, "username")
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.conn(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, mapErr(err, "user")
	}
	return &u, nil
}

// GetUserByUsername matches case-insensitively.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.conn(ctx).Where("username_lower = ?", strings.ToLower(strings.TrimSpace(username))).First(&u).Error
	if err != nil {
		return nil, mapErr(err, "user")
	}
	return &u, nil
}

// SearchUsers returns users whose username contains q, case-insensitively,
// excluding excludeID.
func (s *Store) SearchUsers(ctx context.Context, q, excludeID string) ([]model.User, error) {
	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	var users []model.User
	err := s.conn(ctx).
		Where("username_lower LIKE ? ESCAPE '!' AND id <> ?", pattern, excludeID).
		Order("username_lower").
		Limit(SearchLimit).
		Find(&users).Error
	if err != nil {
		return nil, mapErr(err, "user")
	}
	return users, nil
}

// UpdateUserLocation stores the last known position.
func (s *Store) UpdateUserLocation(ctx context.Context, userID string, lat, lon float64) error {
	now := time.Now()
	res := s.conn(ctx).Model(&model.User{}).Where("id = ?", userID).Updates(map[string]any{
		"latitude":            lat,
		"longitude":           lon,
		"location_updated_at": now,
	})
	return affected(res, "user")
}

// Usernames resolves display names for a set of ids. Unknown ids are absent
// from the result.
func (s *Store) Usernames(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []model.User
	if err := s.conn(ctx).Select("id", "username").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, mapErr(err, "user")
	}
	for _, u := range users {
		out[u.ID] = u.Username
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}
