package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/walkietalkie/server/model"
	"github.com/kasuganosora/walkietalkie/server/ptt/geo"
	"gorm.io/gorm/clause"
)

// ChannelDistance is a channel together with its distance from a query point.
type ChannelDistance struct {
	model.LocationChannel
	Distance float64 `json:"distance"`
}

// Participant is a channel member with their display name.
type Participant struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

func (s *Store) CreateLocationChannel(ctx context.Context, name string, lat, lon, radiusKm float64, createdBy string) (*model.LocationChannel, error) {
	ch := &model.LocationChannel{
		ID:        uuid.NewString(),
		Name:      name,
		Latitude:  lat,
		Longitude: lon,
		RadiusKm:  radiusKm,
		CreatedBy: createdBy,
	}
	if err := s.conn(ctx).Create(ch).Error; err != nil {
		return nil, mapErr(err, "channel")
	}
	return ch, nil
}

func (s *Store) GetLocationChannel(ctx context.Context, id string) (*model.LocationChannel, error) {
	var ch model.LocationChannel
	if err := s.conn(ctx).Where("id = ?", id).First(&ch).Error; err != nil {
		return nil, mapErr(err, "channel")
	}
	return &ch, nil
}

// NearbyChannels returns channels whose centre lies within radiusKm of
// (lat, lon), nearest first. A bounding box narrows the SQL scan; the
// haversine distance decides membership.
func (s *Store) NearbyChannels(ctx context.Context, lat, lon, radiusKm float64) ([]ChannelDistance, error) {
	minLat, maxLat, minLon, maxLon := geo.BoundingBox(lat, lon, radiusKm)
	var rows []model.LocationChannel
	err := s.conn(ctx).
		Where("latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?", minLat, maxLat, minLon, maxLon).
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err, "channel")
	}
	out := make([]ChannelDistance, 0, len(rows))
	for _, ch := range rows {
		d := geo.Haversine(lat, lon, ch.Latitude, ch.Longitude)
		if geo.Inside(d, radiusKm) {
			out = append(out, ChannelDistance{LocationChannel: ch, Distance: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

// JoinChannel upserts the membership row; re-joining refreshes JoinedAt.
func (s *Store) JoinChannel(ctx context.Context, channelID, userID string) error {
	p := &model.ChannelParticipant{ChannelID: channelID, UserID: userID, JoinedAt: time.Now()}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"joined_at"}),
	}).Create(p).Error
	return mapErr(err, "channel participant")
}

// LeaveChannel deletes the membership row. It reports whether a row existed.
func (s *Store) LeaveChannel(ctx context.Context, channelID, userID string) (bool, error) {
	res := s.conn(ctx).Where("channel_id = ? AND user_id = ?", channelID, userID).Delete(&model.ChannelParticipant{})
	if res.Error != nil {
		return false, mapErr(res.Error, "channel participant")
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) IsChannelParticipant(ctx context.Context, channelID, userID string) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&model.ChannelParticipant{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Count(&n).Error
	if err != nil {
		return false, mapErr(err, "channel participant")
	}
	return n > 0, nil
}

// GetChannelParticipants lists members with display names, oldest join first.
func (s *Store) GetChannelParticipants(ctx context.Context, channelID string) ([]Participant, error) {
	var out []Participant
	err := s.conn(ctx).
		Table("channel_participants").
		Select("users.id AS id, users.username AS username, channel_participants.joined_at AS joined_at").
		Joins("JOIN users ON users.id = channel_participants.user_id").
		Where("channel_participants.channel_id = ?", channelID).
		Order("channel_participants.joined_at").
		Scan(&out).Error
	if err != nil {
		return nil, mapErr(err, "channel participant")
	}
	return out, nil
}

// ChannelParticipantIDs returns the current member ids of a channel.
func (s *Store) ChannelParticipantIDs(ctx context.Context, channelID string) ([]string, error) {
	var ids []string
	err := s.conn(ctx).Model(&model.ChannelParticipant{}).
		Where("channel_id = ?", channelID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, mapErr(err, "channel participant")
	}
	return ids, nil
}

// GetUserChannels returns every channel userID currently belongs to.
func (s *Store) GetUserChannels(ctx context.Context, userID string) ([]model.LocationChannel, error) {
	var out []model.LocationChannel
	err := s.conn(ctx).
		Joins("JOIN channel_participants ON channel_participants.channel_id = location_channels.id").
		Where("channel_participants.user_id = ?", userID).
		Order("location_channels.created_at").
		Find(&out).Error
	if err != nil {
		return nil, mapErr(err, "channel")
	}
	return out, nil
}
