package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pokerjest/animeleech/internal/model"
	"github.com/pokerjest/animeleech/internal/parser"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the gorm-backed persisted store for users, watch history,
// traffic and thumbnails.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// RecordUpload parses fileName into series/episode and upserts the user's
// watch history. ok is false when the name carries no episode number; an
// upload log row is written either way.
func (s *Store) RecordUpload(ctx context.Context, userID int64, fileName string, size int64) (string, int, bool, error) {
	series, episode, ok := parser.ParseEpisode(fileName)

	entry := model.UploadLog{UserID: userID, FileName: fileName, Size: size}
	if ok {
		entry.Anime = series
		entry.Episode = episode
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return "", 0, false, fmt.Errorf("record upload log: %w", err)
	}

	if !ok {
		return "", 0, false, nil
	}

	history := model.WatchHistory{UserID: userID, Anime: series, LastEp: episode}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "anime"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_ep", "updated_at"}),
	}).Create(&history).Error
	if err != nil {
		return "", 0, false, fmt.Errorf("upsert history: %w", err)
	}
	return series, episode, true, nil
}

// DeleteSeriesEntry removes the (userID, series) history entry. Missing
// entries are not an error.
func (s *Store) DeleteSeriesEntry(ctx context.Context, userID int64, series string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND anime = ?", userID, series).
		Delete(&model.WatchHistory{}).Error
}

// LastEpisode returns the tracked episode for a series, or 0 when untracked.
func (s *Store) LastEpisode(ctx context.Context, userID int64, series string) (int, error) {
	var h model.WatchHistory
	err := s.db.WithContext(ctx).Where("user_id = ? AND anime = ?", userID, series).First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return h.LastEp, nil
}

func (s *Store) AddTraffic(ctx context.Context, userID int64, down, up int64) error {
	u := model.User{UserID: userID, Downloaded: down, Uploaded: up}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"downloaded": gorm.Expr("downloaded + ?", down),
			"uploaded":   gorm.Expr("uploaded + ?", up),
		}),
	}).Create(&u).Error
}

// GetThumbnail returns the user's thumbnail, or nil when none is stored.
func (s *Store) GetThumbnail(ctx context.Context, userID int64) ([]byte, error) {
	var u model.User
	err := s.db.WithContext(ctx).Select("thumbnail").Where("user_id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(u.Thumbnail) == 0 {
		return nil, nil
	}
	return u.Thumbnail, nil
}

func (s *Store) SetThumbnail(ctx context.Context, userID int64, data []byte) error {
	u := model.User{UserID: userID, Thumbnail: data}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"thumbnail", "updated_at"}),
	}).Create(&u).Error
}

func (s *Store) TotalUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.User{}).Count(&count).Error
	return count, err
}

// TotalTraffic sums download/upload bytes across all users.
func (s *Store) TotalTraffic(ctx context.Context) (int64, int64, error) {
	var totals struct {
		Down int64
		Up   int64
	}
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Select("COALESCE(SUM(downloaded), 0) AS down, COALESCE(SUM(uploaded), 0) AS up").
		Scan(&totals).Error
	return totals.Down, totals.Up, err
}
