package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/livematch/internal/match"
)

var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the last snapshot saved for a match.
type Checkpoint struct {
	MatchID   string `gorm:"primaryKey;size:128"`
	Version   int
	Payload   []byte
	UpdatedAt time.Time
}

// Store keeps checkpoints in Postgres so a view can come back with its last
// known state when the backend is unreachable at attach time.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	return New(db, logger), nil
}

func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.Named("store")}
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Checkpoint{})
}

// Save upserts the checkpoint for matchID.
func (s *Store) Save(ctx context.Context, matchID string, version int, st match.State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	cp := Checkpoint{MatchID: matchID, Version: version, Payload: payload, UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "match_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "payload", "updated_at"}),
	}).Create(&cp).Error
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", matchID, err)
	}
	s.logger.Debug("checkpoint saved", zap.String("match", matchID), zap.Int("version", version))
	return nil
}

// Load returns the saved snapshot and its version, or ErrNotFound.
func (s *Store) Load(ctx context.Context, matchID string) (match.State, int, error) {
	var cp Checkpoint
	err := s.db.WithContext(ctx).Where("match_id = ?", matchID).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return match.State{}, 0, ErrNotFound
	}
	if err != nil {
		return match.State{}, 0, fmt.Errorf("load checkpoint %s: %w", matchID, err)
	}
	var st match.State
	if err := json.Unmarshal(cp.Payload, &st); err != nil {
		return match.State{}, 0, fmt.Errorf("decode checkpoint %s: %w", matchID, err)
	}
	return match.NormalizeState(st), cp.Version, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
