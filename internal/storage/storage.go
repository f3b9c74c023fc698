// Package storage persists the companion's local state: the diagnostic
// frame trace and the last registry snapshot, so item names render
// before the backend has pushed anything.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/shanten-tools/companion/internal/envelope"
	"github.com/shanten-tools/companion/pkg/protocol"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrNoRegistry    = errors.New("no cached registry")
)

type FrameRecord struct {
	ID  uint      `gorm:"primaryKey"`
	At  time.Time `gorm:"index;not null"`
	Dir string    `gorm:"size:3;not null"`
	Raw string    `gorm:"not null"`
}

func (FrameRecord) TableName() string { return "frames" }

// RegistryRecord is a single row (ID 1) holding the registry as JSON.
type RegistryRecord struct {
	ID        uint `gorm:"primaryKey"`
	Payload   string
	UpdatedAt time.Time
}

func (RegistryRecord) TableName() string { return "registry_cache" }

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects and migrates. driver is "sqlite" (dsn is a file path or
// ":memory:") or "postgres" (dsn is a libpq connection string or URL).
func Open(driver, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var dial gorm.Dialector
	switch driver {
	case DriverSQLite:
		dial = sqlite.Open(dsn)
	case DriverPostgres:
		dial = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&FrameRecord{}, &RegistryRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Named("storage").Info("storage ready", zap.String("driver", driver))
	return &Store{db: db, log: log.Named("storage")}, nil
}

func (s *Store) AppendFrame(ctx context.Context, at time.Time, dir envelope.Direction, raw string) error {
	rec := FrameRecord{At: at, Dir: string(dir), Raw: raw}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("append frame: %w", err)
	}
	return nil
}

// RecentFrames returns up to limit frames, oldest first.
func (s *Store) RecentFrames(ctx context.Context, limit int) ([]FrameRecord, error) {
	var recs []FrameRecord
	err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("recent frames: %w", err)
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// PruneFrames deletes all but the newest keep frames.
func (s *Store) PruneFrames(ctx context.Context, keep int) error {
	db := s.db.WithContext(ctx)
	var cutoff FrameRecord
	err := db.Order("id desc").Offset(keep).Limit(1).Find(&cutoff).Error
	if err != nil {
		return fmt.Errorf("prune frames: %w", err)
	}
	if cutoff.ID == 0 {
		return nil
	}
	res := db.Where("id <= ?", cutoff.ID).Delete(&FrameRecord{})
	if res.Error != nil {
		return fmt.Errorf("prune frames: %w", res.Error)
	}
	s.log.Debug("pruned frames", zap.Int64("rows", res.RowsAffected))
	return nil
}

func (s *Store) SaveRegistry(ctx context.Context, reg protocol.Registry) error {
	b, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	rec := RegistryRecord{ID: 1, Payload: string(b)}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// LoadRegistry returns ErrNoRegistry when nothing was saved yet.
func (s *Store) LoadRegistry(ctx context.Context) (protocol.Registry, error) {
	var recs []RegistryRecord
	if err := s.db.WithContext(ctx).Where("id = ?", 1).Limit(1).Find(&recs).Error; err != nil {
		return protocol.Registry{}, fmt.Errorf("load registry: %w", err)
	}
	if len(recs) == 0 {
		return protocol.Registry{}, ErrNoRegistry
	}
	var reg protocol.Registry
	if err := json.Unmarshal([]byte(recs[0].Payload), &reg); err != nil {
		return protocol.Registry{}, fmt.Errorf("decode registry: %w", err)
	}
	return reg, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
