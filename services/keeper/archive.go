package keeper

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ErrNoSamples is returned when the archive holds nothing for a token.
var ErrNoSamples = errors.New("keeper: no price samples")

// PriceSample is one archived oracle reading.
type PriceSample struct {
	ID    uint   `gorm:"primaryKey"`
	Token string `gorm:"size:42;not null;index:idx_price_samples_token_time,priority:1"`
	Kind  string `gorm:"size:16;not null"`
	// PriceWad is the WAD-scaled price in base token units, as a decimal
	// string so that postgres and sqlite agree on precision.
	PriceWad   string    `gorm:"not null"`
	ObservedAt time.Time `gorm:"not null;index:idx_price_samples_token_time,priority:2"`
	CreatedAt  time.Time
}

// Archive keeps the keeper's price history outside consensus state.
type Archive struct {
	db *gorm.DB
}

// OpenArchive connects to the archive named by dsn: a postgres:// URL, a
// sqlite file path, or an empty string for a private in-memory database.
func OpenArchive(dsn string) (*Archive, error) {
	dialector, err := archiveDialector(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return NewArchive(db)
}

// NewArchive wraps an existing connection and migrates the schema.
func NewArchive(db *gorm.DB) (*Archive, error) {
	if db == nil {
		return nil, fmt.Errorf("keeper: archive database required")
	}
	if err := db.AutoMigrate(&PriceSample{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Archive{db: db}, nil
}

func archiveDialector(dsn string) (gorm.Dialector, error) {
	trimmed := strings.TrimSpace(dsn)
	switch {
	case trimmed == "":
		return sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), nil
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return postgres.Open(trimmed), nil
	default:
		abs, err := filepath.Abs(trimmed)
		if err != nil {
			return nil, fmt.Errorf("resolve archive path: %w", err)
		}
		return sqlite.Open(abs), nil
	}
}

// Record stores samples in a single insert.
func (a *Archive) Record(ctx context.Context, samples []PriceSample) error {
	if a == nil || len(samples) == 0 {
		return nil
	}
	return a.db.WithContext(ctx).Create(&samples).Error
}

// Latest returns the newest sample of the given kind for token.
func (a *Archive) Latest(ctx context.Context, token, kind string) (*PriceSample, error) {
	var sample PriceSample
	err := a.db.WithContext(ctx).
		Where("token = ? AND kind = ?", token, kind).
		Order("observed_at DESC, id DESC").
		First(&sample).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSamples
	}
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

// History returns up to limit samples for token observed at or after since,
// oldest first.
func (a *Archive) History(ctx context.Context, token string, since time.Time, limit int) ([]PriceSample, error) {
	if limit <= 0 {
		limit = 100
	}
	var samples []PriceSample
	err := a.db.WithContext(ctx).
		Where("token = ? AND observed_at >= ?", token, since).
		Order("observed_at ASC, id ASC").
		Limit(limit).
		Find(&samples).Error
	return samples, err
}

func (a *Archive) Close() error {
	if a == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
