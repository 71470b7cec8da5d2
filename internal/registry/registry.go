package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Pulkitjakhmola/custlysis/internal/segmentation"
)

// SegmentSummary is the per-segment part of a registry entry.
type SegmentSummary struct {
	Name       string  `json:"name"`
	Size       int     `json:"size"`
	Percentage float64 `json:"percentage"`
}

// ModelVersion is one trained model known to the service.
type ModelVersion struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	Version      string    `json:"model_version" gorm:"type:varchar(64);not null;uniqueIndex"`
	TrainedAt    time.Time `json:"trained_at" gorm:"not null;index"`
	K            int       `json:"clusters" gorm:"not null"`
	Silhouette   float64   `json:"silhouette_score"`
	Customers    int       `json:"customers_processed"`
	SegmentsJSON string    `json:"-" gorm:"type:text"`
	Active       bool      `json:"active" gorm:"default:false;index"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Segments decodes the stored segment summaries.
func (v ModelVersion) Segments() (map[int]SegmentSummary, error) {
	out := map[int]SegmentSummary{}
	if v.SegmentsJSON == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(v.SegmentsJSON), &out); err != nil {
		return nil, fmt.Errorf("decoding segments of %s: %w", v.Version, err)
	}
	return out, nil
}

// Registry records trained model versions and which one is active.
type Registry struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the registry database over the postgres driver.
func Open(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold: time.Second,
			LogLevel:      gormlogger.Warn,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}
	return db, nil
}

// New migrates the registry schema on db.
func New(db *gorm.DB, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&ModelVersion{}); err != nil {
		return nil, fmt.Errorf("migrating registry schema: %w", err)
	}
	return &Registry{db: db, logger: logger}, nil
}

// Record stores m as the only active version, replacing an existing entry
// with the same version string.
func (r *Registry) Record(ctx context.Context, m *segmentation.Model, customers int) (ModelVersion, error) {
	segments := make(map[int]SegmentSummary, len(m.Profiles))
	for idx, p := range m.Profiles {
		segments[idx] = SegmentSummary{Name: m.SegmentName(idx), Size: p.Size, Percentage: p.Percentage}
	}
	encoded, err := json.Marshal(segments)
	if err != nil {
		return ModelVersion{}, fmt.Errorf("encoding segments: %w", err)
	}

	var entry ModelVersion
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ModelVersion{}).Where("active = ?", true).Update("active", false).Error; err != nil {
			return err
		}
		isNew := false
		err := tx.Where("version = ?", m.Version).First(&entry).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			entry = ModelVersion{ID: uuid.New(), Version: m.Version}
			isNew = true
		case err != nil:
			return err
		}
		entry.TrainedAt = m.TrainedAt
		entry.K = m.K
		entry.Silhouette = m.Silhouette
		entry.Customers = customers
		entry.SegmentsJSON = string(encoded)
		entry.Active = true
		if isNew {
			return tx.Create(&entry).Error
		}
		return tx.Save(&entry).Error
	})
	if err != nil {
		return ModelVersion{}, fmt.Errorf("recording model version %s: %w", m.Version, err)
	}
	r.logger.Info("model version recorded", zap.String("model_version", entry.Version), zap.String("id", entry.ID.String()))
	return entry, nil
}

// List returns all versions, newest first.
func (r *Registry) List(ctx context.Context) ([]ModelVersion, error) {
	var versions []ModelVersion
	if err := r.db.WithContext(ctx).Order("trained_at DESC").Order("version DESC").Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("listing model versions: %w", err)
	}
	return versions, nil
}

// Active returns the active version, or ErrModelNotTrained when none exists.
func (r *Registry) Active(ctx context.Context) (ModelVersion, error) {
	var v ModelVersion
	err := r.db.WithContext(ctx).Where("active = ?", true).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ModelVersion{}, fmt.Errorf("%w: no active model version", segmentation.ErrModelNotTrained)
	}
	if err != nil {
		return ModelVersion{}, fmt.Errorf("loading active model version: %w", err)
	}
	return v, nil
}
