package database

import (
	"context"
	"fmt"
	"time"

	"proxywarden/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxHarvestErrorLength = 512

// RecordHarvest stores the outcome of one source fetch. A failed fetch keeps
// the previous success timestamp.
func (s *Store) RecordHarvest(ctx context.Context, name string, count int, harvestErr error, at time.Time) error {
	if name == "" {
		return fmt.Errorf("database: record harvest: empty source name")
	}
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	at = normalizeTime(at)
	row := domain.HarvestSource{
		Name:           name,
		LastHarvestAt:  at,
		LastCount:      count,
		TotalHarvested: int64(count),
		CreatedAt:      at,
		UpdatedAt:      at,
	}

	assignments := map[string]interface{}{
		"last_harvest_at": gorm.Expr("excluded.last_harvest_at"),
		"last_count":      gorm.Expr("excluded.last_count"),
		"last_error":      gorm.Expr("excluded.last_error"),
		"total_harvested": gorm.Expr("harvest_sources.total_harvested + excluded.last_count"),
		"updated_at":      gorm.Expr("excluded.updated_at"),
	}
	if harvestErr != nil {
		row.LastError = truncate(harvestErr.Error(), maxHarvestErrorLength)
	} else {
		row.LastSuccessAt = &at
		assignments["last_success_at"] = gorm.Expr("excluded.last_success_at")
	}

	err = withRetry(ctx, "record harvest", func() error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.Assignments(assignments),
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("database: record harvest %s: %w", name, err)
	}
	return nil
}

func (s *Store) ListHarvestSources(ctx context.Context) ([]domain.HarvestSource, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	sources := make([]domain.HarvestSource, 0)
	if err := db.Order("name ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("database: list harvest sources: %w", err)
	}
	return sources, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
