package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"proxywarden/internal/domain"

	"gorm.io/gorm"
)

// UpdateVerdict writes status, response time and last check in one UPDATE.
// The last_check guard keeps last_check monotonic: a verdict older than the
// stored one is dropped, and of two racing writes the later check wins
// whole, so a status is never paired with another probe's response time.
func (s *Store) UpdateVerdict(ctx context.Context, endpoint domain.Endpoint, status domain.Status, responseTime *float64, checkedAt time.Time) (bool, error) {
	endpoint = endpoint.Normalized()
	if err := endpoint.Validate(); err != nil {
		return false, err
	}
	if err := validateVerdict(status, responseTime); err != nil {
		return false, err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	if status != domain.StatusWorking {
		responseTime = nil
	}
	checkedAt = normalizeTime(checkedAt)

	var updated bool
	err = withRetry(ctx, "update verdict", func() error {
		result := db.Model(&domain.Proxy{}).
			Where("host = ? AND port = ?", endpoint.Host, endpoint.Port).
			Where("(last_check_at IS NULL OR last_check_at <= ?)", checkedAt).
			Updates(map[string]interface{}{
				"status":        status,
				"response_time": responseTime,
				"last_check_at": checkedAt,
				"updated_at":    normalizeTime(time.Now()),
			})
		if result.Error != nil {
			return result.Error
		}
		updated = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("database: update verdict %s: %w", endpoint, err)
	}

	return updated, nil
}

func validateVerdict(status domain.Status, responseTime *float64) error {
	switch status {
	case domain.StatusWorking:
		if responseTime == nil || *responseTime < 0 {
			return fmt.Errorf("%w: working verdict needs a non-negative response time", ErrInvalidVerdict)
		}
	case domain.StatusFailed:
	default:
		return fmt.Errorf("%w: status %s is not a verdict", ErrInvalidVerdict, status)
	}
	return nil
}

type aggregateRow struct {
	Total           int64
	Working         int64
	Failed          int64
	Unchecked       int64
	Outdated        int64
	AvgResponseTime *float64
}

// Aggregate reads every figure inside one transaction. MIN/MAX over the
// timestamp columns are read as ordered single-row queries so the driver
// still sees the column type.
func (s *Store) Aggregate(ctx context.Context) (domain.Statistics, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.Statistics{}, err
	}

	var opts []*sql.TxOptions
	if s.isPostgres() {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}

	var stats domain.Statistics
	err = db.Transaction(func(tx *gorm.DB) error {
		var row aggregateRow
		if err := tx.Model(&domain.Proxy{}).
			Select(`COUNT(*) AS total,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS working,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS unchecked,
				COALESCE(SUM(CASE WHEN outdated = ? THEN 1 ELSE 0 END), 0) AS outdated,
				AVG(CASE WHEN status = ? THEN response_time END) AS avg_response_time`,
				domain.StatusWorking,
				domain.StatusFailed,
				domain.StatusUnchecked,
				true,
				domain.StatusWorking,
			).
			Scan(&row).Error; err != nil {
			return err
		}

		var oldest []time.Time
		if err := tx.Model(&domain.Proxy{}).
			Order("collected_at ASC").
			Limit(1).
			Pluck("collected_at", &oldest).Error; err != nil {
			return err
		}

		var latest []time.Time
		if err := tx.Model(&domain.Proxy{}).
			Where("last_check_at IS NOT NULL").
			Order("last_check_at DESC").
			Limit(1).
			Pluck("last_check_at", &latest).Error; err != nil {
			return err
		}

		stats = domain.Statistics{
			Total:           row.Total,
			Working:         row.Working,
			Failed:          row.Failed,
			Unchecked:       row.Unchecked,
			Outdated:        row.Outdated,
			AvgResponseTime: row.AvgResponseTime,
		}
		if len(oldest) > 0 {
			value := oldest[0].UTC()
			stats.OldestCollection = &value
		}
		if len(latest) > 0 {
			value := latest[0].UTC()
			stats.LatestCheck = &value
		}
		return nil
	}, opts...)
	if err != nil {
		return domain.Statistics{}, fmt.Errorf("database: aggregate statistics: %w", err)
	}

	return stats, nil
}
