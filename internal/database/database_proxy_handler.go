package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"proxywarden/internal/domain"
	"proxywarden/internal/store"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// postgres caps bind parameters per statement at 65535
	maxParamsPerBatch = 65535
	deleteChunkSize   = 5000
)

// Store is the gorm backed store.Store.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// NewStore wraps db. A nil db falls back to the global connection set up by
// SetupDB.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) base() *gorm.DB {
	if s.db != nil {
		return s.db
	}
	return DB
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	db := s.base()
	if db == nil {
		return nil, ErrNotInitialised
	}
	return db.WithContext(ctx), nil
}

func (s *Store) isPostgres() bool {
	db := s.base()
	return db != nil && db.Dialector.Name() == DriverPostgres
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (s *Store) Upsert(ctx context.Context, candidates []domain.Candidate, collectedAt time.Time) (int64, error) {
	if len(candidates) == 0 {
		return 0, nil
	}
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	collectedAt = normalizeTime(collectedAt)
	rows, err := candidateRows(candidates, collectedAt)
	if err != nil {
		return 0, err
	}

	// Proxy inserts touch every column of the model.
	const paramsPerRow = 13
	chunkSize := maxParamsPerBatch / paramsPerRow
	if chunkSize > len(rows) {
		chunkSize = len(rows)
	}

	var affected int64
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		err := withRetry(ctx, "upsert", func() error {
			result := db.Clauses(upsertClause()).Create(&chunk)
			if result.Error != nil {
				return result.Error
			}
			affected += result.RowsAffected
			return nil
		})
		if err != nil {
			return affected, fmt.Errorf("database: upsert proxies: %w", err)
		}
	}

	return affected, nil
}

// candidateRows validates and deduplicates by identity, first occurrence
// wins. postgres refuses an upsert that touches the same row twice.
func candidateRows(candidates []domain.Candidate, collectedAt time.Time) ([]domain.Proxy, error) {
	seen := make(map[domain.Endpoint]struct{}, len(candidates))
	rows := make([]domain.Proxy, 0, len(candidates))

	for _, raw := range candidates {
		candidate := raw.Normalized()
		if err := candidate.Validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[candidate.Endpoint]; ok {
			continue
		}
		seen[candidate.Endpoint] = struct{}{}

		rows = append(rows, domain.Proxy{
			Host:        candidate.Host,
			Port:        candidate.Port,
			Protocol:    candidate.Protocol,
			Country:     candidate.Country,
			Anonymity:   candidate.Anonymity,
			Source:      candidate.Source,
			Status:      domain.StatusUnchecked,
			CollectedAt: collectedAt,
			CreatedAt:   collectedAt,
			UpdatedAt:   collectedAt,
		})
	}

	return rows, nil
}

// upsertClause refreshes the harvest attributes of a known identity. Verdict
// columns are left alone.
func upsertClause() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "host"}, {Name: "port"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"protocol":     gorm.Expr("excluded.protocol"),
			"source":       gorm.Expr("excluded.source"),
			"country":      gorm.Expr("COALESCE(NULLIF(excluded.country, ''), proxies.country)"),
			"anonymity":    gorm.Expr("COALESCE(NULLIF(excluded.anonymity, ''), proxies.anonymity)"),
			"collected_at": gorm.Expr("CASE WHEN excluded.collected_at > proxies.collected_at THEN excluded.collected_at ELSE proxies.collected_at END"),
			"outdated":     false,
			"updated_at":   gorm.Expr("excluded.updated_at"),
		}),
	}
}

func (s *Store) Query(ctx context.Context, filter store.Filter) ([]domain.Proxy, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	query := applyOrder(applyFilter(db.Model(&domain.Proxy{}), filter), filter.OrderBy)
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	proxies := make([]domain.Proxy, 0)
	if err := query.Find(&proxies).Error; err != nil {
		return nil, fmt.Errorf("database: query proxies: %w", err)
	}
	return proxies, nil
}

func (s *Store) Count(ctx context.Context, filter store.Filter) (int64, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := applyFilter(db.Model(&domain.Proxy{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("database: count proxies: %w", err)
	}
	return count, nil
}

func applyFilter(query *gorm.DB, filter store.Filter) *gorm.DB {
	if filter.Endpoint != nil {
		endpoint := filter.Endpoint.Normalized()
		query = query.Where("host = ? AND port = ?", endpoint.Host, endpoint.Port)
	}
	if filter.HasStatus {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Outdated != nil {
		query = query.Where("outdated = ?", *filter.Outdated)
	}
	if filter.Protocol != "" {
		query = query.Where("protocol = ?", filter.Protocol)
	}
	if !filter.CollectedAfter.IsZero() {
		query = query.Where("collected_at >= ?", normalizeTime(filter.CollectedAfter))
	}
	if !filter.CheckedAfter.IsZero() {
		query = query.Where("last_check_at >= ?", normalizeTime(filter.CheckedAfter))
	}
	if !filter.CheckedBefore.IsZero() {
		query = query.Where("(last_check_at IS NULL OR last_check_at < ?)", normalizeTime(filter.CheckedBefore))
	}
	return query
}

func applyOrder(query *gorm.DB, order store.Order) *gorm.DB {
	switch order {
	case store.OrderFIFO:
		return query.Order("collected_at ASC").Order("id ASC")
	case store.OrderFastest:
		return query.Order("response_time IS NULL").Order("response_time ASC").Order("id ASC")
	case store.OrderRandom:
		return query.Order("RANDOM()")
	case store.OrderStalest:
		return query.Order("last_check_at IS NOT NULL").Order("last_check_at ASC").Order("id ASC")
	default:
		return query
	}
}

func (s *Store) BulkSetOutdated(ctx context.Context) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var affected int64
	err = withRetry(ctx, "set outdated", func() error {
		result := db.Model(&domain.Proxy{}).
			Where("outdated = ?", false).
			Updates(map[string]interface{}{
				"outdated":   true,
				"updated_at": normalizeTime(time.Now()),
			})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("database: set outdated: %w", err)
	}
	return affected, nil
}

// DeleteWhere removes matching records in id chunks so one purge never holds
// a long write lock.
func (s *Store) DeleteWhere(ctx context.Context, predicate store.Predicate) (int64, error) {
	if predicate.Empty() {
		return 0, store.ErrEmptyPredicate
	}
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	condition, args := predicateCondition(predicate)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var ids []uint64
		if err := db.Model(&domain.Proxy{}).
			Where(condition, args...).
			Order("id").
			Limit(deleteChunkSize).
			Pluck("id", &ids).Error; err != nil {
			return total, fmt.Errorf("database: select purge candidates: %w", err)
		}
		if len(ids) == 0 {
			return total, nil
		}

		err := withRetry(ctx, "purge", func() error {
			result := db.Where("id IN ?", ids).Delete(&domain.Proxy{})
			if result.Error != nil {
				return result.Error
			}
			total += result.RowsAffected
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("database: delete proxies: %w", err)
		}

		if len(ids) < deleteChunkSize {
			return total, nil
		}
	}
}

func predicateCondition(predicate store.Predicate) (string, []interface{}) {
	var (
		parts []string
		args  []interface{}
	)
	if !predicate.CollectedBefore.IsZero() {
		parts = append(parts, "collected_at < ?")
		args = append(args, normalizeTime(predicate.CollectedBefore))
	}
	if !predicate.FailedCheckedBefore.IsZero() {
		parts = append(parts, "(status = ? AND last_check_at IS NOT NULL AND last_check_at < ?)")
		args = append(args, domain.StatusFailed, normalizeTime(predicate.FailedCheckedBefore))
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}
