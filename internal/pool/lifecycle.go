package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"proxywarden/internal/store"
)

// InvalidateAll flags every record outdated ahead of a new harvest. Records
// stay in place; a re-harvest clears the flag on what is still listed.
func (s *Service) InvalidateAll(ctx context.Context) (int64, error) {
	affected, err := s.store.BulkSetOutdated(ctx)
	if err != nil {
		return 0, err
	}
	log.Info("Marked proxies outdated", "count", affected)
	return affected, nil
}

// Purge deletes records collected more than maxAgeDays ago and failed
// records whose last check is that old.
func (s *Service) Purge(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays < 0 {
		return 0, fmt.Errorf("%w: max age days %d", ErrInvalidArgument, maxAgeDays)
	}

	cutoff := s.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	deleted, err := s.store.DeleteWhere(ctx, store.Predicate{
		CollectedBefore:     cutoff,
		FailedCheckedBefore: cutoff,
	})
	if err != nil {
		return deleted, err
	}
	if deleted > 0 {
		log.Info("Purged expired proxies", "count", deleted, "older_than_days", maxAgeDays)
	}
	return deleted, nil
}
