// Package store defines the persistence contract the pool engine runs on.
// internal/database provides the gorm implementation.
package store

import (
	"context"
	"errors"
	"time"

	"proxywarden/internal/domain"
)

var (
	ErrEmptyPredicate = errors.New("store: delete predicate matches nothing")
	ErrInvalidFilter  = errors.New("store: invalid filter")
)

// Order selects how Query sorts its result.
type Order uint8

const (
	OrderNone Order = iota
	// OrderFIFO is ascending collection time, oldest harvested first.
	OrderFIFO
	// OrderFastest is ascending response time with nulls last.
	OrderFastest
	OrderRandom
	// OrderStalest is ascending last check, never-checked first.
	OrderStalest
)

func (o Order) String() string {
	switch o {
	case OrderNone:
		return "none"
	case OrderFIFO:
		return "fifo"
	case OrderFastest:
		return "fastest"
	case OrderRandom:
		return "random"
	case OrderStalest:
		return "stalest"
	default:
		return "unknown"
	}
}

// Filter narrows Query and Count. Zero-valued fields are ignored, except that
// Status is only applied when HasStatus is set, because StatusUnchecked is
// the zero value.
type Filter struct {
	Endpoint       *domain.Endpoint
	Status         domain.Status
	HasStatus      bool
	Outdated       *bool
	Protocol       domain.Protocol
	CollectedAfter time.Time
	CheckedAfter   time.Time
	CheckedBefore  time.Time
	OrderBy        Order
	Limit          int
}

// WithStatus returns a copy of f restricted to status.
func (f Filter) WithStatus(status domain.Status) Filter {
	f.Status = status
	f.HasStatus = true
	return f
}

// Fresh returns a copy of f that excludes outdated records.
func (f Filter) Fresh() Filter {
	outdated := false
	f.Outdated = &outdated
	return f
}

func (f Filter) Validate() error {
	if f.Limit < 0 {
		return ErrInvalidFilter
	}
	if f.HasStatus && !f.Status.Valid() {
		return ErrInvalidFilter
	}
	if f.Endpoint != nil {
		if err := f.Endpoint.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Predicate selects records for deletion. Set conditions are OR-ed together.
type Predicate struct {
	// CollectedBefore matches records harvested before the instant.
	CollectedBefore time.Time
	// FailedCheckedBefore matches failed records last checked before the instant.
	FailedCheckedBefore time.Time
}

func (p Predicate) Empty() bool {
	return p.CollectedBefore.IsZero() && p.FailedCheckedBefore.IsZero()
}

type Store interface {
	// Upsert inserts new identities as unchecked and refreshes the collection
	// timestamp, protocol and source of existing ones, clearing outdated.
	// Status, response time and last check are never touched.
	Upsert(ctx context.Context, candidates []domain.Candidate, collectedAt time.Time) (int64, error)
	// UpdateVerdict writes one verdict atomically. It reports false when the
	// identity is unknown or a newer verdict is already stored.
	UpdateVerdict(ctx context.Context, endpoint domain.Endpoint, status domain.Status, responseTime *float64, checkedAt time.Time) (bool, error)
	Query(ctx context.Context, filter Filter) ([]domain.Proxy, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	BulkSetOutdated(ctx context.Context) (int64, error)
	DeleteWhere(ctx context.Context, predicate Predicate) (int64, error)
	// Aggregate returns a statistics snapshot read in a single transaction.
	Aggregate(ctx context.Context) (domain.Statistics, error)
}
