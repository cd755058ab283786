// Package pool is the consumer-facing view of the proxy records: ranked
// working proxies, caller-reported failures and the retention operations.
package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"proxywarden/internal/domain"
	"proxywarden/internal/metrics"
	"proxywarden/internal/store"
)

var (
	ErrNoWorkingProxy  = errors.New("pool: no working proxy available")
	ErrInvalidArgument = errors.New("pool: invalid argument")
	ErrProxyNotFound   = errors.New("pool: proxy not found")
)

type Options struct {
	// Protocol scopes every query to one protocol. Empty serves all of them.
	Protocol domain.Protocol
}

type Service struct {
	store store.Store
	opts  Options
	now   func() time.Time
}

func NewService(st store.Store, opts Options) *Service {
	return &Service{store: st, opts: opts, now: time.Now}
}

func (s *Service) Protocol() domain.Protocol {
	return s.opts.Protocol
}

// working matches fresh working records whose last verdict is within maxAge.
func (s *Service) working(maxAge time.Duration) store.Filter {
	return store.Filter{
		Protocol:     s.opts.Protocol,
		CheckedAfter: s.now().Add(-maxAge),
		OrderBy:      store.OrderFastest,
	}.WithStatus(domain.StatusWorking).Fresh()
}

func validateMaxAge(maxAge time.Duration) error {
	if maxAge < 0 {
		return fmt.Errorf("%w: max age %s", ErrInvalidArgument, maxAge)
	}
	return nil
}

// GetOne returns the fastest working proxy checked within maxAge.
func (s *Service) GetOne(ctx context.Context, maxAge time.Duration) (domain.Proxy, error) {
	proxies, err := s.GetN(ctx, 1, maxAge)
	if err != nil {
		return domain.Proxy{}, err
	}
	if len(proxies) == 0 {
		return domain.Proxy{}, ErrNoWorkingProxy
	}
	return proxies[0], nil
}

// GetN returns up to limit working proxies, fastest first. An empty result
// is not an error.
func (s *Service) GetN(ctx context.Context, limit int, maxAge time.Duration) ([]domain.Proxy, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit %d", ErrInvalidArgument, limit)
	}
	if err := validateMaxAge(maxAge); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []domain.Proxy{}, nil
	}

	filter := s.working(maxAge)
	filter.Limit = limit
	return s.store.Query(ctx, filter)
}

// GetRandom picks uniformly among working proxies collected within maxAge.
func (s *Service) GetRandom(ctx context.Context, maxAge time.Duration) (domain.Proxy, error) {
	if err := validateMaxAge(maxAge); err != nil {
		return domain.Proxy{}, err
	}

	proxies, err := s.store.Query(ctx, store.Filter{
		Protocol:       s.opts.Protocol,
		CollectedAfter: s.now().Add(-maxAge),
		OrderBy:        store.OrderRandom,
		Limit:          1,
	}.WithStatus(domain.StatusWorking).Fresh())
	if err != nil {
		return domain.Proxy{}, err
	}
	if len(proxies) == 0 {
		return domain.Proxy{}, ErrNoWorkingProxy
	}
	return proxies[0], nil
}

// MarkFailed demotes endpoint without probing it. The record stays failed
// until a later probe finds it working again.
func (s *Service) MarkFailed(ctx context.Context, endpoint domain.Endpoint) error {
	endpoint = endpoint.Normalized()
	if err := endpoint.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	updated, err := s.store.UpdateVerdict(ctx, endpoint, domain.StatusFailed, nil, s.now())
	if err != nil {
		return err
	}
	if updated {
		log.Info("Proxy reported failed", "proxy", endpoint.String())
		return nil
	}

	// not updated: unknown identity, or a verdict newer than now already stored
	count, err := s.store.Count(ctx, store.Filter{Endpoint: &endpoint})
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrProxyNotFound, endpoint)
	}
	return nil
}

// MarkFailedURL accepts the "scheme://host:port" form consumers hold.
func (s *Service) MarkFailedURL(ctx context.Context, raw string) error {
	endpoint, _, err := domain.ParseEndpoint(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return s.MarkFailed(ctx, endpoint)
}

// GetStatistics returns one consistent snapshot across the whole store and
// exports it as gauges.
func (s *Service) GetStatistics(ctx context.Context) (domain.Statistics, error) {
	stats, err := s.store.Aggregate(ctx)
	if err != nil {
		return domain.Statistics{}, err
	}
	metrics.SetPoolStatistics(stats)
	return stats, nil
}
