package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"proxywarden/internal/config"
	"proxywarden/internal/domain"
	"proxywarden/internal/jobs/checker"
	"proxywarden/internal/jobs/runtime"
	"proxywarden/internal/jobs/scraper"
	"proxywarden/internal/pool"
)

var ErrCycleRunning = errors.New("app: refresh cycle already running")

const releaseTimeout = 5 * time.Second

type RefreshOptions struct {
	MaxAge time.Duration
	// RetentionDays bounds how long records are kept. Zero disables the
	// purge step.
	RetentionDays int
	// RecheckAfter re-probes working records last checked longer ago. Zero
	// disables the recheck.
	RecheckAfter time.Duration
	RecheckLimit int
	LeaseTTL     time.Duration
}

func RefreshOptionsFrom(cfg config.Config) RefreshOptions {
	return RefreshOptions{
		MaxAge:        cfg.Pool.MaxAge,
		RetentionDays: cfg.Pool.RetentionDays,
		RecheckAfter:  cfg.Checker.RecheckAfter,
		RecheckLimit:  cfg.Checker.RecheckLimit,
		LeaseTTL:      cfg.Redis.LeaseTTL,
	}
}

type CycleReport struct {
	RunID string
	// Skipped is set when the cycle did not harvest; SkipReason says why.
	Skipped     bool
	SkipReason  string
	Invalidated int64
	Harvest     scraper.HarvestReport
	Sweep       checker.SweepReport
	Recheck     checker.BatchReport
	Purged      int64
	Statistics  domain.Statistics
	Duration    time.Duration
}

// Refresher runs the harvest, sweep and retention cycle against one store.
type Refresher struct {
	pool      *pool.Service
	harvester *scraper.Harvester
	checker   *checker.Checker
	redis     *redis.Client
	opts      RefreshOptions

	mu sync.Mutex
}

// NewRefresher wires the cycle. redisClient may be nil, in which case only
// the in-process guard prevents overlapping cycles.
func NewRefresher(poolService *pool.Service, harvester *scraper.Harvester, chk *checker.Checker, redisClient *redis.Client, opts RefreshOptions) *Refresher {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = runtime.DefaultLeaseTTL
	}
	return &Refresher{
		pool:      poolService,
		harvester: harvester,
		checker:   chk,
		redis:     redisClient,
		opts:      opts,
	}
}

// RunCycle refreshes the pool. Without force it only harvests when fewer than
// the configured minimum of working proxies were collected within MaxAge;
// otherwise it rechecks stale working records and returns.
func (r *Refresher) RunCycle(ctx context.Context, force bool) (CycleReport, error) {
	started := time.Now()
	report := CycleReport{RunID: uuid.NewString()}
	cycleLog := log.With("cycle", report.RunID)

	if !r.mu.TryLock() {
		return report, ErrCycleRunning
	}
	defer r.mu.Unlock()

	if r.redis != nil {
		lease, err := runtime.AcquireCycleLease(ctx, r.redis, r.opts.LeaseTTL)
		if errors.Is(err, runtime.ErrLeaseHeld) {
			cycleLog.Info("Refresh cycle running on another instance, skipping")
			report.Skipped = true
			report.SkipReason = "lease held by another instance"
			return report, nil
		}
		if err != nil {
			return report, fmt.Errorf("app: acquire cycle lease: %w", err)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			if err := lease.Release(releaseCtx); err != nil {
				cycleLog.Warn("Failed to release cycle lease", "error", err)
			}
		}()
	}

	if !force {
		needed, err := r.checker.NeedsRefresh(ctx, r.opts.MaxAge)
		if err != nil {
			return report, err
		}
		if !needed {
			report.Skipped = true
			report.SkipReason = "enough working proxies"
			if err := r.recheck(ctx, &report); err != nil {
				return report, err
			}
			report.Duration = time.Since(started)
			cycleLog.Debug("Pool healthy, harvest skipped", "rechecked", report.Recheck.Checked)
			return report, nil
		}
	}

	cycleLog.Info("Refresh cycle started", "forced", force)

	invalidated, err := r.pool.InvalidateAll(ctx)
	if err != nil {
		return report, err
	}
	report.Invalidated = invalidated

	harvest, err := r.harvester.Harvest(ctx)
	report.Harvest = harvest
	if err != nil {
		return report, err
	}

	sweep, err := r.checker.RunFullSweep(ctx)
	report.Sweep = sweep
	if err != nil {
		return report, err
	}

	if err := r.recheck(ctx, &report); err != nil {
		return report, err
	}

	var purged int64
	if r.opts.RetentionDays > 0 {
		if purged, err = r.pool.Purge(ctx, r.opts.RetentionDays); err != nil {
			return report, err
		}
	}
	report.Purged = purged

	stats, err := r.pool.GetStatistics(ctx)
	if err != nil {
		return report, err
	}
	report.Statistics = stats
	report.Duration = time.Since(started)

	cycleLog.Info("Refresh cycle finished",
		"harvested", harvest.Accepted,
		"checked", sweep.Checked,
		"purged", purged,
		"working", stats.Working,
		"total", stats.Total,
		"duration", report.Duration.Round(time.Millisecond),
	)
	return report, nil
}

func (r *Refresher) recheck(ctx context.Context, report *CycleReport) error {
	if r.opts.RecheckAfter <= 0 || r.opts.RecheckLimit <= 0 {
		return nil
	}
	rechecked, err := r.checker.RecheckStale(ctx, r.opts.RecheckAfter, r.opts.RecheckLimit)
	report.Recheck = rechecked
	return err
}

// StartLoop runs a cycle immediately and then every interval until ctx is
// done. Cycle errors are logged, never fatal.
func (r *Refresher) StartLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	r.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runLogged(ctx)
		}
	}
}

func (r *Refresher) runLogged(ctx context.Context) {
	if _, err := r.RunCycle(ctx, false); err != nil {
		if errors.Is(err, ErrCycleRunning) || errors.Is(err, context.Canceled) {
			return
		}
		log.Error("Refresh cycle failed", "error", err)
	}
}
