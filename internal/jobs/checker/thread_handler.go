package checker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"proxywarden/internal/config"
	"proxywarden/internal/domain"
	"proxywarden/internal/metrics"
	"proxywarden/internal/store"
)

var ErrInvalidArgument = errors.New("checker: invalid argument")

// MaxRandomSample caps one spot check. Its probes run one after another.
const MaxRandomSample = 50

// ProbeRunner is the part of Prober the scheduler needs.
type ProbeRunner interface {
	Probe(ctx context.Context, candidate domain.Candidate) (domain.Verdict, error)
}

type SelectMode uint8

const (
	SelectFIFO SelectMode = iota
	SelectRandom
)

type Options struct {
	Concurrency   int
	BatchSize     int
	ProgressEvery int
	MinWorking    int
	// Protocol scopes selection to one protocol pool. Empty means all.
	Protocol domain.Protocol
}

func OptionsFrom(cfg config.Config) Options {
	opts := Options{
		Concurrency:   cfg.Checker.Concurrency,
		BatchSize:     cfg.Checker.BatchSize,
		ProgressEvery: cfg.Checker.ProgressEvery,
		MinWorking:    cfg.Pool.MinWorking,
	}
	if cfg.Pool.Protocol != "" {
		if protocol, err := domain.ParseProtocol(cfg.Pool.Protocol); err == nil {
			opts.Protocol = protocol
		}
	}
	return opts
}

type BatchReport struct {
	Checked int
	Working int
	Failed  int
	// Skipped counts probes never started because the store failed.
	Skipped  int
	Duration time.Duration
}

func (r *BatchReport) add(other BatchReport) {
	r.Checked += other.Checked
	r.Working += other.Working
	r.Failed += other.Failed
	r.Skipped += other.Skipped
	r.Duration += other.Duration
}

type SweepReport struct {
	RunID   string
	Batches int
	BatchReport
}

type Checker struct {
	store  store.Store
	prober ProbeRunner
	opts   Options
}

func NewChecker(st store.Store, prober ProbeRunner, opts Options) *Checker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 100
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 10
	}
	if opts.MinWorking < 0 {
		opts.MinWorking = 0
	}
	return &Checker{store: st, prober: prober, opts: opts}
}

// SelectUnchecked returns up to limit never-probed, non-outdated records.
func (c *Checker) SelectUnchecked(ctx context.Context, limit int, mode SelectMode) ([]domain.Proxy, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit %d", ErrInvalidArgument, limit)
	}
	if limit == 0 {
		return []domain.Proxy{}, nil
	}

	order := store.OrderFIFO
	if mode == SelectRandom {
		order = store.OrderRandom
	}

	return c.store.Query(ctx, store.Filter{
		Protocol: c.opts.Protocol,
		OrderBy:  order,
		Limit:    limit,
	}.WithStatus(domain.StatusUnchecked).Fresh())
}

// RunBatch probes proxies with at most Concurrency in flight and persists
// every verdict as soon as its probe returns. Probes are detached from ctx
// and bounded by their own timeout. A store failure stops new probes from
// starting and is returned once the in-flight ones have finished.
func (c *Checker) RunBatch(ctx context.Context, proxies []domain.Proxy) (BatchReport, error) {
	var completed atomic.Int64
	return c.runBatch(ctx, proxies, func() {
		c.reportProgress(completed.Add(1), int64(len(proxies)))
	})
}

func (c *Checker) runBatch(ctx context.Context, proxies []domain.Proxy, onDone func()) (BatchReport, error) {
	start := time.Now()
	report := BatchReport{}
	if len(proxies) == 0 {
		return report, nil
	}

	probeCtx := context.WithoutCancel(ctx)

	var (
		working atomic.Int64
		failed  atomic.Int64
		skipped atomic.Int64
		stopped atomic.Bool
	)

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)

	for i := range proxies {
		if stopped.Load() {
			skipped.Add(int64(len(proxies) - i))
			break
		}

		proxy := proxies[i]
		g.Go(func() error {
			if stopped.Load() {
				skipped.Add(1)
				return nil
			}

			verdict := c.probe(probeCtx, proxy)
			if _, err := c.store.UpdateVerdict(probeCtx, proxy.Endpoint(), verdict.Status(), verdict.ResponseTime(), verdict.CheckedAt); err != nil {
				stopped.Store(true)
				return fmt.Errorf("checker: persist verdict for %s: %w", proxy.GetFullProxy(), err)
			}

			if verdict.Working {
				working.Add(1)
			} else {
				failed.Add(1)
			}
			if onDone != nil {
				onDone()
			}
			return nil
		})
	}

	err := g.Wait()

	report.Working = int(working.Load())
	report.Failed = int(failed.Load())
	report.Checked = report.Working + report.Failed
	report.Skipped = int(skipped.Load())
	report.Duration = time.Since(start)
	return report, err
}

// probe never fails: a candidate that cannot even be probed gets a failed
// verdict so it leaves the unchecked queue.
func (c *Checker) probe(ctx context.Context, proxy domain.Proxy) domain.Verdict {
	verdict, err := c.prober.Probe(ctx, proxy.Candidate())
	if err != nil {
		log.Warn("Proxy cannot be probed", "proxy", proxy.GetFullProxy(), "error", err)
		verdict = domain.Verdict{Working: false, Detail: err.Error()}
	}
	if verdict.CheckedAt.IsZero() {
		verdict.CheckedAt = time.Now()
	}
	return verdict
}

func (c *Checker) reportProgress(completed, total int64) {
	metrics.SweepCompleted.Set(float64(completed))
	if completed%int64(c.opts.ProgressEvery) == 0 {
		if total > 0 {
			log.Info("Probe progress", "checked", completed, "of", total)
		} else {
			log.Info("Probe progress", "checked", completed)
		}
	}
}

// RunFullSweep drains the unchecked queue in FIFO batches. Cancellation is
// honoured between batches only.
func (c *Checker) RunFullSweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{RunID: uuid.NewString()}
	sweepLog := log.With("sweep", report.RunID)

	metrics.SweepCompleted.Set(0)
	sweepLog.Info("Sweep started", "batch_size", c.opts.BatchSize, "concurrency", c.opts.Concurrency)

	var completed atomic.Int64
	for {
		if err := ctx.Err(); err != nil {
			sweepLog.Warn("Sweep cancelled", "checked", report.Checked)
			return report, err
		}

		batch, err := c.SelectUnchecked(ctx, c.opts.BatchSize, SelectFIFO)
		if err != nil {
			return report, err
		}
		if len(batch) == 0 {
			break
		}

		batchReport, err := c.runBatch(ctx, batch, func() {
			c.reportProgress(completed.Add(1), 0)
		})
		report.Batches++
		report.add(batchReport)
		if err != nil {
			sweepLog.Error("Sweep aborted", "error", err, "checked", report.Checked, "skipped", report.Skipped)
			return report, err
		}

		// every record of the batch still unchecked means nothing can move the queue
		if batchReport.Checked == 0 {
			sweepLog.Warn("Sweep made no progress, stopping", "batch", len(batch))
			break
		}
	}

	sweepLog.Info("Sweep finished", "checked", report.Checked, "working", report.Working, "failed", report.Failed, "batches", report.Batches)
	return report, nil
}

// CheckRandomSample probes a random unchecked sample of at most
// MaxRandomSample records one by one and returns the ones that turned out to
// work. Once selected, the sample is probed and persisted to the end even if
// ctx is cancelled.
func (c *Checker) CheckRandomSample(ctx context.Context, limit int) ([]domain.Proxy, error) {
	if limit > MaxRandomSample {
		limit = MaxRandomSample
	}
	sample, err := c.SelectUnchecked(ctx, limit, SelectRandom)
	if err != nil {
		return nil, err
	}

	probeCtx := context.WithoutCancel(ctx)
	working := make([]domain.Proxy, 0, len(sample))
	for _, proxy := range sample {
		verdict := c.probe(probeCtx, proxy)
		if _, err := c.store.UpdateVerdict(probeCtx, proxy.Endpoint(), verdict.Status(), verdict.ResponseTime(), verdict.CheckedAt); err != nil {
			return working, fmt.Errorf("checker: persist verdict for %s: %w", proxy.GetFullProxy(), err)
		}
		if !verdict.Working {
			continue
		}

		checkedAt := verdict.CheckedAt.UTC()
		proxy.Status = domain.StatusWorking
		proxy.ResponseTime = verdict.ResponseTime()
		proxy.LastCheckAt = &checkedAt
		working = append(working, proxy)
	}

	return working, nil
}

// NeedsRefresh reports whether fewer than MinWorking fresh working records
// were collected within maxAge.
func (c *Checker) NeedsRefresh(ctx context.Context, maxAge time.Duration) (bool, error) {
	if maxAge < 0 {
		return false, fmt.Errorf("%w: max age %s", ErrInvalidArgument, maxAge)
	}

	count, err := c.store.Count(ctx, store.Filter{
		Protocol:       c.opts.Protocol,
		CollectedAfter: time.Now().Add(-maxAge),
	}.WithStatus(domain.StatusWorking).Fresh())
	if err != nil {
		return false, err
	}

	return count < int64(c.opts.MinWorking), nil
}

// RecheckStale re-probes working records whose last check is older than
// olderThan, stalest first.
func (c *Checker) RecheckStale(ctx context.Context, olderThan time.Duration, limit int) (BatchReport, error) {
	if olderThan < 0 || limit < 0 {
		return BatchReport{}, fmt.Errorf("%w: older than %s, limit %d", ErrInvalidArgument, olderThan, limit)
	}
	if limit == 0 {
		return BatchReport{}, nil
	}

	stale, err := c.store.Query(ctx, store.Filter{
		Protocol:      c.opts.Protocol,
		CheckedBefore: time.Now().Add(-olderThan),
		OrderBy:       store.OrderStalest,
		Limit:         limit,
	}.WithStatus(domain.StatusWorking).Fresh())
	if err != nil {
		return BatchReport{}, err
	}
	if len(stale) == 0 {
		return BatchReport{}, nil
	}

	log.Info("Rechecking stale working proxies", "count", len(stale))
	return c.RunBatch(ctx, stale)
}
