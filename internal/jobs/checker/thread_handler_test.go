package checker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"proxywarden/internal/database"
	"proxywarden/internal/domain"
	"proxywarden/internal/store"
)

func setupCheckerStore(t *testing.T) (*database.Store, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		t.Fatalf("set busy timeout: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if _, err := database.SetupDB(database.WithExistingDB(db), database.WithAutoMigrate(true)); err != nil {
		t.Fatalf("setup database: %v", err)
	}
	t.Cleanup(func() {
		database.DB = nil
		_ = sqlDB.Close()
	})

	return database.NewStore(db), db
}

func seedCandidates(t *testing.T, st store.Store, count int, collectedAt time.Time) []domain.Candidate {
	t.Helper()

	candidates := make([]domain.Candidate, 0, count)
	for i := 0; i < count; i++ {
		candidates = append(candidates, domain.Candidate{
			Endpoint: domain.Endpoint{Host: fmt.Sprintf("198.51.100.%d", i+1), Port: 8080},
			Protocol: domain.ProtocolHTTP,
			Source:   "test",
		})
	}
	if _, err := st.Upsert(context.Background(), candidates, collectedAt); err != nil {
		t.Fatalf("seed candidates: %v", err)
	}
	return candidates
}

func countStatus(t *testing.T, st store.Store, status domain.Status) int64 {
	t.Helper()
	count, err := st.Count(context.Background(), store.Filter{}.WithStatus(status))
	if err != nil {
		t.Fatalf("count %s: %v", status, err)
	}
	return count
}

// fakeProber answers from a map keyed by host; unknown hosts work.
type fakeProber struct {
	mu       sync.Mutex
	failing  map[string]bool
	delay    time.Duration
	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
	onProbe  func(calls int64)
}

func (f *fakeProber) Probe(ctx context.Context, candidate domain.Candidate) (domain.Verdict, error) {
	calls := f.calls.Add(1)
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if current <= seen || f.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	if f.onProbe != nil {
		f.onProbe(calls)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	failing := f.failing[candidate.Host]
	f.mu.Unlock()

	if failing {
		return domain.Verdict{Working: false, Detail: "refused", CheckedAt: time.Now()}, nil
	}
	return domain.Verdict{Working: true, Latency: 120 * time.Millisecond, CheckedAt: time.Now()}, nil
}

// failingStore fails verdict writes from the failAfter-th call on.
type failingStore struct {
	store.Store
	failAfter int64
	writes    atomic.Int64
}

var errStoreDown = errors.New("store down")

func (s *failingStore) UpdateVerdict(ctx context.Context, endpoint domain.Endpoint, status domain.Status, responseTime *float64, checkedAt time.Time) (bool, error) {
	if s.writes.Add(1) >= s.failAfter {
		return false, errStoreDown
	}
	return s.Store.UpdateVerdict(ctx, endpoint, status, responseTime, checkedAt)
}

func TestSelectUnchecked_SkipsOutdatedAndChecked(t *testing.T) {
	st, _ := setupCheckerStore(t)
	ctx := context.Background()

	candidates := seedCandidates(t, st, 4, time.Now())
	if _, err := st.UpdateVerdict(ctx, candidates[0].Endpoint, domain.StatusFailed, nil, time.Now()); err != nil {
		t.Fatalf("update verdict: %v", err)
	}
	if _, err := st.BulkSetOutdated(ctx); err != nil {
		t.Fatalf("bulk set outdated: %v", err)
	}
	seedCandidates(t, st, 2, time.Now()) // re-harvest revives the first two

	checker := NewChecker(st, &fakeProber{}, Options{})
	selected, err := checker.SelectUnchecked(ctx, 10, SelectFIFO)
	if err != nil {
		t.Fatalf("SelectUnchecked: %v", err)
	}
	if len(selected) != 1 || selected[0].Host != "198.51.100.2" {
		t.Fatalf("selected = %v, want only the revived unchecked record", selected)
	}

	if _, err := checker.SelectUnchecked(ctx, -1, SelectRandom); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("negative limit error = %v, want ErrInvalidArgument", err)
	}
	empty, err := checker.SelectUnchecked(ctx, 0, SelectRandom)
	if err != nil || len(empty) != 0 {
		t.Fatalf("zero limit = %v, %v; want empty result", empty, err)
	}
}

func TestRunBatch_PersistsEveryVerdictWithBoundedConcurrency(t *testing.T) {
	st, _ := setupCheckerStore(t)
	ctx := context.Background()

	candidates := seedCandidates(t, st, 12, time.Now())
	prober := &fakeProber{
		failing: map[string]bool{candidates[0].Host: true, candidates[5].Host: true},
		delay:   10 * time.Millisecond,
	}
	checker := NewChecker(st, prober, Options{Concurrency: 3, ProgressEvery: 4})

	batch, err := checker.SelectUnchecked(ctx, 12, SelectFIFO)
	if err != nil {
		t.Fatalf("SelectUnchecked: %v", err)
	}

	report, err := checker.RunBatch(ctx, batch)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if report.Checked != 12 || report.Working != 10 || report.Failed != 2 || report.Skipped != 0 {
		t.Fatalf("report = %+v, want 12 checked, 10 working, 2 failed", report)
	}
	if peak := prober.maxSeen.Load(); peak > 3 {
		t.Fatalf("max concurrent probes = %d, want <= 3", peak)
	}

	if got := countStatus(t, st, domain.StatusUnchecked); got != 0 {
		t.Fatalf("unchecked after batch = %d, want 0", got)
	}
	if got := countStatus(t, st, domain.StatusFailed); got != 2 {
		t.Fatalf("failed after batch = %d, want 2", got)
	}
}

func TestRunBatch_StoreFailureSkipsUnstartedProbes(t *testing.T) {
	st, _ := setupCheckerStore(t)
	ctx := context.Background()

	seedCandidates(t, st, 10, time.Now())
	failing := &failingStore{Store: st, failAfter: 3}
	prober := &fakeProber{}
	checker := NewChecker(failing, prober, Options{Concurrency: 1})

	batch, err := checker.SelectUnchecked(ctx, 10, SelectFIFO)
	if err != nil {
		t.Fatalf("SelectUnchecked: %v", err)
	}

	report, err := checker.RunBatch(ctx, batch)
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("RunBatch error = %v, want the store error", err)
	}
	if calls := prober.calls.Load(); calls != 3 {
		t.Fatalf("probes started = %d, want 3", calls)
	}
	if report.Checked != 2 || report.Skipped != 7 {
		t.Fatalf("report = %+v, want 2 checked and 7 skipped", report)
	}
	if got := countStatus(t, st, domain.StatusUnchecked); got != 8 {
		t.Fatalf("unchecked = %d, want 8", got)
	}
}

func TestRunFullSweep_DrainsQueueInBatches(t *testing.T) {
	st, _ := setupCheckerStore(t)

	candidates := seedCandidates(t, st, 10, time.Now())
	prober := &fakeProber{failing: map[string]bool{candidates[9].Host: true}}
	checker := NewChecker(st, prober, Options{Concurrency: 4, BatchSize: 3})

	report, err := checker.RunFullSweep(context.Background())
	if err != nil {
		t.Fatalf("RunFullSweep: %v", err)
	}
	if report.Batches != 4 {
		t.Fatalf("batches = %d, want 4", report.Batches)
	}
	if report.Checked != 10 || report.Working != 9 || report.Failed != 1 {
		t.Fatalf("report = %+v, want 10 checked, 9 working, 1 failed", report)
	}
	if report.RunID == "" {
		t.Fatal("sweep has no run id")
	}
	if got := countStatus(t, st, domain.StatusUnchecked); got != 0 {
		t.Fatalf("unchecked after sweep = %d, want 0", got)
	}
}

func TestRunFullSweep_CancelStopsAtBatchBoundary(t *testing.T) {
	st, _ := setupCheckerStore(t)

	seedCandidates(t, st, 9, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prober := &fakeProber{delay: 5 * time.Millisecond}
	prober.onProbe = func(calls int64) {
		if calls == 1 {
			cancel()
		}
	}
	checker := NewChecker(st, prober, Options{Concurrency: 3, BatchSize: 3})

	report, err := checker.RunFullSweep(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunFullSweep error = %v, want context.Canceled", err)
	}
	if report.Checked != 3 {
		t.Fatalf("checked = %d, want the in-flight batch of 3 to finish", report.Checked)
	}
	if got := countStatus(t, st, domain.StatusUnchecked); got != 6 {
		t.Fatalf("unchecked after cancel = %d, want 6", got)
	}
}

func TestCheckRandomSample_ReturnsWorkingOnly(t *testing.T) {
	st, _ := setupCheckerStore(t)
	ctx := context.Background()

	candidates := seedCandidates(t, st, 5, time.Now())
	prober := &fakeProber{failing: map[string]bool{
		candidates[0].Host: true,
		candidates[1].Host: true,
	}}
	checker := NewChecker(st, prober, Options{})

	working, err := checker.CheckRandomSample(ctx, 5)
	if err != nil {
		t.Fatalf("CheckRandomSample: %v", err)
	}
	if len(working) != 3 {
		t.Fatalf("working sample = %d, want 3", len(working))
	}
	for _, proxy := range working {
		if proxy.Status != domain.StatusWorking || proxy.ResponseTime == nil || proxy.LastCheckAt == nil {
			t.Fatalf("returned proxy %s does not carry its verdict: %+v", proxy.GetFullProxy(), proxy)
		}
	}
	if got := countStatus(t, st, domain.StatusFailed); got != 2 {
		t.Fatalf("failed = %d, want 2", got)
	}
}

// cancellingProber cancels the caller's context on its first call and fails
// every probe that sees a cancelled context.
type cancellingProber struct {
	cancel context.CancelFunc
	calls  atomic.Int64
}

func (p *cancellingProber) Probe(ctx context.Context, candidate domain.Candidate) (domain.Verdict, error) {
	if p.calls.Add(1) == 1 {
		p.cancel()
	}
	if err := ctx.Err(); err != nil {
		return domain.Verdict{Working: false, Detail: err.Error(), CheckedAt: time.Now()}, nil
	}
	return domain.Verdict{Working: true, Latency: 80 * time.Millisecond, CheckedAt: time.Now()}, nil
}

func TestCheckRandomSample_FinishesAfterCallerCancels(t *testing.T) {
	st, _ := setupCheckerStore(t)
	seedCandidates(t, st, 4, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prober := &cancellingProber{cancel: cancel}
	checker := NewChecker(st, prober, Options{})

	working, err := checker.CheckRandomSample(ctx, 4)
	if err != nil {
		t.Fatalf("CheckRandomSample: %v", err)
	}
	if prober.calls.Load() != 4 || len(working) != 4 {
		t.Fatalf("calls = %d, working = %d; want the whole sample probed and working", prober.calls.Load(), len(working))
	}
	if got := countStatus(t, st, domain.StatusWorking); got != 4 {
		t.Fatalf("persisted working = %d, want 4", got)
	}
}

func TestCheckRandomSample_CapsSampleSize(t *testing.T) {
	st, _ := setupCheckerStore(t)
	seedCandidates(t, st, MaxRandomSample+10, time.Now())

	prober := &fakeProber{}
	checker := NewChecker(st, prober, Options{})

	if _, err := checker.CheckRandomSample(context.Background(), 1000); err != nil {
		t.Fatalf("CheckRandomSample: %v", err)
	}
	if got := prober.calls.Load(); got != MaxRandomSample {
		t.Fatalf("probes = %d, want the cap %d", got, MaxRandomSample)
	}
	if got := countStatus(t, st, domain.StatusUnchecked); got != 10 {
		t.Fatalf("unchecked = %d, want 10 left", got)
	}
}

func TestNeedsRefresh_Threshold(t *testing.T) {
	cases := []struct {
		working int
		want    bool
	}{
		{working: 9, want: true},
		{working: 10, want: false},
		{working: 11, want: false},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("working_%d", tc.working), func(t *testing.T) {
			st, _ := setupCheckerStore(t)
			ctx := context.Background()

			candidates := seedCandidates(t, st, tc.working, time.Now().Add(-time.Hour))
			for _, candidate := range candidates {
				latency := 0.5
				if _, err := st.UpdateVerdict(ctx, candidate.Endpoint, domain.StatusWorking, &latency, time.Now()); err != nil {
					t.Fatalf("update verdict: %v", err)
				}
			}
			// old working records do not count
			old := []domain.Candidate{{Endpoint: domain.Endpoint{Host: "203.0.113.1", Port: 3128}}}
			if _, err := st.Upsert(ctx, old, time.Now().Add(-48*time.Hour)); err != nil {
				t.Fatalf("upsert old: %v", err)
			}
			latency := 0.2
			if _, err := st.UpdateVerdict(ctx, old[0].Endpoint, domain.StatusWorking, &latency, time.Now()); err != nil {
				t.Fatalf("update old verdict: %v", err)
			}

			checker := NewChecker(st, &fakeProber{}, Options{MinWorking: 10})
			got, err := checker.NeedsRefresh(ctx, 24*time.Hour)
			if err != nil {
				t.Fatalf("NeedsRefresh: %v", err)
			}
			if got != tc.want {
				t.Fatalf("NeedsRefresh with %d working = %v, want %v", tc.working, got, tc.want)
			}
		})
	}
}

func TestNeedsRefresh_RejectsNegativeAge(t *testing.T) {
	st, _ := setupCheckerStore(t)
	checker := NewChecker(st, &fakeProber{}, Options{MinWorking: 1})

	if _, err := checker.NeedsRefresh(context.Background(), -time.Second); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("negative max age error = %v, want ErrInvalidArgument", err)
	}
}

func TestRecheckStale_ReprobesOldWorkingRecords(t *testing.T) {
	st, db := setupCheckerStore(t)
	ctx := context.Background()

	candidates := seedCandidates(t, st, 3, time.Now())
	latency := 0.3
	for i, candidate := range candidates {
		checkedAt := time.Now().Add(-time.Duration(8-i) * time.Hour)
		if i == 2 {
			checkedAt = time.Now()
		}
		if _, err := st.UpdateVerdict(ctx, candidate.Endpoint, domain.StatusWorking, &latency, checkedAt); err != nil {
			t.Fatalf("update verdict: %v", err)
		}
	}

	prober := &fakeProber{failing: map[string]bool{candidates[0].Host: true}}
	checker := NewChecker(st, prober, Options{Concurrency: 2})

	report, err := checker.RecheckStale(ctx, 6*time.Hour, 10)
	if err != nil {
		t.Fatalf("RecheckStale: %v", err)
	}
	if report.Checked != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v, want 2 rechecked with 1 failure", report)
	}

	var recent domain.Proxy
	if err := db.Where("host = ?", candidates[2].Host).First(&recent).Error; err != nil {
		t.Fatalf("load recent proxy: %v", err)
	}
	if recent.Status != domain.StatusWorking {
		t.Fatalf("recently checked proxy status = %s, want untouched", recent.Status)
	}

	if _, err := checker.RecheckStale(ctx, time.Hour, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("negative limit error = %v, want ErrInvalidArgument", err)
	}
}
