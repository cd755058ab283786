package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"proxywarden/internal/domain"
)

func TestUpdateVerdict_ConcurrentSameIdentity(t *testing.T) {
	tempDir := t.TempDir()
	dsn := fmt.Sprintf(
		"file:%s?mode=rwc&_journal=WAL&_fk=1&_busy_timeout=5000&_synchronous=NORMAL",
		filepath.Join(tempDir, "verdicts.db"),
	)
	db := setupProxyTestDBWithDSN(t, dsn)

	st := NewStore(db)
	ctx := context.Background()

	endpoint := domain.Endpoint{Host: "198.51.100.70", Port: 8080}
	if _, err := st.Upsert(ctx, []domain.Candidate{{Endpoint: endpoint, Protocol: domain.ProtocolHTTP}}, time.Now()); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	const goroutines = 8
	const iterations = 25

	base := time.Now().UTC().Add(-time.Hour)
	var (
		firstErr   error
		firstErrMu sync.Mutex
		applied    atomic.Int64
	)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				seq := g*iterations + i
				checkedAt := base.Add(time.Duration(seq) * time.Millisecond)

				status := domain.StatusFailed
				var latency *float64
				if seq%2 == 0 {
					status = domain.StatusWorking
					latency = float64Ptr(float64(seq))
				}

				ok, err := st.UpdateVerdict(ctx, endpoint, status, latency, checkedAt)
				if err != nil {
					firstErrMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					firstErrMu.Unlock()
					return
				}
				if ok {
					applied.Add(1)
				}
			}
		}(g)
	}
	wg.Wait()

	if firstErr != nil {
		t.Fatalf("UpdateVerdict error during stress test: %v", firstErr)
	}
	if applied.Load() == 0 {
		t.Fatal("no verdict was applied")
	}

	proxy := loadProxy(t, db, endpoint.Host, endpoint.Port)
	if proxy.LastCheckAt == nil {
		t.Fatal("expected last check to be set")
	}

	last := goroutines*iterations - 1
	wantCheck := normalizeTime(base.Add(time.Duration(last) * time.Millisecond))
	if !proxy.LastCheckAt.Equal(wantCheck) {
		t.Fatalf("last check = %s, want the newest verdict %s", proxy.LastCheckAt, wantCheck)
	}

	// the newest verdict is odd, so failed with no latency
	if proxy.Status != domain.StatusFailed || proxy.ResponseTime != nil {
		t.Fatalf("final state status=%s response=%v is not the newest verdict", proxy.Status, proxy.ResponseTime)
	}
}

func TestUpdateVerdict_PairStaysConsistent(t *testing.T) {
	db := setupProxyTestDB(t)
	st := NewStore(db)
	ctx := context.Background()

	endpoint := domain.Endpoint{Host: "198.51.100.71", Port: 8080}
	if _, err := st.Upsert(ctx, []domain.Candidate{{Endpoint: endpoint}}, time.Now()); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	at := time.Now().UTC()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = st.UpdateVerdict(ctx, endpoint, domain.StatusWorking, float64Ptr(0.7), at)
	}()
	go func() {
		defer wg.Done()
		_, _ = st.UpdateVerdict(ctx, endpoint, domain.StatusFailed, nil, at)
	}()
	wg.Wait()

	proxy := loadProxy(t, db, endpoint.Host, endpoint.Port)
	switch proxy.Status {
	case domain.StatusWorking:
		if proxy.ResponseTime == nil || *proxy.ResponseTime != 0.7 {
			t.Fatalf("working verdict carries response time %v, want 0.7", proxy.ResponseTime)
		}
	case domain.StatusFailed:
		if proxy.ResponseTime != nil {
			t.Fatalf("failed verdict carries response time %v", *proxy.ResponseTime)
		}
	default:
		t.Fatalf("status = %s, want one of the two verdicts", proxy.Status)
	}
}

func TestIsRetryable(t *testing.T) {
	if !isRetryable(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatal("sqlite busy error should be retryable")
	}
	if isRetryable(errors.New("no such table: proxies")) {
		t.Fatal("schema errors must not be retried")
	}
	if isRetryable(nil) {
		t.Fatal("nil error is not retryable")
	}
}
