package blacklist

import (
	"context"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"proxywarden/internal/domain"
)

// memoryRangeStore is shared between lists to play the role of one database
// behind several instances.
type memoryRangeStore struct {
	mu     sync.Mutex
	ranges map[string]string
}

func newMemoryRangeStore() *memoryRangeStore {
	return &memoryRangeStore{ranges: make(map[string]string)}
}

func (s *memoryRangeStore) ListBlockedRanges(ctx context.Context) ([]domain.BlockedRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cidrs := make([]string, 0, len(s.ranges))
	for cidr := range s.ranges {
		cidrs = append(cidrs, cidr)
	}
	sort.Strings(cidrs)

	out := make([]domain.BlockedRange, 0, len(cidrs))
	for _, cidr := range cidrs {
		out = append(out, domain.BlockedRange{CIDR: cidr, Reason: s.ranges[cidr]})
	}
	return out, nil
}

func (s *memoryRangeStore) AddBlockedRange(ctx context.Context, cidr string, reason string) (domain.BlockedRange, bool, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return domain.BlockedRange{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	canonical := network.String()
	if _, ok := s.ranges[canonical]; ok {
		return domain.BlockedRange{CIDR: canonical, Reason: s.ranges[canonical]}, false, nil
	}
	s.ranges[canonical] = reason
	return domain.BlockedRange{CIDR: canonical, Reason: reason}, true, nil
}

func (s *memoryRangeStore) DeleteBlockedRange(ctx context.Context, cidr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ranges[cidr]; !ok {
		return false, nil
	}
	delete(s.ranges, cidr)
	return true, nil
}

func TestList_AddContainsRemove(t *testing.T) {
	ctx := context.Background()
	list := New(newMemoryRangeStore())

	if list.Contains("203.0.113.7") {
		t.Fatal("empty list blocks an address")
	}

	blocked, created, err := list.Add(ctx, "203.0.113.0/24", "abuse")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !created || blocked.CIDR != "203.0.113.0/24" {
		t.Fatalf("Add = %+v, %v; want a new 203.0.113.0/24 range", blocked, created)
	}
	if _, created, err := list.Add(ctx, "203.0.113.0/24", "again"); err != nil || created {
		t.Fatalf("second Add = %v, %v; want existing range", created, err)
	}

	if !list.Contains("203.0.113.7") {
		t.Fatal("address inside the added range is not blocked")
	}
	if list.Contains("198.51.100.7") {
		t.Fatal("address outside the range is blocked")
	}
	if list.Contains("proxy.example.com") {
		t.Fatal("host names must never be blocked")
	}

	allowed, rejected := list.FilterCandidates([]domain.Candidate{
		{Endpoint: domain.Endpoint{Host: "203.0.113.9", Port: 80}},
		{Endpoint: domain.Endpoint{Host: "198.51.100.9", Port: 80}},
	})
	if len(allowed) != 1 || allowed[0].Host != "198.51.100.9" || len(rejected) != 1 {
		t.Fatalf("FilterCandidates = %v / %v", allowed, rejected)
	}

	removed, err := list.Remove(ctx, "203.0.113.0/24")
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	if list.Contains("203.0.113.7") {
		t.Fatal("removed range still blocks")
	}
	if list.Len() != 0 {
		t.Fatalf("Len = %d, want 0", list.Len())
	}
}

func TestList_RedisSyncReloadsOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shared := newMemoryRangeStore()
	leader := New(shared)
	follower := New(shared)

	leader.EnableRedisSynchronization(ctx, newClient())
	follower.EnableRedisSynchronization(ctx, newClient())
	t.Cleanup(leader.StopRedisSynchronization)
	t.Cleanup(follower.StopRedisSynchronization)

	if _, _, err := leader.Add(ctx, "192.0.2.0/24", "test"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !follower.Contains("192.0.2.10") {
		if time.Now().After(deadline) {
			t.Fatal("follower did not reload after the published update")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestList_BroadcastWithoutRedisIsNoop(t *testing.T) {
	list := New(newMemoryRangeStore())
	if err := list.broadcastRefreshUpdate(context.Background(), "noop"); err != nil {
		t.Fatalf("broadcast without redis = %v, want nil", err)
	}
}
