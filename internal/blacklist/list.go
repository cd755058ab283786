package blacklist

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"proxywarden/internal/domain"
)

// RangeStore persists the blocked ranges. internal/database implements it.
type RangeStore interface {
	ListBlockedRanges(ctx context.Context) ([]domain.BlockedRange, error)
	AddBlockedRange(ctx context.Context, cidr string, reason string) (domain.BlockedRange, bool, error)
	DeleteBlockedRange(ctx context.Context, cidr string) (bool, error)
}

// List is the in-memory view of the blocked ranges. Reads never touch the
// store; every change reloads the view and notifies the other instances.
type List struct {
	store RangeStore

	mu       sync.RWMutex
	networks []*net.IPNet

	sync redisSyncState
}

func New(store RangeStore) *List {
	return &List{store: store, sync: redisSyncState{nodeID: generateBlacklistSyncNodeID()}}
}

// LoadCache replaces the in-memory view with the stored ranges. Rows that no
// longer parse are skipped.
func (l *List) LoadCache(ctx context.Context) error {
	ranges, err := l.store.ListBlockedRanges(ctx)
	if err != nil {
		return err
	}

	networks := make([]*net.IPNet, 0, len(ranges))
	for _, blocked := range ranges {
		_, network, err := net.ParseCIDR(blocked.CIDR)
		if err != nil {
			log.Warn("Skipping unparsable blocked range", "cidr", blocked.CIDR, "error", err)
			continue
		}
		networks = append(networks, network)
	}

	l.mu.Lock()
	l.networks = networks
	l.mu.Unlock()
	return nil
}

// Contains reports whether host is an IP inside a blocked range. Host names
// are never blocked.
func (l *List) Contains(host string) bool {
	ip := net.ParseIP(strings.TrimSpace(host))
	if ip == nil {
		return false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, network := range l.networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.networks)
}

func (l *List) Ranges(ctx context.Context) ([]domain.BlockedRange, error) {
	return l.store.ListBlockedRanges(ctx)
}

func (l *List) Add(ctx context.Context, cidr string, reason string) (domain.BlockedRange, bool, error) {
	blocked, created, err := l.store.AddBlockedRange(ctx, cidr, reason)
	if err != nil || !created {
		return blocked, created, err
	}

	l.afterChange(ctx, "add "+blocked.CIDR)
	return blocked, true, nil
}

func (l *List) Remove(ctx context.Context, cidr string) (bool, error) {
	removed, err := l.store.DeleteBlockedRange(ctx, cidr)
	if err != nil || !removed {
		return removed, err
	}

	l.afterChange(ctx, "remove "+strings.TrimSpace(cidr))
	return true, nil
}

// afterChange never fails the write that triggered it: the row is stored,
// a stale view heals on the next reload.
func (l *List) afterChange(ctx context.Context, reason string) {
	if err := l.LoadCache(ctx); err != nil {
		log.Error("Blacklist cache reload failed", "error", err)
	}
	if err := l.broadcastRefreshUpdate(ctx, reason); err != nil {
		log.Warn("Blacklist sync: publish failed", "error", err)
	}
}

// FilterCandidates splits candidates into allowed and blocked.
func (l *List) FilterCandidates(candidates []domain.Candidate) ([]domain.Candidate, []domain.Candidate) {
	allowed := make([]domain.Candidate, 0, len(candidates))
	var blocked []domain.Candidate
	for _, candidate := range candidates {
		if l.Contains(candidate.Host) {
			blocked = append(blocked, candidate)
			continue
		}
		allowed = append(allowed, candidate)
	}
	return allowed, blocked
}
