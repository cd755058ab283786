package scraper

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"proxywarden/internal/domain"
)

type staticSource struct {
	name       string
	candidates []domain.Candidate
	err        error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	return s.candidates, s.err
}

type harvestRecord struct {
	name  string
	count int
	err   error
}

type recordingStore struct {
	mu          sync.Mutex
	upserted    []domain.Candidate
	collectedAt time.Time
	records     map[string]harvestRecord
	upsertErr   error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{records: make(map[string]harvestRecord)}
}

func (s *recordingStore) Upsert(ctx context.Context, candidates []domain.Candidate, collectedAt time.Time) (int64, error) {
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, candidates...)
	s.collectedAt = collectedAt
	return int64(len(candidates)), nil
}

func (s *recordingStore) RecordHarvest(ctx context.Context, name string, count int, harvestErr error, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[name] = harvestRecord{name: name, count: count, err: harvestErr}
	return nil
}

type hostBlocklist map[string]bool

func (b hostBlocklist) FilterCandidates(candidates []domain.Candidate) ([]domain.Candidate, []domain.Candidate) {
	var allowed, blocked []domain.Candidate
	for _, candidate := range candidates {
		if b[candidate.Host] {
			blocked = append(blocked, candidate)
			continue
		}
		allowed = append(allowed, candidate)
	}
	return allowed, blocked
}

type fixedCountry string

func (c fixedCountry) Country(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return string(c)
}

func cand(host string, port uint16, protocol domain.Protocol) domain.Candidate {
	return domain.Candidate{Endpoint: domain.Endpoint{Host: host, Port: port}, Protocol: protocol}
}

func TestHarvest_MergesFiltersAndIsolatesFailures(t *testing.T) {
	store := newRecordingStore()

	first := staticSource{name: "first", candidates: []domain.Candidate{
		cand("45.12.40.1", 8080, domain.ProtocolHTTP),
		cand("45.12.40.2", 8080, domain.ProtocolHTTPS),
		cand("10.0.0.5", 8080, domain.ProtocolHTTP),   // private
		cand("45.12.40.3", 0, domain.ProtocolHTTP),    // invalid port
		cand("45.12.40.9", 8080, domain.ProtocolHTTP), // blocked
	}}
	second := staticSource{name: "second", candidates: []domain.Candidate{
		cand("45.12.40.1", 8080, domain.ProtocolSOCKS5), // duplicate identity
		cand("45.12.40.4", 1080, domain.ProtocolSOCKS5),
	}}
	broken := staticSource{name: "broken", err: errors.New("connection reset")}

	harvester := NewHarvester(store, []Source{first, second, broken},
		WithBlocklist(hostBlocklist{"45.12.40.9": true}),
		WithCountryResolver(fixedCountry("NL")),
	)

	report, err := harvester.Harvest(context.Background())
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}

	if report.Accepted != 3 || report.Rejected != 3 || report.Duplicates != 1 {
		t.Fatalf("report = %+v, want 3 accepted, 3 rejected, 1 duplicate", report)
	}
	if report.Upserted != 3 || len(store.upserted) != 3 {
		t.Fatalf("upserted = %d (%d stored), want 3", report.Upserted, len(store.upserted))
	}
	if !store.collectedAt.Equal(report.CollectedAt) {
		t.Fatal("candidates were not stored with the harvest timestamp")
	}

	// first seen wins, so the duplicate keeps the http protocol of "first"
	if got := store.upserted[0]; got.Host != "45.12.40.1" || got.Protocol != domain.ProtocolHTTP || got.Source != "first" {
		t.Fatalf("first stored candidate = %+v", got)
	}
	for _, candidate := range store.upserted {
		if candidate.Country != "NL" {
			t.Fatalf("candidate %s not enriched with a country", candidate.Endpoint)
		}
	}

	if rec := store.records["broken"]; rec.err == nil || rec.count != 0 {
		t.Fatalf("broken source record = %+v, want the error and no candidates", rec)
	}
	if rec := store.records["first"]; rec.err != nil || rec.count != 2 {
		t.Fatalf("first source record = %+v, want 2 accepted", rec)
	}
	if rec := store.records["second"]; rec.count != 1 {
		t.Fatalf("second source record = %+v, want 1 accepted", rec)
	}
}

func TestHarvest_KeepsHarvestedCountry(t *testing.T) {
	store := newRecordingStore()
	source := staticSource{name: "geo", candidates: []domain.Candidate{
		{Endpoint: domain.Endpoint{Host: "45.12.41.1", Port: 80}, Country: "BR"},
	}}

	harvester := NewHarvester(store, []Source{source}, WithCountryResolver(fixedCountry("NL")))
	if _, err := harvester.Harvest(context.Background()); err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if got := store.upserted[0]; got.Country != "BR" || got.Protocol != domain.ProtocolHTTP {
		t.Fatalf("stored = %+v, want harvested country kept and http default", got)
	}
}

func TestHarvest_StoreFailureIsReturned(t *testing.T) {
	store := newRecordingStore()
	store.upsertErr = errors.New("disk full")

	harvester := NewHarvester(store, []Source{staticSource{name: "one", candidates: []domain.Candidate{
		cand("45.12.42.1", 8080, domain.ProtocolHTTP),
	}}})

	if _, err := harvester.Harvest(context.Background()); err == nil {
		t.Fatal("expected the store error to fail the harvest")
	}
}

func TestHarvest_AllSourcesFailing(t *testing.T) {
	store := newRecordingStore()
	harvester := NewHarvester(store, []Source{
		staticSource{name: "a", err: errors.New("timeout")},
		staticSource{name: "b", err: errors.New("dns")},
	})

	report, err := harvester.Harvest(context.Background())
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if report.Accepted != 0 || len(store.upserted) != 0 {
		t.Fatalf("report = %+v, want nothing stored", report)
	}
	if len(store.records) != 2 {
		t.Fatalf("recorded %d sources, want 2", len(store.records))
	}
}
