package scraper

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"proxywarden/internal/domain"
	"proxywarden/internal/metrics"
)

// HarvestStore is the part of the store a harvest writes to.
type HarvestStore interface {
	Upsert(ctx context.Context, candidates []domain.Candidate, collectedAt time.Time) (int64, error)
	RecordHarvest(ctx context.Context, name string, count int, harvestErr error, at time.Time) error
}

// Blocklist drops candidates inside operator-blocked ranges.
type Blocklist interface {
	FilterCandidates(candidates []domain.Candidate) ([]domain.Candidate, []domain.Candidate)
}

type SourceResult struct {
	Name     string
	Fetched  int
	Accepted int
	Err      error
}

type HarvestReport struct {
	RunID       string
	CollectedAt time.Time
	Accepted    int
	Rejected    int
	Duplicates  int
	Upserted    int64
	Sources     []SourceResult
}

type Harvester struct {
	sources   []Source
	store     HarvestStore
	blocklist Blocklist
	geo       CountryResolver
	now       func() time.Time
}

type HarvesterOption func(*Harvester)

func WithBlocklist(blocklist Blocklist) HarvesterOption {
	return func(h *Harvester) { h.blocklist = blocklist }
}

func WithCountryResolver(resolver CountryResolver) HarvesterOption {
	return func(h *Harvester) { h.geo = resolver }
}

func NewHarvester(store HarvestStore, sources []Source, opts ...HarvesterOption) *Harvester {
	h := &Harvester{sources: sources, store: store, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Harvester) Sources() []Source {
	return h.sources
}

// Harvest fetches every source concurrently and upserts the merged result
// with one collection timestamp. A failing source contributes nothing; only
// store failures fail the harvest.
func (h *Harvester) Harvest(ctx context.Context) (HarvestReport, error) {
	report := HarvestReport{RunID: uuid.NewString(), CollectedAt: h.now()}
	harvestLog := log.With("harvest", report.RunID)

	fetched := make([][]domain.Candidate, len(h.sources))
	report.Sources = make([]SourceResult, len(h.sources))

	var g errgroup.Group
	for i, source := range h.sources {
		g.Go(func() error {
			candidates, err := source.Fetch(ctx)
			report.Sources[i] = SourceResult{Name: source.Name(), Fetched: len(candidates), Err: err}
			if err != nil {
				harvestLog.Warn("Source harvest failed", "source", source.Name(), "error", err)
				metrics.HarvestCandidates.WithLabelValues(source.Name(), metrics.OutcomeFailed).Inc()
				return nil
			}
			fetched[i] = candidates
			return nil
		})
	}
	_ = g.Wait()

	merged := h.merge(fetched, &report)

	if len(merged) > 0 {
		upserted, err := h.store.Upsert(ctx, merged, report.CollectedAt)
		if err != nil {
			return report, fmt.Errorf("scraper: store harvest: %w", err)
		}
		report.Upserted = upserted
	}

	for _, result := range report.Sources {
		if err := h.store.RecordHarvest(ctx, result.Name, result.Accepted, result.Err, report.CollectedAt); err != nil {
			return report, fmt.Errorf("scraper: record harvest of %s: %w", result.Name, err)
		}
	}

	harvestLog.Info("Harvest finished",
		"accepted", report.Accepted,
		"rejected", report.Rejected,
		"duplicates", report.Duplicates,
		"sources", len(h.sources),
	)
	return report, nil
}

// merge keeps the first occurrence of every identity in source order and
// drops invalid, non-public and blocked entries.
func (h *Harvester) merge(fetched [][]domain.Candidate, report *HarvestReport) []domain.Candidate {
	seen := make(map[domain.Endpoint]struct{})
	var merged []domain.Candidate

	for i, candidates := range fetched {
		name := report.Sources[i].Name

		valid := make([]domain.Candidate, 0, len(candidates))
		rejected := 0
		for _, candidate := range candidates {
			candidate = candidate.Normalized()
			if candidate.Validate() != nil || !IsPublicAddress(candidate.Host) {
				rejected++
				continue
			}
			if _, dup := seen[candidate.Endpoint]; dup {
				report.Duplicates++
				continue
			}
			seen[candidate.Endpoint] = struct{}{}

			if candidate.Source == "" {
				candidate.Source = name
			}
			valid = append(valid, candidate)
		}

		if h.blocklist != nil {
			allowed, blocked := h.blocklist.FilterCandidates(valid)
			rejected += len(blocked)
			valid = allowed
		}

		for idx := range valid {
			h.enrich(&valid[idx])
		}

		report.Sources[i].Accepted = len(valid)
		report.Accepted += len(valid)
		report.Rejected += rejected
		metrics.HarvestCandidates.WithLabelValues(name, metrics.OutcomeAccepted).Add(float64(len(valid)))
		metrics.HarvestCandidates.WithLabelValues(name, metrics.OutcomeRejected).Add(float64(rejected))

		merged = append(merged, valid...)
	}

	return merged
}

func (h *Harvester) enrich(candidate *domain.Candidate) {
	if h.geo == nil || candidate.Country != "" {
		return
	}
	candidate.Country = h.geo.Country(net.ParseIP(candidate.Host))
}
