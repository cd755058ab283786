package checker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"proxywarden/internal/config"
	"proxywarden/internal/domain"
	"proxywarden/internal/metrics"
	"proxywarden/internal/support"
)

const maxProbeBodyBytes = 64 << 10

var ErrNoTargets = errors.New("checker: no probe targets configured")

type ProberConfig struct {
	// Timeout bounds each target request separately.
	Timeout           time.Duration
	SlowThreshold     time.Duration
	Targets           []string
	TransportProtocol string
	UserAgent         string
}

func ProberConfigFrom(cfg config.Config) ProberConfig {
	return ProberConfig{
		Timeout:           cfg.Checker.Timeout,
		SlowThreshold:     cfg.Checker.SlowThreshold,
		Targets:           append([]string(nil), cfg.Checker.Targets...),
		TransportProtocol: cfg.Checker.TransportProtocol,
		UserAgent:         cfg.Harvest.UserAgent,
	}
}

// Prober issues the liveness probe for one candidate at a time. It keeps no
// per-probe state and is safe for concurrent use.
type Prober struct {
	cfg ProberConfig
}

func NewProber(cfg ProberConfig) (*Prober, error) {
	if len(cfg.Targets) == 0 {
		return nil, ErrNoTargets
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 5 * time.Second
	}
	return &Prober{cfg: cfg}, nil
}

// Probe relays a GET to every target through candidate, in order. All of
// them must answer 200 and the mean per-target latency must stay within the
// slow threshold. Network failures come back as failed verdicts; an error is
// only returned for a candidate that cannot be probed at all.
func (p *Prober) Probe(ctx context.Context, candidate domain.Candidate) (domain.Verdict, error) {
	candidate = candidate.Normalized()
	if err := candidate.Validate(); err != nil {
		return domain.Verdict{}, err
	}

	transport, release, err := support.CreateRoundTripper(candidate, support.TransportOptions{
		Timeout:           p.cfg.Timeout,
		TransportProtocol: p.cfg.TransportProtocol,
		Targets:           p.cfg.Targets,
	})
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("checker: transport for %s: %w", candidate.Endpoint, err)
	}
	defer release()

	client := &http.Client{Transport: transport}

	start := time.Now()
	for _, target := range p.cfg.Targets {
		if err := p.fetch(ctx, client, target); err != nil {
			verdict := domain.Verdict{
				Working:   false,
				Latency:   time.Since(start),
				Detail:    err.Error(),
				CheckedAt: time.Now(),
			}
			p.record(candidate, verdict)
			return verdict, nil
		}
	}

	elapsed := time.Since(start)
	verdict := domain.Verdict{Working: true, Latency: elapsed, CheckedAt: time.Now()}

	if mean := elapsed / time.Duration(len(p.cfg.Targets)); mean > p.cfg.SlowThreshold {
		verdict.Working = false
		verdict.Detail = fmt.Sprintf("too slow: mean %s per target", mean.Round(time.Millisecond))
	}

	p.record(candidate, verdict)
	return verdict, nil
}

func (p *Prober) fetch(ctx context.Context, client *http.Client, target string) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("target %s answered %d", target, resp.StatusCode)
	}

	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxProbeBodyBytes)); err != nil {
		return fmt.Errorf("read %s: %w", target, err)
	}
	return nil
}

func (p *Prober) record(candidate domain.Candidate, verdict domain.Verdict) {
	metrics.ObserveProbe(verdict)
	if !verdict.Working {
		log.Debug("Probe failed", "proxy", candidate.Endpoint.String(), "protocol", candidate.Protocol, "reason", verdict.Detail)
	}
}
