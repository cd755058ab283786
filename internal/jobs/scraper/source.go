package scraper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"proxywarden/internal/domain"
)

const maxSourceBodyBytes = 8 << 20

var (
	ErrUnexpectedStatus  = errors.New("scraper: unexpected status")
	ErrDisallowedByRobot = errors.New("scraper: disallowed by robots.txt")
	ErrUnknownSource     = errors.New("scraper: unknown source")
)

// Source is one harvestable feed. Fetch returns whatever the feed lists; the
// harvester does validation, filtering and deduplication.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.Candidate, error)
}

// Fetcher is the HTTP client shared by the sources of one harvester.
type Fetcher struct {
	client    *http.Client
	userAgent string
	robots    *RobotsPolicy
}

func NewFetcher(timeout time.Duration, userAgent string, respectRobots bool) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fetcher := &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
	if respectRobots {
		fetcher.robots = NewRobotsPolicy(fetcher.client, userAgent)
	}
	return fetcher
}

// Get fetches an API or list endpoint and returns its body.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s answered %d", ErrUnexpectedStatus, rawURL, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxSourceBodyBytes))
}

// GetPage fetches an HTML page after consulting the site's robots.txt.
func (f *Fetcher) GetPage(ctx context.Context, rawURL string) ([]byte, error) {
	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrDisallowedByRobot, rawURL)
		}
	}
	return f.Get(ctx, rawURL)
}

// ParseTextList reads one "host:port" or "scheme://host:port" per line.
// Lines without a scheme get protocol; comments and malformed lines are
// skipped.
func ParseTextList(body io.Reader, protocol domain.Protocol, source string) []domain.Candidate {
	var candidates []domain.Candidate

	scanner := bufio.NewScanner(body)
	skipped := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// some lists append country or latency after a space
		if fields := strings.Fields(line); len(fields) > 1 {
			line = fields[0]
		}

		endpoint, parsedProtocol, err := domain.ParseEndpoint(line)
		if err != nil {
			skipped++
			continue
		}
		if !strings.Contains(line, "://") {
			parsedProtocol = protocol
		}

		candidates = append(candidates, domain.Candidate{
			Endpoint: endpoint,
			Protocol: parsedProtocol,
			Source:   source,
		})
	}
	if err := scanner.Err(); err != nil {
		log.Warn("Text list truncated", "source", source, "error", err)
	}
	if skipped > 0 {
		log.Debug("Skipped malformed list lines", "source", source, "count", skipped)
	}

	return candidates
}
