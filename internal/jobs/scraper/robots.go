package scraper

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/temoto/robotstxt"
)

const robotsCacheTTL = 6 * time.Hour

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// RobotsPolicy answers robots.txt questions for the HTML sources, caching
// one robots.txt per host.
type RobotsPolicy struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	cache map[string]robotsEntry
}

func NewRobotsPolicy(client *http.Client, userAgent string) *RobotsPolicy {
	return &RobotsPolicy{
		client:    client,
		userAgent: userAgent,
		cache:     make(map[string]robotsEntry),
	}
}

// Allowed reports whether rawURL may be fetched. An unreachable robots.txt
// allows everything, like a 404 does.
func (p *RobotsPolicy) Allowed(ctx context.Context, rawURL string) (bool, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}

	data := p.lookup(ctx, target)
	if data == nil {
		return true, nil
	}

	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, p.userAgent), nil
}

func (p *RobotsPolicy) lookup(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Scheme + "://" + target.Host

	p.mu.Lock()
	entry, ok := p.cache[host]
	p.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < robotsCacheTTL {
		return entry.data
	}

	data := p.fetch(ctx, host)

	p.mu.Lock()
	p.cache[host] = robotsEntry{data: data, fetchedAt: time.Now()}
	p.mu.Unlock()
	return data
}

func (p *RobotsPolicy) fetch(ctx context.Context, host string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		log.Debug("robots.txt unreachable, allowing", "host", host, "error", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		log.Debug("robots.txt unparsable, allowing", "host", host, "error", err)
		return nil
	}
	return data
}
