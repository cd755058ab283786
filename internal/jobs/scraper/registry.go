package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"proxywarden/internal/config"
	"proxywarden/internal/domain"
)

// BuildSources turns the configured source names and extra text lists into
// sources sharing one fetcher. Extra lists are "url" or "protocol|url".
func BuildSources(cfg config.HarvestConfig) ([]Source, error) {
	fetcher := NewFetcher(cfg.Timeout, cfg.UserAgent, cfg.RespectRobots)

	sources := make([]Source, 0, len(cfg.Sources)+len(cfg.TextLists))
	for _, name := range cfg.Sources {
		source, err := newNamedSource(strings.ToLower(strings.TrimSpace(name)), fetcher)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}

	for _, entry := range cfg.TextLists {
		source, err := newTextListEntry(entry, fetcher)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}

	return sources, nil
}

func newNamedSource(name string, fetcher *Fetcher) (Source, error) {
	switch name {
	case "github":
		return NewGithubSource(fetcher), nil
	case "proxyscrape":
		return NewProxyscrapeSource(fetcher), nil
	case "geonode":
		return NewGeonodeSource("", fetcher), nil
	case "free-proxy-list":
		return NewFreeProxyListSource("", fetcher), nil
	case "proxy-list-download":
		return NewProxyListDownloadSource("", fetcher), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
}

func newTextListEntry(entry string, fetcher *Fetcher) (Source, error) {
	protocol := domain.ProtocolHTTP
	rawURL := strings.TrimSpace(entry)

	if prefix, rest, found := strings.Cut(rawURL, "|"); found {
		parsed, err := domain.ParseProtocol(prefix)
		if err != nil {
			return nil, fmt.Errorf("scraper: text list %q: %w", entry, err)
		}
		protocol = parsed
		rawURL = strings.TrimSpace(rest)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: text list %q", ErrUnknownSource, entry)
	}

	return NewTextListSource("list:"+parsed.Host, []string{rawURL}, protocol, fetcher), nil
}
