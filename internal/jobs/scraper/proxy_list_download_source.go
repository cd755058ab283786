package scraper

import (
	"bytes"
	"context"
	"errors"
	"net/url"

	"github.com/charmbracelet/log"

	"proxywarden/internal/domain"
)

const ProxyListDownloadURL = "https://www.proxy-list.download/api/v1/get"

// ProxyListDownloadSource queries one text endpoint per protocol and tags the
// entries with it.
type ProxyListDownloadSource struct {
	baseURL   string
	protocols []domain.Protocol
	fetcher   *Fetcher
}

func NewProxyListDownloadSource(baseURL string, fetcher *Fetcher) *ProxyListDownloadSource {
	if baseURL == "" {
		baseURL = ProxyListDownloadURL
	}
	return &ProxyListDownloadSource{
		baseURL:   baseURL,
		protocols: []domain.Protocol{domain.ProtocolHTTP, domain.ProtocolHTTPS},
		fetcher:   fetcher,
	}
}

func (s *ProxyListDownloadSource) Name() string {
	return "proxy-list-download"
}

func (s *ProxyListDownloadSource) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	var (
		candidates []domain.Candidate
		errs       []error
	)

	for _, protocol := range s.protocols {
		endpoint, err := url.Parse(s.baseURL)
		if err != nil {
			return nil, err
		}
		query := endpoint.Query()
		query.Set("type", string(protocol))
		endpoint.RawQuery = query.Encode()

		body, err := s.fetcher.Get(ctx, endpoint.String())
		if err != nil {
			log.Warn("Protocol list fetch failed", "source", s.Name(), "protocol", protocol, "error", err)
			errs = append(errs, err)
			continue
		}
		candidates = append(candidates, ParseTextList(bytes.NewReader(body), protocol, s.Name())...)
	}

	if len(errs) == len(s.protocols) {
		return nil, errors.Join(errs...)
	}
	return candidates, nil
}
