package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"proxywarden/internal/domain"
)

const GeonodeURL = "https://proxylist.geonode.com/api/proxy-list?limit=500&page=1&sort_by=lastChecked&sort_type=desc&protocols=http%2Chttps"

type GeonodeSource struct {
	url     string
	fetcher *Fetcher
}

func NewGeonodeSource(url string, fetcher *Fetcher) *GeonodeSource {
	if url == "" {
		url = GeonodeURL
	}
	return &GeonodeSource{url: url, fetcher: fetcher}
}

type geonodeResponse struct {
	Data []geonodeEntry `json:"data"`
}

type geonodeEntry struct {
	IP             string      `json:"ip"`
	Port           geonodePort `json:"port"`
	Protocols      []string    `json:"protocols"`
	Country        string      `json:"country"`
	AnonymityLevel string      `json:"anonymityLevel"`
}

// geonodePort accepts the port as a JSON string or number. An unparsable
// port decodes as zero and the entry is dropped by validation later.
type geonodePort uint16

func (p *geonodePort) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	value, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		*p = 0
		return nil
	}
	*p = geonodePort(value)
	return nil
}

func (s *GeonodeSource) Name() string {
	return "geonode"
}

func (s *GeonodeSource) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	body, err := s.fetcher.Get(ctx, s.url)
	if err != nil {
		return nil, err
	}

	var payload geonodeResponse
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("scraper: decode geonode response: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(payload.Data))
	for _, entry := range payload.Data {
		protocol := domain.ProtocolHTTP
		if len(entry.Protocols) > 0 {
			parsed, err := domain.ParseProtocol(entry.Protocols[0])
			if err != nil {
				continue
			}
			protocol = parsed
		}

		candidates = append(candidates, domain.Candidate{
			Endpoint:  domain.Endpoint{Host: strings.TrimSpace(entry.IP), Port: uint16(entry.Port)},
			Protocol:  protocol,
			Country:   strings.TrimSpace(entry.Country),
			Anonymity: strings.TrimSpace(entry.AnonymityLevel),
			Source:    s.Name(),
		})
	}

	return candidates, nil
}
