package scraper

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"proxywarden/internal/domain"
)

const FreeProxyListURL = "https://free-proxy-list.net/"

// FreeProxyListSource scrapes the HTML table of free-proxy-list.net. Columns:
// ip, port, code, country, anonymity, google, https, last checked.
type FreeProxyListSource struct {
	url     string
	fetcher *Fetcher
}

func NewFreeProxyListSource(url string, fetcher *Fetcher) *FreeProxyListSource {
	if url == "" {
		url = FreeProxyListURL
	}
	return &FreeProxyListSource{url: url, fetcher: fetcher}
}

func (s *FreeProxyListSource) Name() string {
	return "free-proxy-list"
}

func (s *FreeProxyListSource) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	body, err := s.fetcher.GetPage(ctx, s.url)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scraper: parse %s: %w", s.url, err)
	}

	var candidates []domain.Candidate
	doc.Find("table").First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		cols := row.Find("td")
		if cols.Length() < 7 {
			return
		}

		ip := strings.TrimSpace(cols.Eq(0).Text())
		port, err := strconv.ParseUint(strings.TrimSpace(cols.Eq(1).Text()), 10, 16)
		if ip == "" || err != nil {
			return
		}

		protocol := domain.ProtocolHTTP
		if strings.EqualFold(strings.TrimSpace(cols.Eq(6).Text()), "yes") {
			protocol = domain.ProtocolHTTPS
		}

		candidates = append(candidates, domain.Candidate{
			Endpoint:  domain.Endpoint{Host: ip, Port: uint16(port)},
			Protocol:  protocol,
			Country:   strings.TrimSpace(cols.Eq(2).Text()),
			Anonymity: strings.TrimSpace(cols.Eq(4).Text()),
			Source:    s.Name(),
		})
	})

	return candidates, nil
}
