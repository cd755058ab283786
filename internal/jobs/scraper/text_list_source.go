package scraper

import (
	"bytes"
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"proxywarden/internal/domain"
)

var GithubListURLs = []string{
	"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt",
	"https://raw.githubusercontent.com/clarketm/proxy-list/master/proxy-list-raw.txt",
	"https://raw.githubusercontent.com/monosans/proxy-list/main/proxies_anonymous/http.txt",
	"https://raw.githubusercontent.com/jetkai/proxy-list/main/online-proxies/txt/proxies-http.txt",
	"https://raw.githubusercontent.com/proxy4parsing/proxy-list/main/http.txt",
	"https://raw.githubusercontent.com/ErcinDedeoglu/proxies/main/proxies/http.txt",
	"https://raw.githubusercontent.com/roosterkid/openproxylist/main/HTTPS_RAW.txt",
	"https://raw.githubusercontent.com/prxchk/proxy-list/main/http.txt",
	"https://raw.githubusercontent.com/vakhov/fresh-proxy-list/master/proxylist.txt",
	"https://raw.githubusercontent.com/ShiftyTR/Proxy-List/master/http.txt",
	"https://raw.githubusercontent.com/sunny9577/proxy-scraper/master/proxies.txt",
}

const ProxyscrapeURL = "https://api.proxyscrape.com/v2/?request=displayproxies&protocol=http&timeout=10000&country=all&ssl=all&anonymity=all"

// TextListSource harvests plain "host:port" lists. A list that fails is
// skipped; the source only fails when every list does.
type TextListSource struct {
	name     string
	urls     []string
	protocol domain.Protocol
	fetcher  *Fetcher
}

func NewTextListSource(name string, urls []string, protocol domain.Protocol, fetcher *Fetcher) *TextListSource {
	if protocol == "" {
		protocol = domain.ProtocolHTTP
	}
	return &TextListSource{name: name, urls: urls, protocol: protocol, fetcher: fetcher}
}

func NewGithubSource(fetcher *Fetcher) *TextListSource {
	return NewTextListSource("github", GithubListURLs, domain.ProtocolHTTP, fetcher)
}

func NewProxyscrapeSource(fetcher *Fetcher) *TextListSource {
	return NewTextListSource("proxyscrape", []string{ProxyscrapeURL}, domain.ProtocolHTTP, fetcher)
}

func (s *TextListSource) Name() string {
	return s.name
}

func (s *TextListSource) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	var (
		candidates []domain.Candidate
		errs       []error
	)

	for _, url := range s.urls {
		body, err := s.fetcher.Get(ctx, url)
		if err != nil {
			log.Warn("List fetch failed", "source", s.name, "url", url, "error", err)
			errs = append(errs, err)
			continue
		}

		found := ParseTextList(bytes.NewReader(body), s.protocol, s.name)
		log.Debug("List fetched", "source", s.name, "url", url, "count", len(found))
		candidates = append(candidates, found...)
	}

	if len(errs) == len(s.urls) && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return candidates, nil
}
