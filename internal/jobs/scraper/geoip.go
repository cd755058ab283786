package scraper

import (
	"net"

	"github.com/oschwald/geoip2-golang"
)

// CountryResolver maps an address to an ISO country code, "" when unknown.
type CountryResolver interface {
	Country(ip net.IP) string
}

// GeoIP resolves countries from a local MaxMind country or city database.
type GeoIP struct {
	reader *geoip2.Reader
}

func OpenGeoIP(path string) (*GeoIP, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &GeoIP{reader: reader}, nil
}

func (g *GeoIP) Country(ip net.IP) string {
	if g == nil || g.reader == nil || ip == nil {
		return ""
	}
	record, err := g.reader.Country(ip)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

func (g *GeoIP) Close() error {
	if g == nil || g.reader == nil {
		return nil
	}
	return g.reader.Close()
}
