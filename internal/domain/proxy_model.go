package domain

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Proxy is one endpoint record. ResponseTime is in seconds and only set while
// Status is StatusWorking.
type Proxy struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement"`
	Host         string     `gorm:"not null;size:255;uniqueIndex:idx_proxy_endpoint,priority:1"`
	Port         uint16     `gorm:"not null;uniqueIndex:idx_proxy_endpoint,priority:2"`
	Protocol     Protocol   `gorm:"not null;size:8;index"`
	Country      string     `gorm:"size:64"`
	Anonymity    string     `gorm:"size:32"`
	Source       string     `gorm:"size:120"`
	Status       Status     `gorm:"not null;index:idx_proxy_status_outdated,priority:1"`
	ResponseTime *float64   `gorm:"type:double precision"`
	CollectedAt  time.Time  `gorm:"not null;index"`
	LastCheckAt  *time.Time `gorm:"index"`
	Outdated     bool       `gorm:"not null;index:idx_proxy_status_outdated,priority:2"`
	CreatedAt    time.Time  `gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime"`
}

func (Proxy) TableName() string {
	return "proxies"
}

func (proxy *Proxy) Endpoint() Endpoint {
	return Endpoint{Host: proxy.Host, Port: proxy.Port}
}

func (proxy *Proxy) GetFullProxy() string {
	return net.JoinHostPort(proxy.Host, strconv.Itoa(int(proxy.Port)))
}

// URL is the form consumers hand to their HTTP clients, e.g. "http://1.2.3.4:8080".
func (proxy *Proxy) URL() string {
	protocol := proxy.Protocol
	if protocol == "" {
		protocol = ProtocolHTTP
	}
	return fmt.Sprintf("%s://%s", protocol, proxy.GetFullProxy())
}

func (proxy *Proxy) Candidate() Candidate {
	return Candidate{
		Endpoint:  proxy.Endpoint(),
		Protocol:  proxy.Protocol,
		Country:   proxy.Country,
		Anonymity: proxy.Anonymity,
		Source:    proxy.Source,
	}
}

// Candidate is one harvested entry before it is known to work.
type Candidate struct {
	Endpoint
	Protocol  Protocol
	Country   string
	Anonymity string
	Source    string
}

func (c Candidate) Validate() error {
	if err := c.Endpoint.Validate(); err != nil {
		return err
	}
	if _, err := ParseProtocol(string(c.Protocol)); err != nil {
		return err
	}
	return nil
}

// Normalized canonicalizes the endpoint, fills the protocol default and
// lowercases it.
func (c Candidate) Normalized() Candidate {
	c.Endpoint = c.Endpoint.Normalized()
	if protocol, err := ParseProtocol(string(c.Protocol)); err == nil {
		c.Protocol = protocol
	}
	return c
}
