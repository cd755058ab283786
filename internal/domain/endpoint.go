package domain

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
)

var ErrInvalidEndpoint = errors.New("invalid proxy endpoint")

// Endpoint is the identity of a proxy record. One host:port pair is one
// record no matter how often or from where it is harvested.
type Endpoint struct {
	Host string
	Port uint16
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// Normalized returns the canonical spelling of the identity. IP literals are
// compressed and lowercased with IPv4-mapped IPv6 unmapped, so
// "::ffff:8.8.8.8" and "8.8.8.8" are one record. Hostnames are lowercased.
func (e Endpoint) Normalized() Endpoint {
	host := strings.TrimSpace(e.Host)
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if addr, err := netip.ParseAddr(host); err == nil {
		host = addr.Unmap().String()
	} else {
		host = strings.ToLower(host)
	}
	e.Host = host
	return e
}

func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidEndpoint)
	}
	if strings.ContainsAny(e.Host, " /\t\r\n") {
		return fmt.Errorf("%w: host %q", ErrInvalidEndpoint, e.Host)
	}
	if e.Port == 0 {
		return fmt.Errorf("%w: port is zero", ErrInvalidEndpoint)
	}
	return nil
}

// ParseEndpoint accepts "host:port" or "scheme://host:port". The scheme, when
// present, is returned as the protocol.
func ParseEndpoint(raw string) (Endpoint, Protocol, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Endpoint{}, "", fmt.Errorf("%w: empty value", ErrInvalidEndpoint)
	}

	protocol := ProtocolHTTP
	hostPort := trimmed
	if strings.Contains(trimmed, "://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return Endpoint{}, "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
		}
		protocol, err = ParseProtocol(parsed.Scheme)
		if err != nil {
			return Endpoint{}, "", err
		}
		hostPort = parsed.Host
	}

	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return Endpoint{}, "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	port, err := strconv.ParseUint(strings.TrimSpace(portStr), 10, 16)
	if err != nil {
		return Endpoint{}, "", fmt.Errorf("%w: port %q", ErrInvalidEndpoint, portStr)
	}

	endpoint := Endpoint{Host: host, Port: uint16(port)}.Normalized()
	if err := endpoint.Validate(); err != nil {
		return Endpoint{}, "", err
	}
	return endpoint, protocol, nil
}
