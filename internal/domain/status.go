package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the verdict state of a proxy record. The zero value means the
// record has never been probed.
type Status uint8

const (
	StatusUnchecked Status = iota
	StatusWorking
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUnchecked:
		return "unchecked"
	case StatusWorking:
		return "working"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func (s Status) Valid() bool {
	return s <= StatusFailed
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "unchecked", "":
		return StatusUnchecked, nil
	case "working":
		return StatusWorking, nil
	case "failed":
		return StatusFailed, nil
	default:
		return StatusUnchecked, fmt.Errorf("unknown status %q", value)
	}
}

type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolSOCKS4 Protocol = "socks4"
	ProtocolSOCKS5 Protocol = "socks5"
)

var ErrUnsupportedProtocol = errors.New("unsupported proxy protocol")

// ParseProtocol accepts the four relay protocols; an empty value defaults to http.
func ParseProtocol(value string) (Protocol, error) {
	switch normalized := Protocol(strings.ToLower(strings.TrimSpace(value))); normalized {
	case "":
		return ProtocolHTTP, nil
	case ProtocolHTTP, ProtocolHTTPS, ProtocolSOCKS4, ProtocolSOCKS5:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProtocol, value)
	}
}

func (p Protocol) IsSocks() bool {
	return p == ProtocolSOCKS4 || p == ProtocolSOCKS5
}
