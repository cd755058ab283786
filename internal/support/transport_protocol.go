package support

import (
	"errors"
	"fmt"
	"strings"
)

// Transports between the checker and a relay. quic additionally enables
// datagrams on the HTTP/3 connection.
const (
	TransportTCP   = "tcp"
	TransportQUIC  = "quic"
	TransportHTTP3 = "http3"
)

var ErrUnknownTransport = errors.New("support: unknown transport protocol")

// ParseTransportProtocol lowercases value. Empty selects tcp.
func ParseTransportProtocol(value string) (string, error) {
	switch normalized := strings.ToLower(strings.TrimSpace(value)); normalized {
	case "":
		return TransportTCP, nil
	case TransportTCP, TransportQUIC, TransportHTTP3:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTransport, value)
	}
}

func usesHTTP3(value string) bool {
	transport, err := ParseTransportProtocol(value)
	return err == nil && transport != TransportTCP
}

func usesDatagrams(value string) bool {
	transport, err := ParseTransportProtocol(value)
	return err == nil && transport == TransportQUIC
}
