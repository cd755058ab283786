package support

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/proxy"

	"proxywarden/internal/domain"
)

// TransportOptions configures the per-probe transports.
type TransportOptions struct {
	Timeout           time.Duration
	TransportProtocol string
	// Targets are the URLs the transport will be used against. The HTTP/3
	// transport needs all of them to be https.
	Targets []string
}

// CreateRoundTripper returns the transport to probe candidate with and a
// release func. HTTP/3 is used when requested and possible, TCP otherwise.
func CreateRoundTripper(candidate domain.Candidate, opts TransportOptions) (http.RoundTripper, func(), error) {
	if usesHTTP3(opts.TransportProtocol) {
		transport, closeFunc, err := createHTTP3Transport(candidate, opts)
		if err == nil {
			return transport, closeFunc, nil
		}
		log.Debug("http3 transport unavailable, using tcp", "proxy", candidate.Endpoint.String(), "error", err)
	}

	transport, err := CreateTransport(candidate, opts.Timeout)
	if err != nil {
		return nil, nil, err
	}
	return transport, transport.CloseIdleConnections, nil
}

// CreateTransport builds a fresh transport that relays through candidate.
// Keep-alives are off so no connection outlives the probe, and certificates
// of the targets are not verified.
func CreateTransport(candidate domain.Candidate, timeout time.Duration) (*http.Transport, error) {
	if err := candidate.Endpoint.Validate(); err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 0, // KeepAlive disabled
		}).DialContext,
		DisableKeepAlives:     true,
		MaxIdleConns:          0,
		MaxIdleConnsPerHost:   0,
		IdleConnTimeout:       0,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	protocol, err := domain.ParseProtocol(string(candidate.Protocol))
	if err != nil {
		return nil, err
	}

	switch protocol {
	case domain.ProtocolHTTP, domain.ProtocolHTTPS:
		// https proxies are still reached over plain tcp and tunnel with CONNECT
		proxyURL := &url.URL{
			Scheme: "http",
			Host:   candidate.Endpoint.String(),
		}
		transport.Proxy = http.ProxyURL(proxyURL)

	case domain.ProtocolSOCKS5:
		socksDialer, err := proxy.SOCKS5("tcp", candidate.Endpoint.String(), nil, &net.Dialer{
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		if contextDialer, ok := socksDialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return socksDialer.Dial(network, addr)
			}
		}

	case domain.ProtocolSOCKS4:
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialSOCKS4(ctx, candidate.Endpoint, addr, timeout)
		}

	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedProtocol, candidate.Protocol)
	}

	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: true,
	}

	return transport, nil
}

func dialSOCKS4(ctx context.Context, relay domain.Endpoint, target string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", relay.String())
	if err != nil {
		return nil, err
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		_ = conn.Close()
		return nil, fmt.Errorf("invalid target port %q", portStr)
	}

	ip := net.ParseIP(host)
	ipBytes := ip.To4()
	var domainName string
	if ipBytes == nil {
		ipBytes = []byte{0x00, 0x00, 0x00, 0x01} // SOCKS4a
		domainName = host
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port)}
	req = append(req, ipBytes...)
	req = append(req, 0x00) // empty user id
	if domainName != "" {
		req = append(req, []byte(domainName)...)
		req = append(req, 0x00)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	if _, err := conn.Write(req); err != nil {
		_ = conn.Close()
		return nil, err
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if resp[1] != 0x5A {
		_ = conn.Close()
		return nil, fmt.Errorf("socks4 connect failed with code %d", resp[1])
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}
