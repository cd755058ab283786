package support

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"proxywarden/internal/domain"
)

func createHTTP3Transport(candidate domain.Candidate, opts TransportOptions) (http.RoundTripper, func(), error) {
	protocol, err := domain.ParseProtocol(string(candidate.Protocol))
	if err != nil {
		return nil, nil, err
	}
	if protocol.IsSocks() {
		return nil, nil, fmt.Errorf("http3 transport does not support proxy protocol %q", protocol)
	}

	if len(opts.Targets) == 0 {
		return nil, nil, errors.New("http3 transport requires at least one target")
	}
	for _, target := range opts.Targets {
		targetURL, err := url.Parse(target)
		if err != nil {
			return nil, nil, err
		}
		if !strings.EqualFold(targetURL.Scheme, "https") {
			return nil, nil, fmt.Errorf("http3 transport requires https targets, got %q", targetURL.Scheme)
		}
	}

	proxyAddr := candidate.Endpoint.String()
	proxyHost := candidate.Endpoint.Host

	enableDatagrams := usesDatagrams(opts.TransportProtocol)

	quicCfg := &quic.Config{
		HandshakeIdleTimeout: opts.Timeout,
		MaxIdleTimeout:       opts.Timeout,
		KeepAlivePeriod:      0,
		EnableDatagrams:      enableDatagrams,
	}

	transport := &http3.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
			ServerName:         proxyHost,
		},
		QUICConfig:      quicCfg,
		EnableDatagrams: enableDatagrams,
		Dial: func(ctx context.Context, _ string, tlsCfg *tls.Config, cfg *quic.Config) (*quic.Conn, error) {
			localTLS := tlsCfg
			if localTLS == nil {
				localTLS = &tls.Config{}
			} else {
				localTLS = tlsCfg.Clone()
			}
			localTLS.InsecureSkipVerify = true
			localTLS.ServerName = proxyHost

			dialCfg := cfg
			if dialCfg == nil {
				dialCfg = quicCfg
			}

			return quic.DialAddr(ctx, proxyAddr, localTLS, dialCfg)
		},
	}

	closeFunc := func() {
		_ = transport.Close()
	}

	return transport, closeFunc, nil
}
