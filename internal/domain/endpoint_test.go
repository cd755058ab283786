package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		want     Endpoint
		protocol Protocol
	}{
		{raw: "1.2.3.4:8080", want: Endpoint{Host: "1.2.3.4", Port: 8080}, protocol: ProtocolHTTP},
		{raw: " socks5://5.6.7.8:1080 ", want: Endpoint{Host: "5.6.7.8", Port: 1080}, protocol: ProtocolSOCKS5},
		{raw: "HTTPS://9.9.9.9:443", want: Endpoint{Host: "9.9.9.9", Port: 443}, protocol: ProtocolHTTPS},
		{raw: "[2001:db8::1]:3128", want: Endpoint{Host: "2001:db8::1", Port: 3128}, protocol: ProtocolHTTP},
	}

	for _, tc := range cases {
		got, protocol, err := ParseEndpoint(tc.raw)
		if err != nil {
			t.Fatalf("ParseEndpoint(%q) returned error: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseEndpoint(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
		if protocol != tc.protocol {
			t.Fatalf("ParseEndpoint(%q) protocol = %q, want %q", tc.raw, protocol, tc.protocol)
		}
	}
}

func TestEndpointNormalized(t *testing.T) {
	cases := map[Endpoint]Endpoint{
		{Host: "2A00:1450:4001:0::68", Port: 80}: {Host: "2a00:1450:4001::68", Port: 80},
		{Host: "::ffff:8.8.8.8", Port: 3128}:     {Host: "8.8.8.8", Port: 3128},
		{Host: "[2001:DB8::1]", Port: 443}:       {Host: "2001:db8::1", Port: 443},
		{Host: " 8.8.4.4 ", Port: 53}:            {Host: "8.8.4.4", Port: 53},
		{Host: "Proxy.Example.COM", Port: 8080}:  {Host: "proxy.example.com", Port: 8080},
	}
	for raw, want := range cases {
		if got := raw.Normalized(); got != want {
			t.Fatalf("%+v.Normalized() = %+v, want %+v", raw, got, want)
		}
	}

	got, _, err := ParseEndpoint("http://[::ffff:8.8.8.8]:3128")
	if err != nil {
		t.Fatalf("ParseEndpoint returned error: %v", err)
	}
	if want := (Endpoint{Host: "8.8.8.8", Port: 3128}); got != want {
		t.Fatalf("ParseEndpoint mapped address = %+v, want %+v", got, want)
	}

	candidate := Candidate{Endpoint: Endpoint{Host: "2A00:1450:4001:0::68", Port: 80}, Protocol: "SOCKS5"}.Normalized()
	if candidate.Host != "2a00:1450:4001::68" || candidate.Protocol != ProtocolSOCKS5 {
		t.Fatalf("Candidate.Normalized() = %+v", candidate)
	}
}

func TestParseEndpoint_RejectsMalformedInput(t *testing.T) {
	for _, raw := range []string{"", "1.2.3.4", "1.2.3.4:0", "1.2.3.4:70000", ":8080", "1.2.3.4:port"} {
		if _, _, err := ParseEndpoint(raw); !errors.Is(err, ErrInvalidEndpoint) {
			t.Fatalf("ParseEndpoint(%q) error = %v, want ErrInvalidEndpoint", raw, err)
		}
	}

	if _, _, err := ParseEndpoint("ftp://1.2.3.4:21"); !errors.Is(err, ErrUnsupportedProtocol) {
		t.Fatalf("expected ErrUnsupportedProtocol for ftp scheme, got %v", err)
	}
}

func TestParseProtocol(t *testing.T) {
	cases := map[string]Protocol{
		"":        ProtocolHTTP,
		"HTTP":    ProtocolHTTP,
		"https":   ProtocolHTTPS,
		"socks4":  ProtocolSOCKS4,
		" SOCKS5": ProtocolSOCKS5,
	}
	for raw, want := range cases {
		got, err := ParseProtocol(raw)
		if err != nil {
			t.Fatalf("ParseProtocol(%q) returned error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseProtocol(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestVerdictResponseTime(t *testing.T) {
	working := Verdict{Working: true, Latency: 1500 * time.Millisecond}
	rt := working.ResponseTime()
	if rt == nil || *rt != 1.5 {
		t.Fatalf("working verdict response time = %v, want 1.5", rt)
	}
	if working.Status() != StatusWorking {
		t.Fatalf("working verdict status = %s", working.Status())
	}

	failed := Verdict{Working: false, Latency: 3 * time.Second}
	if failed.ResponseTime() != nil {
		t.Fatal("failed verdict must not carry a response time")
	}
	if failed.Status() != StatusFailed {
		t.Fatalf("failed verdict status = %s", failed.Status())
	}
}

func TestStatusRoundTrip(t *testing.T) {
	for _, status := range []Status{StatusUnchecked, StatusWorking, StatusFailed} {
		parsed, err := ParseStatus(status.String())
		if err != nil {
			t.Fatalf("ParseStatus(%q) returned error: %v", status.String(), err)
		}
		if parsed != status {
			t.Fatalf("ParseStatus(%q) = %s, want %s", status.String(), parsed, status)
		}
	}
	if _, err := ParseStatus("maybe"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
