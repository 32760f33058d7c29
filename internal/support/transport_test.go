package support

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proxygate/internal/domain"
)

func TestBuildTransport_HTTPConfiguresProxyURL(t *testing.T) {
	upstream := domain.ProxyRecord{
		IP:       "127.0.0.1",
		Port:     9000,
		Protocol: "http",
		Username: "user",
		Password: "pass",
	}

	transport, err := BuildTransport(upstream, 10*time.Second)
	if err != nil {
		t.Fatalf("BuildTransport returned error: %v", err)
	}
	if transport.Proxy == nil {
		t.Fatal("expected proxy function to be configured")
	}

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	proxyURL, err := transport.Proxy(req)
	if err != nil {
		t.Fatalf("proxy func returned error: %v", err)
	}
	if proxyURL.Host != "127.0.0.1:9000" {
		t.Fatalf("proxy host = %q, want 127.0.0.1:9000", proxyURL.Host)
	}
	user := proxyURL.User.Username()
	pass, _ := proxyURL.User.Password()
	if user != "user" || pass != "pass" {
		t.Fatalf("proxy credentials = %q:%q", user, pass)
	}
	if !transport.DisableKeepAlives {
		t.Fatal("probe transports must not reuse connections")
	}
}

func TestBuildTransport_HTTPSVerificationRelaxed(t *testing.T) {
	upstream := domain.ProxyRecord{IP: "127.0.0.1", Port: 9001, Protocol: "https"}

	transport, err := BuildTransport(upstream, 10*time.Second)
	if err != nil {
		t.Fatalf("BuildTransport returned error: %v", err)
	}
	if transport.TLSClientConfig == nil || !transport.TLSClientConfig.InsecureSkipVerify {
		t.Fatal("https upstream should skip certificate verification")
	}
}

func TestBuildTransport_Socks5UsesDialer(t *testing.T) {
	upstream := domain.ProxyRecord{IP: "127.0.0.1", Port: 1080, Protocol: "socks5"}

	transport, err := BuildTransport(upstream, 10*time.Second)
	if err != nil {
		t.Fatalf("BuildTransport returned error: %v", err)
	}
	if transport.DialContext == nil {
		t.Fatal("socks5 transport should dial through the proxy dialer")
	}
	if transport.Proxy != nil {
		t.Fatal("socks5 transport should not also set an HTTP proxy URL")
	}
}

func TestBuildTransport_UnsupportedProtocol(t *testing.T) {
	upstream := domain.ProxyRecord{IP: "127.0.0.1", Port: 1, Protocol: "gopher"}

	if _, err := BuildTransport(upstream, time.Second); err == nil {
		t.Fatal("expected error for unsupported protocol")
	}
}
