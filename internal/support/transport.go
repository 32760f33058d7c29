package support

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"

	"proxygate/internal/domain"
)

// BuildTransport returns a single-use transport that routes through the
// given upstream proxy. Keep-alives are disabled so each probe or forward
// gets a fresh connection through the candidate.
func BuildTransport(upstream domain.ProxyRecord, timeout time.Duration) (*http.Transport, error) {
	protocol := strings.ToLower(upstream.Protocol)

	switch protocol {
	case "socks5":
		return buildSocksTransport(upstream, timeout)
	case "http", "https", "":
		return buildHTTPTransport(upstream, protocol, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported upstream protocol %q", upstream.Protocol)
	}
}

func buildHTTPTransport(upstream domain.ProxyRecord, protocol string, timeout time.Duration) *http.Transport {
	transport := &http.Transport{
		Proxy:               http.ProxyURL(upstream.URL()),
		DisableKeepAlives:   true,
		MaxIdleConns:        0,
		IdleConnTimeout:     0,
		TLSHandshakeTimeout: timeout / 2,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	if protocol == "https" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return transport
}

func buildSocksTransport(upstream domain.ProxyRecord, timeout time.Duration) (*http.Transport, error) {
	var auth *xproxy.Auth
	if upstream.HasAuth() {
		auth = &xproxy.Auth{User: upstream.Username, Password: upstream.Password}
	}

	dialer, err := xproxy.SOCKS5("tcp", upstream.Address(), auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer for %s: %w", upstream.Address(), err)
	}

	contextDialer, hasContext := dialer.(xproxy.ContextDialer)

	return &http.Transport{
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: timeout / 2,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if hasContext {
				return contextDialer.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
	}, nil
}
