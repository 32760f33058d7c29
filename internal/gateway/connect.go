package gateway

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	xproxy "golang.org/x/net/proxy"

	"proxygate/internal/domain"
)

const connectEstablishedResponse = "HTTP/1.1 200 Connection Established\r\nProxy-Agent: proxygate\r\n\r\n"

var (
	dialUpstreamFunc           = dialUpstream
	performUpstreamConnectFunc = performUpstreamConnect
)

// handleConnect tunnels a CONNECT request through a selected upstream proxy.
// Failures before the tunnel is established are answered as regular HTTP
// responses; once both legs exist the connection is hijacked and piped raw.
func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request, req *gatewayRequest) {
	if !h.authenticate(r, req) {
		w.Header().Set("Proxy-Authenticate", "Bearer")
		http.Error(w, "Unauthorized: bearer credential required", http.StatusProxyAuthRequired)
		h.logActivity(req, http.StatusProxyAuthRequired)
		return
	}

	if rule, denied := h.denylist.MatchedRule(req.targetURL); denied {
		log.Warn("tunnel blocked by deny-list", "request_id", req.id, "target", req.targetURL, "pattern", rule.Pattern)
		http.Error(w, "Forbidden: target is denied", http.StatusForbidden)
		h.logActivity(req, http.StatusForbidden)
		return
	}

	if err := h.tickets.Acquire(r.Context(), 1); err != nil {
		h.logActivity(req, statusClientClosed)
		return
	}
	defer h.tickets.Release(1)

	upstream, err := h.selector.Select(h.policyFor(r), req.targetURL)
	if err != nil {
		log.Error("no upstream proxy available for tunnel", "request_id", req.id, "target", req.targetURL)
		http.Error(w, "Bad Gateway: no upstream proxy available", http.StatusBadGateway)
		h.logActivity(req, http.StatusBadGateway)
		return
	}
	req.proxyID = &upstream.ID

	upConn, err := dialUpstreamFunc(upstream, r.Host, h.opts.ForwardTimeout)
	if err != nil {
		status := classifyForwardError(err)
		log.Warn("upstream tunnel dial failed", "request_id", req.id, "proxy_id", upstream.ID, "error", err)
		h.selector.ReportFailure(req.targetURL, upstream.ID)
		http.Error(w, "Bad Gateway: failed to reach upstream proxy", status)
		h.logActivity(req, status)
		return
	}

	if strings.EqualFold(upstream.Protocol, "http") || strings.EqualFold(upstream.Protocol, "https") {
		if err := performUpstreamConnectFunc(upConn, r.Host, upstream); err != nil {
			_ = upConn.Close()
			status := classifyForwardError(err)
			log.Warn("upstream CONNECT rejected", "request_id", req.id, "proxy_id", upstream.ID, "error", err)
			h.selector.ReportFailure(req.targetURL, upstream.ID)
			http.Error(w, "Bad Gateway: upstream CONNECT failed", status)
			h.logActivity(req, status)
			return
		}
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		_ = upConn.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		h.logActivity(req, http.StatusInternalServerError)
		return
	}

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		_ = upConn.Close()
		h.logActivity(req, http.StatusInternalServerError)
		return
	}

	if _, err := clientConn.Write([]byte(connectEstablishedResponse)); err != nil {
		_ = upConn.Close()
		_ = clientConn.Close()
		h.logActivity(req, statusClientClosed)
		return
	}

	h.logActivity(req, http.StatusOK)
	pipeConnections(clientConn, upConn)
}

// dialUpstream opens the first leg of a tunnel. HTTP and HTTPS upstreams get
// a raw connection ready for a CONNECT handshake; SOCKS5 upstreams dial the
// target through the proxy directly.
func dialUpstream(upstream domain.ProxyRecord, targetHost string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}

	switch strings.ToLower(upstream.Protocol) {
	case "socks5":
		var socksAuth *xproxy.Auth
		if upstream.HasAuth() {
			socksAuth = &xproxy.Auth{User: upstream.Username, Password: upstream.Password}
		}
		socksDialer, err := xproxy.SOCKS5("tcp", upstream.Address(), socksAuth, dialer)
		if err != nil {
			return nil, err
		}
		return socksDialer.Dial("tcp", targetHost)

	case "https":
		conn, err := dialer.Dial("tcp", upstream.Address())
		if err != nil {
			return nil, err
		}
		tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil

	case "http":
		return dialer.Dial("tcp", upstream.Address())

	default:
		return nil, fmt.Errorf("unsupported upstream protocol %q", upstream.Protocol)
	}
}

// performUpstreamConnect runs the CONNECT handshake against an HTTP(S)
// upstream proxy.
func performUpstreamConnect(conn net.Conn, targetHost string, upstream domain.ProxyRecord) error {
	request := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nProxy-Connection: Keep-Alive\r\n", targetHost, targetHost)
	if upstream.HasAuth() {
		credentials := base64.StdEncoding.EncodeToString([]byte(upstream.Username + ":" + upstream.Password))
		request += "Proxy-Authorization: Basic " + credentials + "\r\n"
	}
	request += "\r\n"

	if _, err := conn.Write([]byte(request)); err != nil {
		return err
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, &http.Request{Method: http.MethodConnect})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return errors.New("upstream returned non-200 response to CONNECT")
	}

	return nil
}

func pipeConnections(left, right net.Conn) {
	errCh := make(chan error, 2)

	go func() {
		_, err := io.Copy(left, right)
		errCh <- err
	}()

	go func() {
		_, err := io.Copy(right, left)
		errCh <- err
	}()

	<-errCh
	left.Close()
	right.Close()
}
