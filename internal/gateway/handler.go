package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"proxygate/internal/activity"
	"proxygate/internal/auth"
	"proxygate/internal/denylist"
	"proxygate/internal/domain"
	"proxygate/internal/rotation"
	"proxygate/internal/support"
)

// statusClientClosed marks requests aborted by the client before a response
// could be produced (nginx's 499 convention); it only appears in activity
// records, never on the wire.
const statusClientClosed = 499

// policyHeader lets a caller request a specific rotation policy per request.
const policyHeader = "X-Rotation-Policy"

type Options struct {
	DefaultPolicy     rotation.Policy
	ForwardTimeout    time.Duration
	MaxConcurrent     int64
	RequireCredential bool
	DefaultCredential string
}

// Handler drives one forwarded request through its gates: authenticate,
// deny-check, acquire a proxy, forward, stream, log. Every branch emits
// exactly one activity record.
type Handler struct {
	selector   *rotation.Selector
	denylist   *denylist.Cache
	dispatcher *activity.Dispatcher
	tickets    *semaphore.Weighted
	opts       Options
}

func NewHandler(selector *rotation.Selector, deny *denylist.Cache, dispatcher *activity.Dispatcher, opts Options) *Handler {
	if opts.ForwardTimeout <= 0 {
		opts.ForwardTimeout = 30 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 100
	}
	if opts.DefaultPolicy == "" {
		opts.DefaultPolicy = rotation.PolicyRoundRobin
	}
	if opts.DefaultCredential != "" {
		log.Warn("gateway: default credential configured; requests without a caller credential will be attributed to it")
	}

	return &Handler{
		selector:   selector,
		denylist:   deny,
		dispatcher: dispatcher,
		tickets:    semaphore.NewWeighted(opts.MaxConcurrent),
		opts:       opts,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := &gatewayRequest{
		id:        uuid.NewString(),
		method:    r.Method,
		targetURL: targetURLOf(r),
	}

	if strings.EqualFold(r.Method, http.MethodConnect) {
		h.handleConnect(w, r, req)
		return
	}
	h.handleHTTP(w, r, req)
}

// gatewayRequest carries the per-request state the pipeline accumulates.
type gatewayRequest struct {
	id        string
	method    string
	targetURL string
	callerID  *uint64
	proxyID   *uint64
}

func (h *Handler) handleHTTP(w http.ResponseWriter, r *http.Request, req *gatewayRequest) {
	if !h.authenticate(r, req) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "Unauthorized: bearer credential required", http.StatusUnauthorized)
		h.logActivity(req, http.StatusUnauthorized)
		return
	}

	if rule, denied := h.denylist.MatchedRule(req.targetURL); denied {
		log.Warn("request blocked by deny-list", "request_id", req.id, "target", req.targetURL, "pattern", rule.Pattern)
		http.Error(w, "Forbidden: target URL is denied", http.StatusForbidden)
		h.logActivity(req, http.StatusForbidden)
		return
	}

	if err := h.tickets.Acquire(r.Context(), 1); err != nil {
		// Client went away while waiting for a forwarding ticket.
		h.logActivity(req, statusClientClosed)
		return
	}
	defer h.tickets.Release(1)

	upstream, err := h.selector.Select(h.policyFor(r), req.targetURL)
	if err != nil {
		log.Error("no upstream proxy available", "request_id", req.id, "target", req.targetURL)
		http.Error(w, "Bad Gateway: no upstream proxy available", http.StatusBadGateway)
		h.logActivity(req, http.StatusBadGateway)
		return
	}
	req.proxyID = &upstream.ID

	status := h.forward(w, r, req, upstream)
	h.logActivity(req, status)
}

// forward relays the request through the upstream proxy and streams the
// response back. Returns the status recorded for the activity log.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, req *gatewayRequest, upstream domain.ProxyRecord) int {
	transport, err := support.BuildTransport(upstream, h.opts.ForwardTimeout)
	if err != nil {
		log.Error("cannot build upstream transport", "request_id", req.id, "proxy_id", upstream.ID, "error", err)
		http.Error(w, "Bad Gateway: upstream proxy unusable", http.StatusBadGateway)
		return http.StatusBadGateway
	}
	defer transport.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.ForwardTimeout)
	defer cancel()

	outbound, err := http.NewRequestWithContext(ctx, r.Method, req.targetURL, r.Body)
	if err != nil {
		http.Error(w, "Bad Gateway: cannot build upstream request", http.StatusBadGateway)
		return http.StatusBadGateway
	}
	outbound.Header = sanitizedHeaders(r.Header)
	outbound.ContentLength = r.ContentLength

	resp, err := transport.RoundTrip(outbound)
	if err != nil {
		status := classifyForwardError(err)
		log.Warn("upstream forward failed", "request_id", req.id, "proxy_id", upstream.ID, "status", status, "error", err)
		h.selector.ReportFailure(req.targetURL, upstream.ID)
		if status == http.StatusGatewayTimeout {
			http.Error(w, "Gateway Timeout", status)
		} else {
			http.Error(w, "Bad Gateway: upstream proxy request failed", status)
		}
		return status
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	// Stream; the body is never held in memory as a whole.
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Debug("response relay interrupted", "request_id", req.id, "proxy_id", upstream.ID, "error", err)
	}
	return resp.StatusCode
}

// authenticate resolves the caller credential: bearer header first, then
// the configured fallback. When a JWT secret is configured the credential
// must be a valid token; without a secret, presence is enough.
func (h *Handler) authenticate(r *http.Request, req *gatewayRequest) bool {
	credential := auth.BearerToken(r)
	if credential == "" {
		if header := strings.TrimSpace(r.Header.Get("Proxy-Authorization")); strings.HasPrefix(header, "Bearer ") {
			credential = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if credential == "" {
		credential = h.opts.DefaultCredential
	}
	if credential == "" {
		return !h.opts.RequireCredential
	}

	claims, err := auth.ValidateJWT(credential)
	switch {
	case err == nil:
		req.callerID = auth.CallerIDFromClaims(claims)
	case errors.Is(err, auth.ErrNoSecret):
		// Presence-only mode.
	default:
		log.Debug("rejected invalid gateway credential", "request_id", req.id, "error", err)
		return false
	}
	return true
}

func (h *Handler) policyFor(r *http.Request) rotation.Policy {
	if requested := strings.TrimSpace(r.Header.Get(policyHeader)); requested != "" {
		return rotation.Policy(requested)
	}
	return h.opts.DefaultPolicy
}

func (h *Handler) logActivity(req *gatewayRequest, status int) {
	h.dispatcher.Enqueue(domain.ActivityRecord{
		RequestID:  req.id,
		CallerID:   req.callerID,
		Endpoint:   req.targetURL,
		Method:     req.method,
		StatusCode: status,
		TargetURL:  req.targetURL,
		ProxyID:    req.proxyID,
		Timestamp:  time.Now().UTC(),
	})
}

// classifyForwardError maps a forwarding failure to the response status:
// timeouts become 504, everything else (connect refused, protocol errors,
// resets) becomes 502.
func classifyForwardError(err error) int {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// targetURLOf rebuilds the absolute target URL of a proxied request.
func targetURLOf(r *http.Request) string {
	if r.Method == http.MethodConnect {
		return r.Host
	}
	if r.URL.IsAbs() {
		return r.URL.String()
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	rebuilt := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	return rebuilt.String()
}
