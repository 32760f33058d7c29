package checker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"proxygate/internal/domain"
	"proxygate/internal/support"
)

// ProbeProxy issues one GET of probeURL through the candidate proxy and
// reports whether a 2xx came back, plus the observed latency in
// milliseconds.
func ProbeProxy(ctx context.Context, proxy domain.ProxyRecord, probeURL string, timeout time.Duration) (bool, float64, error) {
	transport, err := support.BuildTransport(proxy, timeout)
	if err != nil {
		return false, 0, err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false, 0, err
	}
	req.Header.Set("Connection", "close")

	start := time.Now()
	resp, err := client.Do(req)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		return false, 0, err
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, latencyMs, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	return true, latencyMs, nil
}
