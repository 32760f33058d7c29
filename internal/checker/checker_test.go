package checker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"proxygate/internal/domain"
	"proxygate/internal/registry"
)

func stubProbe(t *testing.T, fn func(proxy domain.ProxyRecord) (bool, float64, error)) {
	t.Helper()
	original := probeProxyFunc
	probeProxyFunc = func(_ context.Context, proxy domain.ProxyRecord, _ string, _ time.Duration) (bool, float64, error) {
		return fn(proxy)
	}
	t.Cleanup(func() { probeProxyFunc = original })
}

func TestCheckAll_ConvergesUnderConcurrency(t *testing.T) {
	reg := registry.New(nil)

	// 50 proxies; the 10 on port >= 41 always fail.
	for i := 1; i <= 50; i++ {
		reg.Add(domain.ProxyRecord{
			ID:        uint64(i),
			IP:        "10.0.0." + strconv.Itoa(i),
			Port:      uint16(i),
			Protocol:  "http",
			FailCount: 2, // stale history that a success must reset
		})
	}

	stubProbe(t, func(proxy domain.ProxyRecord) (bool, float64, error) {
		if proxy.Port > 40 {
			return false, 0, errors.New("connection refused")
		}
		return true, 100, nil
	})

	c := New(reg)
	c.CheckAll(context.Background())

	var working, failed int
	for _, record := range reg.Snapshot() {
		if record.IsWorking {
			working++
			if record.FailCount != 0 {
				t.Fatalf("working proxy %d has fail_count %d, want 0", record.ID, record.FailCount)
			}
		} else {
			failed++
			if record.FailCount < 1 {
				t.Fatalf("failed proxy %d has fail_count %d, want >= 1", record.ID, record.FailCount)
			}
		}
		if record.LastChecked == nil {
			t.Fatalf("proxy %d was never stamped with last_checked", record.ID)
		}
	}

	if working != 40 || failed != 10 {
		t.Fatalf("converged to %d working / %d failed, want 40 / 10", working, failed)
	}
}

func TestCheckAll_FailuresAreIsolated(t *testing.T) {
	reg := registry.New(nil)
	reg.Add(domain.ProxyRecord{ID: 1, IP: "10.0.0.1", Port: 1})
	reg.Add(domain.ProxyRecord{ID: 2, IP: "10.0.0.2", Port: 2})

	stubProbe(t, func(proxy domain.ProxyRecord) (bool, float64, error) {
		if proxy.ID == 1 {
			return false, 0, errors.New("probe blew up")
		}
		return true, 42, nil
	})

	c := New(reg)
	c.CheckAll(context.Background())

	second, _ := reg.Get(2)
	if !second.IsWorking {
		t.Fatal("one failing probe must not prevent other proxies from being tested")
	}
}

func TestCheckNow(t *testing.T) {
	reg := registry.New(nil)
	proxy := reg.Add(domain.ProxyRecord{IP: "10.0.0.1", Port: 8080})

	stubProbe(t, func(domain.ProxyRecord) (bool, float64, error) {
		return true, 75, nil
	})

	c := New(reg)
	updated, err := c.CheckNow(context.Background(), proxy.ID)
	if err != nil {
		t.Fatalf("CheckNow returned error: %v", err)
	}
	if !updated.IsWorking || updated.Latency == nil || *updated.Latency != 75 {
		t.Fatalf("CheckNow result not applied: %+v", updated)
	}

	if _, err := c.CheckNow(context.Background(), 999); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("CheckNow for unknown id returned %v, want ErrNotFound", err)
	}
}

func TestStartStopIsRestartable(t *testing.T) {
	reg := registry.New(nil)
	c := New(reg)

	stubProbe(t, func(domain.ProxyRecord) (bool, float64, error) {
		return true, 1, nil
	})

	c.Start(context.Background())
	c.Start(context.Background()) // second Start is a no-op
	c.Stop()
	c.Stop() // second Stop is a no-op

	c.Start(context.Background())
	c.Stop()
}

func TestProbeProxy_AgainstHTTPProxy(t *testing.T) {
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !r.URL.IsAbs() {
			http.Error(w, "expected absolute-URI proxy request", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer proxyServer.Close()

	host, portStr, err := net.SplitHostPort(proxyServer.Listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to split proxy address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	upstream := domain.ProxyRecord{IP: host, Port: uint16(port), Protocol: "http"}

	success, latency, err := ProbeProxy(context.Background(), upstream, "http://probe.invalid/ip", 5*time.Second)
	if err != nil {
		t.Fatalf("ProbeProxy returned error: %v", err)
	}
	if !success {
		t.Fatal("expected probe success through live proxy")
	}
	if latency <= 0 {
		t.Fatalf("latency = %v, want > 0", latency)
	}
}

func TestProbeProxy_Non2xxIsFailure(t *testing.T) {
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer proxyServer.Close()

	host, portStr, _ := net.SplitHostPort(proxyServer.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	upstream := domain.ProxyRecord{IP: host, Port: uint16(port), Protocol: "http"}

	success, _, err := ProbeProxy(context.Background(), upstream, "http://probe.invalid/ip", 5*time.Second)
	if success {
		t.Fatal("non-2xx probe must count as failure")
	}
	if err == nil {
		t.Fatal("expected an error describing the failed probe")
	}
}

func TestProbeProxy_ConnectionRefused(t *testing.T) {
	upstream := domain.ProxyRecord{IP: "127.0.0.1", Port: 1, Protocol: "http"}

	success, _, err := ProbeProxy(context.Background(), upstream, "http://probe.invalid/ip", time.Second)
	if success || err == nil {
		t.Fatal("refusing proxy must yield a failed probe with an error")
	}
}
