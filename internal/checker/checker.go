package checker

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"proxygate/internal/config"
	"proxygate/internal/domain"
	"proxygate/internal/registry"
)

// probeProxyFunc is swapped in tests.
var probeProxyFunc = ProbeProxy

// Checker periodically tests every registered proxy through a bounded
// worker pool and writes the outcomes back to the registry. It is a
// restartable lifecycle object, independent of request handling.
type Checker struct {
	registry *registry.Registry

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(reg *registry.Registry) *Checker {
	return &Checker{registry: reg}
}

// Start launches the periodic batch loop. Calling Start on a running
// checker is a no-op.
func (c *Checker) Start(parent context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		c.run(ctx)
	}()
}

// Stop cancels the loop and waits for in-flight probes to finish.
func (c *Checker) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Checker) run(ctx context.Context) {
	intervalUpdates, unsubscribe := config.CheckIntervalUpdates()
	defer unsubscribe()
	interval := <-intervalUpdates

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("health checker started", "interval", interval)
	c.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case interval = <-intervalUpdates:
			ticker.Reset(interval)
			log.Info("health check interval updated", "interval", interval)
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll tests every registered proxy concurrently. A failing probe never
// aborts the batch; each outcome lands on its own record.
func (c *Checker) CheckAll(ctx context.Context) {
	cfg := config.GetConfig()

	threads := int64(cfg.Checker.Threads)
	if threads < 1 {
		threads = 1
	}

	proxies := c.registry.Snapshot()
	if len(proxies) == 0 {
		return
	}

	started := time.Now()
	sem := semaphore.NewWeighted(threads)

	for _, proxy := range proxies {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(proxy domain.ProxyRecord) {
			defer sem.Release(1)
			c.checkOne(ctx, proxy, cfg)
		}(proxy)
	}

	// Wait for the stragglers before reporting the batch.
	if err := sem.Acquire(ctx, threads); err != nil {
		return
	}
	sem.Release(threads)

	working := len(c.registry.ListWorking())
	log.Info("health check batch completed",
		"tested", len(proxies),
		"working", working,
		"failed", len(proxies)-working,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
}

// CheckNow runs a single on-demand test for one proxy. It shares the batch
// code path and may run concurrently with the periodic loop.
func (c *Checker) CheckNow(ctx context.Context, id uint64) (domain.ProxyRecord, error) {
	proxy, err := c.registry.Get(id)
	if err != nil {
		return domain.ProxyRecord{}, err
	}

	c.checkOne(ctx, proxy, config.GetConfig())
	return c.registry.Get(id)
}

func (c *Checker) checkOne(ctx context.Context, proxy domain.ProxyRecord, cfg config.Config) {
	timeout := time.Duration(cfg.Checker.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	success, latencyMs, err := probeProxyFunc(ctx, proxy, cfg.Checker.ProbeURL, timeout)
	if err != nil {
		log.Debug("proxy probe failed", "proxy_id", proxy.ID, "address", proxy.Address(), "error", err)
	}

	if recordErr := c.registry.RecordTestResult(proxy.ID, success, latencyMs); recordErr != nil {
		// Record removed mid-batch; nothing to update.
		log.Debug("could not record test result", "proxy_id", proxy.ID, "error", recordErr)
	}
}
