package rotation

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// DeadTargets remembers which proxies recently failed against which target
// hosts. Entries expire after the configured TTL and are pruned lazily.
type DeadTargets struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]map[uint64]time.Time
}

func NewDeadTargets(ttl time.Duration) *DeadTargets {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DeadTargets{
		ttl:     ttl,
		entries: make(map[string]map[uint64]time.Time),
	}
}

func (d *DeadTargets) ReportFailure(targetURL string, proxyID uint64) {
	key := targetKey(targetURL)
	if key == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	byProxy, ok := d.entries[key]
	if !ok {
		byProxy = make(map[uint64]time.Time)
		d.entries[key] = byProxy
	}
	byProxy[proxyID] = time.Now().Add(d.ttl)
}

func (d *DeadTargets) IsDead(targetURL string, proxyID uint64) bool {
	key := targetKey(targetURL)
	if key == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	byProxy, ok := d.entries[key]
	if !ok {
		return false
	}

	expires, ok := byProxy[proxyID]
	if !ok {
		return false
	}
	if time.Now().After(expires) {
		delete(byProxy, proxyID)
		if len(byProxy) == 0 {
			delete(d.entries, key)
		}
		return false
	}
	return true
}

// targetKey reduces a target URL to its host so failures against one path
// exclude the proxy for the whole site.
func targetKey(targetURL string) string {
	trimmed := strings.TrimSpace(targetURL)
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Hostname() == "" {
		return strings.ToLower(targetURL)
	}
	return strings.ToLower(parsed.Hostname())
}
