package denylist

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"proxygate/internal/config"
	"proxygate/internal/domain"
)

// Fetcher pulls the current rule list from the external record store.
type Fetcher interface {
	FetchRules(ctx context.Context) ([]domain.DenyRule, error)
}

type compiledRule struct {
	pattern *regexp.Regexp
	rule    domain.DenyRule
}

// Cache holds the compiled deny rules behind an atomic snapshot. A refresh
// builds the complete new set off to the side and publishes it with one
// atomic swap, so readers never observe a partial rule set. A failed fetch
// keeps the previous snapshot serving.
type Cache struct {
	fetcher      Fetcher
	snapshot     atomic.Value // []compiledRule
	refreshGroup singleflight.Group

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCache(fetcher Fetcher) *Cache {
	c := &Cache{fetcher: fetcher}
	c.snapshot.Store([]compiledRule{})
	return c
}

// Matches reports whether any active rule matches the target URL.
func (c *Cache) Matches(targetURL string) bool {
	_, matched := c.MatchedRule(targetURL)
	return matched
}

// MatchedRule returns the first rule matching the target URL, if any.
func (c *Cache) MatchedRule(targetURL string) (domain.DenyRule, bool) {
	if targetURL == "" {
		return domain.DenyRule{}, false
	}

	for _, compiled := range c.rules() {
		if compiled.pattern.MatchString(targetURL) {
			return compiled.rule, true
		}
	}
	return domain.DenyRule{}, false
}

func (c *Cache) RuleCount() int {
	return len(c.rules())
}

// Refresh fetches, compiles, and atomically publishes the rule set.
// Concurrent callers are collapsed into a single fetch.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		rules, err := c.fetcher.FetchRules(ctx)
		if err != nil {
			return nil, err
		}

		compiled := compileRules(rules)
		c.snapshot.Store(compiled)
		log.Info("deny-list refreshed", "rules", len(compiled))
		return nil, nil
	})
	return err
}

// Start refreshes immediately and then on the configured interval. Fetch
// failures are diagnostics only; the stale snapshot keeps serving.
func (c *Cache) Start(parent context.Context) {
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

		if err := c.Refresh(ctx); err != nil {
			log.Error("initial deny-list refresh failed", "error", err)
		}

		ticker := time.NewTicker(config.GetDenylistRefreshInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					log.Error("deny-list refresh failed, keeping previous rule set", "error", err)
				}
			}
		}
	}()
}

func (c *Cache) Stop() {
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

func (c *Cache) rules() []compiledRule {
	return c.snapshot.Load().([]compiledRule)
}

func compileRules(rules []domain.DenyRule) []compiledRule {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Pattern == "" {
			continue
		}
		pattern, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			log.Warn("skipping invalid deny-list pattern", "rule_id", rule.ID, "pattern", rule.Pattern, "error", err)
			continue
		}
		compiled = append(compiled, compiledRule{pattern: pattern, rule: rule})
	}
	return compiled
}
