package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultCheckInterval          = time.Hour
	defaultDenylistRefreshSeconds = 60
)

var (
	timeBetweenChecks       atomic.Value
	denylistRefreshInterval atomic.Value
	checkIntervalListeners  []chan time.Duration
	listenersMu             sync.Mutex
)

func init() {
	timeBetweenChecks.Store(defaultCheckInterval)
	denylistRefreshInterval.Store(time.Duration(defaultDenylistRefreshSeconds) * time.Second)
}

func SetBetweenTime() {
	cfg := GetConfig()
	setTimeBetweenChecks(CalculateBetweenTime(cfg.Checker.CheckerTimer))
	setDenylistRefreshInterval(cfg.Denylist.RefreshSeconds)
}

func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfCheckingPeriod(timer)

	// Enforce minimum interval (e.g., 1 second)
	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfCheckingPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func GetTimeBetweenChecks() time.Duration {
	return timeBetweenChecks.Load().(time.Duration)
}

// CheckIntervalUpdates lets the checker pick up interval changes without a
// restart. The current value is delivered immediately. The returned func
// unregisters the listener; call it when the subscriber stops.
func CheckIntervalUpdates() (<-chan time.Duration, func()) {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	checkIntervalListeners = append(checkIntervalListeners, ch)
	listenersMu.Unlock()

	ch <- GetTimeBetweenChecks()

	unsubscribe := func() {
		listenersMu.Lock()
		defer listenersMu.Unlock()
		for i, listener := range checkIntervalListeners {
			if listener == ch {
				checkIntervalListeners = append(checkIntervalListeners[:i], checkIntervalListeners[i+1:]...)
				return
			}
		}
	}
	return ch, unsubscribe
}

func setTimeBetweenChecks(interval time.Duration) {
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	current := GetTimeBetweenChecks()
	if current == interval {
		return
	}

	timeBetweenChecks.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range checkIntervalListeners {
		select {
		case ch <- interval:
		default:
		}
	}
}

func GetDenylistRefreshInterval() time.Duration {
	return denylistRefreshInterval.Load().(time.Duration)
}

func setDenylistRefreshInterval(seconds uint32) {
	if seconds == 0 {
		seconds = defaultDenylistRefreshSeconds
	}
	denylistRefreshInterval.Store(time.Duration(seconds) * time.Second)
}
