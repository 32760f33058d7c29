package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"proxygate/internal/domain"
)

var ErrNotFound = errors.New("registry: proxy not found")

const storeWriteTimeout = 5 * time.Second

// Store persists registry mutations to the external record store.
// All methods are best effort from the registry's point of view.
type Store interface {
	SaveCheckResult(ctx context.Context, record domain.ProxyRecord) error
	SaveLastUsed(ctx context.Context, id uint64, usedAt time.Time) error
}

// GeoResolver maps a proxy IP to a country name.
type GeoResolver interface {
	Country(ip string) (string, error)
}

// Registry owns every ProxyRecord in the pool. Each record sits behind its
// own mutex so the checker and the selector never contend on a global lock;
// the outer RWMutex only guards the map shape.
type Registry struct {
	mu      sync.RWMutex
	entries map[uint64]*entry
	nextID  atomic.Uint64

	store Store
	geo   GeoResolver
}

type entry struct {
	mu     sync.Mutex
	record domain.ProxyRecord
}

func New(store Store) *Registry {
	return &Registry{
		entries: make(map[uint64]*entry),
		store:   store,
	}
}

func (r *Registry) SetGeoResolver(geo GeoResolver) {
	r.geo = geo
}

// Add registers a record. Records without an id (not yet persisted) get a
// process-local one so selection tie-breaks stay deterministic.
func (r *Registry) Add(record domain.ProxyRecord) domain.ProxyRecord {
	if record.ID == 0 {
		record.ID = r.nextID.Add(1)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if record.ID > r.nextID.Load() {
		r.nextID.Store(record.ID)
	}
	r.entries[record.ID] = &entry{record: record}
	return record
}

func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) Get(id uint64) (domain.ProxyRecord, error) {
	e := r.lookup(id)
	if e == nil {
		return domain.ProxyRecord{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record, nil
}

// ListWorking returns snapshot copies of every record with IsWorking set.
func (r *Registry) ListWorking() []domain.ProxyRecord {
	return r.list(func(record domain.ProxyRecord) bool { return record.IsWorking })
}

// Snapshot returns copies of every registered record.
func (r *Registry) Snapshot() []domain.ProxyRecord {
	return r.list(func(domain.ProxyRecord) bool { return true })
}

// RecordTestResult applies one health-test outcome. Success resets the
// failure streak and stores the observed latency; failure increments the
// streak and marks the record dead without touching the last good latency.
func (r *Registry) RecordTestResult(id uint64, success bool, latencyMs float64) error {
	e := r.lookup(id)
	if e == nil {
		return ErrNotFound
	}

	var country string
	if success && r.geo != nil {
		country = r.resolveCountry(e)
	}

	now := time.Now()

	e.mu.Lock()
	e.record.IsWorking = success
	e.record.LastChecked = &now
	if success {
		latency := latencyMs
		e.record.Latency = &latency
		e.record.FailCount = 0
		if country != "" {
			e.record.Country = country
		}
	} else {
		e.record.FailCount++
	}
	record := e.record
	e.mu.Unlock()

	r.persistCheckResult(record)
	return nil
}

// MarkUsed stamps LastUsed after a successful selection.
func (r *Registry) MarkUsed(id uint64, usedAt time.Time) error {
	e := r.lookup(id)
	if e == nil {
		return ErrNotFound
	}

	e.mu.Lock()
	e.record.LastUsed = &usedAt
	e.mu.Unlock()

	if r.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
			defer cancel()
			if err := r.store.SaveLastUsed(ctx, id, usedAt); err != nil {
				log.Warn("registry: failed to persist last_used", "proxy_id", id, "error", err)
			}
		}()
	}
	return nil
}

func (r *Registry) lookup(id uint64) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

func (r *Registry) list(keep func(domain.ProxyRecord) bool) []domain.ProxyRecord {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	records := make([]domain.ProxyRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		record := e.record
		e.mu.Unlock()
		if keep(record) {
			records = append(records, record)
		}
	}
	return records
}

func (r *Registry) resolveCountry(e *entry) string {
	e.mu.Lock()
	ip := e.record.IP
	known := e.record.Country
	e.mu.Unlock()

	if known != "" || ip == "" {
		return ""
	}

	country, err := r.geo.Country(ip)
	if err != nil {
		log.Debug("registry: geo lookup failed", "ip", ip, "error", err)
		return ""
	}
	return country
}

func (r *Registry) persistCheckResult(record domain.ProxyRecord) {
	if r.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
		defer cancel()
		if err := r.store.SaveCheckResult(ctx, record); err != nil {
			log.Warn("registry: failed to persist check result", "proxy_id", record.ID, "error", err)
		}
	}()
}
