package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"proxygate/internal/domain"
)

type recordingStore struct {
	mu           sync.Mutex
	checkResults []domain.ProxyRecord
	lastUsed     []uint64
	done         chan struct{}
}

func (s *recordingStore) SaveCheckResult(_ context.Context, record domain.ProxyRecord) error {
	s.mu.Lock()
	s.checkResults = append(s.checkResults, record)
	s.mu.Unlock()
	if s.done != nil {
		s.done <- struct{}{}
	}
	return nil
}

func (s *recordingStore) SaveLastUsed(_ context.Context, id uint64, _ time.Time) error {
	s.mu.Lock()
	s.lastUsed = append(s.lastUsed, id)
	s.mu.Unlock()
	if s.done != nil {
		s.done <- struct{}{}
	}
	return nil
}

func newTestRegistry() *Registry {
	return New(nil)
}

func TestAddAndGet(t *testing.T) {
	r := newTestRegistry()

	added := r.Add(domain.ProxyRecord{IP: "10.0.0.1", Port: 8080})
	if added.ID == 0 {
		t.Fatal("Add should assign an id")
	}

	got, err := r.Get(added.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.IP != "10.0.0.1" || got.Port != 8080 {
		t.Fatalf("Get returned wrong record: %+v", got)
	}

	if _, err := r.Get(9999); err != ErrNotFound {
		t.Fatalf("Get for unknown id returned %v, want ErrNotFound", err)
	}
}

func TestRecordTestResult_SuccessAndFailure(t *testing.T) {
	r := newTestRegistry()
	proxy := r.Add(domain.ProxyRecord{IP: "10.0.0.1", Port: 8080, FailCount: 3})

	if err := r.RecordTestResult(proxy.ID, true, 120); err != nil {
		t.Fatalf("RecordTestResult returned error: %v", err)
	}

	got, _ := r.Get(proxy.ID)
	if !got.IsWorking {
		t.Fatal("successful test should mark the record working")
	}
	if got.Latency == nil || *got.Latency != 120 {
		t.Fatalf("latency = %v, want 120", got.Latency)
	}
	if got.FailCount != 0 {
		t.Fatalf("fail count = %d, want 0 after success", got.FailCount)
	}
	if got.LastChecked == nil {
		t.Fatal("last_checked should be stamped")
	}

	if err := r.RecordTestResult(proxy.ID, false, 0); err != nil {
		t.Fatalf("RecordTestResult returned error: %v", err)
	}

	got, _ = r.Get(proxy.ID)
	if got.IsWorking {
		t.Fatal("failed test should mark the record non-working")
	}
	if got.FailCount != 1 {
		t.Fatalf("fail count = %d, want 1", got.FailCount)
	}
	if got.Latency == nil || *got.Latency != 120 {
		t.Fatalf("failure must not clear the last observed latency, got %v", got.Latency)
	}
	if got.HealthScore() != 0 {
		t.Fatalf("non-working record must score 0, got %v", got.HealthScore())
	}
}

func TestListWorkingFiltersDeadRecords(t *testing.T) {
	r := newTestRegistry()
	alive := r.Add(domain.ProxyRecord{IP: "10.0.0.1", Port: 1, IsWorking: true})
	r.Add(domain.ProxyRecord{IP: "10.0.0.2", Port: 2, IsWorking: false})

	working := r.ListWorking()
	if len(working) != 1 || working[0].ID != alive.ID {
		t.Fatalf("ListWorking returned %+v, want only id %d", working, alive.ID)
	}

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
}

func TestMarkUsed(t *testing.T) {
	r := newTestRegistry()
	proxy := r.Add(domain.ProxyRecord{IP: "10.0.0.1", Port: 8080})

	usedAt := time.Now()
	if err := r.MarkUsed(proxy.ID, usedAt); err != nil {
		t.Fatalf("MarkUsed returned error: %v", err)
	}

	got, _ := r.Get(proxy.ID)
	if got.LastUsed == nil || !got.LastUsed.Equal(usedAt) {
		t.Fatalf("last_used = %v, want %v", got.LastUsed, usedAt)
	}

	if err := r.MarkUsed(12345, usedAt); err != ErrNotFound {
		t.Fatalf("MarkUsed for unknown id returned %v, want ErrNotFound", err)
	}
}

func TestStoreWriteThrough(t *testing.T) {
	store := &recordingStore{done: make(chan struct{}, 2)}
	r := New(store)
	proxy := r.Add(domain.ProxyRecord{IP: "10.0.0.1", Port: 8080})

	if err := r.RecordTestResult(proxy.ID, true, 55); err != nil {
		t.Fatalf("RecordTestResult returned error: %v", err)
	}
	if err := r.MarkUsed(proxy.ID, time.Now()); err != nil {
		t.Fatalf("MarkUsed returned error: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-store.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for store write-through")
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.checkResults) != 1 || !store.checkResults[0].IsWorking {
		t.Fatalf("unexpected check results persisted: %+v", store.checkResults)
	}
	if len(store.lastUsed) != 1 || store.lastUsed[0] != proxy.ID {
		t.Fatalf("unexpected last_used persisted: %+v", store.lastUsed)
	}
}

func TestConcurrentMutationDoesNotLoseUpdates(t *testing.T) {
	r := newTestRegistry()
	proxy := r.Add(domain.ProxyRecord{IP: "10.0.0.1", Port: 8080})

	const failures = 100
	var wg sync.WaitGroup
	for i := 0; i < failures; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.RecordTestResult(proxy.ID, false, 0)
		}()
	}
	wg.Wait()

	got, _ := r.Get(proxy.ID)
	if got.FailCount != failures {
		t.Fatalf("fail count = %d, want %d (lost updates)", got.FailCount, failures)
	}
}
