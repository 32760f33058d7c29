package activity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"proxygate/internal/domain"
)

const (
	defaultQueueSize = 4096
	postTimeout      = 10 * time.Second
)

// Sink receives activity records. Delivery is best effort.
type Sink interface {
	Post(ctx context.Context, record domain.ActivityRecord) error
}

// Dispatcher decouples request handling from activity logging: Enqueue
// never blocks, records beyond the queue capacity are dropped and counted,
// and a background goroutine drains the queue into the sink.
type Dispatcher struct {
	queue   chan domain.ActivityRecord
	quit    chan struct{}
	done    chan struct{}
	sink    Sink
	dropped atomic.Uint64

	closeOnce sync.Once
}

func NewDispatcher(sink Sink, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	d := &Dispatcher{
		queue: make(chan domain.ActivityRecord, queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		sink:  sink,
	}
	go d.run()
	return d
}

// Enqueue hands a record to the dispatcher. On overflow or after Close the
// record is dropped; producers are never blocked.
func (d *Dispatcher) Enqueue(record domain.ActivityRecord) {
	select {
	case <-d.quit:
		d.dropped.Add(1)
		return
	default:
	}

	select {
	case d.queue <- record:
	default:
		d.dropped.Add(1)
		log.Debug("activity queue full, dropping record", "endpoint", record.Endpoint)
	}
}

// Dropped reports how many records were discarded due to overflow.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops intake, flushes whatever is queued, and waits for the drain
// goroutine to exit.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
	})
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		select {
		case record := <-d.queue:
			d.post(record)
		case <-d.quit:
			for {
				select {
				case record := <-d.queue:
					d.post(record)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) post(record domain.ActivityRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()

	if err := d.sink.Post(ctx, record); err != nil {
		// Logging failures are swallowed; they must never reach the caller.
		log.Debug("failed to post activity record", "endpoint", record.Endpoint, "error", err)
	}
}
