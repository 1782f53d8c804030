// Package progress aggregates status events from concurrent transfer
// workers into a table for display.
//
// Producers call Emit, which appends to an unbounded mailbox and never
// waits for the consumer. A single consumer goroutine folds events into a
// per-worker table and hands a copy to the Renderer after each batch.
package progress

import (
	"sort"
	"sync"
	"time"
)

// Status is a worker's state as shown in the progress table.
type Status string

// Worker statuses.
const (
	StatusWaiting   Status = "waiting"
	StatusWorking   Status = "working"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Event is a status update from one worker.
type Event struct {
	WorkerKind string    `json:"worker_kind"`
	WorkerID   string    `json:"worker_id"`
	Status     Status    `json:"status"`
	Message    string    `json:"message"`
	Time       time.Time `json:"time"`
}

// Renderer displays the aggregated table. Render is only called from the
// consumer goroutine and receives a copy ordered by first appearance.
type Renderer interface {
	Render(rows []Event)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(rows []Event)

// Render calls f.
func (f RendererFunc) Render(rows []Event) { f(rows) }

// DefaultPollInterval is how long the consumer idles before re-checking
// the mailbox when no wakeup arrives.
const DefaultPollInterval = 100 * time.Millisecond

// Reporter is the many-producer, single-consumer event aggregator.
// A nil *Reporter accepts and discards events.
type Reporter struct {
	renderer Renderer
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending []Event
	stopped bool
	wake    chan struct{}
	done    chan struct{}

	tableMu sync.RWMutex
	table   map[string]Event
	order   map[string]int
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reporter) { r.interval = d }
}

// WithClock overrides the clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// NewReporter starts a consumer rendering to renderer. A nil renderer only
// aggregates, which is useful when the caller reads Snapshot.
func NewReporter(renderer Renderer, opts ...Option) *Reporter {
	r := &Reporter{
		renderer: renderer,
		interval: DefaultPollInterval,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		table:    make(map[string]Event),
		order:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.consume()
	return r
}

// Emit queues an event. It never blocks on the consumer. Events emitted
// after Stop are dropped.
func (r *Reporter) Emit(e Event) {
	if r == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = r.now()
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.pending = append(r.pending, e)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Report is shorthand for Emit with the given fields.
func (r *Reporter) Report(kind, id string, status Status, message string) {
	r.Emit(Event{WorkerKind: kind, WorkerID: id, Status: status, Message: message})
}

// Stop queues the stop sentinel and waits for the consumer to drain every
// event emitted before it and exit. Stop is idempotent.
func (r *Reporter) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	<-r.done
}

// Snapshot returns the current table ordered by first appearance.
func (r *Reporter) Snapshot() []Event {
	if r == nil {
		return nil
	}
	r.tableMu.RLock()
	defer r.tableMu.RUnlock()
	return r.rowsLocked()
}

func (r *Reporter) rowsLocked() []Event {
	rows := make([]Event, 0, len(r.table))
	for _, e := range r.table {
		rows = append(rows, e)
	}
	sort.Slice(rows, func(i, j int) bool {
		return r.order[rows[i].WorkerID] < r.order[rows[j].WorkerID]
	})
	return rows
}

func (r *Reporter) consume() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.mu.Lock()
		batch := r.pending
		r.pending = nil
		stop := r.stopped
		r.mu.Unlock()

		if len(batch) > 0 {
			r.apply(batch)
		}
		if stop {
			return
		}

		select {
		case <-r.wake:
		case <-ticker.C:
		}
	}
}

func (r *Reporter) apply(batch []Event) {
	r.tableMu.Lock()
	for _, e := range batch {
		if _, ok := r.order[e.WorkerID]; !ok {
			r.order[e.WorkerID] = len(r.order)
		}
		r.table[e.WorkerID] = e
	}
	rows := r.rowsLocked()
	r.tableMu.Unlock()

	if r.renderer != nil {
		r.renderer.Render(rows)
	}
}

// Counts tallies rows by status.
func Counts(rows []Event) map[Status]int {
	counts := make(map[Status]int)
	for _, e := range rows {
		counts[e.Status]++
	}
	return counts
}
