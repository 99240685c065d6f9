// Package reminder owns the in-process delivery queue for time-sensitive
// chat notifications. The queue, its dedup set, and the drain loop are
// exclusively owned state; other components interact only through Enqueue.
//
// Delivery is best-effort: after three cumulative failures an entry is
// dropped with a logged warning. A very late reminder is worse than none,
// so there is no durable retry.
package reminder

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Priority orders drain processing; lower values drain first.
type Priority int

const (
	PriorityUrgent Priority = 0
	PriorityNormal Priority = 1
	PriorityLow    Priority = 2
)

const (
	// DefaultDrainInterval is how often the queue attempts delivery.
	DefaultDrainInterval = 30 * time.Second

	// defaultSendSpacing is the fixed delay between successive send
	// attempts within one drain pass, respecting provider throughput.
	defaultSendSpacing = 500 * time.Millisecond

	// maxAttempts is the cumulative failure count after which an entry is
	// dropped.
	maxAttempts = 3

	// dedupTTL is how long an enqueue key suppresses duplicates. The drain
	// cadence and the generating tick are both minute-granular, so a short
	// expiry suffices.
	dedupTTL = 60 * time.Second
)

// Sender is the external message-send capability.
type Sender interface {
	Send(ctx context.Context, recipient, text string) error
}

type entry struct {
	recipient  string
	message    string
	priority   Priority
	retryCount int
	seq        uint64
}

// entryHeap orders by ascending priority, FIFO within equal priority.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is the reminder delivery queue. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	entries entryHeap
	seq     uint64
	dedup   map[string]time.Time

	sender   Sender
	logger   *slog.Logger
	interval time.Duration
	spacing  time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Queue)

func WithDrainInterval(d time.Duration) Option {
	return func(q *Queue) { q.interval = d }
}

func WithSendSpacing(d time.Duration) Option {
	return func(q *Queue) { q.spacing = d }
}

// WithClock injects a clock for dedup-expiry tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func NewQueue(sender Sender, logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		dedup:    make(map[string]time.Time),
		sender:   sender,
		logger:   logger,
		interval: DefaultDrainInterval,
		spacing:  defaultSendSpacing,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a message for delivery on the next drain pass.
func (q *Queue) Enqueue(recipient, message string, priority Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.push(recipient, message, priority)
}

// EnqueueKeyed adds a message unless the same key was enqueued within the
// dedup window. Slot-start reminders key by (slotID, scheduledMinute).
// Returns whether the entry was accepted.
func (q *Queue) EnqueueKeyed(key, recipient, message string, priority Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if seen, ok := q.dedup[key]; ok && now.Sub(seen) < dedupTTL {
		return false
	}
	q.dedup[key] = now
	q.push(recipient, message, priority)
	return true
}

func (q *Queue) push(recipient, message string, priority Priority) {
	q.seq++
	heap.Push(&q.entries, &entry{
		recipient: recipient,
		message:   message,
		priority:  priority,
		seq:       q.seq,
	})
}

// Depth returns the number of queued entries.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// Start begins the drain loop.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	q.mu.Unlock()

	go func() {
		defer close(q.done)
		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.DrainOnce(ctx)
			}
		}
	}()
}

// Stop gracefully stops the drain loop.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	done := q.done
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// DrainOnce processes everything currently queued, in priority order, with
// the configured spacing between attempts. Failed entries go back on the
// queue until maxAttempts, then are dropped with a warning.
func (q *Queue) DrainOnce(ctx context.Context) {
	q.pruneDedup()

	var retries []*entry
	first := true

	for {
		q.mu.Lock()
		if q.entries.Len() == 0 {
			q.mu.Unlock()
			break
		}
		e := heap.Pop(&q.entries).(*entry)
		q.mu.Unlock()

		if !first {
			select {
			case <-ctx.Done():
				retries = append(retries, e)
				q.requeue(retries)
				return
			case <-time.After(q.spacing):
			}
		}
		first = false

		if err := q.sender.Send(ctx, e.recipient, e.message); err != nil {
			e.retryCount++
			if e.retryCount >= maxAttempts {
				q.logger.Warn("dropping reminder after repeated delivery failures",
					"recipient", e.recipient, "attempts", e.retryCount, "error", err)
				continue
			}
			q.logger.Debug("reminder delivery failed, will retry",
				"recipient", e.recipient, "attempt", e.retryCount, "error", err)
			retries = append(retries, e)
		}
	}

	q.requeue(retries)
}

func (q *Queue) requeue(retries []*entry) {
	if len(retries) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range retries {
		heap.Push(&q.entries, e)
	}
}

func (q *Queue) pruneDedup() {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for key, seen := range q.dedup {
		if now.Sub(seen) >= dedupTTL {
			delete(q.dedup, key)
		}
	}
}
