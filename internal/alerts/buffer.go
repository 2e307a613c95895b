// Package alerts buffers emergency alerts for the notification surface.
package alerts

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleettrack/internal/metrics"
	"fleettrack/internal/model"
)

const DefaultRetention = 10

// Buffer is a bounded, most-recent-first queue of emergency alerts. It never
// deduplicates: a redelivered alert is a new entry with its own ReceiptID.
type Buffer struct {
	mu       sync.Mutex
	items    []model.EmergencyAlert
	limit    int
	unread   int
	notifier Notifier
	now      func() time.Time
	nextObs  int
	obs      map[int]func([]model.EmergencyAlert)
	inflight sync.WaitGroup
	closed   bool

	// NotifyTimeout bounds one notification attempt.
	NotifyTimeout time.Duration
}

// NewBuffer creates a buffer keeping at most limit alerts. A nil notifier
// disables the transient notification surface.
func NewBuffer(limit int, n Notifier) *Buffer {
	if limit <= 0 {
		limit = DefaultRetention
	}
	return &Buffer{
		limit:         limit,
		notifier:      n,
		now:           time.Now,
		obs:           map[int]func([]model.EmergencyAlert){},
		NotifyTimeout: 5 * time.Second,
	}
}

// Push prepends a, evicting the oldest entries beyond the retention cap, and
// returns the stored alert. A permitted notifier is invoked asynchronously;
// its failure never affects the buffer.
func (b *Buffer) Push(a model.EmergencyAlert) model.EmergencyAlert {
	if a.ReceiptID == "" {
		a.ReceiptID = uuid.New().String()
	}
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = b.now().UTC()
	}
	metrics.Alerts.WithLabelValues(string(a.Severity)).Inc()

	b.mu.Lock()
	next := make([]model.EmergencyAlert, 0, min(len(b.items)+1, b.limit))
	next = append(next, a)
	for _, it := range b.items {
		if len(next) == b.limit {
			break
		}
		next = append(next, it)
	}
	b.items = next
	if b.unread < b.limit {
		b.unread++
	}
	fns := b.observers()
	items := b.items
	b.mu.Unlock()

	for _, fn := range fns {
		fn(items)
	}
	b.dispatch(a)
	return a
}

func (b *Buffer) dispatch(a model.EmergencyAlert) {
	if b.notifier == nil || !b.notifier.Permitted() {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.inflight.Add(1)
	b.mu.Unlock()
	go func() {
		defer b.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.NotifyTimeout)
		defer cancel()
		if err := b.notifier.Notify(ctx, a); err != nil {
			log.Printf("alerts: notify %s (journey %s): %v", a.ReceiptID, a.JourneyID, err)
		}
	}()
}

// Alerts returns the buffered alerts, most recent first. The slice is
// shared and must not be modified.
func (b *Buffer) Alerts() []model.EmergencyAlert {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items
}

// Unread counts alerts pushed since the last MarkRead, capped at the
// retention limit.
func (b *Buffer) Unread() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unread
}

func (b *Buffer) HasUnread() bool { return b.Unread() > 0 }

func (b *Buffer) MarkRead() {
	b.mu.Lock()
	b.unread = 0
	b.mu.Unlock()
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.items = nil
	b.unread = 0
	fns := b.observers()
	b.mu.Unlock()
	for _, fn := range fns {
		fn(nil)
	}
}

// Observe registers fn to receive the buffer contents after every change.
func (b *Buffer) Observe(fn func([]model.EmergencyAlert)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextObs++
	id := b.nextObs
	b.obs[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.obs, id)
		b.mu.Unlock()
	}
}

// Close waits for in-flight notifications. Alerts pushed afterwards are
// still buffered but no longer notified.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.inflight.Wait()
}

func (b *Buffer) observers() []func([]model.EmergencyAlert) {
	fns := make([]func([]model.EmergencyAlert), 0, len(b.obs))
	for _, fn := range b.obs {
		fns = append(fns, fn)
	}
	return fns
}
