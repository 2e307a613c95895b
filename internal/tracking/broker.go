package tracking

import "sync"

// Update announces that the view moved to Version because of Kind
// (journeys, selection, alerts, vehicles, connectivity, filter).
type Update struct {
	Kind    string `json:"kind"`
	Version uint64 `json:"version"`
}

// Broker fans view updates out to subscribers. Slow subscribers miss
// updates rather than block the publisher; every Update carries the latest
// version so a reader can always resync from View.
type Broker struct {
	mu     sync.Mutex
	subs   map[chan Update]struct{}
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: map[chan Update]struct{}{}}
}

func (b *Broker) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 8)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	var once sync.Once
	return ch, func() { once.Do(func() { b.unsubscribe(ch) }) }
}

func (b *Broker) unsubscribe(ch chan Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Broker) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
