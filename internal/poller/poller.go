// Package poller runs the fixed-interval snapshot fetch that keeps the
// journeys collection fresh regardless of push channel health.
package poller

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"fleettrack/internal/metrics"
	"fleettrack/internal/model"
)

const (
	DefaultInterval     = 10 * time.Second
	DefaultFetchTimeout = 10 * time.Second
	// log the first failure and then every failureLogEvery consecutive ones
	failureLogEvery = 10
)

// Source fetches the authoritative snapshots.
type Source interface {
	FetchActiveJourneys(ctx context.Context) ([]model.TrackedJourney, error)
	FetchActiveVehicles(ctx context.Context) ([]model.ActiveVehicle, error)
}

type Poller struct {
	Source       Source
	Interval     time.Duration
	FetchTimeout time.Duration
	// Connected gates the vehicles snapshot; nil means never fetch it.
	Connected  func() bool
	OnJourneys func([]model.TrackedJourney)
	OnVehicles func([]model.ActiveVehicle)

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	// owned by the loop goroutine
	failures map[string]int
}

func New(src Source) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		Source:       src,
		Interval:     DefaultInterval,
		FetchTimeout: DefaultFetchTimeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		failures:     map[string]int{},
	}
}

// Start launches the ticker loop. Calling it more than once has no effect.
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		interval := p.Interval
		if interval <= 0 {
			interval = DefaultInterval
		}
		go func() {
			defer close(p.done)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-p.stop:
					return
				case <-ticker.C:
					select {
					case <-p.stop:
						return
					default:
					}
					p.processOnce()
				}
			}
		}()
	})
}

// Stop cancels any in-flight fetch and waits for the loop to exit. No
// callback runs after Stop returns. Safe to call repeatedly, and before
// Start.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.cancel()
		started := true
		p.startOnce.Do(func() { started = false; close(p.done) })
		if started {
			<-p.done
		}
	})
}

func (p *Poller) processOnce() {
	timeout := p.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	start := time.Now()
	journeys, err := p.Source.FetchActiveJourneys(ctx)
	cancel()
	metrics.PollDuration.WithLabelValues("journeys").Observe(time.Since(start).Seconds())
	if p.record("journeys", err) && p.OnJourneys != nil {
		p.OnJourneys(journeys)
	}

	if p.Connected == nil || !p.Connected() {
		return
	}
	ctx, cancel = context.WithTimeout(p.ctx, timeout)
	start = time.Now()
	vehicles, err := p.Source.FetchActiveVehicles(ctx)
	cancel()
	metrics.PollDuration.WithLabelValues("vehicles").Observe(time.Since(start).Seconds())
	if p.record("vehicles", err) && p.OnVehicles != nil {
		p.OnVehicles(vehicles)
	}
}

// record tracks consecutive failures per snapshot and reports whether the
// fetch succeeded.
func (p *Poller) record(snapshot string, err error) bool {
	if err == nil {
		metrics.PollTicks.WithLabelValues(snapshot, "ok").Inc()
		if n := p.failures[snapshot]; n > 0 {
			log.Printf("poller: %s fetch recovered after %d failures", snapshot, n)
		}
		p.failures[snapshot] = 0
		return true
	}
	metrics.PollTicks.WithLabelValues(snapshot, "error").Inc()
	n := p.failures[snapshot] + 1
	p.failures[snapshot] = n
	if n == 1 || n%failureLogEvery == 0 {
		log.Printf("poller: %s fetch failed (%d consecutive): %v", snapshot, n, err)
	}
	return false
}

// LoadInitial performs the one-off startup fetch bounded by timeout.
func LoadInitial(ctx context.Context, src Source, timeout time.Duration) ([]model.TrackedJourney, error) {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		journeys []model.TrackedJourney
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		js, err := src.FetchActiveJourneys(ctx)
		ch <- result{js, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("initial journeys load: %w", r.err)
		}
		return r.journeys, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("initial journeys load: %w", ctx.Err())
	}
}
