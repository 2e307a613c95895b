package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleettrack/internal/model"
)

type fakeSource struct {
	mu           sync.Mutex
	journeyCalls int
	vehicleCalls int
	journeyErr   error
	block        chan struct{}
	journeys     []model.TrackedJourney
}

func (f *fakeSource) FetchActiveJourneys(ctx context.Context) ([]model.TrackedJourney, error) {
	f.mu.Lock()
	f.journeyCalls++
	err, block := f.journeyErr, f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return f.journeys, nil
}

func (f *fakeSource) FetchActiveVehicles(context.Context) ([]model.ActiveVehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vehicleCalls++
	return []model.ActiveVehicle{{VehicleID: "v1"}}, nil
}

func (f *fakeSource) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.journeyCalls, f.vehicleCalls
}

func TestProcessOnce_VehiclesOnlyWhenConnected(t *testing.T) {
	src := &fakeSource{journeys: []model.TrackedJourney{{ID: "1"}}}
	p := New(src)
	connected := false
	p.Connected = func() bool { return connected }
	var gotJ, gotV int
	p.OnJourneys = func(js []model.TrackedJourney) { gotJ += len(js) }
	p.OnVehicles = func(vs []model.ActiveVehicle) { gotV += len(vs) }

	p.processOnce()
	connected = true
	p.processOnce()

	j, v := src.calls()
	if j != 2 || v != 1 {
		t.Fatalf("journey calls=%d vehicle calls=%d", j, v)
	}
	if gotJ != 2 || gotV != 1 {
		t.Fatalf("delivered journeys=%d vehicles=%d", gotJ, gotV)
	}
}

func TestProcessOnce_FailureSkipsTick(t *testing.T) {
	src := &fakeSource{journeyErr: errors.New("502")}
	p := New(src)
	delivered := 0
	p.OnJourneys = func([]model.TrackedJourney) { delivered++ }
	for i := 0; i < 3; i++ {
		p.processOnce()
	}
	if delivered != 0 || p.failures["journeys"] != 3 {
		t.Fatalf("delivered=%d failures=%d", delivered, p.failures["journeys"])
	}
	src.mu.Lock()
	src.journeyErr = nil
	src.mu.Unlock()
	p.processOnce()
	if delivered != 1 || p.failures["journeys"] != 0 {
		t.Fatalf("recovery: delivered=%d failures=%d", delivered, p.failures["journeys"])
	}
}

func TestStartStop_NoTickAfterStop(t *testing.T) {
	src := &fakeSource{}
	p := New(src)
	p.Interval = 5 * time.Millisecond
	var ticks int32
	p.OnJourneys = func([]model.TrackedJourney) { atomic.AddInt32(&ticks, 1) }
	p.Start()
	p.Start()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&ticks) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("poller never ticked")
		}
		time.Sleep(time.Millisecond)
	}
	p.Stop()
	p.Stop()
	after := atomic.LoadInt32(&ticks)
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&ticks); got != after {
		t.Fatalf("ticked after stop: %d -> %d", after, got)
	}
}

func TestStop_CancelsInFlightFetch(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	p := New(src)
	p.Interval = time.Millisecond
	p.FetchTimeout = time.Minute
	p.Start()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if j, _ := src.calls(); j > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("fetch never started")
		}
		time.Sleep(time.Millisecond)
	}
	done := make(chan struct{})
	go func() { p.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on in-flight fetch")
	}
}

func TestStopBeforeStart(t *testing.T) {
	p := New(&fakeSource{})
	p.Stop()
	p.Start()
	p.Stop()
}

func TestLoadInitial(t *testing.T) {
	src := &fakeSource{journeys: []model.TrackedJourney{{ID: "1"}, {ID: "2"}}}
	js, err := LoadInitial(context.Background(), src, time.Second)
	if err != nil || len(js) != 2 {
		t.Fatalf("load: %v %v", js, err)
	}

	slow := &fakeSource{block: make(chan struct{})}
	defer close(slow.block)
	start := time.Now()
	_, err = LoadInitial(context.Background(), slow, 20*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout not honored")
	}
}
