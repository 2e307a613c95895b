package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"fleettrack/internal/channel"
	"fleettrack/internal/model"
	"fleettrack/internal/store"
)

type fakeTransport struct {
	mu      sync.Mutex
	dialErr error
	dials   int
	session *fakeSession

	// gate, when set, holds every Dial until closed; dialing is signalled
	// as a Dial starts waiting.
	gate    chan struct{}
	dialing chan struct{}
}

func (f *fakeTransport) Dial(context.Context) (channel.Session, error) {
	if f.gate != nil {
		select {
		case f.dialing <- struct{}{}:
		default:
		}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	f.session = &fakeSession{events: make(chan channel.Envelope, 16)}
	return f.session, nil
}

func (f *fakeTransport) setDialErr(err error) {
	f.mu.Lock()
	f.dialErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) current() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

type fakeSession struct {
	mu     sync.Mutex
	events chan channel.Envelope
	joins  []string
	leaves []string
	closes int
}

func (s *fakeSession) Join(_ context.Context, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins = append(s.joins, scope)
	return nil
}

func (s *fakeSession) Leave(_ context.Context, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves = append(s.leaves, scope)
	return nil
}

func (s *fakeSession) Events() <-chan channel.Envelope { return s.events }
func (s *fakeSession) Err() error                      { return nil }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes == 1 {
		close(s.events)
	}
	return nil
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (s *fakeSession) counts() (joins, leaves, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.joins), len(s.leaves), s.closes
}

func (s *fakeSession) send(typ, payload string) {
	s.events <- channel.Envelope{Type: typ, Payload: json.RawMessage(payload)}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func seeded() *store.Memory {
	src := store.NewMemory()
	src.SetJourneys([]model.TrackedJourney{
		{ID: "1", Status: model.StatusInProgress, CompletedStops: 2, TotalStops: 5},
		{ID: "2", Status: model.StatusPlanned, TotalStops: 3},
	})
	src.SetVehicles([]model.ActiveVehicle{{VehicleID: "v1", JourneyID: "1"}})
	return src
}

// blockingSource holds the journeys fetch until release is closed or the
// context ends.
type blockingSource struct {
	*store.Memory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSource) FetchActiveJourneys(ctx context.Context) ([]model.TrackedJourney, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
		return b.Memory.FetchActiveJourneys(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newEngine(src *store.Memory, tr channel.Transport) *Engine {
	opts := Options{WorkspaceID: "ws-1", PollInterval: time.Hour, AlertRetention: 10}
	deps := Deps{Source: src}
	if tr != nil {
		deps.Transport = tr
	}
	return New(opts, deps)
}

func TestEngine_StartLoadsJoinsAndAutoSelects(t *testing.T) {
	tr := &fakeTransport{}
	e := newEngine(seeded(), tr)
	defer e.Close()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	v := e.View()
	if len(v.Journeys) != 2 || !v.Connected || v.Connectivity != "connected" {
		t.Fatalf("view = %+v", v)
	}
	if v.Selection.JourneyID != "1" {
		t.Fatalf("auto-selection = %q", v.Selection.JourneyID)
	}
	if j, _, _ := tr.current().counts(); j != 1 {
		t.Fatalf("joins = %d", j)
	}
	if v.Stats.Active != 2 || v.Stats.TotalStops != 8 {
		t.Fatalf("stats = %+v", v.Stats)
	}
}

func TestEngine_PushPathFeedsReconcilerAndAlerts(t *testing.T) {
	tr := &fakeTransport{}
	e := newEngine(seeded(), tr)
	defer e.Close()
	_ = e.Start(context.Background())

	s := tr.current()
	s.send(channel.EventVehicleUpdate, `{"journeyId":"1","location":{"lat":41,"lng":29,"speed":30}}`)
	s.send(channel.EventVehicleUpdate, `{"journeyId":"99","currentStopIndex":1}`)
	s.send(channel.EventEmergencyAlert, `{"journeyId":"2","message":"flat tyre","severity":"medium"}`)

	waitFor(t, "alert", func() bool { return len(e.View().Alerts) == 1 })
	j, ok := e.Journey("1")
	if !ok || j.Location == nil || j.Location.Speed != 30 || j.CompletedStops != 2 || j.TotalStops != 5 {
		t.Fatalf("journey 1 = %+v", j)
	}
	if _, ok := e.Journey("99"); ok {
		t.Fatal("unknown journey introduced by push")
	}
	v := e.View()
	if v.Unread != 1 || v.Alerts[0].Severity != model.SeverityMedium {
		t.Fatalf("alerts = %+v unread=%d", v.Alerts, v.Unread)
	}
	if v.Selection.Journey == nil || v.Selection.Journey.Location == nil {
		t.Fatal("selection not refreshed to merged instance")
	}
	e.MarkAlertsRead()
	if e.View().Unread != 0 {
		t.Fatal("alerts still unread")
	}
}

func TestEngine_ConnectFailureFallsBackToPolling(t *testing.T) {
	src := seeded()
	tr := &fakeTransport{dialErr: errors.New("refused")}
	opts := Options{WorkspaceID: "ws-1", PollInterval: 5 * time.Millisecond}
	e := New(opts, Deps{Source: src, Transport: tr})
	defer e.Close()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start must not fail on channel errors: %v", err)
	}
	if e.Connected() {
		t.Fatal("should be disconnected")
	}

	src.SetJourneys([]model.TrackedJourney{{ID: "3", Status: model.StatusInProgress}})
	waitFor(t, "poll tick", func() bool {
		v := e.View()
		return len(v.Journeys) == 1 && v.Journeys[0].ID == "3"
	})
	v := e.View()
	if v.Selection.JourneyID != "" {
		t.Fatalf("selection should clear when journey disappears, got %q", v.Selection.JourneyID)
	}
	if len(v.Vehicles) != 0 {
		t.Fatal("vehicles fetched while disconnected")
	}

	tr.setDialErr(nil)
	if err := e.Reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !e.Connected() {
		t.Fatal("reconnect did not connect")
	}
	waitFor(t, "vehicles", func() bool { return len(e.View().Vehicles) == 1 })
}

func TestEngine_CloseTearsDownOnce(t *testing.T) {
	src := seeded()
	tr := &fakeTransport{}
	opts := Options{WorkspaceID: "ws-1", PollInterval: 2 * time.Millisecond}
	e := New(opts, Deps{Source: src, Transport: tr})
	_ = e.Start(context.Background())
	waitFor(t, "a poll tick", func() bool { return src.Fetches() >= 2 })

	e.Close()
	e.Close()
	_, leaves, closes := tr.current().counts()
	if leaves != 1 || closes != 1 {
		t.Fatalf("leaves=%d closes=%d", leaves, closes)
	}
	if p, a := e.listener.Subscribers(); p != 0 || a != 0 {
		t.Fatalf("handlers still subscribed: %d %d", p, a)
	}
	fetches := src.Fetches()
	time.Sleep(20 * time.Millisecond)
	if src.Fetches() != fetches {
		t.Fatal("poller fired after Close")
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after close: %v", err)
	}
	if err := e.Reconnect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("reconnect after close: %v", err)
	}
}

func TestEngine_InitialLoadFailureStartsEmpty(t *testing.T) {
	src := seeded()
	src.FailWith(errors.New("503"))
	e := newEngine(src, nil)
	defer e.Close()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	v := e.View()
	if len(v.Journeys) != 0 || v.Selection.JourneyID != "" || v.Connected {
		t.Fatalf("view = %+v", v)
	}
	if err := e.Reconnect(context.Background()); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("reconnect without channel: %v", err)
	}
}

func TestEngine_FilterAndSelectionIntents(t *testing.T) {
	src := store.NewMemory()
	src.SetJourneys([]model.TrackedJourney{
		{ID: "1", Status: model.StatusPlanned},
		{ID: "2", Status: model.StatusCompleted},
		{ID: "3", Status: model.StatusInProgress, DriverID: "d3"},
	})
	e := newEngine(src, nil)
	defer e.Close()
	_ = e.Start(context.Background())

	if err := e.SetFilter(model.FilterCriteria{Status: model.FilterActive}); err != nil {
		t.Fatalf("filter: %v", err)
	}
	v := e.View()
	if len(v.Filtered) != 2 || v.Filtered[0].ID != "1" || v.Filtered[1].ID != "3" {
		t.Fatalf("filtered = %+v", v.Filtered)
	}
	_ = e.SetFilter(model.FilterCriteria{Status: model.FilterActive, DriverID: "d3"})
	if v := e.View(); len(v.Filtered) != 1 || v.Stats.Total != 1 {
		t.Fatalf("driver filter = %+v", v.Filtered)
	}
	if err := e.SetFilter(model.FilterCriteria{Status: "someday"}); err == nil {
		t.Fatal("expected invalid filter error")
	}

	if err := e.Select("3"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := e.Select("42"); err == nil {
		t.Fatal("expected unknown journey error")
	}
	e.ClearSelection()
	if e.View().Selection.JourneyID != "" {
		t.Fatal("selection not cleared")
	}
}

func TestEngine_SubscribeSeesUpdates(t *testing.T) {
	e := newEngine(seeded(), nil)
	ch, cancel := e.Subscribe()
	defer cancel()
	_ = e.Start(context.Background())

	kinds := map[string]bool{}
	for len(kinds) < 2 {
		select {
		case u := <-ch:
			kinds[u.Kind] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("updates so far: %v", kinds)
		}
	}
	if !kinds["journeys"] || !kinds["selection"] {
		t.Fatalf("kinds = %v", kinds)
	}
	e.Close()
	for range ch {
	}
}

func TestEngine_CloseDuringInitialLoad(t *testing.T) {
	src := &blockingSource{Memory: seeded(), entered: make(chan struct{}), release: make(chan struct{})}
	tr := &fakeTransport{}
	opts := Options{WorkspaceID: "ws-1", PollInterval: time.Hour, InitialLoadTimeout: time.Minute}
	e := New(opts, Deps{Source: src, Transport: tr})

	errc := make(chan error, 1)
	go func() { errc <- e.Start(context.Background()) }()
	<-src.entered
	e.Close()
	close(src.release)

	if err := <-errc; !errors.Is(err, ErrClosed) {
		t.Fatalf("start = %v, want ErrClosed", err)
	}
	if e.Connected() || tr.dialCount() != 0 {
		t.Fatalf("connected=%v dials=%d after close", e.Connected(), tr.dialCount())
	}
	if p, a := e.listener.Subscribers(); p != 0 || a != 0 {
		t.Fatalf("handlers subscribed after close: %d %d", p, a)
	}
	if n := len(e.View().Journeys); n != 0 {
		t.Fatalf("journeys applied after close: %d", n)
	}
	if fetches := src.Fetches(); fetches != 0 {
		t.Fatalf("poller ran after close: %d fetches", fetches)
	}
}

func TestEngine_CloseDuringConnectTearsDownSession(t *testing.T) {
	tr := &fakeTransport{gate: make(chan struct{}), dialing: make(chan struct{}, 1)}
	e := newEngine(seeded(), tr)

	errc := make(chan error, 1)
	go func() { errc <- e.Start(context.Background()) }()
	<-tr.dialing

	closed := make(chan struct{})
	go func() {
		e.Close()
		close(closed)
	}()
	waitFor(t, "close to begin", e.closed.Load)
	close(tr.gate)

	if err := <-errc; !errors.Is(err, ErrClosed) {
		t.Fatalf("start = %v, want ErrClosed", err)
	}
	<-closed
	joins, _, closes := tr.current().counts()
	if joins != 0 || closes != 1 {
		t.Fatalf("joins=%d closes=%d", joins, closes)
	}
	if e.Connected() {
		t.Fatal("still connected after close")
	}
	if p, a := e.listener.Subscribers(); p != 0 || a != 0 {
		t.Fatalf("handlers subscribed after close: %d %d", p, a)
	}
}

func TestEngine_DisconnectDropsVehicles(t *testing.T) {
	src := seeded()
	tr := &fakeTransport{}
	opts := Options{WorkspaceID: "ws-1", PollInterval: 5 * time.Millisecond}
	e := New(opts, Deps{Source: src, Transport: tr})
	defer e.Close()
	_ = e.Start(context.Background())
	waitFor(t, "vehicles", func() bool { return len(e.View().Vehicles) == 1 })

	_ = tr.current().Close()
	waitFor(t, "vehicles dropped", func() bool {
		v := e.View()
		return !v.Connected && len(v.Vehicles) == 0
	})
	fetches := src.Fetches()
	waitFor(t, "more poll ticks", func() bool { return src.Fetches() >= fetches+2 })
	if n := len(e.View().Vehicles); n != 0 {
		t.Fatalf("vehicles refreshed while disconnected: %d", n)
	}
}
