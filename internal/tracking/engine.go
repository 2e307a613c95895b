// Package tracking owns one live tracking session: it wires the channel,
// listener, poller, reconciler, selection and alert buffer together and
// exposes read-only views plus operator intents.
package tracking

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"fleettrack/internal/alerts"
	"fleettrack/internal/channel"
	"fleettrack/internal/config"
	"fleettrack/internal/listener"
	"fleettrack/internal/model"
	"fleettrack/internal/poller"
	"fleettrack/internal/reconcile"
	"fleettrack/internal/selection"
	"fleettrack/internal/stats"
)

var (
	ErrClosed    = errors.New("tracking engine closed")
	ErrNoChannel = errors.New("no push channel configured")
)

type Options struct {
	WorkspaceID        string
	PollInterval       time.Duration
	FetchTimeout       time.Duration
	InitialLoadTimeout time.Duration
	AlertRetention     int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WorkspaceID:        cfg.WorkspaceID,
		PollInterval:       cfg.Polling.Interval,
		FetchTimeout:       cfg.Polling.FetchTimeout,
		InitialLoadTimeout: cfg.Polling.InitialLoadTimeout,
		AlertRetention:     cfg.Alerts.Retention,
	}
}

// Deps are the engine's collaborators. Transport may be nil, in which case
// the engine runs polling-only.
type Deps struct {
	Source    poller.Source
	Transport channel.Transport
	Notifier  alerts.Notifier
	Now       func() time.Time
}

type Engine struct {
	opts Options
	now  func() time.Time

	rec      *reconcile.Reconciler
	sel      *selection.Controller
	alerts   *alerts.Buffer
	listener *listener.Listener
	conn     *channel.Manager
	poll     *poller.Poller
	broker   *Broker

	mu       sync.Mutex
	filter   model.FilterCriteria
	vehicles []model.ActiveVehicle
	version  uint64

	// life guards the start bookkeeping. Close cancels a running Start and
	// waits on startDone before tearing anything down.
	life        sync.Mutex
	started     bool
	startCancel context.CancelFunc
	startDone   chan struct{}
	unsubs      []func()

	closeOnce sync.Once
	closed    atomic.Bool
}

func New(opts Options, deps Deps) *Engine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		opts:      opts,
		now:       now,
		rec:       reconcile.New(now),
		sel:       selection.New(),
		alerts:    alerts.NewBuffer(opts.AlertRetention, deps.Notifier),
		listener:  listener.New(now),
		broker:    NewBroker(),
		filter:    model.FilterCriteria{Status: model.FilterAll},
		startDone: make(chan struct{}),
	}
	if deps.Transport != nil {
		e.conn = channel.NewManager(deps.Transport, e.listener.Dispatch)
		e.conn.OnStateChange(func(s channel.State) {
			if s == channel.Disconnected {
				e.dropVehicles()
			}
			e.bump("connectivity")
		})
	}

	e.poll = poller.New(deps.Source)
	if opts.PollInterval > 0 {
		e.poll.Interval = opts.PollInterval
	}
	if opts.FetchTimeout > 0 {
		e.poll.FetchTimeout = opts.FetchTimeout
	}
	e.poll.Connected = e.Connected
	e.poll.OnJourneys = func(js []model.TrackedJourney) { e.rec.ApplySnapshot(js) }
	e.poll.OnVehicles = e.setVehicles

	e.rec.Observe(func(c reconcile.Change) {
		e.sel.Sync(c.Journeys)
		e.bump("journeys")
	})
	e.sel.Observe(func(selection.Selection) { e.bump("selection") })
	e.alerts.Observe(func([]model.EmergencyAlert) { e.bump("alerts") })
	return e
}

// Start performs the initial load, connects and joins the workspace scope,
// subscribes the push handlers and starts polling. Channel failures are
// logged and leave the engine polling-only. Start runs at most once; if
// Close runs meanwhile, the remaining steps are skipped and ErrClosed is
// returned.
func (e *Engine) Start(ctx context.Context) error {
	e.life.Lock()
	if e.closed.Load() {
		e.life.Unlock()
		return ErrClosed
	}
	if e.started {
		e.life.Unlock()
		return nil
	}
	e.started = true
	ctx, cancel := context.WithCancel(ctx)
	e.startCancel = cancel
	e.life.Unlock()
	defer close(e.startDone)
	defer cancel()

	js, err := poller.LoadInitial(ctx, e.poll.Source, e.opts.InitialLoadTimeout)
	if e.closed.Load() {
		return ErrClosed
	}
	if err != nil {
		log.Printf("tracking: %v; starting with no journeys", err)
	}
	e.rec.ApplySnapshot(js)

	e.unsubs = append(e.unsubs,
		e.listener.OnPositionUpdate(func(u model.PositionUpdate) { e.rec.ApplyPatch(u) }),
		e.listener.OnEmergencyAlert(func(a model.EmergencyAlert) { e.alerts.Push(a) }),
	)
	if e.conn != nil {
		_ = e.connectAndJoin(ctx)
	} else {
		log.Printf("tracking: no push channel, polling only")
	}
	if e.closed.Load() {
		return ErrClosed
	}
	e.poll.Start()
	return nil
}

func (e *Engine) connectAndJoin(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.conn.Connect(ctx); err != nil {
		return err
	}
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.conn.JoinScope(ctx, e.opts.WorkspaceID); err != nil {
		log.Printf("tracking: join workspace %s failed, polling only: %v", e.opts.WorkspaceID, err)
		return err
	}
	return nil
}

// Reconnect re-establishes the push channel and rejoins the workspace.
// It is a no-op while already connected.
func (e *Engine) Reconnect(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.conn == nil {
		return ErrNoChannel
	}
	if e.conn.IsConnected() {
		for _, s := range e.conn.Scopes() {
			if s == e.opts.WorkspaceID {
				return nil
			}
		}
		return e.conn.JoinScope(ctx, e.opts.WorkspaceID)
	}
	return e.connectAndJoin(ctx)
}

// Close stops polling, unsubscribes the push handlers, leaves the
// workspace scope and disconnects, each exactly once. A Start still in
// progress is cancelled and waited for first, so whatever it managed to
// set up is torn down here.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.life.Lock()
		e.closed.Store(true)
		started, cancel := e.started, e.startCancel
		e.life.Unlock()
		if cancel != nil {
			cancel()
		}
		if started {
			<-e.startDone
		}

		e.poll.Stop()
		for _, unsub := range e.unsubs {
			unsub()
		}
		if e.conn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := e.conn.LeaveScope(ctx, e.opts.WorkspaceID); err != nil && !errors.Is(err, channel.ErrNotConnected) {
				log.Printf("tracking: leave workspace %s: %v", e.opts.WorkspaceID, err)
			}
			cancel()
			e.conn.Disconnect()
		}
		e.alerts.Close()
		e.broker.Close()
	})
}

func (e *Engine) Connected() bool {
	return e.conn != nil && e.conn.IsConnected()
}

func (e *Engine) Connectivity() channel.State {
	if e.conn == nil {
		return channel.Disconnected
	}
	return e.conn.State()
}

// Select focuses a journey.
func (e *Engine) Select(id string) error {
	return e.sel.Select(id)
}

func (e *Engine) ClearSelection() {
	e.sel.Clear()
}

// SetFilter replaces the filter criteria used by View.
func (e *Engine) SetFilter(c model.FilterCriteria) error {
	if c.Status == "" {
		c.Status = model.FilterAll
	}
	if _, err := model.ParseStatusFilter(string(c.Status)); err != nil {
		return err
	}
	e.mu.Lock()
	changed := e.filter != c
	e.filter = c
	e.mu.Unlock()
	if changed {
		e.bump("filter")
	}
	return nil
}

func (e *Engine) Filter() model.FilterCriteria {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filter
}

func (e *Engine) MarkAlertsRead() {
	if e.alerts.Unread() == 0 {
		return
	}
	e.alerts.MarkRead()
	e.bump("alerts")
}

func (e *Engine) ClearAlerts() {
	e.alerts.Clear()
}

// Journey returns the published instance for id.
func (e *Engine) Journey(id string) (model.TrackedJourney, bool) {
	return e.rec.Lookup(id)
}

// Subscribe returns a feed of view updates and a cancel func.
func (e *Engine) Subscribe() (<-chan Update, func()) {
	return e.broker.Subscribe()
}

func (e *Engine) setVehicles(vs []model.ActiveVehicle) {
	e.mu.Lock()
	// A fetch that began while connected may land after the drop.
	if !e.Connected() {
		e.mu.Unlock()
		return
	}
	if model.VehiclesEqual(e.vehicles, vs) {
		e.mu.Unlock()
		return
	}
	e.vehicles = vs
	e.mu.Unlock()
	e.bump("vehicles")
}

// dropVehicles forgets the active-vehicles snapshot once the channel is
// gone; it is only refreshed while connected.
func (e *Engine) dropVehicles() {
	e.mu.Lock()
	if len(e.vehicles) == 0 {
		e.mu.Unlock()
		return
	}
	e.vehicles = nil
	e.mu.Unlock()
	e.bump("vehicles")
}

func (e *Engine) bump(kind string) {
	e.mu.Lock()
	e.version++
	v := e.version
	e.mu.Unlock()
	e.broker.Publish(Update{Kind: kind, Version: v})
}

// View is an immutable snapshot of everything the display layer reads.
type View struct {
	Version         uint64                 `json:"version"`
	JourneysVersion uint64                 `json:"journeysVersion"`
	Journeys        []model.TrackedJourney `json:"journeys"`
	Filtered        []model.TrackedJourney `json:"filtered"`
	Filter          model.FilterCriteria   `json:"filter"`
	Selection       selection.Selection    `json:"selection"`
	Alerts          []model.EmergencyAlert `json:"alerts"`
	Unread          int                    `json:"unread"`
	Connected       bool                   `json:"connected"`
	Connectivity    string                 `json:"connectivity"`
	Stats           stats.Summary          `json:"stats"`
	Vehicles        []model.ActiveVehicle  `json:"vehicles"`
	GeneratedAt     time.Time              `json:"generatedAt"`
}

// View assembles the current read model. Journeys, Alerts and Vehicles are
// shared with the engine and must not be modified.
func (e *Engine) View() View {
	e.mu.Lock()
	version, filter, vehicles := e.version, e.filter, e.vehicles
	e.mu.Unlock()

	now := e.now()
	journeys, jv := e.rec.Journeys()
	filtered := stats.Filter(journeys, filter, now)
	state := e.Connectivity()
	return View{
		Version:         version,
		JourneysVersion: jv,
		Journeys:        nonNil(journeys),
		Filtered:        nonNil(filtered),
		Filter:          filter,
		Selection:       e.sel.Selected(),
		Alerts:          nonNil(e.alerts.Alerts()),
		Unread:          e.alerts.Unread(),
		Connected:       state == channel.Connected,
		Connectivity:    state.String(),
		Stats:           stats.Summarize(filtered, now),
		Vehicles:        nonNil(vehicles),
		GeneratedAt:     now.UTC(),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
