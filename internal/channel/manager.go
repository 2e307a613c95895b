// Package channel owns the push channel lifecycle: connect, workspace scope
// membership, disconnect and the connectivity signal.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"fleettrack/internal/metrics"
)

var (
	ErrNotConnected = errors.New("channel not connected")
	ErrClosed       = errors.New("channel closed")
)

// Event kinds delivered over the channel.
const (
	EventVehicleUpdate  = "vehicleUpdate"
	EventEmergencyAlert = "emergencyAlert"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Envelope is one inbound channel frame.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Transport opens sessions on a concrete push channel.
type Transport interface {
	Dial(ctx context.Context) (Session, error)
}

// Session is one established channel. Events is closed when the session
// ends, after which Err reports why (nil on a local Close).
type Session interface {
	Join(ctx context.Context, scope string) error
	Leave(ctx context.Context, scope string) error
	Events() <-chan Envelope
	Err() error
	Close() error
}

// Manager is an explicitly owned channel connection. Reconnection is
// caller-driven: after a failure or disconnect call Connect again.
type Manager struct {
	mu        sync.Mutex
	transport Transport
	handler   func(Envelope)
	state     State
	session   Session
	gen       uint64
	scopes    map[string]struct{}
	nextObs   int
	obs       map[int]func(State)
}

// NewManager creates a disconnected Manager. handler receives every inbound
// frame in delivery order on a single goroutine per session.
func NewManager(t Transport, handler func(Envelope)) *Manager {
	return &Manager{
		transport: t,
		handler:   handler,
		scopes:    map[string]struct{}{},
		obs:       map[int]func(State){},
	}
}

// Connect establishes the channel. It is a no-op while connecting or
// connected. If Disconnect runs while the dial is in flight, the new session
// is closed and ErrClosed returned.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	m.setStateLocked(Connecting)

	sess, err := m.transport.Dial(ctx)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		return ErrClosed
	}
	if err != nil {
		m.setStateLocked(Disconnected)
		log.Printf("channel: connect failed, continuing with polling only: %v", err)
		return fmt.Errorf("connect: %w", err)
	}
	m.session = sess
	m.setStateLocked(Connected)
	log.Printf("channel: connected")
	go m.pump(gen, sess)
	return nil
}

// JoinScope registers interest in a workspace's event stream.
func (m *Manager) JoinScope(ctx context.Context, workspaceID string) error {
	m.mu.Lock()
	if m.state != Connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	sess, gen := m.session, m.gen
	m.mu.Unlock()

	if err := sess.Join(ctx, workspaceID); err != nil {
		return fmt.Errorf("join %s: %w", workspaceID, err)
	}
	m.mu.Lock()
	if gen == m.gen {
		m.scopes[workspaceID] = struct{}{}
	}
	m.mu.Unlock()
	log.Printf("channel: joined workspace %s", workspaceID)
	return nil
}

// LeaveScope deregisters a workspace. The scope is forgotten locally even
// when the channel is already gone.
func (m *Manager) LeaveScope(ctx context.Context, workspaceID string) error {
	m.mu.Lock()
	_, joined := m.scopes[workspaceID]
	delete(m.scopes, workspaceID)
	if m.state != Connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	sess := m.session
	m.mu.Unlock()
	if !joined {
		return nil
	}
	if err := sess.Leave(ctx, workspaceID); err != nil {
		return fmt.Errorf("leave %s: %w", workspaceID, err)
	}
	log.Printf("channel: left workspace %s", workspaceID)
	return nil
}

// Disconnect tears the channel down. Safe to call any number of times and
// while a Connect is in flight.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	sess := m.session
	m.session = nil
	m.scopes = map[string]struct{}{}
	if m.state == Disconnected {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(Disconnected)
	if sess != nil {
		_ = sess.Close()
		log.Printf("channel: disconnected")
	}
}

func (m *Manager) IsConnected() bool { return m.State() == Connected }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Scopes lists the joined workspaces.
func (m *Manager) Scopes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.scopes))
	for s := range m.scopes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// OnStateChange registers fn for every connectivity transition.
func (m *Manager) OnStateChange(fn func(State)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextObs++
	id := m.nextObs
	m.obs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.obs, id)
		m.mu.Unlock()
	}
}

// setStateLocked must be called with mu held; it releases mu before
// notifying observers.
func (m *Manager) setStateLocked(s State) {
	changed := m.state != s
	m.state = s
	fns := make([]func(State), 0, len(m.obs))
	if changed {
		for _, fn := range m.obs {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()
	if !changed {
		return
	}
	metrics.Connectivity.Set(float64(s))
	for _, fn := range fns {
		fn(s)
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// pump forwards frames of one session to the handler until the session
// ends or is superseded.
func (m *Manager) pump(gen uint64, sess Session) {
	for env := range sess.Events() {
		if !m.current(gen) {
			return
		}
		if m.handler != nil {
			m.handler(env)
		}
	}
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.session = nil
	m.scopes = map[string]struct{}{}
	m.setStateLocked(Disconnected)
	log.Printf("channel: connection lost: %v", sess.Err())
}
