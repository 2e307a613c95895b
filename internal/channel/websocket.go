package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size
	maxMessageSize = 1 << 20
)

// TokenSource supplies the bearer token presented when dialing.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// WebsocketTransport speaks a small graphql-transport-ws style protocol:
// connection_init/connection_ack, join/leave with a workspaceId payload,
// ping/pong keepalive, and event frames typed vehicleUpdate or
// emergencyAlert.
type WebsocketTransport struct {
	URL    string
	Header http.Header
	Token  TokenSource
	Dialer *websocket.Dialer
	// AckTimeout bounds the wait for connection_ack.
	AckTimeout time.Duration
}

func NewWebsocketTransport(url string, token TokenSource) *WebsocketTransport {
	return &WebsocketTransport{URL: url, Token: token, Dialer: websocket.DefaultDialer, AckTimeout: 10 * time.Second}
}

type scopePayload struct {
	WorkspaceID string `json:"workspaceId"`
}

func (t *WebsocketTransport) Dial(ctx context.Context) (Session, error) {
	hdr := http.Header{}
	for k, v := range t.Header {
		hdr[k] = append([]string(nil), v...)
	}
	if t.Token != nil {
		tok, err := t.Token.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("channel token: %w", err)
		}
		if tok != "" {
			hdr.Set("Authorization", "Bearer "+tok)
		}
	}
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, t.URL, hdr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	s := &wsSession{
		conn:   conn,
		events: make(chan Envelope, 64),
		closed: make(chan struct{}),
	}
	if err := s.handshake(ctx, t.AckTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go s.readPump()
	go s.pingLoop()
	return s, nil
}

type wsSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	events    chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func (s *wsSession) handshake(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.write(Envelope{Type: "connection_init"}); err != nil {
		return fmt.Errorf("connection_init: %w", err)
	}
	_ = s.conn.SetReadDeadline(deadline)
	for {
		var msg Envelope
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("waiting for connection_ack: %w", err)
		}
		switch msg.Type {
		case "connection_ack":
			return nil
		case "ping":
			_ = s.write(Envelope{Type: "pong"})
		case "error", "connection_error":
			return fmt.Errorf("channel refused connection: %s", string(msg.Payload))
		}
	}
}

func (s *wsSession) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *wsSession) scopeMessage(typ, scope string) (Envelope, error) {
	pl, err := json.Marshal(scopePayload{WorkspaceID: scope})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, ID: scope, Payload: pl}, nil
}

func (s *wsSession) Join(ctx context.Context, scope string) error {
	return s.sendScope(ctx, "join", scope)
}

func (s *wsSession) Leave(ctx context.Context, scope string) error {
	return s.sendScope(ctx, "leave", scope)
}

func (s *wsSession) sendScope(ctx context.Context, typ, scope string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	msg, err := s.scopeMessage(typ, scope)
	if err != nil {
		return err
	}
	return s.write(msg)
}

func (s *wsSession) Events() <-chan Envelope { return s.events }

func (s *wsSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}

func (s *wsSession) readPump() {
	defer close(s.events)
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("channel: websocket error: %v", err)
				}
				s.errMu.Lock()
				s.err = err
				s.errMu.Unlock()
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg Envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("channel: dropping unparseable frame: %v", err)
			continue
		}
		switch msg.Type {
		case "ping":
			_ = s.write(Envelope{Type: "pong"})
			continue
		case "pong", "connection_ack", "complete":
			continue
		case "error":
			log.Printf("channel: server error for %q: %s", msg.ID, string(msg.Payload))
			continue
		}
		select {
		case s.events <- msg:
		case <-s.closed:
			return
		}
	}
}

func (s *wsSession) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Printf("channel: ping failed: %v", err)
				}
				return
			}
		}
	}
}
