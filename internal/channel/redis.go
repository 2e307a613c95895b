package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTransport delivers channel frames over Redis Pub/Sub. Each workspace
// scope is one Redis channel; frames are JSON Envelopes.
type RedisTransport struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisTransport(url string) (*RedisTransport, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisTransport{rdb: redis.NewClient(opt), prefix: "tracking:"}, nil
}

func (t *RedisTransport) chanName(scope string) string { return t.prefix + scope }

func (t *RedisTransport) Dial(ctx context.Context) (Session, error) {
	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s := &redisSession{
		t:      t,
		ps:     t.rdb.Subscribe(context.Background()),
		events: make(chan Envelope, 64),
		closed: make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

// Publish sends env to every session joined to scope.
func (t *RedisTransport) Publish(ctx context.Context, scope string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return t.rdb.Publish(ctx, t.chanName(scope), data).Err()
}

func (t *RedisTransport) Close() error { return t.rdb.Close() }

type redisSession struct {
	t         *RedisTransport
	ps        *redis.PubSub
	events    chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *redisSession) Join(ctx context.Context, scope string) error {
	return s.ps.Subscribe(ctx, s.t.chanName(scope))
}

func (s *redisSession) Leave(ctx context.Context, scope string) error {
	return s.ps.Unsubscribe(ctx, s.t.chanName(scope))
}

func (s *redisSession) Events() <-chan Envelope { return s.events }

// Err is always nil; go-redis reconnects the subscription on its own.
func (s *redisSession) Err() error { return nil }

func (s *redisSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.ps.Close()
	})
	return err
}

func (s *redisSession) pump() {
	defer close(s.events)
	for msg := range s.ps.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("channel: dropping unparseable redis frame on %s: %v", msg.Channel, err)
			continue
		}
		select {
		case s.events <- env:
		case <-s.closed:
			return
		}
	}
}
