package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBridge implements Bridge on redis pub/sub. One redis subscription
// is held per topic; local handlers fan out from it.
type RedisBridge struct {
	client *redis.Client

	mu     sync.Mutex
	topics map[string]*redisTopic
	nextID uint64
	closed bool
}

type redisTopic struct {
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	handlers map[uint64]Handler
}

func NewRedisBridge(client *redis.Client) *RedisBridge {
	return &RedisBridge{
		client: client,
		topics: make(map[string]*redisTopic),
	}
}

func (b *RedisBridge) Publish(ctx context.Context, topic string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", topic)
	}
	return nil
}

func (b *RedisBridge) Subscribe(ctx context.Context, topic string, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("bridge is closed")
	}

	t, ok := b.topics[topic]
	if !ok {
		pubsub := b.client.Subscribe(context.Background(), topic)
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			return nil, errors.Wrapf(err, "failed to subscribe to %s", topic)
		}
		listenCtx, cancel := context.WithCancel(context.Background())
		t = &redisTopic{pubsub: pubsub, cancel: cancel, handlers: make(map[uint64]Handler)}
		b.topics[topic] = t
		go b.listen(listenCtx, topic, t)
	}

	b.nextID++
	id := b.nextID
	t.handlers[id] = h

	return func() { b.unsubscribe(topic, id) }, nil
}

func (b *RedisBridge) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(t.handlers, id)
	if len(t.handlers) == 0 {
		t.cancel()
		t.pubsub.Close()
		delete(b.topics, topic)
	}
}

func (b *RedisBridge) listen(ctx context.Context, topic string, t *redisTopic) {
	ch := t.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.mu.Lock()
			handlers := make([]Handler, 0, len(t.handlers))
			for _, h := range t.handlers {
				handlers = append(handlers, h)
			}
			b.mu.Unlock()
			for _, h := range handlers {
				h(topic, []byte(msg.Payload))
			}
		}
	}
}

func (b *RedisBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, t := range b.topics {
		t.cancel()
		if err := t.pubsub.Close(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Failed to close redis subscription")
		}
	}
	b.topics = make(map[string]*redisTopic)
	return nil
}
