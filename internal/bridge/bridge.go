package bridge

import (
	"context"
	"fmt"
)

// Handler receives the raw JSON payload published to a topic.
type Handler func(topic string, payload []byte)

// Bridge is the cross-process publish/subscribe fabric. A transfer
// approval issued on one server process reaches the process that holds
// the attempt's sockets through it. Subscribe returns an unsubscribe
// function scoped to that handler, so several connections on one
// process can share a topic.
type Bridge interface {
	Publish(ctx context.Context, topic string, msg interface{}) error
	Subscribe(ctx context.Context, topic string, h Handler) (unsubscribe func(), err error)
	Close() error
}

// AttemptTopic derives the topic for an attempt deterministically.
func AttemptTopic(attemptID uint) string {
	return fmt.Sprintf("exam:attempt:%d", attemptID)
}
