package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// Transport abstracts the underlying socket so the manager can be
// exercised without a live websocket. *websocket.Conn satisfies it.
type Transport interface {
	WriteJSON(v interface{}) error
	Close() error
}

// sendQueueSize bounds the per-connection outbound buffer; a peer slow
// enough to fill it is treated as dead.
const sendQueueSize = 32

// Connection is ephemeral, process-local session state. It is owned
// exclusively by the Manager and never persisted.
type Connection struct {
	ID          string
	AttemptID   uint
	UserID      uint
	ConnectedAt time.Time

	transport Transport
	send      chan interface{}
	done      chan struct{}

	lastActivity atomic.Int64 // unix nanos
	messageCount atomic.Int64

	closeOnce sync.Once
}

func newConnection(id string, attemptID, userID uint, transport Transport) *Connection {
	c := &Connection{
		ID:          id,
		AttemptID:   attemptID,
		UserID:      userID,
		ConnectedAt: time.Now(),
		transport:   transport,
		send:        make(chan interface{}, sendQueueSize),
		done:        make(chan struct{}),
	}
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

// Touch records inbound activity; any frame from the client counts.
func (c *Connection) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
	c.messageCount.Add(1)
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) MessageCount() int64 {
	return c.messageCount.Load()
}

// enqueue hands a message to the writer goroutine without blocking.
// A full queue means the peer cannot keep up; report failure so the
// manager evicts it.
func (c *Connection) enqueue(msg interface{}) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.transport.Close()
	})
}

// writePump serializes all writes to the transport. onError is invoked
// at most once, off the hot path, when a write fails.
func (c *Connection) writePump(onError func(connID string)) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.transport.WriteJSON(msg); err != nil {
				go onError(c.ID)
				return
			}
		}
	}
}
