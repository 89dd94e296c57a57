package ws

import (
	"sync"
	"time"

	"github.com/examly/hallpass/config"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrConnectionLimit is returned by Connect when the user already holds
// the configured number of live connections across all their attempts.
var ErrConnectionLimit = errors.New("connection limit exceeded")

const shardCount = 16

// attemptShard buckets the attempt registry so unrelated attempts never
// contend on one lock.
type attemptShard struct {
	mu    sync.RWMutex
	conns map[uint]map[string]*Connection // attemptID -> connectionID -> conn
}

// Manager owns every live session connection in this process: it
// registers, evicts, and messages them. All registry mutation happens
// through its methods.
type Manager struct {
	cfg config.Session

	shards [shardCount]*attemptShard

	idxMu        sync.RWMutex
	byID         map[string]*Connection
	userAttempts map[uint]map[uint]int // userID -> attemptID -> live connection count
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		cfg:          cfg.Session,
		byID:         make(map[string]*Connection),
		userAttempts: make(map[uint]map[uint]int),
	}
	for i := range m.shards {
		m.shards[i] = &attemptShard{conns: make(map[uint]map[string]*Connection)}
	}
	return m
}

func (m *Manager) shardFor(attemptID uint) *attemptShard {
	return m.shards[attemptID%shardCount]
}

// Connect registers a new connection and starts its writer and heartbeat
// monitor. Rejects with ErrConnectionLimit when the per-user cap is hit.
func (m *Manager) Connect(transport Transport, attemptID, userID uint) (*Connection, error) {
	conn := newConnection(uuid.New().String(), attemptID, userID, transport)

	m.idxMu.Lock()
	total := 0
	for _, n := range m.userAttempts[userID] {
		total += n
	}
	if total >= m.cfg.MaxConnectionsPerUser {
		m.idxMu.Unlock()
		log.Warn().
			Uint("user_id", userID).
			Int("connections", total).
			Int("limit", m.cfg.MaxConnectionsPerUser).
			Msg("Connection rejected: per-user limit reached")
		return nil, ErrConnectionLimit
	}
	m.byID[conn.ID] = conn
	if m.userAttempts[userID] == nil {
		m.userAttempts[userID] = make(map[uint]int)
	}
	m.userAttempts[userID][attemptID]++
	m.idxMu.Unlock()

	shard := m.shardFor(attemptID)
	shard.mu.Lock()
	if shard.conns[attemptID] == nil {
		shard.conns[attemptID] = make(map[string]*Connection)
	}
	shard.conns[attemptID][conn.ID] = conn
	shard.mu.Unlock()

	go conn.writePump(m.Disconnect)
	go m.heartbeatMonitor(conn)

	log.Info().
		Str("connection_id", conn.ID).
		Uint("attempt_id", attemptID).
		Uint("user_id", userID).
		Msg("WebSocket connected")

	return conn, nil
}

// Disconnect removes a connection from every index and closes it.
// Safe to call multiple times and from any goroutine.
func (m *Manager) Disconnect(connectionID string) {
	m.idxMu.Lock()
	conn, ok := m.byID[connectionID]
	if !ok {
		m.idxMu.Unlock()
		return
	}
	delete(m.byID, connectionID)
	if perAttempt, ok := m.userAttempts[conn.UserID]; ok {
		perAttempt[conn.AttemptID]--
		if perAttempt[conn.AttemptID] <= 0 {
			delete(perAttempt, conn.AttemptID)
		}
		if len(perAttempt) == 0 {
			delete(m.userAttempts, conn.UserID)
		}
	}
	m.idxMu.Unlock()

	shard := m.shardFor(conn.AttemptID)
	shard.mu.Lock()
	if conns, ok := shard.conns[conn.AttemptID]; ok {
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(shard.conns, conn.AttemptID)
		}
	}
	shard.mu.Unlock()

	conn.close()

	log.Info().
		Str("connection_id", connectionID).
		Uint("attempt_id", conn.AttemptID).
		Msg("WebSocket disconnected")
}

// SendToOne delivers a message to a single connection, best-effort.
// A transport failure or full queue evicts the connection.
func (m *Manager) SendToOne(connectionID string, msg interface{}) bool {
	m.idxMu.RLock()
	conn, ok := m.byID[connectionID]
	m.idxMu.RUnlock()
	if !ok {
		return false
	}
	if !conn.enqueue(msg) {
		log.Warn().Str("connection_id", connectionID).Msg("Send queue full, evicting connection")
		m.Disconnect(connectionID)
		return false
	}
	return true
}

// BroadcastToAttempt fans a message out to every live connection for an
// attempt, except excludeConnectionID when non-empty. Individual send
// failures evict only the failing connection.
func (m *Manager) BroadcastToAttempt(attemptID uint, msg interface{}, excludeConnectionID string) int {
	shard := m.shardFor(attemptID)
	shard.mu.RLock()
	targets := make([]*Connection, 0, len(shard.conns[attemptID]))
	for _, c := range shard.conns[attemptID] {
		if c.ID == excludeConnectionID {
			continue
		}
		targets = append(targets, c)
	}
	shard.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.enqueue(msg) {
			sent++
		} else {
			m.Disconnect(c.ID)
		}
	}
	return sent
}

// BroadcastToUser fans out across all of a user's attempts' connections.
func (m *Manager) BroadcastToUser(userID uint, msg interface{}) int {
	m.idxMu.RLock()
	attemptIDs := make([]uint, 0, len(m.userAttempts[userID]))
	for attemptID := range m.userAttempts[userID] {
		attemptIDs = append(attemptIDs, attemptID)
	}
	m.idxMu.RUnlock()

	sent := 0
	for _, attemptID := range attemptIDs {
		sent += m.BroadcastToAttempt(attemptID, msg, "")
	}
	return sent
}

// ConnectionsForAttempt returns the live connection ids for an attempt.
func (m *Manager) ConnectionsForAttempt(attemptID uint) []string {
	shard := m.shardFor(attemptID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	ids := make([]string, 0, len(shard.conns[attemptID]))
	for id := range shard.conns[attemptID] {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionCount reports a user's live connections across all attempts.
func (m *Manager) ConnectionCount(userID uint) int {
	m.idxMu.RLock()
	defer m.idxMu.RUnlock()
	total := 0
	for _, n := range m.userAttempts[userID] {
		total += n
	}
	return total
}

// heartbeatMonitor pings the connection every HeartbeatInterval and
// evicts it once it has been silent longer than HeartbeatTimeout. This
// bounds how long a crashed client can hold a connection slot.
func (m *Manager) heartbeatMonitor(conn *Connection) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			idle := time.Since(conn.LastActivity())
			if idle > m.cfg.HeartbeatTimeout {
				log.Warn().
					Str("connection_id", conn.ID).
					Dur("idle", idle).
					Msg("Connection timed out, evicting")
				m.Disconnect(conn.ID)
				return
			}
			if !conn.enqueue(NewPing()) {
				m.Disconnect(conn.ID)
				return
			}
		}
	}
}
