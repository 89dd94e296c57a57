package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/examly/hallpass/config"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu         sync.Mutex
	wrote      []interface{}
	closed     bool
	failWrites bool
}

func (t *fakeTransport) WriteJSON(v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWrites {
		return errors.New("transport write failed")
	}
	t.wrote = append(t.wrote, v)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.wrote)
}

func testConfig() *config.Config {
	return &config.Config{Session: config.Session{
		HeartbeatInterval:     time.Hour, // keep heartbeats quiet unless a test wants them
		HeartbeatTimeout:      2 * time.Hour,
		MaxConnectionsPerUser: 3,
	}}
}

func TestConnectEnforcesPerUserLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Session.MaxConnectionsPerUser = 2
	m := NewManager(cfg)

	first, err := m.Connect(&fakeTransport{}, 1, 7)
	require.NoError(t, err)
	_, err = m.Connect(&fakeTransport{}, 1, 7)
	require.NoError(t, err)

	_, err = m.Connect(&fakeTransport{}, 2, 7)
	require.ErrorIs(t, err, ErrConnectionLimit)

	// Releasing a slot lets the user reconnect.
	m.Disconnect(first.ID)
	_, err = m.Connect(&fakeTransport{}, 2, 7)
	assert.NoError(t, err)
}

func TestLimitIsPerUserNotPerAttempt(t *testing.T) {
	m := NewManager(testConfig())

	_, err := m.Connect(&fakeTransport{}, 1, 7)
	require.NoError(t, err)
	_, err = m.Connect(&fakeTransport{}, 1, 8)
	require.NoError(t, err)

	assert.Equal(t, 1, m.ConnectionCount(7))
	assert.Equal(t, 1, m.ConnectionCount(8))
}

func TestDisconnectIsIdempotentAndCleansIndexes(t *testing.T) {
	m := NewManager(testConfig())
	transport := &fakeTransport{}

	conn, err := m.Connect(transport, 1, 7)
	require.NoError(t, err)
	require.Len(t, m.ConnectionsForAttempt(1), 1)

	m.Disconnect(conn.ID)
	m.Disconnect(conn.ID)
	m.Disconnect("no-such-connection")

	assert.Empty(t, m.ConnectionsForAttempt(1))
	assert.Equal(t, 0, m.ConnectionCount(7))
	assert.True(t, transport.isClosed())
}

func TestSendToOneDeliversThroughWritePump(t *testing.T) {
	m := NewManager(testConfig())
	transport := &fakeTransport{}

	conn, err := m.Connect(transport, 1, 7)
	require.NoError(t, err)

	require.True(t, m.SendToOne(conn.ID, NewNotification("t", "m", "info")))
	require.Eventually(t, func() bool { return transport.writeCount() == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, m.SendToOne("no-such-connection", NewPing()))
}

func TestWriteFailureEvictsConnection(t *testing.T) {
	m := NewManager(testConfig())
	transport := &fakeTransport{failWrites: true}

	conn, err := m.Connect(transport, 1, 7)
	require.NoError(t, err)

	m.SendToOne(conn.ID, NewPing())

	require.Eventually(t, func() bool { return m.ConnectionCount(7) == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, transport.isClosed())
}

func TestBroadcastToAttemptExcludesSender(t *testing.T) {
	m := NewManager(testConfig())
	sender := &fakeTransport{}
	sibling := &fakeTransport{}
	other := &fakeTransport{}

	senderConn, err := m.Connect(sender, 1, 7)
	require.NoError(t, err)
	_, err = m.Connect(sibling, 1, 8)
	require.NoError(t, err)
	_, err = m.Connect(other, 2, 9)
	require.NoError(t, err)

	sent := m.BroadcastToAttempt(1, NewNotification("t", "m", "info"), senderConn.ID)

	assert.Equal(t, 1, sent)
	require.Eventually(t, func() bool { return sibling.writeCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, sender.writeCount())
	assert.Equal(t, 0, other.writeCount())
}

func TestBroadcastToUserSpansAttempts(t *testing.T) {
	m := NewManager(testConfig())
	a := &fakeTransport{}
	b := &fakeTransport{}

	_, err := m.Connect(a, 1, 7)
	require.NoError(t, err)
	_, err = m.Connect(b, 2, 7)
	require.NoError(t, err)

	sent := m.BroadcastToUser(7, NewNotification("t", "m", "info"))

	assert.Equal(t, 2, sent)
}

func TestHeartbeatEvictsSilentConnection(t *testing.T) {
	cfg := testConfig()
	cfg.Session.HeartbeatInterval = 10 * time.Millisecond
	cfg.Session.HeartbeatTimeout = 30 * time.Millisecond
	m := NewManager(cfg)
	transport := &fakeTransport{}

	_, err := m.Connect(transport, 1, 7)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.ConnectionCount(7) == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, transport.isClosed())
}

func TestHeartbeatKeepsResponsiveConnectionAlive(t *testing.T) {
	cfg := testConfig()
	cfg.Session.HeartbeatInterval = 10 * time.Millisecond
	cfg.Session.HeartbeatTimeout = 60 * time.Millisecond
	m := NewManager(cfg)

	conn, err := m.Connect(&fakeTransport{}, 1, 7)
	require.NoError(t, err)

	// Simulate a client answering pings for a while.
	for i := 0; i < 10; i++ {
		conn.Touch()
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, 1, m.ConnectionCount(7))
}

func TestTouchUpdatesActivityAndCount(t *testing.T) {
	m := NewManager(testConfig())
	conn, err := m.Connect(&fakeTransport{}, 1, 7)
	require.NoError(t, err)

	before := conn.LastActivity()
	time.Sleep(2 * time.Millisecond)
	conn.Touch()

	assert.True(t, conn.LastActivity().After(before))
	assert.Equal(t, int64(1), conn.MessageCount())
}
