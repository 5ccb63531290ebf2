package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/homepro-escrow/internal/logger"
	"github.com/ignatzorin/homepro-escrow/internal/notify"
)

type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn { return &fakeConn{closed: make(chan struct{})} }

func (c *fakeConn) SetReadLimit(int64) {}
func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	if kind != websocket.TextMessage {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func TestHub_PublishReachesRecipientsOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(logger.Discard())
	go hub.Run(ctx)

	client, stranger := uuid.New(), uuid.New()
	clientConn, strangerConn := newFakeConn(), newFakeConn()
	go NewClient(clientConn, hub, client).Run(ctx)
	go NewClient(strangerConn, hub, stranger).Run(ctx)

	require.Eventually(t, func() bool {
		return hub.Online(client) == 1 && hub.Online(stranger) == 1
	}, time.Second, 5*time.Millisecond)

	escrowID := uuid.New()
	err := hub.Publish(ctx, notify.Event{
		Type:       notify.EventMilestoneHeld,
		EscrowID:   escrowID,
		Recipients: []uuid.UUID{client, client},
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(clientConn.messages()) == 1 }, time.Second, 5*time.Millisecond)

	var msg struct {
		Type string       `json:"type"`
		Data notify.Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(clientConn.messages()[0], &msg))
	assert.Equal(t, notify.EventMilestoneHeld, msg.Type)
	assert.Equal(t, escrowID, msg.Data.EscrowID)
	assert.Empty(t, strangerConn.messages())
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(logger.Discard())
	go hub.Run(ctx)

	userID := uuid.New()
	conn := newFakeConn()
	go NewClient(conn, hub, userID).Run(ctx)
	require.Eventually(t, func() bool { return hub.Online(userID) == 1 }, time.Second, 5*time.Millisecond)

	_ = conn.Close()
	assert.Eventually(t, func() bool { return hub.Online(userID) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_PublishAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(logger.Discard())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	err := hub.Publish(context.Background(), notify.Event{Type: notify.EventMilestoneHeld, Recipients: []uuid.UUID{uuid.New()}})
	assert.NoError(t, err)
}
