// Package ws доставляет события escrow участникам по WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/goroutine"
	"github.com/ignatzorin/homepro-escrow/internal/notify"
)

// Hub управляет всеми WebSocket клиентами.
type Hub struct {
	mu         sync.RWMutex
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	done       chan struct{}
	rh         *goroutine.RecoveryHandler
	log        logrus.FieldLogger
}

var _ notify.Sink = (*Hub)(nil)

type message struct {
	userID  uuid.UUID
	payload []byte
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 32),
		done:       make(chan struct{}),
		rh:         goroutine.NewRecoveryHandler(log),
		log:        log,
	}
}

// Run: главный цикл хаба; завершается с отменой ctx.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.send(msg.userID, msg.payload)
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish рассылает событие всем получателям, у кого открыт сокет.
func (h *Hub) Publish(ctx context.Context, evt notify.Event) error {
	// Контракт WebSocket API: в "type" имя события, в "data" полезная нагрузка.
	raw, err := json.Marshal(map[string]any{
		"type": evt.Type,
		"data": evt,
	})
	if err != nil {
		return fmt.Errorf("ws: не удалось сериализовать сообщение: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(evt.Recipients))
	for _, userID := range evt.Recipients {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		select {
		case h.broadcast <- message{userID: userID, payload: raw}:
		case <-h.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Online: число открытых соединений пользователя.
func (h *Hub) Online(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]struct{})
	}
	h.clients[client.userID][client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.userID]; ok {
		if _, present := clients[client]; present {
			delete(clients, client)
			close(client.send)
		}
		if len(clients) == 0 {
			delete(h.clients, client.userID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, clients := range h.clients {
		for client := range clients {
			close(client.send)
		}
		delete(h.clients, userID)
	}
}

func (h *Hub) send(userID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
			// Медленный клиент: закрываем вне цикла хаба.
			h.log.WithField("user_id", userID).Warn("WebSocket клиент не успевает читать, соединение закрыто")
			c := client
			h.rh.SafeGo(c.Close)
		}
	}
}
