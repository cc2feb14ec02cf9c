package ws

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gigwork/settlement-backend/internal/goroutine"
)

// Hub управляет всеми WebSocket подключениями участников.
type Hub struct {
	mu         sync.RWMutex
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
}

type message struct {
	userID  uuid.UUID
	payload []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 32),
	}
}

// Run запускает главный цикл хаба.
func (h *Hub) Run() {
	for {
		select {
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
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastToUser отправляет событие во все подключения пользователя.
// Поле "type" содержит имя события, "data" — полезную нагрузку.
func (h *Hub) BroadcastToUser(userID uuid.UUID, event string, data any) error {
	raw, err := json.Marshal(map[string]any{
		"type": event,
		"data": data,
	})
	if err != nil {
		return fmt.Errorf("ws: не удалось сериализовать сообщение: %w", err)
	}
	h.broadcast <- message{userID: userID, payload: raw}
	return nil
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
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.userID)
		}
	}
}

func (h *Hub) send(userID uuid.UUID, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
			// переполненный клиент отключается, хаб не ждёт медленных читателей
			c := client
			goroutine.SafeGo(func() { c.Close() })
		}
	}
}
