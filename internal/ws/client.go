package ws

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gigwork/settlement-backend/internal/goroutine"
	"github.com/gigwork/settlement-backend/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client представляет одно подключение WebSocket.
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	userID uuid.UUID
	send   chan []byte
}

func NewClient(conn *websocket.Conn, hub *Hub, userID uuid.UUID) *Client {
	return &Client{
		conn:   conn,
		hub:    hub,
		userID: userID,
		send:   make(chan []byte, 16),
	}
}

// Run запускает обработку входящих и исходящих сообщений.
func (c *Client) Run(ctx context.Context) {
	goroutine.SafeGo(c.writePump)
	c.readPump(ctx)
}

// Close закрывает соединение и убирает клиента из хаба.
func (c *Client) Close() {
	c.hub.Unregister(c)
	c.conn.Close()
}

// readPump только поддерживает соединение: клиент ничего не присылает,
// сервер лишь рассылает уведомления.
func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if _, _, err := c.conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Log.WithError(err).Debug("WebSocket закрыт с ошибкой")
				}
				return
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
