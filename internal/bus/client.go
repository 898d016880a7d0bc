package bus

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kazerdira/nighthost/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Client is one websocket connection bound to a uid inside a room.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	sendCh   chan []byte
	uid      string
	roomCode string
	isHost   bool
	logger   *zap.Logger
}

// Serve registers a freshly upgraded connection with the hub and starts its
// read and write pumps.
func (h *Hub) Serve(conn *websocket.Conn, roomCode, uid string, isHost bool) {
	client := &Client{
		hub:      h,
		conn:     conn,
		sendCh:   make(chan []byte, 256),
		uid:      uid,
		roomCode: roomCode,
		isHost:   isHost,
		logger: h.logger.With(
			zap.String("room_code", roomCode),
			zap.String("uid", uid)),
	}
	h.register <- client
	go client.writePump()
	go client.readPump()
}

// readPump reads envelopes off the socket and forwards them to the sink. It
// owns the connection's read side; exit unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("dropping malformed envelope", zap.Error(err))
			continue
		}
		if c.hub.sink != nil {
			c.hub.sink(c.roomCode, c.uid, env)
		}
	}
}

// writePump drains the client's send buffer onto the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
