package bus

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/kazerdira/nighthost/internal/models"
)

// InboundSink receives every participant envelope read off a connection. The
// game layer points this at the room registry.
type InboundSink func(roomCode, uid string, env models.Envelope)

// outbound is one delivery order processed by the hub loop. A nil target uid
// means broadcast; toHost routes to the room's host connection.
type outbound struct {
	roomCode string
	toUID    string
	toHost   bool
	data     []byte
}

// Hub fans envelopes out to websocket clients. All registration and delivery
// funnels through one goroutine, so per-recipient ordering follows send
// order.
type Hub struct {
	rooms   map[string]map[*Client]bool
	byUID   map[string]map[string]*Client
	hostUID map[string]string

	register   chan *Client
	unregister chan *Client
	send       chan outbound
	closeRoom  chan string

	sink   InboundSink
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		byUID:      make(map[string]map[string]*Client),
		hostUID:    make(map[string]string),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		send:       make(chan outbound, 1024),
		closeRoom:  make(chan string, 16),
		logger:     logger,
	}
}

// SetSink installs the inbound handler. Must be called before Run.
func (h *Hub) SetSink(sink InboundSink) {
	h.sink = sink
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.send:
			h.deliver(msg)
		case roomCode := <-h.closeRoom:
			h.dropRoom(roomCode)
		}
	}
}

// ============================================================================
// BUS INTERFACE
// ============================================================================

func (h *Hub) BroadcastToRoom(roomCode string, env models.Envelope) {
	h.enqueue(outbound{roomCode: roomCode, data: h.encode(env)})
}

func (h *Hub) SendToUser(roomCode, uid string, env models.Envelope) {
	h.enqueue(outbound{roomCode: roomCode, toUID: uid, data: h.encode(env)})
}

func (h *Hub) SendToHost(roomCode string, env models.Envelope) {
	h.enqueue(outbound{roomCode: roomCode, toHost: true, data: h.encode(env)})
}

// CloseRoom disconnects every client in a room and forgets it.
func (h *Hub) CloseRoom(roomCode string) {
	select {
	case h.closeRoom <- roomCode:
	default:
		h.logger.Warn("close-room queue full", zap.String("room_code", roomCode))
	}
}

func (h *Hub) enqueue(msg outbound) {
	if msg.data == nil {
		return
	}
	select {
	case h.send <- msg:
	default:
		h.logger.Warn("hub send queue full, dropping message",
			zap.String("room_code", msg.roomCode))
	}
}

func (h *Hub) encode(env models.Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to encode envelope",
			zap.String("type", string(env.Type)), zap.Error(err))
		return nil
	}
	return data
}

// ============================================================================
// LOOP INTERNALS
// ============================================================================

func (h *Hub) addClient(client *Client) {
	clients, ok := h.rooms[client.roomCode]
	if !ok {
		clients = make(map[*Client]bool)
		h.rooms[client.roomCode] = clients
		h.byUID[client.roomCode] = make(map[string]*Client)
	}
	// One connection per uid per room: a reconnect supersedes the old one.
	if prev, exists := h.byUID[client.roomCode][client.uid]; exists && prev != client {
		h.removeClient(prev)
		clients = h.rooms[client.roomCode]
		if clients == nil {
			clients = make(map[*Client]bool)
			h.rooms[client.roomCode] = clients
			h.byUID[client.roomCode] = make(map[string]*Client)
		}
	}
	clients[client] = true
	h.byUID[client.roomCode][client.uid] = client
	if client.isHost {
		h.hostUID[client.roomCode] = client.uid
	}
	h.logger.Debug("client registered",
		zap.String("room_code", client.roomCode),
		zap.String("uid", client.uid),
		zap.Bool("is_host", client.isHost))
}

func (h *Hub) removeClient(client *Client) {
	clients, ok := h.rooms[client.roomCode]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	if h.byUID[client.roomCode][client.uid] == client {
		delete(h.byUID[client.roomCode], client.uid)
	}
	close(client.sendCh)
	if len(clients) == 0 {
		delete(h.rooms, client.roomCode)
		delete(h.byUID, client.roomCode)
		delete(h.hostUID, client.roomCode)
	}
	h.logger.Debug("client unregistered",
		zap.String("room_code", client.roomCode),
		zap.String("uid", client.uid))
}

func (h *Hub) deliver(msg outbound) {
	clients, ok := h.rooms[msg.roomCode]
	if !ok {
		return
	}
	switch {
	case msg.toHost:
		if uid, ok := h.hostUID[msg.roomCode]; ok {
			if client, ok := h.byUID[msg.roomCode][uid]; ok {
				h.push(client, msg.data)
			}
		}
	case msg.toUID != "":
		if client, ok := h.byUID[msg.roomCode][msg.toUID]; ok {
			h.push(client, msg.data)
		}
	default:
		for client := range clients {
			h.push(client, msg.data)
		}
	}
}

// push hands bytes to a client's writer. A client that cannot keep up is
// dropped rather than allowed to stall the hub.
func (h *Hub) push(client *Client, data []byte) {
	select {
	case client.sendCh <- data:
	default:
		h.logger.Warn("client send buffer full, dropping connection",
			zap.String("room_code", client.roomCode),
			zap.String("uid", client.uid))
		h.removeClient(client)
	}
}

func (h *Hub) dropRoom(roomCode string) {
	clients, ok := h.rooms[roomCode]
	if !ok {
		return
	}
	for client := range clients {
		close(client.sendCh)
	}
	delete(h.rooms, roomCode)
	delete(h.byUID, roomCode)
	delete(h.hostUID, roomCode)
	h.logger.Info("room connections closed", zap.String("room_code", roomCode))
}

func (h *Hub) closeAll() {
	for roomCode := range h.rooms {
		h.dropRoom(roomCode)
	}
}
