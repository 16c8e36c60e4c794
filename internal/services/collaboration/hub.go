package collaboration

import (
	"log"
	"sync"
	"time"

	"collab-engine/internal/engine"

	"github.com/segmentio/ksuid"
)

/*
FAN-OUT HUB

One goroutine owns all room membership and processes register, unregister
and broadcast events from its channels. Rooms are keyed by session ID; a
room is the set of live connections that joined that session.

Broadcast is a fire-and-forget side effect of an engine call that already
returned: a stalled socket can only evict itself (its send buffer fills and
the connection is dropped), never stall the engine or the other recipients.

When a Redis relay is attached, every locally produced room frame is also
published to the session's channel and frames published by other nodes are
re-broadcast here. Without a relay the hub is purely in-process.
*/

// RoomMessage is one frame addressed to every connection in a session room.
type RoomMessage struct {
	SessionID string
	Frame     []byte
	Sender    *Client // skip this connection when broadcasting
	remote    bool    // arrived via relay: do not publish again
}

// Hub coordinates all WebSocket rooms and their fan-out.
type Hub struct {
	rooms      map[string]map[*Client]bool // sessionID -> connections
	register   chan *Client
	unregister chan *Client
	broadcast  chan *RoomMessage
	mu         sync.RWMutex

	engine *engine.Registry
	relay  *Relay // nil when no Redis is configured

	// nodeID marks frames produced by this process so the relay can drop
	// them when they come back around.
	nodeID string

	done chan struct{}
}

// NewHub creates a hub bound to the engine registry.
func NewHub(registry *engine.Registry) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *RoomMessage, 256),
		engine:     registry,
		nodeID:     ksuid.New().String(),
		done:       make(chan struct{}),
	}
}

// SetRelay attaches the optional cross-node relay.
func (h *Hub) SetRelay(relay *Relay) {
	h.relay = relay
}

// NodeID identifies this process in relayed frames.
func (h *Hub) NodeID() string {
	return h.nodeID
}

// Start begins the hub event loop.
func (h *Hub) Start() {
	log.Println("🔄 Starting collaboration hub...")

	go func() {
		for {
			select {
			case <-h.done:
				log.Println("Collaboration hub shutting down...")
				return
			case client := <-h.register:
				h.handleRegister(client)
			case client := <-h.unregister:
				h.handleUnregister(client)
			case msg := <-h.broadcast:
				h.handleBroadcast(msg)
			}
		}
	}()

	if h.relay != nil {
		go h.relay.Run(h)
	}

	log.Println("✓ Collaboration hub started")
}

// handleRegister adds a connection to its session room.
func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[client.sessionID] == nil {
		h.rooms[client.sessionID] = make(map[*Client]bool)
	}
	h.rooms[client.sessionID][client] = true

	log.Printf("  Connection %s joined room session:%s (total: %d connections)",
		client.id, client.sessionID, len(h.rooms[client.sessionID]))
}

// handleUnregister removes a connection. A dropped transport counts as a
// leave: membership is updated through the engine and the room is told the
// user disconnected.
func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.sessionID]
	if ok {
		if _, member := room[client]; member {
			delete(room, client)
			client.closeSend()
		} else {
			ok = false
		}
		if len(room) == 0 {
			delete(h.rooms, client.sessionID)
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	log.Printf("  Connection %s left room session:%s", client.id, client.sessionID)

	if client.userID == "" {
		return
	}

	// Leave is idempotent in the engine, so a racing explicit leave followed
	// by the transport closing is harmless.
	activeUsers, err := h.engine.Leave(client.sessionID, client.userID)
	if err != nil {
		// Session already destroyed; nothing to announce.
		return
	}

	// Already on the hub goroutine, so fan out synchronously instead of
	// going back through the broadcast channel.
	frame, err := EncodeEvent(EventUserDisconnected, h.nodeID, UserEventPayload{
		UserID:      client.userID,
		ActiveUsers: activeUsers,
	})
	if err != nil {
		log.Printf("⚠️  Failed to encode disconnect broadcast: %v", err)
		return
	}
	h.handleBroadcast(&RoomMessage{SessionID: client.sessionID, Frame: frame})
}

// handleBroadcast fans one frame out to a room. A connection whose buffer is
// full is dropped on the spot; one dead socket never blocks the rest of the
// room.
func (h *Hub) handleBroadcast(msg *RoomMessage) {
	h.mu.RLock()
	room := h.rooms[msg.SessionID]
	recipients := make([]*Client, 0, len(room))
	for client := range room {
		if msg.Sender != nil && client == msg.Sender {
			continue
		}
		recipients = append(recipients, client)
	}
	h.mu.RUnlock()

	for _, client := range recipients {
		if !client.trySend(msg.Frame) {
			log.Printf("⚠️  Connection %s buffer full, dropping connection", client.id)
			h.evict(client)
		}
	}

	if h.relay != nil && !msg.remote {
		h.relay.Publish(msg.SessionID, msg.Frame)
	}
}

// evict removes a slow connection directly. Runs on the hub goroutine, so it
// must not go back through the unregister channel.
func (h *Hub) evict(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.sessionID]
	if ok {
		if _, member := room[client]; member {
			delete(room, client)
			client.closeSend()
		}
		if len(room) == 0 {
			delete(h.rooms, client.sessionID)
		}
	}
	h.mu.Unlock()

	if client.conn != nil {
		client.conn.Close()
	}
}

// BroadcastEvent encodes an event and queues it for every connection in the
// session's room except sender. Safe to call from any goroutine; REST
// handlers use it with a nil sender so socket clients see REST-originated
// mutations too.
func (h *Hub) BroadcastEvent(sessionID, event string, data any, sender *Client) {
	frame, err := EncodeEvent(event, h.nodeID, data)
	if err != nil {
		log.Printf("⚠️  Failed to encode %s broadcast: %v", event, err)
		return
	}

	select {
	case h.broadcast <- &RoomMessage{SessionID: sessionID, Frame: frame, Sender: sender}:
	case <-h.done:
	}
}

// Broadcast is BroadcastEvent without a sender to skip, for callers outside
// this package (the REST layer fans out through it).
func (h *Hub) Broadcast(sessionID, event string, data any) {
	h.BroadcastEvent(sessionID, event, data, nil)
}

// injectRemote re-broadcasts a frame that another node published through the
// relay. The frame is already encoded and is not published again.
func (h *Hub) injectRemote(sessionID string, frame []byte) {
	select {
	case h.broadcast <- &RoomMessage{SessionID: sessionID, Frame: frame, remote: true}:
	case <-h.done:
	}
}

// RoomSize reports the number of live connections in a session room.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// Shutdown closes every connection and stops the event loop.
func (h *Hub) Shutdown() {
	log.Println("🛑 Shutting down collaboration hub...")

	close(h.done)
	if h.relay != nil {
		h.relay.Close()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, room := range h.rooms {
		for client := range room {
			client.closeSend()
			if client.conn != nil {
				client.conn.Close()
			}
		}
	}
	h.rooms = make(map[string]map[*Client]bool)

	log.Println("✓ Collaboration hub shutdown complete")
}

// heartbeat intervals shared by the client pumps.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)
