package collaboration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

// relayChannelPrefix namespaces the per-session pub/sub channels.
const relayChannelPrefix = "collab:session:"

// Relay mirrors room frames across nodes through Redis pub/sub. Each node
// publishes every frame it produces to the session's channel and
// re-broadcasts frames published by the others; the envelope's origin field
// keeps a node from replaying its own frames.
//
// Relay failures are logged and isolated: a dead Redis never fails the
// engine call that produced the frame.
type Relay struct {
	rdb    *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRelay connects to Redis and verifies the connection.
func NewRelay(addr string) (*Relay, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithCancel(context.Background())
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	log.Printf("✓ Redis relay connected: %s", addr)
	return &Relay{rdb: rdb, ctx: ctx, cancel: cancel}, nil
}

// Publish sends one frame to the session's channel. Best effort.
func (r *Relay) Publish(sessionID string, frame []byte) {
	if err := r.rdb.Publish(r.ctx, relayChannelPrefix+sessionID, frame).Err(); err != nil {
		log.Printf("⚠️  Relay publish failed for session %s: %v", sessionID, err)
	}
}

// Run subscribes to every session channel and feeds remote frames back into
// the hub. Blocks until Close; the hub starts it on its own goroutine.
func (r *Relay) Run(hub *Hub) {
	pubsub := r.rdb.PSubscribe(r.ctx, relayChannelPrefix+"*")
	defer pubsub.Close()

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}

			sessionID := strings.TrimPrefix(msg.Channel, relayChannelPrefix)
			frame := []byte(msg.Payload)

			var env Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				log.Printf("⚠️  Relay received malformed frame on %s: %v", msg.Channel, err)
				continue
			}
			if env.Origin == hub.NodeID() {
				// Our own frame coming back around.
				continue
			}

			hub.injectRemote(sessionID, frame)
		}
	}
}

// Close stops the subscriber and disconnects.
func (r *Relay) Close() {
	r.cancel()
	if err := r.rdb.Close(); err != nil {
		log.Printf("⚠️  Redis relay close: %v", err)
	}
}
