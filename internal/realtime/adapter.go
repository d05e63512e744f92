package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"pulse-backend/internal/content"
)

// jsonSender serializes writes to a websocket connection. The underlying
// connection allows only one concurrent writer; replies, heartbeats and
// registry broadcasts all go through here.
type jsonSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *jsonSender) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Adapter bridges one entity type's duplex channel onto the registry.
type Adapter struct {
	registry  *Registry
	entity    EntityType
	heartbeat time.Duration
}

func NewAdapter(reg *Registry, entity EntityType, heartbeat time.Duration) *Adapter {
	return &Adapter{registry: reg, entity: entity, heartbeat: heartbeat}
}

// Handler returns the fiber handler serving this adapter's websocket endpoint.
func (a *Adapter) Handler() fiber.Handler {
	return websocket.New(a.serve)
}

func (a *Adapter) serve(c *websocket.Conn) {
	id := uuid.New().String()
	sender := &jsonSender{conn: c}

	userID := ""
	if user, ok := c.Locals("user").(*content.Identity); ok && user != nil {
		userID = user.ID
	}

	a.registry.Add(id, sender, userID)
	a.registry.Join(id, a.entity.Channel)

	sender.WriteJSON(fiber.Map{
		"type":         "connected",
		"connectionId": id,
		"channel":      a.entity.Channel,
	})

	stop := make(chan struct{})
	go a.heartbeatLoop(id, sender, stop)
	defer func() {
		close(stop)
		a.registry.Remove(id)
	}()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		a.handleMessage(id, sender, raw)
	}
}

// heartbeatLoop pings the connection on a fixed cadence. It stops as soon as
// the registry no longer holds the connection or a ping fails to send.
func (a *Adapter) heartbeatLoop(id string, sender Sender, stop <-chan struct{}) {
	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !a.registry.Has(id) {
				return
			}
			if err := sender.WriteJSON(fiber.Map{"type": "ping", "timestamp": time.Now().UTC().Format(time.RFC3339)}); err != nil {
				a.registry.Remove(id)
				return
			}
		}
	}
}

// inboundFrame is the shape of messages clients send on a channel socket.
type inboundFrame struct {
	Type     string `json:"type"`
	EntityID string `json:"entityId"`
}

func (a *Adapter) handleMessage(id string, sender Sender, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		sender.WriteJSON(fiber.Map{"type": "error", "message": "invalid message format"})
		return
	}

	switch frame.Type {
	case "pong":
		// heartbeat reply, nothing to do
	case "subscribe":
		if frame.EntityID == "" {
			sender.WriteJSON(fiber.Map{"type": "error", "message": "subscribe requires entityId"})
			return
		}
		channel := fmt.Sprintf("%s:%s", a.entity.Channel, frame.EntityID)
		a.registry.Join(id, channel)
		sender.WriteJSON(fiber.Map{"type": "subscribed", "entityId": frame.EntityID, "channel": channel})
	case "unsubscribe":
		if frame.EntityID == "" {
			sender.WriteJSON(fiber.Map{"type": "error", "message": "unsubscribe requires entityId"})
			return
		}
		channel := fmt.Sprintf("%s:%s", a.entity.Channel, frame.EntityID)
		a.registry.Leave(id, channel)
		sender.WriteJSON(fiber.Map{"type": "unsubscribed", "entityId": frame.EntityID, "channel": channel})
	default:
		// well-formed but unrecognized: echo back
		var msg map[string]any
		json.Unmarshal(raw, &msg)
		sender.WriteJSON(fiber.Map{"type": "echo", "message": msg})
	}
}
