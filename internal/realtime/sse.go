package realtime

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"pulse-backend/internal/bus"
	"pulse-backend/internal/content"
)

// streamSpec wires one SSE endpoint: which topics it serves, which query
// parameter it echoes, and which payload field that parameter filters on.
// The comments stream is the omnibus variant: it filters on the parent task.
type streamSpec struct {
	entity EntityType
	param  string
	field  string
}

var streamSpecs = []streamSpec{
	{entityByName("task"), "taskId", "id"},
	{entityByName("product"), "productId", "id"},
	{entityByName("post"), "postId", "id"},
	{entityByName("comment"), "taskId", "task_id"},
}

func entityByName(name string) EntityType {
	for _, e := range Entities {
		if e.Name == name {
			return e
		}
	}
	return EntityType{}
}

// StreamHandler serves one-shot unidirectional event streams (SSE).
type StreamHandler struct {
	bus       *bus.Bus
	heartbeat time.Duration
	resolve   IdentityResolver
}

// IdentityResolver turns a bearer credential into an identity, or nil.
// Resolution failures are tolerated: the stream falls back to anonymous.
type IdentityResolver func(credential string) *content.Identity

func NewStreamHandler(b *bus.Bus, heartbeat time.Duration, resolve IdentityResolver) *StreamHandler {
	return &StreamHandler{bus: b, heartbeat: heartbeat, resolve: resolve}
}

// RegisterRoutes mounts GET /api/streams/<channel> for every entity type.
func (h *StreamHandler) RegisterRoutes(app *fiber.App) {
	for _, spec := range streamSpecs {
		app.Get("/api/streams/"+spec.entity.Channel, h.stream(spec))
	}
}

func (h *StreamHandler) stream(spec streamSpec) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Capture request state before the stream writer runs: the fiber
		// context is recycled once this handler returns.
		cred := c.Get("Authorization")
		if cred == "" {
			cred = c.Query("token")
		}
		user := h.resolve(cred)
		filterID := c.Query(spec.param)

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")

		sub := h.bus.Subscribe(spec.entity.Topics...)
		connID := uuid.New().String()

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer sub.Close()

			connected := map[string]any{"connectionId": connID}
			if filterID != "" {
				connected[spec.param] = filterID
			}
			if user != nil {
				connected["userId"] = user.ID
			}
			if err := writeSSE(w, "connected", connected); err != nil {
				return
			}

			ticker := time.NewTicker(h.heartbeat)
			defer ticker.Stop()

			for {
				select {
				case evt, ok := <-sub.C():
					if !ok {
						return
					}
					if !spec.matches(evt, filterID, user) {
						continue
					}
					payload := map[string]any{
						"data":      evt.Data,
						"timestamp": evt.Time.Format(time.RFC3339),
					}
					if err := writeSSE(w, evt.Topic, payload); err != nil {
						return
					}
				case t := <-ticker.C:
					hb := map[string]any{"timestamp": t.UTC().Format(time.RFC3339)}
					if err := writeSSE(w, "heartbeat", hb); err != nil {
						return
					}
				}
			}
		}))

		return nil
	}
}

// matches applies the per-connection filters. Filtering is advisory: items
// are only withheld from this stream, never transformed.
func (s streamSpec) matches(evt bus.Event, filterID string, user *content.Identity) bool {
	if filterID != "" {
		if id, _ := evt.Data[s.field].(string); id != filterID {
			return false
		}
	}
	if user != nil {
		if owner, _ := evt.Data["user_id"].(string); owner != "" && owner != user.ID {
			return false
		}
	}
	return true
}

// writeSSE emits one named SSE event and flushes it to the client. A flush
// error means the client went away.
func writeSSE(w *bufio.Writer, event string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body); err != nil {
		return err
	}
	return w.Flush()
}
