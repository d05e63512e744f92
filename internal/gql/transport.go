package gql

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"pulse-backend/internal/content"
)

// IdentityResolver turns a bearer credential into an identity, or nil.
type IdentityResolver func(credential string) *content.Identity

// Transport multiplexes many named GraphQL subscriptions over one websocket
// using graphql-transport-ws frames: connection_init/connection_ack,
// ping/pong, subscribe/next/error/complete.
type Transport struct {
	schema  graphql.Schema
	resolve IdentityResolver
}

func NewTransport(schema graphql.Schema, resolve IdentityResolver) *Transport {
	return &Transport{schema: schema, resolve: resolve}
}

// Handler returns the fiber handler serving the subscription endpoint.
func (t *Transport) Handler() fiber.Handler {
	return websocket.New(t.serve)
}

type frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outFrame struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type initPayload struct {
	Authorization string `json:"authorization"`
}

type subscribePayload struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

// frameWriter is the write half of a websocket connection. Tests substitute
// an in-memory implementation.
type frameWriter interface {
	WriteJSON(v any) error
}

// connState is the per-connection protocol state: the resolved identity and
// the table of active subscriptions keyed by client-chosen id.
type connState struct {
	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     frameWriter
	identity *content.Identity
	subs     map[string]context.CancelFunc
}

func (s *connState) write(f outFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(f)
}

func (s *connState) writeError(id, message string) {
	s.write(outFrame{ID: id, Type: "error", Payload: []map[string]any{{"message": message}}})
}

// track registers a subscription id. Returns false if the id is taken.
func (s *connState) track(id string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[id]; exists {
		return false
	}
	s.subs[id] = cancel
	return true
}

// drop removes a subscription id if still tracked. Returns whether it was.
func (s *connState) drop(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return false
	}
	delete(s.subs, id)
	return true
}

func (s *connState) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.subs {
		cancel()
		delete(s.subs, id)
	}
}

func (t *Transport) serve(c *websocket.Conn) {
	state := &connState{conn: c, subs: make(map[string]context.CancelFunc)}
	defer state.cancelAll()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			// transport closed
			return
		}
		t.handleRaw(state, raw)
	}
}

// handleRaw decodes one wire message. A frame that is not valid JSON gets a
// connection-level error frame; the connection itself stays usable.
func (t *Transport) handleRaw(state *connState, raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		state.writeError("", "malformed frame: invalid JSON")
		return
	}
	t.handleFrame(state, f)
}

func (t *Transport) handleFrame(state *connState, f frame) {
	switch f.Type {
	case "connection_init":
		// Repeated init is accepted idempotently; identity resolution is
		// best-effort and failure leaves the connection anonymous.
		var p initPayload
		if len(f.Payload) > 0 {
			json.Unmarshal(f.Payload, &p)
		}
		state.identity = t.resolve(p.Authorization)
		state.write(outFrame{Type: "connection_ack"})

	case "ping":
		var payload any
		if len(f.Payload) > 0 {
			json.Unmarshal(f.Payload, &payload)
		}
		state.write(outFrame{Type: "pong", Payload: payload})

	case "pong":
		// keep-alive reply, nothing to do

	case "subscribe":
		if f.ID == "" {
			state.writeError("", "subscribe frame requires an id")
			return
		}
		var p subscribePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.Query == "" {
			state.writeError(f.ID, "invalid subscribe payload")
			return
		}

		ctx, cancel := context.WithCancel(WithIdentity(context.Background(), state.identity))
		if !state.track(f.ID, cancel) {
			cancel()
			state.writeError(f.ID, "subscriber id already exists")
			return
		}
		go t.run(state, f.ID, ctx, p)

	case "complete":
		// No-op when the id is unknown.
		state.mu.Lock()
		cancel, ok := state.subs[f.ID]
		if ok {
			delete(state.subs, f.ID)
		}
		state.mu.Unlock()
		if ok {
			cancel()
		}

	default:
		state.writeError("", "unknown message type: "+f.Type)
	}
}

// run executes one subscription operation and pumps its results to the
// client until it errors, completes, or is cancelled.
func (t *Transport) run(state *connState, id string, ctx context.Context, p subscribePayload) {
	results := graphql.Subscribe(graphql.Params{
		Schema:         t.schema,
		RequestString:  p.Query,
		VariableValues: p.Variables,
		OperationName:  p.OperationName,
		Context:        ctx,
	})

	for res := range results {
		if res == nil {
			continue
		}
		if len(res.Errors) > 0 {
			// Errors go only to this subscriber; other subscriptions on the
			// connection are unaffected.
			if state.drop(id) {
				state.write(outFrame{ID: id, Type: "error", Payload: res.Errors})
			}
			return
		}
		state.write(outFrame{ID: id, Type: "next", Payload: res})
	}

	// Natural end of the stream. Explicit complete/cancel already removed
	// the id; only a still-tracked id gets a complete frame.
	if state.drop(id) {
		state.write(outFrame{ID: id, Type: "complete"})
	}
}
