package gql

import (
	"context"
	"sync"
	"testing"

	"pulse-backend/internal/bus"
	"pulse-backend/internal/content"
)

// recordingWriter captures outbound frames in place of a real websocket.
type recordingWriter struct {
	mu     sync.Mutex
	frames []outFrame
}

func (w *recordingWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, v.(outFrame))
	return nil
}

func (w *recordingWriter) snapshot() []outFrame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]outFrame(nil), w.frames...)
}

func newTestTransport(t *testing.T, resolve IdentityResolver) (*Transport, *connState, *recordingWriter) {
	t.Helper()
	schema, err := NewSchema(bus.New(), nil)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	if resolve == nil {
		resolve = func(string) *content.Identity { return nil }
	}
	tr := NewTransport(schema, resolve)
	w := &recordingWriter{}
	state := &connState{conn: w, subs: make(map[string]context.CancelFunc)}
	return tr, state, w
}

func TestMalformedFrameKeepsConnectionUsable(t *testing.T) {
	tr, state, w := newTestTransport(t, nil)

	tr.handleRaw(state, []byte(`{not even json`))

	frames := w.snapshot()
	if len(frames) != 1 || frames[0].Type != "error" || frames[0].ID != "" {
		t.Fatalf("frames = %+v, want one connection-level error", frames)
	}

	// The same connection still negotiates normally afterwards.
	tr.handleRaw(state, []byte(`{"type":"connection_init"}`))
	frames = w.snapshot()
	if len(frames) != 2 || frames[1].Type != "connection_ack" {
		t.Fatalf("frames = %+v, want connection_ack after the error", frames)
	}
}

func TestConnectionInitResolvesIdentity(t *testing.T) {
	want := &content.Identity{ID: "u1", Roles: []string{"user"}}
	tr, state, w := newTestTransport(t, func(credential string) *content.Identity {
		if credential == "Bearer tok" {
			return want
		}
		return nil
	})

	tr.handleRaw(state, []byte(`{"type":"connection_init","payload":{"authorization":"Bearer tok"}}`))

	if state.identity != want {
		t.Fatalf("identity = %+v", state.identity)
	}
	frames := w.snapshot()
	if len(frames) != 1 || frames[0].Type != "connection_ack" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestPingEchoesPayload(t *testing.T) {
	tr, state, w := newTestTransport(t, nil)

	tr.handleRaw(state, []byte(`{"type":"ping","payload":{"t":1}}`))

	frames := w.snapshot()
	if len(frames) != 1 || frames[0].Type != "pong" {
		t.Fatalf("frames = %+v", frames)
	}
	payload, _ := frames[0].Payload.(map[string]any)
	if payload["t"] != float64(1) {
		t.Fatalf("pong payload = %v", frames[0].Payload)
	}
}

func TestSubscribeRejectsDuplicateID(t *testing.T) {
	tr, state, w := newTestTransport(t, nil)

	sub := `{"id":"1","type":"subscribe","payload":{"query":"subscription { taskEvents { type } }"}}`
	tr.handleRaw(state, []byte(sub))
	tr.handleRaw(state, []byte(sub))

	found := false
	for _, f := range w.snapshot() {
		if f.Type == "error" && f.ID == "1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no error frame for the duplicate id, frames = %+v", w.snapshot())
	}

	// Tear down the live subscription.
	tr.handleRaw(state, []byte(`{"id":"1","type":"complete"}`))
	state.cancelAll()
}

func TestSubscribeRequiresID(t *testing.T) {
	tr, state, w := newTestTransport(t, nil)

	tr.handleRaw(state, []byte(`{"type":"subscribe","payload":{"query":"subscription { taskEvents { type } }"}}`))

	frames := w.snapshot()
	if len(frames) != 1 || frames[0].Type != "error" || frames[0].ID != "" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestUnknownFrameType(t *testing.T) {
	tr, state, w := newTestTransport(t, nil)

	tr.handleRaw(state, []byte(`{"type":"shrug"}`))

	frames := w.snapshot()
	if len(frames) != 1 || frames[0].Type != "error" {
		t.Fatalf("frames = %+v", frames)
	}
}
