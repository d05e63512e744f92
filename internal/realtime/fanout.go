package realtime

import (
	"context"
	"fmt"
	"strings"

	"pulse-backend/internal/bus"
)

// Fanout pumps domain events from the bus into the connection registry:
// each event is broadcast to the entity channel and, when the payload carries
// an id, to the per-entity channel ("tasks" and "tasks:<id>").
type Fanout struct {
	registry *Registry
	bus      *bus.Bus
	cancel   context.CancelFunc
}

func NewFanout(reg *Registry, b *bus.Bus) *Fanout {
	return &Fanout{registry: reg, bus: b}
}

// Start subscribes to every entity lifecycle topic and begins pumping.
func (f *Fanout) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	sub := f.bus.Subscribe(AllTopics()...)
	go func() {
		defer sub.Close()
		for {
			evt, ok := sub.Next(ctx)
			if !ok {
				return
			}
			f.dispatch(evt)
		}
	}()
}

// Stop ends the pump and releases its bus subscription.
func (f *Fanout) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *Fanout) dispatch(evt bus.Event) {
	entity, _, ok := strings.Cut(evt.Topic, ".")
	if !ok {
		return
	}
	channel := channelFor(entity)
	if channel == "" {
		return
	}

	message := map[string]any{
		"type":      evt.Topic,
		"data":      evt.Data,
		"timestamp": evt.Time.Format("2006-01-02T15:04:05.000Z07:00"),
	}

	f.registry.Broadcast(channel, message)
	if id, ok := evt.Data["id"].(string); ok && id != "" {
		f.registry.Broadcast(fmt.Sprintf("%s:%s", channel, id), message)
	}
}

func channelFor(entity string) string {
	for _, e := range Entities {
		if e.Name == entity {
			return e.Channel
		}
	}
	return ""
}
