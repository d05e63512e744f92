package gql

import (
	"context"
	"testing"
	"time"

	"github.com/graphql-go/graphql"

	"pulse-backend/internal/bus"
	"pulse-backend/internal/content"
)

func TestSubscriptionReceivesPublishedEvents(t *testing.T) {
	b := bus.New()
	schema, err := NewSchema(b, nil)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := graphql.Subscribe(graphql.Params{
		Schema:        schema,
		RequestString: `subscription { taskEvents { type data } }`,
		Context:       ctx,
	})

	// Let the subscription attach before publishing.
	waitForSubscriber(t, b, "task.created")
	b.Publish("task.created", map[string]any{"id": "t1", "title": "hello"})

	select {
	case res := <-results:
		if len(res.Errors) > 0 {
			t.Fatalf("unexpected errors: %v", res.Errors)
		}
		data, ok := res.Data.(map[string]any)
		if !ok {
			t.Fatalf("unexpected data shape %T", res.Data)
		}
		evt, ok := data["taskEvents"].(map[string]any)
		if !ok {
			t.Fatalf("unexpected field shape %T", data["taskEvents"])
		}
		if evt["type"] != "task.created" {
			t.Fatalf("expected type task.created, got %v", evt["type"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription result received")
	}
}

func TestSubscriptionFilterByID(t *testing.T) {
	b := bus.New()
	schema, err := NewSchema(b, nil)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := graphql.Subscribe(graphql.Params{
		Schema:        schema,
		RequestString: `subscription { taskEvents(id: "t2") { type } }`,
		Context:       ctx,
	})

	waitForSubscriber(t, b, "task.updated")
	b.Publish("task.updated", map[string]any{"id": "t1"})
	b.Publish("task.updated", map[string]any{"id": "t2"})

	select {
	case res := <-results:
		data := res.Data.(map[string]any)
		if data["taskEvents"] == nil {
			t.Fatal("missing event payload")
		}
		// Only the t2 event may arrive; t1 was filtered before delivery.
	case <-time.After(2 * time.Second):
		t.Fatal("filtered subscription received nothing")
	}

	select {
	case res, ok := <-results:
		if ok {
			t.Fatalf("expected no further results, got %v", res)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscriptionEndsOnCancel(t *testing.T) {
	b := bus.New()
	schema, err := NewSchema(b, nil)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	results := graphql.Subscribe(graphql.Params{
		Schema:        schema,
		RequestString: `subscription { postEvents { type } }`,
		Context:       ctx,
	})

	waitForSubscriber(t, b, "post.published")
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-results:
			if !ok {
				return // channel closed, no further delivery possible
			}
		case <-deadline:
			t.Fatal("subscription did not end after cancel")
		}
	}
}

func TestSubscriptionErrorsOnBadQuery(t *testing.T) {
	b := bus.New()
	schema, err := NewSchema(b, nil)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}

	results := graphql.Subscribe(graphql.Params{
		Schema:        schema,
		RequestString: `subscription { nosuchfield { type } }`,
		Context:       context.Background(),
	})

	select {
	case res, ok := <-results:
		if !ok {
			t.Fatal("expected one error result before close")
		}
		if len(res.Errors) == 0 {
			t.Fatalf("expected errors, got %v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error result received")
	}
}

func TestEventMatchesOwnership(t *testing.T) {
	evt := bus.Event{Topic: "task.created", Data: map[string]any{"id": "t1", "user_id": "u1"}}

	if !eventMatches(evt, "id", "", nil) {
		t.Fatal("anonymous caller should see all events")
	}
	if !eventMatches(evt, "id", "", &content.Identity{ID: "u1"}) {
		t.Fatal("owner should see their event")
	}
	if eventMatches(evt, "id", "", &content.Identity{ID: "u2"}) {
		t.Fatal("non-owner should not see the event")
	}
	if eventMatches(evt, "id", "t2", nil) {
		t.Fatal("id filter should withhold non-matching events")
	}
}

func waitForSubscriber(t *testing.T, b *bus.Bus, topic string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.SubscriberCount(topic) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no subscriber attached to %s", topic)
}
