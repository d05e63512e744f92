package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New()
	s1 := b.Subscribe("task.created")
	s2 := b.Subscribe("task.created")
	defer s1.Close()
	defer s2.Close()

	b.Publish("task.created", map[string]any{"id": "t1"})

	for _, sub := range []*Subscription{s1, s2} {
		select {
		case evt := <-sub.C():
			if evt.Topic != "task.created" {
				t.Fatalf("expected topic task.created, got %s", evt.Topic)
			}
			if evt.Data["id"] != "t1" {
				t.Fatalf("expected id=t1, got %v", evt.Data["id"])
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive published event")
		}
	}
}

func TestPublishOrderPerTopic(t *testing.T) {
	b := New()
	sub := b.Subscribe("task.updated")
	defer sub.Close()

	for i := 0; i < 10; i++ {
		b.Publish("task.updated", map[string]any{"seq": i})
	}

	for i := 0; i < 10; i++ {
		evt, ok := sub.Next(context.Background())
		if !ok {
			t.Fatalf("stream ended early at %d", i)
		}
		if evt.Data["seq"] != i {
			t.Fatalf("expected seq=%d, got %v", i, evt.Data["seq"])
		}
	}
}

func TestSubscriberOnlySeesItsTopics(t *testing.T) {
	b := New()
	sub := b.Subscribe("product.created")
	defer sub.Close()

	b.Publish("task.created", map[string]any{"id": "t1"})
	b.Publish("product.created", map[string]any{"id": "p1"})

	evt, ok := sub.Next(context.Background())
	if !ok {
		t.Fatal("expected an event")
	}
	if evt.Topic != "product.created" {
		t.Fatalf("expected product.created only, got %s", evt.Topic)
	}

	select {
	case evt := <-sub.C():
		t.Fatalf("unexpected extra event: %v", evt)
	default:
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe("post.published")
	sub.Close()

	// Publishing after close must not panic and must not deliver.
	b.Publish("post.published", map[string]any{"id": "p1"})

	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel after Close")
	}
	if n := b.SubscriberCount("post.published"); n != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", n)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe("task.deleted")
	sub.Close()
	sub.Close() // must not panic
}

func TestCloseDuringConcurrentPublish(t *testing.T) {
	b := New()
	sub := b.Subscribe("task.created")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish("task.created", map[string]any{"seq": i})
		}
		close(done)
	}()

	// Drain a few then close mid-stream.
	for i := 0; i < 5; i++ {
		sub.Next(context.Background())
	}
	sub.Close()
	<-done
}

func TestNextHonorsContext(t *testing.T) {
	b := New()
	sub := b.Subscribe("comment.created")
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := sub.Next(ctx); ok {
		t.Fatal("expected Next to end on context timeout")
	}
}

func TestMultiTopicSubscription(t *testing.T) {
	b := New()
	sub := b.Subscribe("task.created", "task.deleted")
	defer sub.Close()

	b.Publish("task.created", map[string]any{"id": "a"})
	b.Publish("task.deleted", map[string]any{"id": "b"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		evt, ok := sub.Next(context.Background())
		if !ok {
			t.Fatal("stream ended early")
		}
		seen[evt.Topic] = true
	}
	if !seen["task.created"] || !seen["task.deleted"] {
		t.Fatalf("expected both topics, got %v", seen)
	}
}
