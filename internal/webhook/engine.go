package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"pulse-backend/internal/store"
)

const (
	maxResponseBodyChars = 1000
	defaultMaxRetries    = 5
)

// Engine delivers domain events to registered external endpoints with
// at-least-once semantics: every delivery is recorded as a pending event row,
// attempted immediately, and re-attempted by the retry sweep until it is
// delivered or exhausts the subscription's retry budget.
type Engine struct {
	repo   repo
	client *http.Client

	condMu   sync.Mutex
	condProg map[string]*vm.Program
}

func NewEngine(s *store.Store, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		repo:     repo{store: s},
		client:   &http.Client{Timeout: timeout},
		condProg: make(map[string]*vm.Program),
	}
}

// Emit fans an event out to every matching active subscription: a pending
// event row is persisted per match and delivery starts in the background.
// Emit never returns an error to its caller; failures are logged.
func (e *Engine) Emit(eventType string, data map[string]any) {
	ctx := context.Background()

	subs, err := e.repo.activeSubscriptions(ctx)
	if err != nil {
		log.Printf("ERROR: webhook emit %s: %v", eventType, err)
		return
	}

	for _, sub := range subs {
		if !sub.Matches(eventType) {
			continue
		}
		ok, err := e.evaluateCondition(sub, eventType, data)
		if err != nil {
			log.Printf("ERROR: webhook %s condition: %v", sub.ID, err)
			continue
		}
		if !ok {
			continue
		}

		id, err := e.repo.insertEvent(ctx, sub.ID, eventType, data)
		if err != nil {
			log.Printf("ERROR: webhook %s enqueue %s: %v", sub.ID, eventType, err)
			continue
		}

		go func(eventID string) {
			if err := e.Deliver(context.Background(), eventID); err != nil {
				log.Printf("ERROR: webhook deliver %s: %v", eventID, err)
			}
		}(id)
	}
}

// evaluateCondition runs the subscription's optional expr condition against
// the event. Empty conditions always pass. Programs are compiled lazily and
// cached by source text.
func (e *Engine) evaluateCondition(sub *Subscription, eventType string, data map[string]any) (bool, error) {
	if sub.Condition == "" {
		return true, nil
	}

	e.condMu.Lock()
	prog, ok := e.condProg[sub.Condition]
	if !ok {
		var err error
		prog, err = expr.Compile(sub.Condition, expr.AsBool())
		if err != nil {
			e.condMu.Unlock()
			return false, fmt.Errorf("compile condition: %w", err)
		}
		e.condProg[sub.Condition] = prog
	}
	e.condMu.Unlock()

	result, err := expr.Run(prog, map[string]any{"event": eventType, "data": data})
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, errors.New("condition did not return bool")
	}
	return b, nil
}

// Deliver attempts one delivery of the given event. A missing event or
// subscription, or an inactive subscription, aborts silently. Outcomes are
// persisted per the state machine: 2xx marks the event delivered; anything
// else either schedules a retry or marks it terminally failed.
func (e *Engine) Deliver(ctx context.Context, eventID string) error {
	ev, err := e.repo.event(ctx, eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("webhook: event %s vanished, skipping", eventID)
			return nil
		}
		return err
	}
	if ev.Status != StatusPending {
		return nil
	}

	sub, err := e.repo.subscription(ctx, ev.SubscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("webhook: subscription %s vanished, skipping event %s", ev.SubscriptionID, eventID)
			return nil
		}
		return err
	}
	if !sub.Active {
		log.Printf("webhook: subscription %s inactive, skipping event %s", sub.ID, eventID)
		return nil
	}

	body, signed := e.buildBody(ev, sub)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return e.recordFailure(ctx, ev, sub, nil, "", fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		req.Header.Set("X-Webhook-Event", ev.EventType)
		req.Header.Set("X-Webhook-Signature", Sign(body, sub.Secret))
		req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))
		req.Header.Set("X-Webhook-ID", ev.ID)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return e.recordFailure(ctx, ev, sub, nil, "", fmt.Sprintf("http call: %v", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	truncated := truncate(string(respBody), maxResponseBodyChars)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return e.repo.markDelivered(ctx, ev.ID, ev.Attempts+1, resp.StatusCode, truncated)
	}
	code := resp.StatusCode
	return e.recordFailure(ctx, ev, sub, &code, truncated, fmt.Sprintf("HTTP %d", resp.StatusCode))
}

// buildBody renders the outbound payload. Chat-provider endpoints get the
// embed format and no signature headers; everyone else gets the generic
// signed JSON body.
func (e *Engine) buildBody(ev *Event, sub *Subscription) (body []byte, signed bool) {
	if IsChatProviderURL(sub.URL) {
		body, err := ChatProviderPayload(ev.EventType, ev.Payload)
		if err != nil {
			log.Printf("webhook: embed transform for %s failed, falling back to text: %v", ev.ID, err)
			body = FallbackTextPayload(ev.EventType, ev.Payload)
		}
		return body, false
	}

	payload := map[string]any{
		"event":     ev.EventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      ev.Payload,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		// payload came from a JSON column, re-encoding cannot realistically fail
		body = []byte("{}")
	}
	return body, true
}

// recordFailure applies the retry policy after a failed attempt. Retryable
// while pre-increment attempts < maxRetries; otherwise terminal.
func (e *Engine) recordFailure(ctx context.Context, ev *Event, sub *Subscription, code *int, respBody, errMsg string) error {
	maxRetries := sub.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	if ev.Attempts < maxRetries {
		nextRetry := time.Now().Add(RetryDelay(sub.RetryBackoff, ev.Attempts))
		return e.repo.markRetry(ctx, ev.ID, ev.Attempts+1, nextRetry, code, respBody, errMsg)
	}
	return e.repo.markFailed(ctx, ev.ID, ev.Attempts+1, code, respBody,
		fmt.Sprintf("delivery failed after %d attempts: %s", ev.Attempts+1, errMsg))
}

// ProcessPendingRetries drains up to limit due pending events and re-attempts
// delivery for each. Called once at startup and by every sweep tick; it is
// the only retry path, so scheduled work survives a process restart.
func (e *Engine) ProcessPendingRetries(ctx context.Context, limit int) (int, error) {
	events, err := e.repo.dueEvents(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, ev := range events {
		if err := e.Deliver(ctx, ev.ID); err != nil {
			log.Printf("ERROR: webhook retry %s: %v", ev.ID, err)
		}
	}
	return len(events), nil
}
