package webhook

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event delivery states. Transitions are monotone: pending→delivered or
// pending→failed, never reversed.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Backoff kinds selectable per subscription.
const (
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// Wildcard matches every event type.
const Wildcard = "*"

// Subscription is a registered external HTTP endpoint. Rows are created by
// the management API; the delivery engine treats them as read-only.
type Subscription struct {
	ID           string   `json:"id"`
	URL          string   `json:"url"`
	Events       []string `json:"events"`
	Secret       string   `json:"-"`
	Active       bool     `json:"active"`
	MaxRetries   int      `json:"max_retries"`
	RetryBackoff string   `json:"retry_backoff"`
	Condition    string   `json:"condition,omitempty"`
	OwnerID      string   `json:"owner_id,omitempty"`
}

// Matches reports whether the subscription's event filter covers eventType.
func (s *Subscription) Matches(eventType string) bool {
	for _, e := range s.Events {
		if e == Wildcard || e == eventType {
			return true
		}
	}
	return false
}

// Event is one delivery attempt record for one subscription.
type Event struct {
	ID             string         `json:"id"`
	SubscriptionID string         `json:"subscription_id"`
	EventType      string         `json:"event_type"`
	Payload        map[string]any `json:"payload"`
	Status         string         `json:"status"`
	Attempts       int            `json:"attempts"`
	LastAttempt    *time.Time     `json:"last_attempt,omitempty"`
	NextRetry      *time.Time     `json:"next_retry,omitempty"`
	ResponseCode   *int           `json:"response_code,omitempty"`
	ResponseBody   string         `json:"response_body,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

func scanSubscription(row map[string]any) (*Subscription, error) {
	sub := &Subscription{
		ID:           asString(row["id"]),
		URL:          asString(row["url"]),
		Secret:       asString(row["secret"]),
		Active:       asBool(row["active"]),
		MaxRetries:   asInt(row["max_retries"]),
		RetryBackoff: asString(row["retry_backoff"]),
		Condition:    asString(row["condition"]),
		OwnerID:      asString(row["owner_id"]),
	}
	if raw := asString(row["events"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sub.Events); err != nil {
			return nil, fmt.Errorf("decode events for subscription %s: %w", sub.ID, err)
		}
	}
	return sub, nil
}

func scanEvent(row map[string]any) (*Event, error) {
	ev := &Event{
		ID:             asString(row["id"]),
		SubscriptionID: asString(row["subscription_id"]),
		EventType:      asString(row["event_type"]),
		Status:         asString(row["status"]),
		Attempts:       asInt(row["attempts"]),
		ResponseBody:   asString(row["response_body"]),
		ErrorMessage:   asString(row["error_message"]),
	}
	if raw := asString(row["payload"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for event %s: %w", ev.ID, err)
		}
	}
	if t, ok := row["last_attempt"].(time.Time); ok {
		ev.LastAttempt = &t
	}
	if t, ok := row["next_retry"].(time.Time); ok {
		ev.NextRetry = &t
	}
	if row["response_code"] != nil {
		code := asInt(row["response_code"])
		ev.ResponseCode = &code
	}
	return ev, nil
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asInt(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case json.Number:
		n, _ := val.Int64()
		return int(n)
	default:
		return 0
	}
}

func asBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int64:
		return val != 0
	case int:
		return val != 0
	case float64:
		return val != 0
	default:
		return false
	}
}
