package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pulse-backend/internal/store"
)

// repo persists subscriptions and delivery events through the shared store.
type repo struct {
	store *store.Store
}

func (r *repo) activeSubscriptions(ctx context.Context) ([]*Subscription, error) {
	rows, err := store.QueryRows(ctx, r.store.DB,
		`SELECT * FROM _webhook_subscriptions WHERE active = `+boolLit(r.store, true))
	if err != nil {
		return nil, fmt.Errorf("load active subscriptions: %w", err)
	}
	return scanSubscriptions(r.store, rows)
}

func (r *repo) subscription(ctx context.Context, id string) (*Subscription, error) {
	pb := r.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, r.store.DB,
		fmt.Sprintf(`SELECT * FROM _webhook_subscriptions WHERE id = %s`, pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	if r.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans([]map[string]any{row}, []string{"active"})
	}
	return scanSubscription(row)
}

func (r *repo) insertEvent(ctx context.Context, subscriptionID, eventType string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	id := uuid.New().String()
	pb := r.store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, r.store.DB,
		fmt.Sprintf(`INSERT INTO _webhook_events (id, subscription_id, event_type, payload, status, attempts)
		 VALUES (%s, %s, %s, %s, %s, %s)`,
			pb.Add(id), pb.Add(subscriptionID), pb.Add(eventType), pb.Add(string(body)),
			pb.Add(StatusPending), pb.Add(0)),
		pb.Params()...)
	if err != nil {
		return "", fmt.Errorf("insert webhook event: %w", err)
	}
	return id, nil
}

func (r *repo) event(ctx context.Context, id string) (*Event, error) {
	pb := r.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, r.store.DB,
		fmt.Sprintf(`SELECT * FROM _webhook_events WHERE id = %s`, pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	return scanEvent(row)
}

// dueEvents returns up to limit pending events whose next_retry has elapsed,
// oldest first. This is the retry queue drained by the sweep loop.
func (r *repo) dueEvents(ctx context.Context, limit int) ([]*Event, error) {
	pb := r.store.Dialect.NewParamBuilder()
	rows, err := store.QueryRows(ctx, r.store.DB,
		fmt.Sprintf(`SELECT * FROM _webhook_events
		 WHERE status = %s AND next_retry IS NOT NULL AND next_retry <= %s
		 ORDER BY next_retry ASC
		 LIMIT %d`,
			pb.Add(StatusPending), pb.Add(time.Now().UTC()), limit),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("load due events: %w", err)
	}

	events := make([]*Event, 0, len(rows))
	for _, row := range rows {
		ev, err := scanEvent(row)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (r *repo) markDelivered(ctx context.Context, id string, attempts, code int, body string) error {
	pb := r.store.Dialect.NewParamBuilder()
	_, err := store.Exec(ctx, r.store.DB,
		fmt.Sprintf(`UPDATE _webhook_events
		 SET status = %s, attempts = %s, last_attempt = %s, next_retry = NULL,
		     response_code = %s, response_body = %s, error_message = NULL, updated_at = %s
		 WHERE id = %s`,
			pb.Add(StatusDelivered), pb.Add(attempts), pb.Add(time.Now().UTC()),
			pb.Add(code), pb.Add(body), pb.Add(time.Now().UTC()), pb.Add(id)),
		pb.Params()...)
	return err
}

func (r *repo) markRetry(ctx context.Context, id string, attempts int, nextRetry time.Time, code *int, body, errMsg string) error {
	pb := r.store.Dialect.NewParamBuilder()
	_, err := store.Exec(ctx, r.store.DB,
		fmt.Sprintf(`UPDATE _webhook_events
		 SET status = %s, attempts = %s, last_attempt = %s, next_retry = %s,
		     response_code = %s, response_body = %s, error_message = %s, updated_at = %s
		 WHERE id = %s`,
			pb.Add(StatusPending), pb.Add(attempts), pb.Add(time.Now().UTC()), pb.Add(nextRetry.UTC()),
			pb.Add(nullableInt(code)), pb.Add(body), pb.Add(errMsg), pb.Add(time.Now().UTC()), pb.Add(id)),
		pb.Params()...)
	return err
}

func (r *repo) markFailed(ctx context.Context, id string, attempts int, code *int, body, errMsg string) error {
	pb := r.store.Dialect.NewParamBuilder()
	_, err := store.Exec(ctx, r.store.DB,
		fmt.Sprintf(`UPDATE _webhook_events
		 SET status = %s, attempts = %s, last_attempt = %s, next_retry = NULL,
		     response_code = %s, response_body = %s, error_message = %s, updated_at = %s
		 WHERE id = %s`,
			pb.Add(StatusFailed), pb.Add(attempts), pb.Add(time.Now().UTC()),
			pb.Add(nullableInt(code)), pb.Add(body), pb.Add(errMsg), pb.Add(time.Now().UTC()), pb.Add(id)),
		pb.Params()...)
	return err
}

func scanSubscriptions(s *store.Store, rows []map[string]any) ([]*Subscription, error) {
	if s.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, []string{"active"})
	}
	subs := make([]*Subscription, 0, len(rows))
	for _, row := range rows {
		sub, err := scanSubscription(row)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolLit(s *store.Store, v bool) string {
	if s.Dialect.NeedsBoolFix() {
		if v {
			return "1"
		}
		return "0"
	}
	if v {
		return "true"
	}
	return "false"
}
