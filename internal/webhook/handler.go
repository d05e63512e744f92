package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"pulse-backend/internal/content"
	"pulse-backend/internal/store"
)

// Handler exposes the subscription management API and the delivery log.
type Handler struct {
	store  *store.Store
	engine *Engine
}

func NewHandler(s *store.Store, e *Engine) *Handler {
	return &Handler{store: s, engine: e}
}

// RegisterRoutes mounts the management API. All routes require an
// authenticated caller; non-admins only see their own subscriptions.
func RegisterRoutes(app *fiber.App, h *Handler, authMW fiber.Handler) {
	grp := app.Group("/api/webhooks", authMW)
	grp.Get("/", h.ListSubscriptions)
	grp.Post("/", h.CreateSubscription)
	grp.Get("/:id", h.GetSubscription)
	grp.Put("/:id", h.UpdateSubscription)
	grp.Delete("/:id", h.DeleteSubscription)
	grp.Get("/:id/events", h.ListEvents)
	grp.Post("/events/:eventId/redeliver", h.RedeliverEvent)
}

type subscriptionInput struct {
	URL          string   `json:"url"`
	Events       []string `json:"events"`
	Secret       string   `json:"secret"`
	Active       *bool    `json:"active"`
	MaxRetries   *int     `json:"max_retries"`
	RetryBackoff string   `json:"retry_backoff"`
	Condition    string   `json:"condition"`
}

func (h *Handler) ListSubscriptions(c *fiber.Ctx) error {
	user := content.GetUser(c)
	if user == nil {
		return content.UnauthorizedError("authentication required")
	}

	query := `SELECT * FROM _webhook_subscriptions`
	pb := h.store.Dialect.NewParamBuilder()
	if !user.IsAdmin() {
		query += fmt.Sprintf(` WHERE owner_id = %s`, pb.Add(user.ID))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := store.QueryRows(c.Context(), h.store.DB, query, pb.Params()...)
	if err != nil {
		return err
	}
	subs, err := scanSubscriptions(h.store, rows)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

func (h *Handler) CreateSubscription(c *fiber.Ctx) error {
	user := content.GetUser(c)
	if user == nil {
		return content.UnauthorizedError("authentication required")
	}

	var in subscriptionInput
	if err := c.BodyParser(&in); err != nil {
		return content.BadRequestError("invalid JSON body")
	}
	if err := validateSubscriptionInput(&in); err != nil {
		return err
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}
	maxRetries := defaultMaxRetries
	if in.MaxRetries != nil {
		maxRetries = *in.MaxRetries
	}
	backoff := in.RetryBackoff
	if backoff == "" {
		backoff = BackoffExponential
	}

	eventsJSON, _ := json.Marshal(in.Events)
	id := uuid.New().String()

	pb := h.store.Dialect.NewParamBuilder()
	_, err := store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`INSERT INTO _webhook_subscriptions
		 (id, url, events, secret, active, max_retries, retry_backoff, condition, owner_id)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			pb.Add(id), pb.Add(in.URL), pb.Add(string(eventsJSON)), pb.Add(in.Secret),
			pb.Add(active), pb.Add(maxRetries), pb.Add(backoff), pb.Add(in.Condition),
			pb.Add(user.ID)),
		pb.Params()...)
	if err != nil {
		return content.MapWriteError(h.store.Dialect, err)
	}

	sub, err := h.ownedSubscription(c, id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

func (h *Handler) GetSubscription(c *fiber.Ctx) error {
	sub, err := h.ownedSubscription(c, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(sub)
}

func (h *Handler) UpdateSubscription(c *fiber.Ctx) error {
	sub, err := h.ownedSubscription(c, c.Params("id"))
	if err != nil {
		return err
	}

	var in subscriptionInput
	if err := c.BodyParser(&in); err != nil {
		return content.BadRequestError("invalid JSON body")
	}

	if in.URL != "" {
		sub.URL = in.URL
	}
	if in.Events != nil {
		sub.Events = in.Events
	}
	if in.Secret != "" {
		sub.Secret = in.Secret
	}
	if in.Active != nil {
		sub.Active = *in.Active
	}
	if in.MaxRetries != nil {
		sub.MaxRetries = *in.MaxRetries
	}
	if in.RetryBackoff != "" {
		sub.RetryBackoff = in.RetryBackoff
	}
	if in.Condition != "" {
		sub.Condition = in.Condition
	}
	if err := validateSubscription(sub); err != nil {
		return err
	}

	eventsJSON, _ := json.Marshal(sub.Events)
	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`UPDATE _webhook_subscriptions
		 SET url = %s, events = %s, secret = %s, active = %s, max_retries = %s,
		     retry_backoff = %s, condition = %s, updated_at = %s
		 WHERE id = %s`,
			pb.Add(sub.URL), pb.Add(string(eventsJSON)), pb.Add(sub.Secret), pb.Add(sub.Active),
			pb.Add(sub.MaxRetries), pb.Add(sub.RetryBackoff), pb.Add(sub.Condition),
			h.store.Dialect.NowExpr(), pb.Add(sub.ID)),
		pb.Params()...)
	if err != nil {
		return err
	}
	return c.JSON(sub)
}

func (h *Handler) DeleteSubscription(c *fiber.Ctx) error {
	sub, err := h.ownedSubscription(c, c.Params("id"))
	if err != nil {
		return err
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`DELETE FROM _webhook_subscriptions WHERE id = %s`, pb.Add(sub.ID)),
		pb.Params()...)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"deleted": sub.ID})
}

func (h *Handler) ListEvents(c *fiber.Ctx) error {
	sub, err := h.ownedSubscription(c, c.Params("id"))
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	pb := h.store.Dialect.NewParamBuilder()
	rows, err := store.QueryRows(c.Context(), h.store.DB,
		fmt.Sprintf(`SELECT * FROM _webhook_events
		 WHERE subscription_id = %s
		 ORDER BY created_at DESC
		 LIMIT %d`, pb.Add(sub.ID), limit),
		pb.Params()...)
	if err != nil {
		return err
	}

	events := make([]*Event, 0, len(rows))
	for _, row := range rows {
		ev, err := scanEvent(row)
		if err != nil {
			return err
		}
		events = append(events, ev)
	}
	return c.JSON(fiber.Map{"events": events})
}

// RedeliverEvent resets a failed event to pending and attempts delivery
// immediately, in the background.
func (h *Handler) RedeliverEvent(c *fiber.Ctx) error {
	eventID := c.Params("eventId")
	ev, err := h.engine.repo.event(c.Context(), eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return content.NotFoundError("webhook event", eventID)
		}
		return err
	}
	if _, err := h.ownedSubscription(c, ev.SubscriptionID); err != nil {
		return err
	}
	if ev.Status == StatusDelivered {
		return content.BadRequestError("event already delivered")
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`UPDATE _webhook_events
		 SET status = %s, next_retry = NULL, error_message = NULL, updated_at = %s
		 WHERE id = %s`,
			pb.Add(StatusPending), h.store.Dialect.NowExpr(), pb.Add(eventID)),
		pb.Params()...)
	if err != nil {
		return err
	}

	go func() {
		if err := h.engine.Deliver(context.Background(), eventID); err != nil {
			log.Printf("ERROR: webhook redeliver %s: %v", eventID, err)
		}
	}()
	return c.JSON(fiber.Map{"redelivering": eventID})
}

// ownedSubscription loads a subscription and enforces owner or admin access.
func (h *Handler) ownedSubscription(c *fiber.Ctx, id string) (*Subscription, error) {
	user := content.GetUser(c)
	if user == nil {
		return nil, content.UnauthorizedError("authentication required")
	}

	sub, err := h.engine.repo.subscription(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, content.NotFoundError("webhook subscription", id)
		}
		return nil, err
	}
	if !user.IsAdmin() && sub.OwnerID != user.ID {
		return nil, content.ForbiddenError("not the subscription owner")
	}
	return sub, nil
}

func validateSubscriptionInput(in *subscriptionInput) error {
	if in.URL == "" {
		return content.BadRequestError("url is required")
	}
	if !strings.HasPrefix(in.URL, "http://") && !strings.HasPrefix(in.URL, "https://") {
		return content.BadRequestError("url must be http or https")
	}
	if len(in.Events) == 0 {
		return content.BadRequestError("events must name at least one event type")
	}
	if in.RetryBackoff != "" && in.RetryBackoff != BackoffLinear && in.RetryBackoff != BackoffExponential {
		return content.BadRequestError("retry_backoff must be linear or exponential")
	}
	if in.MaxRetries != nil && (*in.MaxRetries < 0 || *in.MaxRetries > 20) {
		return content.BadRequestError("max_retries must be between 0 and 20")
	}
	return nil
}

func validateSubscription(sub *Subscription) error {
	in := subscriptionInput{
		URL:          sub.URL,
		Events:       sub.Events,
		RetryBackoff: sub.RetryBackoff,
		MaxRetries:   &sub.MaxRetries,
	}
	return validateSubscriptionInput(&in)
}
