package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"pulse-backend/internal/store"
)

// Publisher fans events out to live connections. Satisfied by the event bus.
type Publisher interface {
	Publish(topic string, data map[string]any)
}

// Emitter hands events to the webhook delivery engine.
type Emitter interface {
	Emit(eventType string, data map[string]any)
}

// Handler serves the CRUD API for the fixed entity catalogue. Every mutation
// publishes a lifecycle event on the bus and emits it to the webhook engine.
type Handler struct {
	store *store.Store
	bus   Publisher
	hooks Emitter
}

func NewHandler(s *store.Store, bus Publisher, hooks Emitter) *Handler {
	return &Handler{store: s, bus: bus, hooks: hooks}
}

// notify announces a lifecycle event on both distribution paths.
func (h *Handler) notify(topic string, row map[string]any) {
	if h.bus != nil {
		h.bus.Publish(topic, row)
	}
	if h.hooks != nil {
		h.hooks.Emit(topic, row)
	}
}

func (h *Handler) fetchRow(ctx context.Context, table, entity, id string, boolFields []string) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, h.store.DB,
		fmt.Sprintf(`SELECT * FROM %s WHERE id = %s`, table, pb.Add(id)),
		pb.Params()...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError(entity, id)
		}
		return nil, err
	}
	if len(boolFields) > 0 && h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans([]map[string]any{row}, boolFields)
	}
	return row, nil
}

func (h *Handler) listRows(ctx context.Context, table string, boolFields []string) ([]map[string]any, error) {
	rows, err := store.QueryRows(ctx, h.store.DB,
		fmt.Sprintf(`SELECT * FROM %s ORDER BY created_at DESC`, table))
	if err != nil {
		return nil, err
	}
	if len(boolFields) > 0 && h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, boolFields)
	}
	return rows, nil
}

func (h *Handler) deleteRow(ctx context.Context, table, id string) error {
	pb := h.store.Dialect.NewParamBuilder()
	_, err := store.Exec(ctx, h.store.DB,
		fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, table, pb.Add(id)),
		pb.Params()...)
	return err
}

// requireWriter enforces that the caller owns the row or is an admin.
func requireWriter(c *fiber.Ctx, row map[string]any) (*Identity, error) {
	user := GetUser(c)
	if user == nil {
		return nil, UnauthorizedError("authentication required")
	}
	owner, _ := row["user_id"].(string)
	if !user.IsAdmin() && owner != "" && owner != user.ID {
		return nil, ForbiddenError("not the owner")
	}
	return user, nil
}

func requireUser(c *fiber.Ctx) (*Identity, error) {
	user := GetUser(c)
	if user == nil {
		return nil, UnauthorizedError("authentication required")
	}
	return user, nil
}

// MapWriteError translates constraint violations from INSERT/UPDATE into
// client errors. A dangling reference (e.g. a JWT subject with no matching
// user row) is the caller's fault, not a server fault.
func MapWriteError(dialect store.Dialect, err error) error {
	if err == nil {
		return nil
	}
	mapped := store.MapError(dialect, err)
	switch {
	case errors.Is(mapped, store.ErrForeignKeyViolation):
		return NewAppError("INVALID_REFERENCE", fiber.StatusUnprocessableEntity,
			"a referenced record does not exist")
	case errors.Is(mapped, store.ErrUniqueViolation):
		return NewAppError("DUPLICATE", fiber.StatusConflict, "record already exists")
	}
	return err
}

func (h *Handler) mapWriteError(err error) error {
	return MapWriteError(h.store.Dialect, err)
}

func newID() string { return uuid.New().String() }

func nowUTC() time.Time { return time.Now().UTC() }
