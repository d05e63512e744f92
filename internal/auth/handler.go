package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"pulse-backend/internal/content"
	"pulse-backend/internal/store"
)

// Handler handles authentication endpoints.
type Handler struct {
	store     *store.Store
	jwtSecret string
}

// NewHandler creates a new auth Handler.
func NewHandler(s *store.Store, jwtSecret string) *Handler {
	return &Handler{store: s, jwtSecret: jwtSecret}
}

// RegisterRoutes mounts the auth endpoints. Login and refresh are public;
// /me requires the auth middleware supplied by the caller.
func RegisterRoutes(app *fiber.App, h *Handler, authMW fiber.Handler) {
	grp := app.Group("/api/auth")
	grp.Post("/login", h.Login)
	grp.Post("/refresh", h.Refresh)
	grp.Get("/me", authMW, h.Me)
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return content.BadRequestError("Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return content.UnauthorizedError("Email and password are required")
	}

	ctx := c.Context()

	user, err := h.findUserByEmail(ctx, body.Email)
	if err != nil {
		return content.UnauthorizedError("Invalid email or password")
	}

	active, _ := user["active"].(bool)
	if !active {
		return content.UnauthorizedError("Account is disabled")
	}

	passwordHash, _ := user["password_hash"].(string)
	if !CheckPassword(body.Password, passwordHash) {
		return content.UnauthorizedError("Invalid email or password")
	}

	userID, _ := user["id"].(string)
	roles := extractRoles(user["roles"])

	pair, err := h.generateTokenPair(ctx, userID, roles)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return content.BadRequestError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return content.UnauthorizedError("Refresh token is required")
	}

	ctx := c.Context()

	pb := h.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, h.store.DB,
		fmt.Sprintf(`SELECT user_id, expires_at FROM _refresh_tokens WHERE token = %s`, pb.Add(body.RefreshToken)),
		pb.Params()...)
	if err != nil {
		return content.UnauthorizedError("Invalid refresh token")
	}

	if expires, ok := row["expires_at"].(time.Time); ok && expires.Before(time.Now()) {
		return content.UnauthorizedError("Refresh token expired")
	}

	userID := fmt.Sprintf("%v", row["user_id"])
	user, err := h.findUserByID(ctx, userID)
	if err != nil {
		return content.UnauthorizedError("Invalid refresh token")
	}

	// Rotate: delete the used token before issuing a new pair
	dpb := h.store.Dialect.NewParamBuilder()
	if _, err := store.Exec(ctx, h.store.DB,
		fmt.Sprintf(`DELETE FROM _refresh_tokens WHERE token = %s`, dpb.Add(body.RefreshToken)),
		dpb.Params()...); err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}

	pair, err := h.generateTokenPair(ctx, userID, extractRoles(user["roles"]))
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": pair})
}

// Me handles GET /api/auth/me.
func (h *Handler) Me(c *fiber.Ctx) error {
	user := content.GetUser(c)
	if user == nil {
		return content.UnauthorizedError("Missing auth token")
	}

	row, err := h.findUserByID(c.Context(), user.ID)
	if err != nil {
		return content.NotFoundError("user", user.ID)
	}
	delete(row, "password_hash")
	row["roles"] = extractRoles(row["roles"])

	return c.JSON(fiber.Map{"data": row})
}

func (h *Handler) findUserByEmail(ctx context.Context, email string) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, h.store.DB,
		fmt.Sprintf(`SELECT * FROM _users WHERE email = %s`, pb.Add(email)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	if h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans([]map[string]any{row}, []string{"active"})
	}
	return row, nil
}

func (h *Handler) findUserByID(ctx context.Context, id string) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, h.store.DB,
		fmt.Sprintf(`SELECT * FROM _users WHERE id = %s`, pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}
	if h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans([]map[string]any{row}, []string{"active"})
	}
	return row, nil
}

func (h *Handler) generateTokenPair(ctx context.Context, userID string, roles []string) (*TokenPair, error) {
	access, err := IssueAccessToken(userID, roles, h.jwtSecret)
	if err != nil {
		return nil, err
	}

	refresh := NewRefreshToken()
	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, h.store.DB,
		fmt.Sprintf(`INSERT INTO _refresh_tokens (id, user_id, token, expires_at) VALUES (%s, %s, %s, %s)`,
			pb.Add(uuid.New().String()), pb.Add(userID), pb.Add(refresh),
			pb.Add(time.Now().Add(RefreshTokenTTL).UTC())),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// extractRoles decodes the roles column, which is stored as a JSON array string.
func extractRoles(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case string:
		var roles []string
		if err := json.Unmarshal([]byte(val), &roles); err == nil {
			return roles
		}
	case []any:
		roles := make([]string, 0, len(val))
		for _, r := range val {
			roles = append(roles, fmt.Sprintf("%v", r))
		}
		return roles
	}
	return []string{}
}
