package realtime

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"pulse-backend/internal/auth"
	"pulse-backend/internal/bus"
	"pulse-backend/internal/content"
)

func newStatsApp(t *testing.T, user *content.Identity) *fiber.App {
	t.Helper()
	b := bus.New()

	resolve := func(string) *content.Identity { return nil }
	inject := func(c *fiber.Ctx) error {
		if user != nil {
			c.Locals("user", user)
		}
		return c.Next()
	}

	app := fiber.New(fiber.Config{ErrorHandler: content.ErrorHandler})
	RegisterRoutes(app, NewRegistry(), NewStreamHandler(b, time.Second, resolve),
		resolve, time.Second, inject, auth.RequireAdmin())
	return app
}

func statsStatus(t *testing.T, app *fiber.App) int {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", "/api/realtime/stats", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestStatsEndpointRequiresAdmin(t *testing.T) {
	if got := statsStatus(t, newStatsApp(t, nil)); got != fiber.StatusUnauthorized {
		t.Fatalf("anonymous: status = %d", got)
	}
	user := &content.Identity{ID: "u1", Roles: []string{"user"}}
	if got := statsStatus(t, newStatsApp(t, user)); got != fiber.StatusForbidden {
		t.Fatalf("non-admin: status = %d", got)
	}
	admin := &content.Identity{ID: "a1", Roles: []string{"admin"}}
	if got := statsStatus(t, newStatsApp(t, admin)); got != fiber.StatusOK {
		t.Fatalf("admin: status = %d", got)
	}
}
