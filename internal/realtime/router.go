package realtime

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the duplex channel endpoints (one per entity type),
// the SSE stream endpoints, and the registry stats endpoint. statsMW guards
// the stats endpoint; pass the auth chain for an operator-only view.
func RegisterRoutes(app *fiber.App, reg *Registry, streams *StreamHandler, resolve IdentityResolver, heartbeat time.Duration, statsMW ...fiber.Handler) {
	ws := app.Group("/ws", upgradeMiddleware(resolve))
	for _, entity := range Entities {
		adapter := NewAdapter(reg, entity, heartbeat)
		ws.Get("/"+entity.Channel, adapter.Handler())
	}

	streams.RegisterRoutes(app)

	handlers := append(append([]fiber.Handler{}, statsMW...), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"data": reg.GetStats()})
	})
	app.Get("/api/realtime/stats", handlers...)
}

// upgradeMiddleware gates websocket upgrades and resolves an optional caller
// identity (header or ?token=) before the protocol switch.
func upgradeMiddleware(resolve IdentityResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		cred := c.Get("Authorization")
		if cred == "" {
			cred = c.Query("token")
		}
		if user := resolve(cred); user != nil {
			c.Locals("user", user)
		}
		return c.Next()
	}
}
