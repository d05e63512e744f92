package gql

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"pulse-backend/internal/content"
)

// RegisterRoutes mounts /graphql: websocket upgrades go to the subscription
// transport, plain POSTs execute a one-shot query against the same schema.
func RegisterRoutes(app *fiber.App, t *Transport, schema graphql.Schema, resolve IdentityResolver) {
	app.Get("/graphql", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, t.Handler())

	app.Post("/graphql", func(c *fiber.Ctx) error {
		var body struct {
			Query         string         `json:"query"`
			Variables     map[string]any `json:"variables"`
			OperationName string         `json:"operationName"`
		}
		if err := c.BodyParser(&body); err != nil {
			return content.BadRequestError("Invalid request body")
		}

		ctx := WithIdentity(c.Context(), resolve(c.Get("Authorization")))
		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  body.Query,
			VariableValues: body.Variables,
			OperationName:  body.OperationName,
			Context:        ctx,
		})
		return c.JSON(result)
	})
}
