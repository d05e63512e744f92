package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"pulse-backend/internal/auth"
	"pulse-backend/internal/bus"
	"pulse-backend/internal/config"
	"pulse-backend/internal/content"
	"pulse-backend/internal/gql"
	"pulse-backend/internal/realtime"
	"pulse-backend/internal/store"
	"pulse-backend/internal/webhook"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db driver: %s)", cfg.Server.Port, cfg.Database.Driver)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Event bus and live connection registry
	eventBus := bus.New()
	registry := realtime.NewRegistry()

	fanout := realtime.NewFanout(registry, eventBus)
	fanout.Start()
	defer fanout.Stop()

	// 5. Webhook delivery engine
	engine := webhook.NewEngine(db, cfg.Webhook.Timeout())
	if n, err := engine.ProcessPendingRetries(ctx, cfg.Webhook.SweepBatchSize); err != nil {
		log.Printf("WARN: startup webhook sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("Startup webhook sweep processed %d due events", n)
	}

	// 6. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: content.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 7. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 8. Auth routes (before middleware — no auth required)
	authHandler := auth.NewHandler(db, cfg.JWTSecret)
	authMW := auth.Middleware(cfg.JWTSecret)
	auth.RegisterRoutes(app, authHandler, authMW)

	resolveIdentity := func(credential string) *content.Identity {
		return auth.ResolveIdentity(credential, cfg.JWTSecret)
	}

	// 9. Content CRUD routes (the event producers); reads are public, so the
	// group resolves identity without requiring it
	contentHandler := content.NewHandler(db, eventBus, engine)
	content.RegisterRoutes(app, contentHandler, auth.OptionalMiddleware(cfg.JWTSecret))

	// 10. WebSocket channels, SSE streams and stats (stats are admin-only)
	heartbeat := cfg.Realtime.HeartbeatInterval()
	streams := realtime.NewStreamHandler(eventBus, heartbeat, resolveIdentity)
	realtime.RegisterRoutes(app, registry, streams, resolveIdentity, heartbeat,
		authMW, auth.RequireAdmin())

	// 11. GraphQL subscriptions
	schema, err := gql.NewSchema(eventBus, db)
	if err != nil {
		log.Fatalf("Failed to build GraphQL schema: %v", err)
	}
	transport := gql.NewTransport(schema, resolveIdentity)
	gql.RegisterRoutes(app, transport, schema, resolveIdentity)

	// 12. Webhook management routes
	webhookHandler := webhook.NewHandler(db, engine)
	webhook.RegisterRoutes(app, webhookHandler, authMW)

	// 13. Webhook retry scheduler
	scheduler := webhook.NewScheduler(engine, cfg.Webhook.SweepInterval(), cfg.Webhook.SweepBatchSize)
	scheduler.Start()
	defer scheduler.Stop()

	// 14. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}
