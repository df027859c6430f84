package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// NewApp builds the fiber application with all routes registered.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "mailsync",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	api := app.Group("/api")

	api.Get("/health", h.Health)

	sync := api.Group("/sync")
	sync.Get("/status", h.SyncStatus)
	sync.Get("/connections", h.Connections)
	sync.Post("/start/:accountId", h.StartSync)
	sync.Post("/stop/:accountId", h.StopSync)

	// /emails/search and /emails/stats are registered before
	// /emails/:id so neither is captured as an ID.
	emails := api.Group("/emails")
	emails.Get("/search", h.SearchEmails)
	emails.Get("/stats", h.EmailStats)
	emails.Get("/:id", h.GetEmail)
	emails.Put("/:id", h.UpdateEmail)
	emails.Delete("/:id", h.DeleteEmail)

	return app
}
