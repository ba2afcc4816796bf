package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"

	"mailcache/config"
	controller "mailcache/controllers"
	"mailcache/middleware"
)

func SetupRoutes(app *fiber.App, emails *controller.EmailController, cfg config.Config, limiterStorage fiber.Storage) {
	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	accessLog := logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	})
	protected := middleware.Protected(cfg.JWTSecret)

	app.Get("/me", accessLog, protected, controller.GetCurrentUser)

	SetupEmailRoutes(app, emails, cfg, limiterStorage, accessLog, protected)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status":  "fail",
			"message": "Route not found",
		})
	})

	logrus.WithField("component", "routes").Info("Routes initialized successfully")
}

func SetupEmailRoutes(app *fiber.App, emails *controller.EmailController, cfg config.Config, limiterStorage fiber.Storage, handlers ...fiber.Handler) {
	email := app.Group("/emails", handlers...)

	// Reads
	email.Get("/all", emails.GetAll)
	email.Get("/folder/:key", emails.GetFolder)

	// Mutations
	email.Post("/move", emails.Move)
	email.Post("/mark-as-read", emails.MarkAsRead)
	email.Post("/flag", emails.Flag)
	email.Post("/unflag", emails.Unflag)
	email.Delete("/delete-permanent-all", emails.DeletePermanentAll)
	email.Post("/draft", emails.SaveDraft)
	email.Post("/send", middleware.SendRateLimiter(cfg.SendRateLimit, limiterStorage), emails.Send)

	// Attachments
	attachments := email.Group("/attachments/:uid")
	attachments.Get("/download/:filename", emails.DownloadAttachment)
	attachments.Get("/preview/:filename", emails.PreviewAttachment)
}
