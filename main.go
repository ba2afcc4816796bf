package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"mailcache/cache"
	"mailcache/config"
	controller "mailcache/controllers"
	"mailcache/mailbox"
	"mailcache/middleware"
	"mailcache/routes"
	"mailcache/services"
	"mailcache/utils"
	"mailcache/worker"
)

func main() {
	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.AppConfig
	setupLogging(cfg)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			logrus.WithError(err).Warn("Sentry initialization failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Redis holds the email cache and the send limiter counters
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logrus.WithError(err).Warn("Redis unreachable at startup, serving uncached until it recovers")
	}
	cancelPing()

	var opener mailbox.Opener = &mailbox.IMAPDialer{
		Host:       cfg.IMAP.Host,
		Port:       cfg.IMAP.Port,
		Username:   cfg.IMAP.Username,
		Password:   cfg.IMAP.Password,
		Encryption: cfg.IMAP.Encryption,
		Timeout:    cfg.IMAP.Timeout,
		Logger:     logrus.WithField("component", "imap"),
	}
	if cfg.IMAP.PoolSize > 0 {
		pool := mailbox.NewPool(opener, mailbox.PoolConfig{
			Size:           cfg.IMAP.PoolSize,
			AcquireTimeout: cfg.IMAP.AcquireTimeout,
			DialsPerSecond: cfg.IMAP.DialsPerSecond,
		}, logrus.WithField("component", "imap_pool"))
		defer pool.Close()
		opener = pool
	}

	var mailer utils.Mailer
	if cfg.SMTP.Host != "" {
		mailer = utils.NewSMTPMailer(cfg.SMTP)
	} else {
		logrus.Warn("SMTP_HOST not set, sending is disabled")
	}

	emailService := services.NewEmailService(cache.NewRedisStore(redisClient), opener, mailer, services.ServiceConfig{
		CacheTTL:     cfg.CacheTTL,
		PageSize:     cfg.PageSize,
		FetchWorkers: cfg.FetchWorkers,
		AppURL:       cfg.AppURL,
		FromEmail:    cfg.SMTP.FromEmail,
		FromName:     cfg.SMTP.FromName,
		Folders:      cfg.Folders,
	}, logrus.WithField("component", "email_service"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the periodic full refresh
	syncWorker := worker.NewSyncWorker(emailService, cfg.SyncInterval, logrus.WithField("component", "sync_worker"))
	go syncWorker.Start(ctx)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:   "mailcache",
		BodyLimit: cfg.BodyLimit,
	})
	app.Use(recover.New())

	app.Use(middleware.CORS(cfg.CORSOrigins))

	emailController := controller.NewEmailController(emailService, logrus.WithField("component", "email_controller"))
	routes.SetupRoutes(app, emailController, cfg, middleware.NewRedisStorage(redisClient))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logrus.Info("Shutting down...")
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.WithError(err).Error("Server shutdown failed")
		}
	}()

	// Start server
	logrus.Infof("🚀 Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logrus.Fatalf("Failed to start server: %v", err)
	}
}

func setupLogging(cfg config.Config) {
	if cfg.LogFormat == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
}
