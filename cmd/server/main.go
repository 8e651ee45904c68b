package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/example/limpio/internal/config"
	"github.com/example/limpio/internal/database"
	"github.com/example/limpio/internal/handlers"
	"github.com/example/limpio/internal/jobs"
	"github.com/example/limpio/internal/logger"
	"github.com/example/limpio/internal/middleware"
	"github.com/example/limpio/internal/routes"
	"github.com/example/limpio/internal/services"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.IsProduction())
	defer func() { _ = log.Sync() }()

	db, err := database.Connect(cfg.DatabaseURL, cfg.DBLogLevel, log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	if err := database.SeedAdmin(db, cfg.AdminPhone, cfg.AdminPassword, log); err != nil {
		log.Fatal("admin seed failed", zap.Error(err))
	}

	ctx := context.Background()
	cache := services.NewCatalogCache(ctx, cfg.RedisURL, cfg.CatalogCacheTTL, log)

	var sender services.MessageSender
	if twilio := services.NewTwilioService(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber, cfg.TwilioWhatsAppNumber, log); twilio != nil {
		sender = twilio
	}
	telegram := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat, log)
	notifications := services.NewNotificationService(db, log, sender, telegram, "")

	sessions := services.NewSessionService(db, log, cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	reservations := services.NewReservationService(db, log, notifications)

	authLimiter := middleware.NewRateLimiter(cfg.AuthRatePerMinute, log)

	scheduler := jobs.New(log, reservations, notifications, sessions)
	if err := scheduler.Register(cfg.ReminderCron, cfg.SessionPurgeCron); err != nil {
		log.Fatal("scheduler setup failed", zap.Error(err))
	}
	if err := scheduler.RegisterSweep(cfg.LimiterSweepCron, authLimiter, 10*time.Minute); err != nil {
		log.Fatal("scheduler setup failed", zap.Error(err))
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		AppName:      "Limpio Backend",
		ErrorHandler: handlers.ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "status": "ok"})
	})

	routes.Register(app, routes.Deps{
		DB:           db,
		Config:       cfg,
		Log:          log,
		Sessions:     sessions,
		Reservations: reservations,
		Cache:        cache,
		ResetSender:  notifications,
		AuthLimiter:  authLimiter,
	})

	go func() {
		log.Info("starting server", zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))
		if err := app.Listen(":" + cfg.AppPort); err != nil {
			log.Fatal("fiber.Listen error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	<-scheduler.Stop().Done()

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
	if closer, ok := cache.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
