package main

import (
	"context"
	"log"
	"time"

	"delivery-agent/internal/core/bus"
	"delivery-agent/internal/core/cache"
	"delivery-agent/internal/core/config"
	"delivery-agent/internal/core/logger"
	"delivery-agent/internal/core/server"
	authadapter "delivery-agent/internal/features/auth/adapters"
	authhandler "delivery-agent/internal/features/auth/handler"
	authservice "delivery-agent/internal/features/auth/service"
	orderadapter "delivery-agent/internal/features/orders/adapters"
	orderhandler "delivery-agent/internal/features/orders/handler"
	orderservice "delivery-agent/internal/features/orders/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// @title Delivery Agent Gateway API
// @version 1.0
// @description Local gateway exposing the delivery agent's order lifecycle and session management.
// @contact.name API Support
// @contact.email support@delivery-agent.local
// @license.name MIT
// @host localhost:8080
// @BasePath /
func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	l := logger.Get()
	l.Info("Application starting",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
	)

	// Session storage backs the persisted login across restarts.
	sessionCache, err := cache.NewRedisAdapter(cfg.Session.RedisURL)
	if err != nil {
		l.Fatal("Failed to create session cache", zap.Error(err))
	}
	defer sessionCache.Close()

	if err := sessionCache.Ping(context.Background()); err != nil {
		l.Fatal("Session cache unreachable", zap.Error(err))
	}
	l.Info("Session cache connection verified")

	sessions := authadapter.NewCacheSessionStore(sessionCache)

	// The notification bus carries transient messages and the forced-logout
	// signal; here both just land in the log.
	notifier := bus.New()
	defer notifier.Close()
	notifier.SubscribeMessages(func(msg bus.Message) {
		l.Info("Notification", zap.String("text", msg.Text), zap.Duration("duration", msg.Duration))
	})
	notifier.SubscribeLogout(func() {
		l.Warn("Forced logout broadcast")
	})

	// Initialize Auth Service & Handler
	authProvider := authadapter.NewAPIAuthProvider(cfg.Backend, sessions)
	authSvc := authservice.NewAuthService(authProvider, sessions, notifier)
	authHdl := authhandler.NewAuthHandler(authSvc)

	// Initialize Order Lifecycle & Handler, and run Health Check
	orderStore := orderadapter.NewAPIOrderStore(cfg.Backend, sessions)
	lifecycle := orderservice.NewLifecycle(orderStore, sessions, notifier, orderservice.Options{
		Staleness:   time.Duration(cfg.Orders.StalenessSeconds) * time.Second,
		RemoveDelay: time.Duration(cfg.Orders.RemoveDelayMs) * time.Millisecond,
	})
	if err := lifecycle.HealthCheck(context.Background()); err != nil {
		l.Fatal("Backend Health Check Failed", zap.Error(err))
	}
	l.Info("Backend connection verified")

	orderHdl := orderhandler.NewOrderHandler(lifecycle)

	srv := server.New(cfg)

	// Register Routes
	srv.App.Post("/auth/login", authHdl.Login)
	srv.App.Post("/auth/signup", authHdl.Signup)
	srv.App.Post("/auth/logout", authHdl.Logout)
	srv.App.Get("/auth/me", authHdl.Profile)
	srv.App.Patch("/auth/me", authHdl.UpdateProfile)

	srv.App.Get("/orders/available", orderHdl.GetAvailable)
	srv.App.Get("/orders/mine", orderHdl.GetMine)
	srv.App.Post("/orders/:id/accept", orderHdl.AcceptOrder)
	srv.App.Patch("/orders/:id", orderHdl.UpdateStatus)

	srv.App.Get("/health", func(c *fiber.Ctx) error {
		if err := lifecycle.HealthCheck(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if err := srv.Run(); err != nil {
		l.Fatal("Server failed to start", zap.Error(err))
	}
}
