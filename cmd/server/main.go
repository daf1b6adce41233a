package main // Entry point package

import (
	"context" // Context for shutdown propagation
	"log"     // Logging library
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"    // .env loader for local development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/techdoodle/match-slot-booking/internal/booking"
	"github.com/techdoodle/match-slot-booking/internal/config"
	"github.com/techdoodle/match-slot-booking/internal/database"
	"github.com/techdoodle/match-slot-booking/internal/gateway"
	"github.com/techdoodle/match-slot-booking/internal/handler"
	"github.com/techdoodle/match-slot-booking/internal/middleware"
	"github.com/techdoodle/match-slot-booking/internal/payment"
	"github.com/techdoodle/match-slot-booking/internal/promo"
	"github.com/techdoodle/match-slot-booking/internal/queue"
	"github.com/techdoodle/match-slot-booking/internal/repository"
	"github.com/techdoodle/match-slot-booking/internal/router"
	queue_publisher "github.com/techdoodle/match-slot-booking/internal/service"
	"github.com/techdoodle/match-slot-booking/internal/txn"
	"github.com/techdoodle/match-slot-booking/internal/worker"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment

	cfg := config.Load() // Load environment config

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	policy, err := config.LoadRefundPolicy(cfg.RefundTiers)
	if err != nil {
		log.Fatalf("refund policy: %v", err)
	}

	// Redis backs webhook dedup and rate limiting. A nil client
	// degrades both gracefully rather than failing startup.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable; webhook dedup and rate limiting disabled")
	}

	co := txn.NewCoordinator(db)
	matches := repository.NewMatchRepo(db)
	bookings := repository.NewBookingRepo(db)
	payments := repository.NewPaymentRepo(db)

	gw, err := gateway.NewClientFromEnv()
	if err != nil {
		log.Fatalf("payment gateway: %v", err)
	}
	notifier := queue_publisher.NewNotifier(matches)
	dedup := payment.NewDedup(rdb, cfg.DedupTTL)

	engine := payment.NewEngine(co, matches, bookings, payments, dedup, notifier, gw,
		cfg.GatewayWebhookSecret, cfg.GatewayVerifySecret)

	// The promo collaborator stays nil when unconfigured; a typed nil
	// behind the interface would defeat the manager's nil check.
	var promoApplier booking.PromoApplier
	if pc := promo.NewClient(cfg.PromoServiceURL); pc != nil {
		promoApplier = pc
	}

	manager := booking.NewManager(co, matches, bookings, payments,
		gw, engine, gw, promoApplier, policy,
		booking.ManagerConfig{
			HoldTTL:     cfg.HoldTTL,
			MaxAttempts: cfg.ReserveAttempts,
			Currency:    cfg.Currency,
		})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper, err := worker.NewSweeper(co, matches, manager, cfg.SweepInterval, cfg.StalePendingAfter)
	if err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	defer func() {
		if err := sweeper.Stop(); err != nil {
			log.Printf("sweeper shutdown: %v", err)
		}
	}()

	// Notification consumer runs for the life of the process and
	// reconnects on broker failures.
	go func() {
		if err := queue.StartNotificationConsumer(); err != nil {
			log.Printf("notification consumer stopped: %v", err)
		}
	}()

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	router.RegisterRoutes(e, db) // Health and readiness probes
	router.RegisterBooking(e, handler.NewBookingHandler(manager, bookings, matches, payments), cfg.JWTSecret)
	router.RegisterPayment(e, handler.NewPaymentHandler(engine))

	addr := ":" + cfg.Port                                // Address string with port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	go func() {
		if err := e.Start(addr); err != nil { // Start HTTP server
			log.Printf("http server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done() // Wait for shutdown signal

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}
