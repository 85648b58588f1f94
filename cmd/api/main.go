package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/stayos/roomkeys/internal/cache"
	"github.com/stayos/roomkeys/internal/gateway"
	"github.com/stayos/roomkeys/internal/gateway/fake"
	"github.com/stayos/roomkeys/internal/gateway/vendorhttp"
	"github.com/stayos/roomkeys/internal/handlers"
	"github.com/stayos/roomkeys/internal/notify"
	"github.com/stayos/roomkeys/internal/repository"
	"github.com/stayos/roomkeys/internal/service"
	"github.com/stayos/roomkeys/pkg/config"
	"github.com/stayos/roomkeys/pkg/database"
	"github.com/stayos/roomkeys/pkg/events"
	"github.com/stayos/roomkeys/pkg/logger"
	mw "github.com/stayos/roomkeys/pkg/middleware"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	statusCache, err := cache.NewStatusCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.StatusTTL)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer statusCache.Close()

	vendor := newLockVendor(cfg)

	// Repositories
	ledger := repository.NewKeyLedger(pool)
	checkins := repository.NewCheckInStore(pool)
	reservations := repository.NewReservationStore(pool)

	// Services
	revocationService := service.NewRevocationService(ledger, reservations, vendor, eventBus)
	checkInService := service.NewCheckInService(checkins, ledger, reservations, vendor, revocationService, eventBus, statusCache)

	sweeper := service.NewSweeper(ledger, revocationService, cfg.Sweeper.Interval, cfg.Sweeper.Concurrency)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// Duty-desk alerts ride the event bus.
	var notifier notify.Notifier
	if cfg.Email.DevMode {
		notifier = notify.NewDevNotifier()
	} else {
		notifier = notify.NewMailerSendNotifier(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.FromEmail, cfg.Email.DutyDeskEmail)
	}
	if err := notify.Subscribe(eventBus, notifier); err != nil {
		logger.Error("Failed to subscribe notifier", "error", err)
		os.Exit(1)
	}

	h := handlers.New(checkInService, revocationService, cfg)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("roomkeys"))
	r.Use(mw.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(mw.Health)

	// Kiosk routes
	r.Route("/checkin", func(r chi.Router) {
		r.Post("/start", h.StartCheckIn)
		r.Post("/finish", h.FinishCheckIn)
		r.Post("/cancel", h.CancelCheckIn)
	})

	// Staff routes (JWT required)
	r.Route("/staff", func(r chi.Router) {
		r.Use(h.RequireJWT("staff"))
		r.Post("/keys/revoke", h.RevokeKey)
		r.Post("/keys/extend", h.ExtendKey)
		r.Get("/keys/{id}", h.GetKey)
		r.Get("/rooms/{room}/key", h.GetRoomKey)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down roomkeys service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Roomkeys service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting roomkeys service", "port", cfg.Server.Port, "vendor_mode", cfg.Vendor.Mode)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Roomkeys service error", "error", err)
		os.Exit(1)
	}
}

func newLockVendor(cfg *config.Config) gateway.LockVendor {
	if cfg.Vendor.Mode == "http" {
		return vendorhttp.New(vendorhttp.Config{
			BaseURL:      cfg.Vendor.BaseURL,
			ClientID:     cfg.Vendor.ClientID,
			ClientSecret: cfg.Vendor.ClientSecret,
			TokenURL:     cfg.Vendor.TokenURL,
			CallTimeout:  cfg.Vendor.CallTimeout,
		})
	}
	logger.Warn("Using fake lock vendor, keys will not reach physical locks")
	return fake.New()
}
