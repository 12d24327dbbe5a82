package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tmcfarland/shepherd/internal/billing"
	"github.com/tmcfarland/shepherd/internal/database"
	"github.com/tmcfarland/shepherd/internal/logging"
	"github.com/tmcfarland/shepherd/internal/server"
)

const deliveryRetention = 30 * 24 * time.Hour

func main() {
	logger := logging.Setup(os.Getenv("SHEPHERD_LOG_LEVEL"), os.Getenv("SHEPHERD_LOG_JSON") == "true")

	port := os.Getenv("SHEPHERD_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("SHEPHERD_DB_PATH")
	if dbPath == "" {
		dbPath = "shepherd.db"
	}

	jwtSecret := os.Getenv("SHEPHERD_JWT_SECRET")
	if jwtSecret == "" {
		logger.Error("SHEPHERD_JWT_SECRET is required")
		os.Exit(1)
	}

	baseURL := os.Getenv("SHEPHERD_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cfg := server.Config{
		JWTSecret: []byte(jwtSecret),
		AgentURL:  os.Getenv("SHEPHERD_AGENT_URL"),
		Billing: billing.Config{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			Plans: billing.PlanMap{
				BasicPriceID: os.Getenv("STRIPE_BASIC_PRICE_ID"),
				ProPriceID:   os.Getenv("STRIPE_PRO_PRICE_ID"),
			},
			SuccessURL: baseURL + "/account?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  baseURL + "/pricing",
		},
	}

	srv := server.New(db, cfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					logger.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					logger.Info("cleaned up expired sessions", "count", n)
				}
				cutoff := time.Now().UTC().Add(-deliveryRetention)
				if n, err := srv.DeliveryStore().DeleteOlderThan(cutoff); err != nil {
					logger.Error("cleanup old deliveries", "error", err)
				} else if n > 0 {
					logger.Info("cleaned up old deliveries", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("shepherd starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	srv.Engine().Close()
}
