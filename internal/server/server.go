package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tmcfarland/shepherd/internal/agent"
	"github.com/tmcfarland/shepherd/internal/apikey"
	"github.com/tmcfarland/shepherd/internal/auth"
	"github.com/tmcfarland/shepherd/internal/billing"
	"github.com/tmcfarland/shepherd/internal/devicehub"
	"github.com/tmcfarland/shepherd/internal/handler"
	"github.com/tmcfarland/shepherd/internal/middleware"
	"github.com/tmcfarland/shepherd/internal/store"
	"github.com/tmcfarland/shepherd/internal/webhook"
)

type Config struct {
	JWTSecret []byte
	AgentURL  string
	Billing   billing.Config
}

type Server struct {
	db            *sql.DB
	authManager   *auth.Manager
	keyRegistry   *apikey.Registry
	engine        *webhook.Engine
	hub           *devicehub.Hub
	authH         *handler.AuthHandler
	apiKeyH       *handler.APIKeyHandler
	webhookH      *handler.WebhookHandler
	billingH      *handler.BillingHandler
	agentH        *handler.AgentHandler
	adminH        *handler.AdminHandler
	sessionStore  *store.SessionStore
	deliveryStore *store.DeliveryStore
	rateLimiter   *middleware.RateLimiter
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	accountStore := store.NewAccountStore(db)
	sessionStore := store.NewSessionStore(db)
	apiKeyStore := store.NewAPIKeyStore(db)
	webhookStore := store.NewWebhookStore(db)
	deliveryStore := store.NewDeliveryStore(db)
	subscriptionStore := store.NewSubscriptionStore(db)
	transactionStore := store.NewTransactionStore(db)

	authManager := auth.NewManager(cfg.JWTSecret, accountStore, sessionStore, logger.With("component", "auth"))
	keyRegistry := apikey.NewRegistry(apiKeyStore, logger.With("component", "apikey"))
	webhookRegistry := webhook.NewRegistry(webhookStore)
	engine := webhook.NewEngine(webhookStore, deliveryStore, logger.With("component", "webhook"))

	stripeClient := billing.NewClient(cfg.Billing)
	reconciler := billing.NewReconciler(
		accountStore, subscriptionStore, transactionStore,
		engine, cfg.Billing.Plans, logger.With("component", "billing"),
	)

	hub := devicehub.NewHub(engine, logger.With("component", "devicehub"))
	agentClient := agent.NewClient(cfg.AgentURL)

	return &Server{
		db:            db,
		authManager:   authManager,
		keyRegistry:   keyRegistry,
		engine:        engine,
		hub:           hub,
		authH:         handler.NewAuthHandler(authManager, logger.With("component", "auth_handler")),
		apiKeyH:       handler.NewAPIKeyHandler(keyRegistry, logger.With("component", "apikey_handler")),
		webhookH:      handler.NewWebhookHandler(webhookRegistry, engine, deliveryStore, logger.With("component", "webhook_handler")),
		billingH:      handler.NewBillingHandler(stripeClient, reconciler, accountStore, subscriptionStore, transactionStore, logger.With("component", "billing_handler")),
		agentH:        handler.NewAgentHandler(agentClient, engine, logger.With("component", "agent_handler")),
		adminH:        handler.NewAdminHandler(accountStore, sessionStore, logger.With("component", "admin_handler")),
		sessionStore:  sessionStore,
		deliveryStore: deliveryStore,
		rateLimiter:   middleware.NewRateLimiter(),
		logger:        logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// DeliveryStore returns the delivery store for cleanup tasks.
func (s *Server) DeliveryStore() *store.DeliveryStore {
	return s.deliveryStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Engine returns the webhook delivery engine so main can close it on shutdown.
func (s *Server) Engine() *webhook.Engine {
	return s.engine
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("POST /api/auth/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("POST /api/auth/refresh", s.rateLimitedHandler(s.authH.Refresh))
	outerMux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	outerMux.HandleFunc("POST /api/billing/stripe-webhook", s.billingH.StripeWebhook)

	// Session-protected routes
	sessionMux := http.NewServeMux()
	s.registerSessionRoutes(sessionMux)
	sessionAuth := middleware.RequireSession(s.authManager)
	outerMux.Handle("/api/", sessionAuth(sessionMux))

	// Device routes authenticate with API keys, not sessions
	deviceReadAuth := middleware.RequireAPIKey(s.keyRegistry, apikey.ScopeRead)
	deviceWriteAuth := middleware.RequireAPIKey(s.keyRegistry, apikey.ScopeWrite)
	outerMux.Handle("GET /device/ws", deviceWriteAuth(devicehub.HandleDeviceSocket(s.hub, s.logger.With("component", "devicehub"))))
	outerMux.Handle("GET /device/agent/status", deviceReadAuth(http.HandlerFunc(s.agentH.Status)))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerSessionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/change-password", s.authH.ChangePassword)

	// API keys
	mux.HandleFunc("POST /api/keys", s.apiKeyH.Create)
	mux.HandleFunc("GET /api/keys", s.apiKeyH.List)
	mux.HandleFunc("DELETE /api/keys/{id}", s.apiKeyH.Revoke)

	// Webhook subscriptions
	mux.HandleFunc("GET /api/webhooks/events", s.webhookH.Events)
	mux.HandleFunc("POST /api/webhooks", s.webhookH.Create)
	mux.HandleFunc("GET /api/webhooks", s.webhookH.List)
	mux.HandleFunc("PUT /api/webhooks/{id}/active", s.webhookH.SetActive)
	mux.HandleFunc("DELETE /api/webhooks/{id}", s.webhookH.Delete)
	mux.HandleFunc("POST /api/webhooks/{id}/test", s.webhookH.Test)
	mux.HandleFunc("GET /api/webhooks/{id}/deliveries", s.webhookH.Deliveries)

	// Billing
	mux.HandleFunc("GET /api/billing/subscription", s.billingH.GetSubscription)
	mux.HandleFunc("POST /api/billing/checkout", s.billingH.CreateCheckout)
	mux.HandleFunc("POST /api/billing/portal", s.billingH.CreatePortal)

	// Protection controls, proxied to the local agent
	mux.HandleFunc("GET /api/protection/status", s.agentH.Status)
	mux.HandleFunc("PUT /api/protection/games", s.agentH.SetGameBlocking)
	mux.HandleFunc("PUT /api/protection/dns", s.agentH.SetDNSBlocking)
	mux.HandleFunc("PUT /api/protection/browser", s.agentH.SetBrowserBlocking)
	mux.HandleFunc("PUT /api/protection/firewall", s.agentH.SetFirewall)

	// Admin
	mux.Handle("GET /api/admin/accounts/{id}", middleware.RequireAdmin(http.HandlerFunc(s.adminH.GetAccount)))
	mux.Handle("PUT /api/admin/accounts/{id}/active", middleware.RequireAdmin(http.HandlerFunc(s.adminH.SetAccountActive)))
}
