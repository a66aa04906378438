// Package server assembles the clearing API: HTTP routes, the middleware
// chain, and the WebSocket event hub.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/metrics"
	"github.com/alanyoungcy/clearinghouse/internal/server/handler"
	"github.com/alanyoungcy/clearinghouse/internal/server/middleware"
	"github.com/alanyoungcy/clearinghouse/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// MatcherSecrets maps matcher addresses to their HMAC secrets for the
	// settlement endpoints.
	MatcherSecrets map[common.Address]string

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Settlements *handler.SettlementHandler
	Orders      *handler.OrderHandler
	Claims      *handler.ClaimHandler
	Vault       *handler.VaultHandler
	Markets     *handler.MarketHandler
	Admin       *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the clearing engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Matcher settlement
// routes sit behind HMAC authentication; everything else under /api requires
// the API key. Health and metrics stay open for probes and scrapes.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, m *metrics.Metrics, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	api := http.NewServeMux()

	// Order endpoints.
	api.HandleFunc("POST /api/orders/cancel", handlers.Orders.CancelOrder)
	api.HandleFunc("POST /api/orders/hash", handlers.Orders.HashOrder)
	api.HandleFunc("GET /api/orders/{hash}", handlers.Orders.GetOrder)
	api.HandleFunc("GET /api/fills", handlers.Orders.ListFills)

	// Claim endpoints.
	api.HandleFunc("POST /api/claims", handlers.Claims.Claim)
	api.HandleFunc("POST /api/claims/batch", handlers.Claims.BatchClaim)
	api.HandleFunc("GET /api/claims", handlers.Claims.ListClaims)

	// Vault endpoints.
	api.HandleFunc("GET /api/vault/locked/{condition}", handlers.Vault.GetLocked)
	api.HandleFunc("GET /api/vault/{user}", handlers.Vault.GetBalance)
	api.HandleFunc("POST /api/vault/deposit", handlers.Vault.Deposit)
	api.HandleFunc("POST /api/vault/withdraw", handlers.Vault.Withdraw)

	// Market endpoints.
	api.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	api.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)

	// Admin endpoints.
	api.HandleFunc("PUT /api/admin/fees", handlers.Admin.SetFees)
	api.HandleFunc("PUT /api/admin/treasury", handlers.Admin.SetTreasury)
	api.HandleFunc("PUT /api/admin/matchers", handlers.Admin.SetMatchers)
	api.HandleFunc("PUT /api/admin/inventory", handlers.Admin.SetInventoryHolders)
	api.HandleFunc("PUT /api/admin/pause", handlers.Admin.SetPause)
	api.HandleFunc("POST /api/admin/resolve", handlers.Admin.Resolve)
	api.HandleFunc("POST /api/admin/markets", handlers.Admin.CreateMarket)
	api.HandleFunc("POST /api/admin/markets/{id}/close", handlers.Admin.CloseMarket)
	api.HandleFunc("POST /api/admin/markets/{id}/epoch", handlers.Admin.AdvanceEpoch)

	// WebSocket endpoint.
	if wsHub != nil {
		api.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	root := http.NewServeMux()

	// Health and metrics bypass API-key auth so probes and scrapes work
	// without credentials.
	root.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if m != nil {
		root.Handle("GET /metrics", m.Handler())
	}

	// Settlement endpoints authenticate the matcher by HMAC signature, not
	// by API key.
	matcherAuth := middleware.MatcherAuth(func(addr common.Address) (string, bool) {
		secret, ok := cfg.MatcherSecrets[addr]
		return secret, ok
	}, nil)
	root.Handle("POST /api/settlements/matched", matcherAuth(http.HandlerFunc(handlers.Settlements.SettleMatched)))
	root.Handle("POST /api/settlements/inventory", matcherAuth(http.HandlerFunc(handlers.Settlements.SettleInventory)))

	// Everything else requires the API key.
	root.Handle("/", middleware.Auth(cfg.APIKey)(api))

	// Build the outer middleware chain.
	var h http.Handler = root
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	if m != nil {
		h = middleware.Metrics(m)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
