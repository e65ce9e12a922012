package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loopphones/loop/internal/auth"
	"github.com/loopphones/loop/internal/model"
	"github.com/loopphones/loop/internal/ratelimit"
	"github.com/loopphones/loop/internal/service/analysis"
	"github.com/loopphones/loop/internal/service/grading"
	"github.com/loopphones/loop/internal/service/lifecycle"
	"github.com/loopphones/loop/internal/storage"
)

// Server is the loop HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Limiter is optional; nil disables rate limiting.
type ServerConfig struct {
	// Required dependencies.
	DB          *storage.DB
	JWTMgr      *auth.JWTManager
	AnalysisSvc *analysis.Service
	Grader      *grading.Engine
	Tracker     *lifecycle.Tracker
	Logger      *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter *ratelimit.Limiter

	// Rate limit budgets, requests per minute. Zero values fall back to
	// defaults.
	AuthRateLimit   int
	IngestRateLimit int
	APIRateLimit    int

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	MQTTEnabled         bool
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		AnalysisSvc:         cfg.AnalysisSvc,
		Grader:              cfg.Grader,
		Tracker:             cfg.Tracker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MQTTEnabled:         cfg.MQTTEnabled,
	})

	authLimit := cfg.AuthRateLimit
	if authLimit <= 0 {
		authLimit = 10
	}
	ingestLimit := cfg.IngestRateLimit
	if ingestLimit <= 0 {
		ingestLimit = 600
	}
	apiLimit := cfg.APIRateLimit
	if apiLimit <= 0 {
		apiLimit = 300
	}

	// Rate limit rules. Auth is keyed by IP since callers are anonymous;
	// everything else is keyed by authenticated client.
	authRL := rateLimitMiddleware(cfg.Limiter, ratelimit.Rule{
		Prefix: "auth", Limit: authLimit, Window: time.Minute,
	}, ipKeyFunc)
	ingestRL := rateLimitMiddleware(cfg.Limiter, ratelimit.Rule{
		Prefix: "ingest", Limit: ingestLimit, Window: time.Minute,
	}, clientKeyFunc)
	apiRL := rateLimitMiddleware(cfg.Limiter, ratelimit.Rule{
		Prefix: "api", Limit: apiLimit, Window: time.Minute,
	}, clientKeyFunc)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Client management (admin-only, no rate limit — admin is exempt).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/clients", adminOnly(http.HandlerFunc(h.HandleCreateClient)))
	mux.Handle("DELETE /v1/devices/{device_id}", adminOnly(http.HandlerFunc(h.HandleDeleteDevice)))

	// Device registry and ingestion (ingest+, rate limited).
	writeRole := requireRole(model.RoleIngest)
	mux.Handle("POST /v1/devices", ingestRL(writeRole(http.HandlerFunc(h.HandleRegisterDevice))))
	mux.Handle("POST /v1/telemetry", ingestRL(writeRole(http.HandlerFunc(h.HandleIngestTelemetry))))
	mux.Handle("POST /v1/gradings", ingestRL(writeRole(http.HandlerFunc(h.HandleGradeDevice))))
	mux.Handle("POST /v1/passports", ingestRL(writeRole(http.HandlerFunc(h.HandleCreatePassport))))
	mux.Handle("POST /v1/passports/{passport_id}/events", ingestRL(writeRole(http.HandlerFunc(h.HandleRecordEvent))))

	// Analysis (full run writes gradings and price estimates, so ingest+).
	mux.Handle("POST /v1/analysis/{device_id}", apiRL(writeRole(http.HandlerFunc(h.HandleAnalyze))))

	// Query endpoints (reader+, rate limited).
	readRole := requireRole(model.RoleReader)
	mux.Handle("GET /v1/devices", apiRL(readRole(http.HandlerFunc(h.HandleListDevices))))
	mux.Handle("GET /v1/devices/{device_id}", apiRL(readRole(http.HandlerFunc(h.HandleGetDevice))))
	mux.Handle("GET /v1/devices/{device_id}/telemetry", apiRL(readRole(http.HandlerFunc(h.HandleTelemetryHistory))))
	mux.Handle("GET /v1/devices/{device_id}/telemetry/latest", apiRL(readRole(http.HandlerFunc(h.HandleLatestTelemetry))))
	mux.Handle("GET /v1/devices/{device_id}/gradings", apiRL(readRole(http.HandlerFunc(h.HandleGradingHistory))))
	mux.Handle("GET /v1/devices/{device_id}/gradings/latest", apiRL(readRole(http.HandlerFunc(h.HandleLatestGrading))))
	mux.Handle("GET /v1/devices/{device_id}/prices", apiRL(readRole(http.HandlerFunc(h.HandlePriceHistory))))
	mux.Handle("GET /v1/devices/{device_id}/passport", apiRL(readRole(http.HandlerFunc(h.HandleGetDevicePassport))))
	mux.Handle("GET /v1/passports/{passport_id}", apiRL(readRole(http.HandlerFunc(h.HandleGetPassport))))
	mux.Handle("GET /v1/analysis/{device_id}/health", apiRL(readRole(http.HandlerFunc(h.HandleAnalyzeHealth))))
	mux.Handle("GET /v1/analysis/{device_id}/recommendations", apiRL(readRole(http.HandlerFunc(h.HandleAnalyzeRecommendations))))
	mux.Handle("GET /v1/stats", apiRL(readRole(http.HandlerFunc(h.HandleStats))))

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// clientKeyFunc extracts the client ID from the request context for rate
// limiting. Returns empty string for admin clients (exempt from rate limits).
func clientKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return claims.ClientID
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
