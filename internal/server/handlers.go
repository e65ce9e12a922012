package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/loopphones/loop/internal/auth"
	"github.com/loopphones/loop/internal/model"
	"github.com/loopphones/loop/internal/service/analysis"
	"github.com/loopphones/loop/internal/service/grading"
	"github.com/loopphones/loop/internal/service/lifecycle"
	"github.com/loopphones/loop/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	analysisSvc         *analysis.Service
	grader              *grading.Engine
	tracker             *lifecycle.Tracker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	mqttEnabled         bool
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	AnalysisSvc         *analysis.Service
	Grader              *grading.Engine
	Tracker             *lifecycle.Tracker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	MQTTEnabled         bool
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		analysisSvc:         d.AnalysisSvc,
		grader:              d.Grader,
		tracker:             d.Tracker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		mqttEnabled:         d.MQTTEnabled,
	}
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ClientID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "client_id and api_key are required")
		return
	}

	client, err := h.db.GetClientByClientID(r.Context(), req.ClientID)
	if err != nil || client.APIKeyHash == nil {
		// Burn the same hashing cost as a real verification so response
		// timing does not reveal whether the client_id exists.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, *client.APIKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(client)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleCreateClient handles POST /v1/clients (admin-only).
func (h *Handlers) HandleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req model.CreateClientRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateClientID(req.ClientID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	switch req.Role {
	case model.RoleAdmin, model.RoleIngest, model.RoleReader:
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "role must be admin, ingest, or reader")
		return
	}
	if len(req.APIKey) < 16 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key must be at least 16 characters")
		return
	}

	hash, err := auth.HashAPIKey(req.APIKey)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash API key", err)
		return
	}

	client, err := h.db.CreateClient(r.Context(), model.Client{
		ClientID:   req.ClientID,
		Name:       req.Name,
		Role:       req.Role,
		APIKeyHash: &hash,
	})
	if err != nil {
		if isConflict(err) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "client already exists: "+req.ClientID)
			return
		}
		h.writeInternalError(w, r, "failed to create client", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, client)
}

// HandleStats handles GET /v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Stats(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to load stats", err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	resp := model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	}
	if h.mqttEnabled {
		resp.Ingest = "running"
	}

	writeJSON(w, r, httpStatus, resp)
}

// SeedAdmin creates the initial admin client if the clients table is empty.
func (h *Handlers) SeedAdmin(ctx context.Context, clientID, apiKey string) error {
	count, err := h.db.CountClients(ctx)
	if err != nil {
		return fmt.Errorf("seed admin: count clients: %w", err)
	}

	if apiKey == "" {
		if count == 0 {
			return fmt.Errorf("seed admin: LOOP_ADMIN_API_KEY is empty and no clients exist; set LOOP_ADMIN_API_KEY to bootstrap initial admin access")
		}
		h.logger.Info("no admin API key configured, skipping admin seed", "existing_clients", count)
		return nil
	}
	if count > 0 {
		h.logger.Info("clients table not empty, skipping admin seed")
		return nil
	}

	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash key: %w", err)
	}

	if _, err := h.db.CreateClient(ctx, model.Client{
		ClientID:   clientID,
		Name:       "Platform Admin",
		Role:       model.RoleAdmin,
		APIKeyHash: &hash,
	}); err != nil {
		return fmt.Errorf("seed admin: create client: %w", err)
	}

	h.logger.Info("seeded initial admin client", "client_id", clientID)
	return nil
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// --- Shared helpers ---

func isNotFound(err error) bool { return errors.Is(err, storage.ErrNotFound) }
func isConflict(err error) bool { return errors.Is(err, storage.ErrConflict) }

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// maxQueryOffset prevents absurdly large offset values that cause expensive sequential scans.
const maxQueryOffset = 100_000

// queryOffset returns a bounded, non-negative offset from query params.
func queryOffset(r *http.Request) int {
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		return 0
	}
	if offset > maxQueryOffset {
		return maxQueryOffset
	}
	return offset
}

// queryLimit returns a bounded limit value from query params.
// Values are clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	limit := queryInt(r, "limit", defaultVal)
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC3339 format (e.g. 2024-01-01T00:00:00Z)", key)
	}
	return &t, nil
}
