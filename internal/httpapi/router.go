package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/ledgerkeep/ledgerkeep-api/internal/auth"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Sync            *syncd.Engine
	RateLimitConfig RateLimitInfo
}

// DefaultRateLimitConfig allows bursty interactive sync clients while keeping
// the long-term rate bounded.
var DefaultRateLimitConfig = RateLimitInfo{
	WindowSeconds: 60,
	MaxRequests:   600,
	Burst:         120,
}

// errorResponse is the uniform error body for non-2xx responses
type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError writes a JSON error body carrying the request's correlation id
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorResponse{
		Error:         msg,
		CorrelationID: GetCorrelationID(r.Context()),
	})
}

// Routes creates the HTTP router with all sync endpoints
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorrelationMiddleware)

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	// Capability discovery (unauthenticated)
	r.Get("/v1/sync/info", s.Info)

	// All sync endpoints require an authenticated tenant
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(jwt))
		r.Use(RateLimitMiddleware(s.RateLimitConfig))

		r.Post("/v1/sync/push", s.Push)
		r.Get("/v1/sync/pull", s.Pull)
		r.Get("/v1/sync/conflicts", s.ListConflicts)
		r.Get("/v1/sync/conflicts/{syncQueueId}", s.GetConflict)
		r.Post("/v1/sync/conflicts/resolve", s.ResolveConflict)
		r.Get("/v1/sync/status", s.Status)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
