package httpapi

import (
	"net/http"

	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncx"
)

// ServerInfo represents the server's capabilities and configuration
type ServerInfo struct {
	APIVersion  string             `json:"apiVersion"`
	ServerTime  string             `json:"serverTime"`
	EntityTypes []syncd.EntityType `json:"entityTypes"`
	Resolutions []syncd.Resolution `json:"resolutions"`
	RateLimit   *RateLimitInfo     `json:"rateLimit,omitempty"`
	Hints       *SyncHints         `json:"hints,omitempty"`
}

// RateLimitInfo describes the server's rate limiting policy
type RateLimitInfo struct {
	WindowSeconds int `json:"windowSeconds"` // e.g. 60
	MaxRequests   int `json:"maxRequests"`   // per window
	Burst         int `json:"burst"`         // token bucket size
}

// SyncHints provides recommendations for client behavior
type SyncHints struct {
	RecommendedBatch int `json:"recommendedBatch"` // safe batch size
	BackoffMsOn429   int `json:"backoffMsOn429"`   // default backoff if Retry-After missing
}

// Info handles GET /v1/sync/info
// Returns server capabilities, API version, and supported features
// This endpoint can be called without authentication to allow capability discovery
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	info := ServerInfo{
		APIVersion:  "v1",
		ServerTime:  syncx.RFC3339(syncx.NowMs()),
		EntityTypes: syncd.AllEntityTypes(),
		Resolutions: []syncd.Resolution{
			syncd.ResolutionKeepLocal,
			syncd.ResolutionKeepServer,
			syncd.ResolutionMerge,
		},
		Hints: &SyncHints{
			RecommendedBatch: 100,
			BackoffMsOn429:   2000,
		},
	}
	if s.RateLimitConfig.MaxRequests > 0 {
		cfg := s.RateLimitConfig
		info.RateLimit = &cfg
	}

	writeJSON(w, http.StatusOK, info)
}
