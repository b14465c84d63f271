package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ledgerkeep/ledgerkeep-api/internal/auth"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd"
)

// pushReq is the request body for POST /v1/sync/push. lastSyncTimestamp is an
// advisory client hint; conflict decisions never consult it.
type pushReq struct {
	Items             []syncd.SyncItem `json:"items"`
	LastSyncTimestamp int64            `json:"lastSyncTimestamp,omitempty"`
}

// pushResp carries one outcome per submitted item, in submission order.
type pushResp struct {
	Results []syncd.ItemResult `json:"results"`
}

// Push handles POST /v1/sync/push: reconciles a batch of offline mutations
// against server state. Per-item problems become per-item outcomes; only a
// store outage fails the batch as a whole.
func (s *Server) Push(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r.Context())
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var req pushReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn().Err(err).Msg("invalid push request body")
		writeError(w, r, 400, "invalid json")
		return
	}

	results, err := s.Sync.Push(ctx, tenantID, req.Items)
	if err != nil {
		s.engineError(w, r, err, "push failed")
		return
	}

	logger.Info().
		Int("items", len(req.Items)).
		Msg("push batch processed")

	writeJSON(w, 200, pushResp{Results: results})
}

// engineError maps engine errors onto HTTP statuses.
func (s *Server) engineError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	logger := log.Ctx(r.Context())

	var ve *syncd.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, r, http.StatusBadRequest, ve.Reason)
	case errors.Is(err, syncd.ErrConflictNotFound):
		writeError(w, r, http.StatusNotFound, "conflict not found")
	case errors.Is(err, syncd.ErrAlreadyResolved):
		writeError(w, r, http.StatusConflict, "conflict already resolved")
	case errors.Is(err, syncd.ErrStoreUnavailable):
		logger.Error().Err(err).Msg("store unavailable")
		writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
	default:
		logger.Error().Err(err).Msg(fallback)
		writeError(w, r, http.StatusInternalServerError, fallback)
	}
}
