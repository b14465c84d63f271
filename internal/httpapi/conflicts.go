package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ledgerkeep/ledgerkeep-api/internal/auth"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd"
)

// conflictsResp wraps the pending conflict list.
type conflictsResp struct {
	Conflicts []syncd.ConflictRecord `json:"conflicts"`
}

// ListConflicts handles GET /v1/sync/conflicts: the tenant's pending
// conflicts, for the client's resolution UI.
func (s *Server) ListConflicts(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r.Context())

	conflicts, err := s.Sync.PendingConflicts(r.Context(), tenantID)
	if err != nil {
		s.engineError(w, r, err, "failed to list conflicts")
		return
	}

	writeJSON(w, 200, conflictsResp{Conflicts: conflicts})
}

// GetConflict handles GET /v1/sync/conflicts/{syncQueueId}: one conflict by
// id, resolved or not, for audit views.
func (s *Server) GetConflict(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "syncQueueId"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, 400, "invalid syncQueueId")
		return
	}

	c, err := s.Sync.Conflict(r.Context(), tenantID, id)
	if err != nil {
		s.engineError(w, r, err, "failed to load conflict")
		return
	}

	writeJSON(w, 200, c)
}

// resolveReq is the body for POST /v1/sync/conflicts/resolve.
type resolveReq struct {
	SyncQueueID   int64            `json:"syncQueueId"`
	Resolution    syncd.Resolution `json:"resolution"`
	MergedPayload map[string]any   `json:"mergedPayload,omitempty"`
}

// ResolveConflict handles POST /v1/sync/conflicts/resolve: applies one of the
// three strategies to a pending conflict and returns the updated record.
func (s *Server) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r.Context())
	ctx := r.Context()

	var req resolveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("invalid resolve request body")
		writeError(w, r, 400, "invalid json")
		return
	}
	if req.SyncQueueID <= 0 {
		writeError(w, r, 400, "missing syncQueueId")
		return
	}

	resolved, err := s.Sync.Resolve(ctx, tenantID, req.SyncQueueID, req.Resolution, req.MergedPayload)
	if err != nil {
		s.engineError(w, r, err, "failed to resolve conflict")
		return
	}

	writeJSON(w, 200, resolved)
}
