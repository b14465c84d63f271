package httpapi

import (
	"net/http"

	"github.com/ledgerkeep/ledgerkeep-api/internal/auth"
)

// Status handles GET /v1/sync/status
//
// Returns:
// - pendingConflicts: conflicts awaiting resolution
// - lastCursor: the tenant's current logical clock value
//
// Clients poll this to decide whether a pull or a visit to the resolution UI
// is needed without running a full sync.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r.Context())

	info, err := s.Sync.Status(r.Context(), tenantID)
	if err != nil {
		s.engineError(w, r, err, "failed to load sync status")
		return
	}

	writeJSON(w, http.StatusOK, info)
}
