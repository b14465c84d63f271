package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ledgerkeep/ledgerkeep-api/internal/auth"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncx"
)

// Pull handles GET /v1/sync/pull?entityTypes=<csv>&since=<n>&includeDeleted=<bool>
// Returns every change newer than the cursor plus the snapshot's logical time,
// which the client uses as its next since value.
func (s *Server) Pull(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantID(r.Context())
	ctx := r.Context()

	since, ok := syncx.ParseSince(r.URL.Query().Get("since"))
	if !ok {
		writeError(w, r, 400, "invalid since cursor")
		return
	}

	var types []syncd.EntityType
	for _, t := range syncx.ParseEntityTypes(r.URL.Query().Get("entityTypes")) {
		types = append(types, syncd.EntityType(t))
	}

	req := syncd.PullRequest{
		Types:          types,
		Since:          since,
		IncludeDeleted: r.URL.Query().Get("includeDeleted") == "true",
	}

	resp, err := s.Sync.Pull(ctx, tenantID, req)
	if err != nil {
		s.engineError(w, r, err, "pull failed")
		return
	}

	log.Ctx(ctx).Debug().
		Int64("since", since).
		Int64("cursor", resp.Cursor).
		Int("changes", len(resp.Changes)).
		Msg("pull delta computed")

	writeJSON(w, 200, resp)
}
