package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ledgerkeep/ledgerkeep-api/internal/auth"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd/memstore"
)

// newTestRouter builds a memstore-backed server with DevMode auth, so tests
// authenticate with the X-Debug-Tenant header instead of minting JWTs.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	srv := &Server{
		Sync:            syncd.New(memstore.New()),
		RateLimitConfig: DefaultRateLimitConfig,
	}
	return srv.Routes(auth.JWTCfg{HS256Secret: "test-secret", DevMode: true})
}

// doJSON issues a request as the given tenant and decodes the JSON response
// into out (when out is non-nil). Returns the recorder for header/status
// assertions.
func doJSON(t *testing.T, router http.Handler, method, path, tenant string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Debug-Tenant", tenant)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("decode response body: %v", err)
		}
	}
	return rec
}

// pushItems pushes a batch and fails the test unless every item comes back
// with the expected outcome.
func pushItems(t *testing.T, router http.Handler, tenant string, items ...syncd.SyncItem) []syncd.ItemResult {
	t.Helper()

	var resp pushResp
	rec := doJSON(t, router, "POST", "/v1/sync/push", tenant, pushReq{Items: items}, &resp)
	if rec.Code != 200 {
		t.Fatalf("push: got status %d, body %s", rec.Code, rec.Body.String())
	}
	if len(resp.Results) != len(items) {
		t.Fatalf("push: got %d results for %d items", len(resp.Results), len(items))
	}
	return resp.Results
}

func vendorItem(localID, action string) syncd.SyncItem {
	return syncd.SyncItem{
		LocalID:    localID,
		EntityType: syncd.EntityVendor,
		Action:     syncd.Action(action),
		Payload:    map[string]any{"name": "Acme Supplies"},
	}
}
