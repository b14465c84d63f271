package httpapi

import (
	"testing"

	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd"
)

func TestStatusEndpoint(t *testing.T) {
	router := newTestRouter(t)

	var status syncd.StatusInfo
	rec := doJSON(t, router, "GET", "/v1/sync/status", "tenant-a", nil, &status)
	if rec.Code != 200 {
		t.Fatalf("status: %d", rec.Code)
	}
	if status.PendingConflicts != 0 || status.LastCursor != 0 {
		t.Fatalf("fresh tenant status = %+v, want zeroes", status)
	}

	pushItems(t, router, "tenant-a", vendorItem("l1", "create"))
	makeConflict(t, router, "tenant-b")

	doJSON(t, router, "GET", "/v1/sync/status", "tenant-a", nil, &status)
	if status.LastCursor != 1 {
		t.Errorf("lastCursor = %d, want 1", status.LastCursor)
	}
	if status.PendingConflicts != 0 {
		t.Errorf("tenant-a sees tenant-b's conflicts: %d", status.PendingConflicts)
	}

	doJSON(t, router, "GET", "/v1/sync/status", "tenant-b", nil, &status)
	if status.PendingConflicts != 1 {
		t.Errorf("tenant-b pendingConflicts = %d, want 1", status.PendingConflicts)
	}
}

func TestInfoEndpoint(t *testing.T) {
	router := newTestRouter(t)

	// Unauthenticated on purpose: clients discover capabilities before login.
	var info ServerInfo
	rec := doJSON(t, router, "GET", "/v1/sync/info", "", nil, &info)
	if rec.Code != 200 {
		t.Fatalf("info: status %d", rec.Code)
	}
	if info.APIVersion != "v1" {
		t.Errorf("apiVersion = %q, want v1", info.APIVersion)
	}
	if len(info.EntityTypes) != 4 {
		t.Errorf("entityTypes = %v, want 4 types", info.EntityTypes)
	}
	if len(info.Resolutions) != 3 {
		t.Errorf("resolutions = %v, want 3 strategies", info.Resolutions)
	}
	if info.RateLimit == nil || info.RateLimit.MaxRequests != DefaultRateLimitConfig.MaxRequests {
		t.Errorf("rateLimit = %+v", info.RateLimit)
	}
	if info.Hints == nil || info.Hints.RecommendedBatch <= 0 {
		t.Errorf("hints = %+v", info.Hints)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "GET", "/healthz", "", nil, nil)
	if rec.Code != 200 {
		t.Fatalf("healthz: status %d", rec.Code)
	}
}
