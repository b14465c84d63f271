package httpapi

import (
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ledgerkeep/ledgerkeep-api/internal/auth"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd"
	"github.com/ledgerkeep/ledgerkeep-api/internal/syncd/memstore"
)

func restrictiveRouter(burst int) *Server {
	return &Server{
		Sync: syncd.New(memstore.New()),
		RateLimitConfig: RateLimitInfo{
			WindowSeconds: 60,
			MaxRequests:   10,
			Burst:         burst,
		},
	}
}

func TestRateLimiting_429Response(t *testing.T) {
	srv := restrictiveRouter(2)
	router := srv.Routes(auth.JWTCfg{HS256Secret: "test-secret", DevMode: true})

	// Burst is 2: the first two requests pass, the third gets 429 with a
	// Retry-After hint.
	for i := 1; i <= 3; i++ {
		req := httptest.NewRequest("GET", "/v1/sync/status", nil)
		req.Header.Set("X-Debug-Tenant", "tenant-a")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "X-RateLimit-Burst"} {
			if rec.Header().Get(h) == "" {
				t.Errorf("request %d: %s header missing", i, h)
			}
		}

		if i <= 2 {
			if rec.Code != 200 {
				t.Fatalf("request %d: status %d, want 200", i, rec.Code)
			}
			continue
		}

		if rec.Code != 429 {
			t.Fatalf("request %d: status %d, want 429", i, rec.Code)
		}
		retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
		if err != nil || retryAfter < 1 {
			t.Errorf("Retry-After = %q, want a positive integer", rec.Header().Get("Retry-After"))
		}
	}
}

func TestRateLimiting_PerTenantBuckets(t *testing.T) {
	srv := restrictiveRouter(1)
	router := srv.Routes(auth.JWTCfg{HS256Secret: "test-secret", DevMode: true})

	drain := func(tenant string) int {
		req := httptest.NewRequest("GET", "/v1/sync/status", nil)
		req.Header.Set("X-Debug-Tenant", tenant)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := drain("tenant-a"); code != 200 {
		t.Fatalf("tenant-a first request: %d", code)
	}
	if code := drain("tenant-a"); code != 429 {
		t.Fatalf("tenant-a second request: %d, want 429", code)
	}
	// An exhausted tenant-a bucket must not affect tenant-b.
	if code := drain("tenant-b"); code != 200 {
		t.Fatalf("tenant-b blocked by tenant-a's bucket: %d", code)
	}
}

func TestTokenBucketRefill(t *testing.T) {
	// 100 tokens/second so the refill is observable without a slow test.
	tb := NewTokenBucket(1, 100)

	if ok, _, _, _ := tb.Allow(); !ok {
		t.Fatal("fresh bucket denied")
	}
	if ok, _, _, _ := tb.Allow(); ok {
		t.Fatal("empty bucket allowed")
	}

	time.Sleep(50 * time.Millisecond)

	if ok, _, _, _ := tb.Allow(); !ok {
		t.Fatal("bucket did not refill")
	}
}

func TestTokenBucketCapacityClamp(t *testing.T) {
	tb := NewTokenBucket(2, 1)
	time.Sleep(20 * time.Millisecond)

	// However long the idle period, the bucket never exceeds capacity.
	allowed := 0
	for i := 0; i < 5; i++ {
		if ok, _, _, _ := tb.Allow(); ok {
			allowed++
		}
	}
	if allowed > 2 {
		t.Fatalf("bucket allowed %d requests, capacity is 2", allowed)
	}
}
