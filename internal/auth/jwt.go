// Package auth resolves the tenant identity for a request. Token issuance and
// tenant provisioning belong to an external identity collaborator; this
// package only verifies tokens and threads the tenant id through context.
package auth

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const CtxTenantID ctxKey = "tenantId"

// JWTCfg holds JWT authentication configuration
type JWTCfg struct {
	HS256Secret string // HMAC secret for HS256 tokens
	DevMode     bool   // Allow X-Debug-Tenant header (DANGEROUS: only for local dev)
}

// Middleware creates HTTP middleware that authenticates the tenant.
// Supports two modes:
// 1. Production: Bearer token with JWT validation; tenant comes from the
//    "tid" claim, falling back to "sub" for tokens minted per tenant.
// 2. Development: X-Debug-Tenant header (ONLY when DevMode=true)
func Middleware(cfg JWTCfg) func(http.Handler) http.Handler {
	if cfg.DevMode {
		log.Warn().Msg("SECURITY WARNING: DevMode enabled - X-Debug-Tenant header will bypass JWT authentication")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract token from Authorization header
			tok := ""
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				tok = h[7:]
			}

			tenantID := ""

			// Development mode: accept X-Debug-Tenant ONLY if DevMode is enabled and no token present
			if cfg.DevMode && tok == "" {
				tenantID = r.Header.Get("X-Debug-Tenant")
				if tenantID != "" {
					log.Debug().Str("tenantId", tenantID).Msg("using X-Debug-Tenant header (dev mode)")
				}
			}

			if tok != "" {
				claims := jwt.MapClaims{}
				t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
					// Verify signing method
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(cfg.HS256Secret), nil
				})

				if err != nil || !t.Valid {
					log.Warn().Err(err).Msg("jwt validation failed")
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}

				if s, ok := claims["tid"].(string); ok && s != "" {
					tenantID = s
				} else if s, ok := claims["sub"].(string); ok {
					tenantID = s
				}
			}

			if tenantID == "" {
				log.Warn().Msg("missing tenant (no JWT tid/sub or X-Debug-Tenant header)")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), CtxTenantID, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantID extracts the authenticated tenant ID from request context.
// Returns empty string if not authenticated (should never happen after middleware)
func TenantID(ctx context.Context) string {
	if v := ctx.Value(CtxTenantID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
