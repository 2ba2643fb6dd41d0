package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/stockroom/internal/apperr"
	"github.com/wolfeidau/stockroom/internal/tenant"
)

// TenantHeader is consulted when the request carries no tenant claim.
const TenantHeader = "X-Tenant-ID"

// Principal is the caller a request is attributed to.
type Principal struct {
	Subject  string
	TenantID uuid.UUID
	// Source is "token", "header" or "admin".
	Source string
}

type contextKey int

const (
	principalContextKey contextKey = iota
)

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the principal of the request, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}

// Actor returns the identity to record in audit fields, or "" when the
// request is anonymous.
func Actor(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.Subject
	}
	return ""
}

// TenantMiddleware resolves the tenant of every request before any handler
// runs. A verified bearer token's tenant_id claim wins; otherwise the
// X-Tenant-ID header is used. Each request gets its own tenant.Context. It is
// left unbound only for a verified token without a tenant claim; a request
// naming no tenant at all is rejected with 401. A nil verifier rejects
// requests that present a token.
func TenantMiddleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := resolve(v, r)
			if err != nil {
				log.Ctx(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Msg("Failed to resolve request tenant")
				writeError(w, err)
				return
			}

			tc := tenant.New()
			if principal.TenantID != uuid.Nil {
				if err := tc.Set(principal.TenantID); err != nil {
					writeError(w, err)
					return
				}
			}

			ctx := tenant.WithContext(r.Context(), tc)
			ctx = WithPrincipal(ctx, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolve(v *Verifier, r *http.Request) (*Principal, error) {
	principal := &Principal{}
	verified := false

	headerTenant, err := parseTenant(r.Header.Get(TenantHeader))
	if err != nil {
		return nil, err
	}

	if tokenString := extractBearerToken(r); tokenString != "" {
		if v == nil {
			return nil, apperr.Unauthorized()
		}
		claims, err := v.Verify(tokenString)
		if err != nil {
			log.Debug().Err(err).Msg("JWT verification failed")
			return nil, apperr.Unauthorized()
		}
		principal.Subject = claims.Subject
		verified = true

		claimTenant, err := parseTenant(claims.TenantID)
		if err != nil {
			return nil, err
		}
		if claimTenant != uuid.Nil {
			if headerTenant != uuid.Nil && headerTenant != claimTenant {
				return nil, apperr.Forbidden("tenant header does not match the token")
			}
			principal.TenantID = claimTenant
			principal.Source = "token"
			return principal, nil
		}
	}

	switch {
	case headerTenant != uuid.Nil:
		principal.TenantID = headerTenant
		principal.Source = "header"
	case verified:
		// unscoped token: administrative access with no tenant bound
		principal.Source = "admin"
	default:
		return nil, apperr.Unauthorized()
	}
	return principal, nil
}

func parseTenant(value string) (uuid.UUID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, apperr.Validation("invalid_tenant", "tenant id must be a non-nil UUID")
	}
	return id, nil
}

func writeError(w http.ResponseWriter, err error) {
	msg := http.StatusText(http.StatusInternalServerError)
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg = ae.Error()
	}
	http.Error(w, msg, apperr.HTTPStatus(err))
}

// extractBearerToken extracts the JWT from the Authorization header.
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}
