package authz

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rolegate/rolegate/internal/rbac"
)

// sessionCookie is the fallback token location used by provider browser SDKs.
const sessionCookie = "__session"

// Middleware gates routes on mirrored role claims. Two tiers: top-level
// admin routes require the super role, sub-admin routes require the admin
// role named by the route's type segment.
type Middleware struct {
	Verifier TokenVerifier
	Logger   *slog.Logger
}

// Authenticate verifies the session token and stores the resulting claims in
// the request context. Requests without a verifiable token are rejected.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		claims, err := m.Verifier.Verify(r.Context(), raw)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Warn("session verification failed", slog.Any("error", err))
			}
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

// RequireSuper admits only holders of the super role.
func (m Middleware) RequireSuper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || !HasRole(claims.Roles, rbac.SuperRoleName) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdminType admits only holders of an admin role whose name matches
// the route's {type} segment.
func (m Middleware) RequireAdminType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminType := chi.URLParam(r, "type")
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || adminType == "" || !HasAdminRole(claims.Roles, adminType) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
