package middleware

import (
	"context"
	"net/http"

	"propledger/internal/store"
)

type AdminStore interface {
	Access(ctx context.Context, userID string) (store.AdminAccess, error)
}

// RequireAdmin must run after Auth. An empty role admits any admin; super
// admins pass every role.
func RequireAdmin(adminStore AdminStore, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			access, err := adminStore.Access(r.Context(), userID)
			switch {
			case err != nil:
				deny(w, http.StatusInternalServerError, "unable to verify admin")
			case !access.IsAdmin:
				deny(w, http.StatusForbidden, "admin privileges required")
			case !access.Allows(role):
				deny(w, http.StatusForbidden, "missing required role")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
