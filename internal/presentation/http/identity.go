package httppresentation

import (
	"context"
	"net/http"
	"strings"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application/fulfillment"
)

// Identity is resolved upstream; this service only trusts these headers.
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

type actorKey struct{}

func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerUserID))
		if id == "" {
			respondWithError(w, http.StatusUnauthorized, "authentication required", nil)
			return
		}
		role := fulfillment.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(headerUserRole))))
		switch role {
		case fulfillment.RoleBuyer, fulfillment.RoleSupplier, fulfillment.RoleAdmin, fulfillment.RoleSales:
		default:
			respondWithError(w, http.StatusUnauthorized, "unknown or missing role", nil)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, fulfillment.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r.Context()).IsAdmin() {
			respondWithError(w, http.StatusForbidden, "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorFrom(ctx context.Context) fulfillment.Actor {
	a, _ := ctx.Value(actorKey{}).(fulfillment.Actor)
	return a
}
