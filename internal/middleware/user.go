package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/z-tavern/rpg/pkg/utils"
)

// UserHeader carries the caller id set by the fronting auth proxy.
const UserHeader = "X-User-ID"

type userKey struct{}

// RequireUser rejects requests without a user id and stores it on the
// context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if id == "" {
			utils.RespondError(w, http.StatusUnauthorized, "missing user id")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), id)))
	})
}

// WithUser returns a context carrying the user id.
func WithUser(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// UserID returns the user id stored by RequireUser.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
