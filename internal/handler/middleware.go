package handler

import (
	"net/http"

	"ultramedic/internal/app/user"
	"ultramedic/internal/pkg/auth/jwt"
	"ultramedic/internal/pkg/errs"
	"ultramedic/internal/pkg/resp"
)

// RequireUser authenticates the bearer token and stores the user in the
// request context. Requests without a valid token get ErrUnauthenticated.
func RequireUser(deps *AppDeps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, authErr := deps.Guard.Authenticate(r.Context(), jwt.TokenFromRequest(r))
			if authErr != nil {
				resp.RespondError(w, r, authErr)
				return
			}

			next.ServeHTTP(w, r.WithContext(user.WithUser(r.Context(), u)))
		})
	}
}

// currentUser returns the user set by RequireUser. It responds with
// ErrUnauthenticated and returns nil when the route was not wrapped.
func currentUser(w http.ResponseWriter, r *http.Request) *user.User {
	u, ok := user.FromContext(r.Context())
	if !ok {
		resp.RespondError(w, r, errs.NewError(errs.ErrUnauthenticated))
		return nil
	}
	return u
}
