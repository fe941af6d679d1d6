package handler

import (
	"net/http"
	"time"

	"ultramedic/internal/pkg/resp"
)

// HandleGetMe returns the profile and capabilities of the caller.
func HandleGetMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(w, r)
		if u == nil {
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"id":           u.ID,
			"username":     u.Username,
			"email":        u.Email,
			"capabilities": u.Capabilities().Names(),
			"created_at":   u.CreatedAt.Format(time.RFC3339),
		})
	}
}
