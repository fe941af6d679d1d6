/*
Package handler provides the HTTP handler function for live channel upgrading and admission.

The connection is always upgraded first; a refused admission is then reported with a
close frame carrying a code that tells "unauthenticated" apart from "no active tour".
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"ultramedic/internal/app/dispatch"
	"ultramedic/internal/pkg/auth/jwt"
	"ultramedic/internal/pkg/errs"
	"ultramedic/internal/pkg/limiter"
	"ultramedic/internal/pkg/logx"
	"ultramedic/internal/pkg/resp"
)

// HandleLiveChannel serves GET /ws/emergency (own tour) and
// GET /ws/emergency/{userID} (observe another user's tour).
func HandleLiveChannel(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r) {
			logx.Warn("Live channel rejected: Rate limit exceeded.", "ip", limiter.ClientIP(r))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		ownerID := chi.URLParam(r, "userID")
		adm, admitErr := deps.Dispatch.Admit(r.Context(), jwt.TokenFromRequest(r), ownerID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		if admitErr != nil {
			logx.Info("Live channel refused.", "code", admitErr.Code, "owner_id", ownerID)
			dispatch.Reject(conn, dispatch.CloseCodeFor(admitErr), admitErr.Message)
			return
		}

		logx.Info("Live channel established.", "user_id", adm.User.ID, "tour_key", adm.TourKey)
		deps.Dispatch.ServeLive(conn, adm)
	}
}
