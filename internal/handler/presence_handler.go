/*
Package handler provides HTTP handler functions for presence heartbeats.

Heartbeats are idempotent, carry no body, and take the user identity from the
caller's authenticated context. The decaying online state itself is maintained
by the presence tracker's background sweep.
*/
package handler

import (
	"net/http"

	"github.com/Plannorium/curenium-sub005/internal/pkg/auth/jwt"
	"github.com/Plannorium/curenium-sub005/internal/pkg/errs"
	"github.com/Plannorium/curenium-sub005/internal/pkg/logx"
	"github.com/Plannorium/curenium-sub005/internal/pkg/resp"
)

// HandleHeartbeat marks the caller online and refreshes their last-seen timestamp.
func HandleHeartbeat(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		if err := deps.Presence.Heartbeat(r.Context(), identity.ID); err != nil {
			logx.Error(err, "Failed to record heartbeat", "user_id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageFailed))
			return
		}

		resp.RespondSuccess(w, r, map[string]bool{"online": true})
	}
}

// HandleOffline clears the caller's online flag.
func HandleOffline(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		if err := deps.Presence.MarkOffline(r.Context(), identity.ID); err != nil {
			logx.Error(err, "Failed to mark offline", "user_id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageFailed))
			return
		}

		resp.RespondSuccess(w, r, map[string]bool{"online": false})
	}
}
