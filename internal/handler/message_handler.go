/*
Package handler provides HTTP handler functions for reading message history and
recent conversations.
*/
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Plannorium/curenium-sub005/internal/app/chat"
	"github.com/Plannorium/curenium-sub005/internal/pkg/auth/jwt"
	"github.com/Plannorium/curenium-sub005/internal/pkg/errs"
	"github.com/Plannorium/curenium-sub005/internal/pkg/logx"
	"github.com/Plannorium/curenium-sub005/internal/pkg/resp"
)

const (
	// DefaultHistoryLimit is the page size when the client specifies none.
	DefaultHistoryLimit = 50

	// MaxHistoryLimit caps the page size regardless of what the client asks for.
	MaxHistoryLimit = 100
)

// HandleRoomHistory returns the room's messages ordered most-recent-first,
// optionally older than a millisecond cursor.
func HandleRoomHistory(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		roomKey, customErr := chat.NormalizeRoomKey(chi.URLParam(r, "room"))
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		var before time.Time
		if raw := r.URL.Query().Get("before"); raw != "" {
			millis, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || millis <= 0 {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			before = time.UnixMilli(millis)
		}

		limit := DefaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			limit = min(parsed, MaxHistoryLimit)
		}

		messages, err := deps.Store.ListRecent(r.Context(), roomKey, before, limit)
		if err != nil {
			logx.Error(err, "Failed to list room history", "room_key", roomKey)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageFailed))
			return
		}

		if messages == nil {
			messages = []chat.Message{}
		}

		resp.RespondSuccess(w, r, map[string]any{
			"room":     roomKey,
			"messages": messages,
		})
	}
}

// HandleRecentConversations returns one latest message per room the caller
// participates in, bounded and sorted descending by timestamp.
func HandleRecentConversations(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		conversations, err := deps.Conversations.Recent(r.Context(), identity.ID)
		if err != nil {
			logx.Error(err, "Failed to aggregate recent conversations", "user_id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageFailed))
			return
		}

		if conversations == nil {
			conversations = []chat.Message{}
		}

		resp.RespondSuccess(w, r, map[string]any{
			"conversations": conversations,
		})
	}
}
