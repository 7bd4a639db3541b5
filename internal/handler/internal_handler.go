/*
Package handler provides the service-to-service message ingest endpoint.

Other platform services (alerting, care-plan automation) persist messages into
a conversation without holding a WebSocket session. The request authenticates
with a shared secret header; the message is appended to the store and, when the
target room has a live coordinator, fanned out to its connected sessions.
*/
package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/Plannorium/curenium-sub005/internal/app/chat"
	"github.com/Plannorium/curenium-sub005/internal/pkg/errs"
	"github.com/Plannorium/curenium-sub005/internal/pkg/logx"
	"github.com/Plannorium/curenium-sub005/internal/pkg/req"
	"github.com/Plannorium/curenium-sub005/internal/pkg/resp"
)

// InternalKeyHeader carries the shared secret for service-to-service calls.
const InternalKeyHeader = "X-Internal-Key"

// InternalIngestInput accepts both field spellings used by the calling services.
type InternalIngestInput struct {
	UserID     string `json:"userId,omitempty"`
	Sender     string `json:"sender,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Text       string `json:"text"`
	Room       string `json:"room,omitempty"`
	RoomID     string `json:"roomId,omitempty"`
}

// HandleInternalIngest persists a message on behalf of another service and
// returns the created message's id.
func HandleInternalIngest(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(InternalKeyHeader)
		if subtle.ConstantTimeCompare([]byte(key), []byte(deps.Config.InternalAPIKey)) != 1 {
			logx.Warn("Internal ingest rejected: invalid service key")
			resp.RespondError(w, r, errs.NewError(errs.ErrInternalKeyInvalid))
			return
		}

		var input InternalIngestInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		senderID := input.UserID
		if senderID == "" {
			senderID = input.Sender
		}

		room := input.Room
		if room == "" {
			room = input.RoomID
		}

		if senderID == "" || input.Text == "" || room == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if len(input.Text) > chat.MaxContentBytes {
			resp.RespondError(w, r, errs.NewError(errs.ErrMessageContentTooLong))
			return
		}

		roomKey, customErr := chat.NormalizeRoomKey(room)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		senderName := input.SenderName
		if senderName == "" {
			senderName = senderID
		}

		sender := chat.Identity{ID: senderID, DisplayName: senderName}
		msg := chat.NewMessage(roomKey, sender, input.Text, nil)

		persisted, err := deps.Store.Append(r.Context(), msg)
		if err != nil {
			logx.Error(err, "Internal ingest append failed", "room_key", roomKey)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageFailed))
			return
		}

		deps.Hub.Deliver(persisted)

		resp.RespondSuccess(w, r, map[string]string{"id": persisted.ID})
	}
}
