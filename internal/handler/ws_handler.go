/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting,
validating the room identifier, upgrading the HTTP connection to WebSocket, and starting
the session lifecycle. Authentication happens in-band: the first frame on the socket must
be an auth frame, enforced by the room coordinator's auth window.
*/
package handler

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Plannorium/curenium-sub005/internal/app/chat"
	"github.com/Plannorium/curenium-sub005/internal/pkg/errs"
	"github.com/Plannorium/curenium-sub005/internal/pkg/limiter"
	"github.com/Plannorium/curenium-sub005/internal/pkg/logx"
	"github.com/Plannorium/curenium-sub005/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		roomKey, customErr := chat.NormalizeRoomKey(chi.URLParam(r, "room"))
		if customErr != nil {
			logx.Warn("WebSocket request rejected: Invalid room key", "room", chi.URLParam(r, "room"))
			resp.RespondError(w, r, customErr)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		coordinator := deps.Hub.Room(roomKey)
		if coordinator == nil {
			// Hub is shutting down; no room will accept this session.
			conn.Close()
			return
		}

		sess := chat.NewSession(coordinator, conn)

		go sess.WritePump()

		if deps.Hub.Connect(roomKey, sess) == nil {
			conn.Close()
			return
		}

		logx.Info("WebSocket connection established, awaiting auth frame", "session_id", sess.ID(), "room_key", roomKey)

		sess.ReadPump()
	}
}
