/*
Package chat contains the real-time messaging core: per-room coordinators,
session lifecycle management, message fanout, and the canonical room key scheme.

This file defines the Session struct, the ephemeral binding of one WebSocket
connection to a room and (after the auth handshake) an identity. It manages the
connection state machine and the read/write pumps.
*/
package chat

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Plannorium/curenium-sub005/internal/pkg/errs"
	"github.com/Plannorium/curenium-sub005/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxFrameSize = 16384

	// sendQueueSize is the per-session outbound buffer. A full queue is treated
	// as a dead consumer and triggers an implicit disconnect.
	sendQueueSize = 256

	// WsCloseCodeAuthFailed is a custom WebSocket Close Code (4000-4999 range)
	// signaling that the auth handshake failed or timed out.
	WsCloseCodeAuthFailed = 4001
)

// SessionState tracks the per-connection lifecycle:
// Connecting -> Authenticating -> Active -> Closed. Active never re-enters
// Authenticating.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticating
	StateActive
	StateClosed
)

// Session represents one live connection to a room. Identity is bound only
// after a successful auth frame; until then every non-auth frame is ignored.
type Session struct {
	// the coordinator of the room this session is attached to.
	room *Coordinator

	// underlying WebSocket connection. Nil sessions are permitted for the
	// coordinator's own use (tests, internal fanout probes); every write path
	// guards against it.
	conn *websocket.Conn

	// id is the session handle, distinct from the user identity.
	id string

	// identity is written by the coordinator loop on auth success and read by
	// it afterwards; the pumps never touch it.
	identity Identity

	// state holds the SessionState, shared between pumps and coordinator.
	state atomic.Int32

	// authTimer enforces the auth window; armed and cancelled by the coordinator.
	authTimer *time.Timer

	// send queues marshaled outbound events. sendMu serializes queueing
	// against the close: the coordinator loop closes the queue while the read
	// goroutine may still be queueing error events.
	send       chan []byte
	sendMu     sync.Mutex
	sendClosed bool

	closeOnce sync.Once

	logger zerolog.Logger
}

// NewSession constructs a session for the given connection in Authenticating
// state (the socket is already open by the time the coordinator sees it).
func NewSession(room *Coordinator, conn *websocket.Conn) *Session {
	id := uuid.New().String()

	sessionLogger := logx.Logger().With().
		Str("session_id", id).
		Str("room_key", room.Key).
		Logger()

	s := &Session{
		room:   room,
		conn:   conn,
		id:     id,
		send:   make(chan []byte, sendQueueSize),
		logger: sessionLogger,
	}
	s.state.Store(int32(StateAuthenticating))

	return s
}

// ID returns the session handle.
func (s *Session) ID() string { return s.id }

// State returns the current connection state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Authenticated reports whether the session is bound to an identity.
func (s *Session) Authenticated() bool {
	return s.State() == StateActive
}

// Identity returns the bound identity; zero until authentication succeeds.
func (s *Session) Identity() Identity { return s.identity }

// ReadPump reads frames from the WebSocket connection until it closes.
// It handles heartbeats (Pong), frame decoding, and performs cleanup on exit.
func (s *Session) ReadPump() {
	defer s.cleanupOnDisconnect()

	if s.conn == nil {
		return
	}

	s.conn.SetReadLimit(maxFrameSize)

	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frameBytes, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info().Err(err).Msg("Error reading frame (client close/going away)")
			}
			break
		}

		s.processFrame(frameBytes)
	}
}

// cleanupOnDisconnect synchronously deregisters the session from its room and
// closes the connection. When it returns, no broadcast will target this handle.
func (s *Session) cleanupOnDisconnect() {
	s.state.Store(int32(StateClosed))

	s.room.Disconnect(s)

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Session connection close error")
		}
	}
}

// processFrame decodes and dispatches one inbound frame. Malformed or unknown
// frames are ignored without closing the connection; a parse error alone must
// not cost the client its session.
func (s *Session) processFrame(frameBytes []byte) {
	var frame Frame
	if err := json.Unmarshal(frameBytes, &frame); err != nil {
		s.logger.Warn().Err(err).Msg("Session sent invalid JSON frame")
		return
	}

	if frame.Type == FrameAuth {
		if s.State() == StateActive {
			s.logger.Warn().Msg("Ignoring auth frame on already-active session")
			return
		}
		s.room.Authenticate(s, frame.Token)
		return
	}

	// Everything but auth requires a bound identity. Pre-auth traffic is
	// ignored and never persisted.
	if s.State() != StateActive {
		s.logger.Warn().
			Str("frame_type", string(frame.Type)).
			Msg("Ignoring frame on unauthenticated session")
		return
	}

	switch frame.Type {
	case FrameMessage:
		s.handleMessage(&frame)

	case FrameStatusUpdate:
		s.handleStatusUpdate(frame.Payload)

	case FrameReaction:
		s.handleReaction(frame.Payload)

	case FrameCallInvitation:
		if frame.CallID == "" {
			s.SendError(errs.NewError(errs.ErrInvalidParams))
			return
		}
		s.room.Relay(s, frame.CallID)

	default:
		s.logger.Warn().Str("frame_type", string(frame.Type)).Msg("Session sent unsupported frame type")
	}
}

// handleMessage validates and submits a message frame.
func (s *Session) handleMessage(frame *Frame) {
	if frame.Text == "" && frame.Attachment == nil {
		s.SendError(errs.NewError(errs.ErrInvalidParams))
		return
	}

	if len(frame.Text) > MaxContentBytes {
		s.SendError(errs.NewError(errs.ErrMessageContentTooLong))
		return
	}

	if customErr := ValidateAttachment(frame.Attachment, s.room.Key); customErr != nil {
		s.SendError(customErr)
		return
	}

	s.room.Submit(s, frame.Text, frame.Attachment)
}

// handleStatusUpdate validates and submits a delivery-status update frame.
func (s *Session) handleStatusUpdate(payloadBytes json.RawMessage) {
	var payload StatusUpdatePayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		s.logger.Warn().Err(err).Msg("Session sent invalid status update payload")
		return
	}

	if payload.MessageID == "" || !payload.Status.Valid() {
		s.SendError(errs.NewError(errs.ErrStatusInvalid))
		return
	}

	s.room.UpdateStatus(s, payload.MessageID, payload.Status)
}

// handleReaction validates and submits a reaction toggle frame.
func (s *Session) handleReaction(payloadBytes json.RawMessage) {
	var payload ReactionPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		s.logger.Warn().Err(err).Msg("Session sent invalid reaction payload")
		return
	}

	if payload.MessageID == "" || payload.Emoji == "" {
		s.SendError(errs.NewError(errs.ErrReactionInvalid))
		return
	}

	s.room.ToggleReaction(s, payload.MessageID, payload.Emoji)
}

// WritePump drains the send queue to the WebSocket connection and keeps the
// heartbeat alive with periodic pings.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.logger.Debug().Err(err).Msg("Session connection close error in WritePump")
			}
		}
	}()

	for {
		select {
		case message, ok := <-s.send:
			if !s.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !s.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage writes one queued payload to the socket.
// Returns false when the WritePump loop should terminate.
func (s *Session) writeQueuedMessage(message []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			s.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		s.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping to maintain the heartbeat.
// Returns false when the WritePump loop should terminate.
func (s *Session) writePingMessage() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.logger.Debug().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// SendEvent marshals and queues an outbound event. A full queue returns an
// error; the caller decides whether that costs the session its registration.
func (s *Session) SendEvent(event Event) error {
	messageBytes, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error marshaling event for session")
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.sendClosed {
		return fmt.Errorf("session closed")
	}

	select {
	case s.send <- messageBytes:
		return nil
	default:
		s.logger.Warn().Int("queue_len", len(s.send)).Msg("Session send queue full, dropping event")
		return fmt.Errorf("session send queue full")
	}
}

// SendError queues an error event mirroring the given coded error.
func (s *Session) SendError(customErr *errs.CustomError) {
	if customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown)
	}

	event := NewEvent(EventError, s.room.Key, ErrorEventPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
	})

	if err := s.SendEvent(event); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to queue error event")
	}
}

// CloseWithFailure writes a close frame with the auth-failure code and tears
// the connection down. Safe to call more than once.
func (s *Session) CloseWithFailure(reason string) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))

		if s.conn == nil {
			return
		}

		closeMessage := websocket.FormatCloseMessage(WsCloseCodeAuthFailed, reason)

		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.CloseMessage, closeMessage); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to write auth-failure close frame")
		}

		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Session connection close error")
		}
	})
}

// closeSendQueue closes the send channel once; called only by the coordinator
// loop when it removes the session. Holding sendMu excludes a concurrent
// SendEvent, so the close can never land between its queue check and its send.
func (s *Session) closeSendQueue() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.sendClosed {
		return
	}
	s.sendClosed = true
	s.state.Store(int32(StateClosed))
	close(s.send)
}
