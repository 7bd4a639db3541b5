/*
Package chat contains the real-time messaging core: per-room coordinators,
session lifecycle management, message fanout, and the canonical room key scheme.

This file defines the Coordinator struct, the single authority for everything
that happens inside one room. All state-mutating operations for the room flow
through one Run loop, so two submissions never interleave their persistence and
broadcast steps. Different rooms run fully independently.
*/
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Plannorium/curenium-sub005/internal/pkg/errs"
	"github.com/Plannorium/curenium-sub005/internal/pkg/logx"
)

const (
	// DefaultAuthWindow is how long a new connection has to present a valid
	// auth frame before it is closed.
	DefaultAuthWindow = 5 * time.Second

	// DefaultIdleTimeout is how long an empty room lingers before its
	// coordinator shuts down and the hub forgets it.
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultStoreTimeout bounds a single durable-store round trip.
	DefaultStoreTimeout = 10 * time.Second

	// commandQueueSize buffers the serialized command stream for one room.
	commandQueueSize = 1024
)

// Config carries the per-room timing knobs. Zero fields fall back to defaults.
type Config struct {
	AuthWindow   time.Duration
	IdleTimeout  time.Duration
	StoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.AuthWindow == 0 {
		c.AuthWindow = DefaultAuthWindow
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	return c
}

// command is one entry in the room's serialized operation stream. Submission,
// status updates, reaction toggles, and relays share one channel so the order
// in which they are accepted is the order they are applied and broadcast.
type command interface{ isCommand() }

type authCmd struct {
	sess     *Session
	identity Identity
}

type authTimeoutCmd struct{ sess *Session }

type submitCmd struct {
	sess       *Session
	text       string
	attachment *Attachment
}

type statusCmd struct {
	sess      *Session
	messageID string
	status    DeliveryStatus
}

type reactionCmd struct {
	sess      *Session
	messageID string
	emoji     string
}

type relayCmd struct {
	sess   *Session
	callID string
}

// deliverCmd injects an already-persisted message (service-to-service ingest)
// into the room's fanout path.
type deliverCmd struct{ msg Message }

func (authCmd) isCommand()        {}
func (authTimeoutCmd) isCommand() {}
func (submitCmd) isCommand()      {}
func (statusCmd) isCommand()      {}
func (reactionCmd) isCommand()    {}
func (relayCmd) isCommand()       {}
func (deliverCmd) isCommand()     {}

type unregisterReq struct {
	sess *Session
	done chan struct{}
}

// Coordinator owns one room: its session registry, its serialized command
// stream, and its fanout. It is created by the Hub and runs until the room has
// been empty for the idle timeout or the hub shuts it down.
type Coordinator struct {
	// Key is the canonical room key this coordinator serves.
	Key string

	cfg      Config
	registry *Registry
	store    MessageStore
	verifier TokenVerifier

	register   chan *Session
	unregister chan unregisterReq
	commands   chan command

	// stop asks the Run loop to exit; done is closed once it has.
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// cleanupChan notifies the hub that this coordinator has finished.
	cleanupChan chan<- string

	idleTimer *time.Timer

	logger zerolog.Logger
}

// NewCoordinator constructs a coordinator for the given canonical room key.
// The caller is responsible for starting Run.
func NewCoordinator(key string, store MessageStore, verifier TokenVerifier, cfg Config, cleanupChan chan<- string) *Coordinator {
	roomLogger := logx.Logger().With().
		Str("component", "Coordinator").
		Str("room_key", key).
		Logger()

	cfg = cfg.withDefaults()

	return &Coordinator{
		Key:         key,
		cfg:         cfg,
		registry:    NewRegistry(),
		store:       store,
		verifier:    verifier,
		register:    make(chan *Session),
		unregister:  make(chan unregisterReq),
		commands:    make(chan command, commandQueueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		cleanupChan: cleanupChan,
		idleTimer:   time.NewTimer(cfg.IdleTimeout),
		logger:      roomLogger,
	}
}

// Stop asks the Run loop to terminate. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// Stopped reports whether the Run loop has exited. A stopped coordinator
// accepts no further sessions or commands.
func (c *Coordinator) Stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Run is the room's single-writer event loop.
func (c *Coordinator) Run() {
	defer c.shutdown()

	for {
		select {
		case sess := <-c.register:
			c.handleRegister(sess)

		case req := <-c.unregister:
			c.handleUnregister(req.sess)
			close(req.done)

		case cmd := <-c.commands:
			c.dispatch(cmd)

		case <-c.idleTimer.C:
			if c.registry.Len() == 0 {
				c.logger.Info().Dur("idle_timeout", c.cfg.IdleTimeout).Msg("Room idle timeout reached. Shutting down coordinator.")
				return
			}
			// A session arrived between the timer firing and this read;
			// handleRegister already disarmed future fires.

		case <-c.stop:
			c.logger.Info().Msg("Coordinator forced stop initiated.")
			return
		}
	}
}

// shutdown finalizes the loop: marks the coordinator stopped, releases every
// remaining session, and notifies the hub.
func (c *Coordinator) shutdown() {
	close(c.done)

	c.idleTimer.Stop()

	c.registry.Each(func(s *Session) {
		if s.authTimer != nil {
			s.authTimer.Stop()
		}
		s.closeSendQueue()
	})

	if c.cleanupChan != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Warn().Msg("Hub cleanup channel closed during coordinator shutdown.")
				}
			}()

			select {
			case c.cleanupChan <- c.Key:
			default:
				c.logger.Warn().Msg("Hub cleanup channel full. Skipping cleanup notification.")
			}
		}()
	}

	c.logger.Info().Msg("Coordinator stopped.")
}

func (c *Coordinator) dispatch(cmd command) {
	switch cmd := cmd.(type) {
	case authCmd:
		c.handleAuth(cmd.sess, cmd.identity)
	case authTimeoutCmd:
		c.handleAuthTimeout(cmd.sess)
	case submitCmd:
		c.handleSubmit(cmd.sess, cmd.text, cmd.attachment)
	case statusCmd:
		c.handleStatus(cmd.sess, cmd.messageID, cmd.status)
	case reactionCmd:
		c.handleReaction(cmd.sess, cmd.messageID, cmd.emoji)
	case relayCmd:
		c.handleRelay(cmd.sess, cmd.callID)
	case deliverCmd:
		c.broadcast(NewEvent(EventMessage, c.Key, cmd.msg))
	}
}

// Connect hands a new, unauthenticated session to the coordinator. It returns
// false when the coordinator has already stopped; the caller should then fetch
// a fresh coordinator from the hub.
func (c *Coordinator) Connect(sess *Session) bool {
	select {
	case c.register <- sess:
		return true
	case <-c.done:
		return false
	}
}

// Disconnect synchronously removes the session from the room. When it returns,
// no subsequent broadcast targets the handle.
func (c *Coordinator) Disconnect(sess *Session) {
	req := unregisterReq{sess: sess, done: make(chan struct{})}

	select {
	case c.unregister <- req:
		<-req.done
	case <-c.done:
		// Loop already exited; shutdown released every session.
	}
}

// Authenticate validates the token against the external identity collaborator
// and, on success, hands the bound identity to the room loop. On failure the
// connection is closed and no session state is mutated. Runs on the session's
// read goroutine so that a slow verifier never blocks the room.
func (c *Coordinator) Authenticate(sess *Session, token string) {
	identity, err := c.verifier.Verify(token)
	if err != nil {
		c.logger.Warn().Err(err).Str("session_id", sess.ID()).Msg("Auth frame rejected.")

		authErr := errs.NewError(errs.ErrTokenInvalid)
		_ = sess.SendEvent(NewEvent(EventAuthError, c.Key, ErrorEventPayload{
			Code:    authErr.Code,
			Message: authErr.Message,
		}))
		sess.CloseWithFailure("authentication failed")
		return
	}

	c.enqueue(authCmd{sess: sess, identity: identity})
}

// Submit queues a message submission for serialized persistence and fanout.
func (c *Coordinator) Submit(sess *Session, text string, attachment *Attachment) {
	c.enqueue(submitCmd{sess: sess, text: text, attachment: attachment})
}

// UpdateStatus queues a delivery-status mutation.
func (c *Coordinator) UpdateStatus(sess *Session, messageID string, status DeliveryStatus) {
	c.enqueue(statusCmd{sess: sess, messageID: messageID, status: status})
}

// ToggleReaction queues an idempotent reaction add/remove.
func (c *Coordinator) ToggleReaction(sess *Session, messageID, emoji string) {
	c.enqueue(reactionCmd{sess: sess, messageID: messageID, emoji: emoji})
}

// Relay queues an ephemeral call-invitation event. Nothing is persisted.
func (c *Coordinator) Relay(sess *Session, callID string) {
	c.enqueue(relayCmd{sess: sess, callID: callID})
}

// Deliver injects an externally persisted message into the room's fanout path.
// Returns false when the coordinator has stopped.
func (c *Coordinator) Deliver(msg Message) bool {
	select {
	case c.commands <- deliverCmd{msg: msg}:
		return true
	case <-c.done:
		return false
	}
}

func (c *Coordinator) enqueue(cmd command) {
	select {
	case c.commands <- cmd:
	case <-c.done:
		c.logger.Warn().Msg("Dropping command for stopped coordinator.")
	}
}

// --- loop-side handlers; every function below runs on the Run goroutine. ---

func (c *Coordinator) handleRegister(sess *Session) {
	c.registry.Add(sess)

	if c.idleTimer.Stop() {
		select {
		case <-c.idleTimer.C:
		default:
		}
	}

	// Arm the auth window. The callback re-enters the loop as a command so
	// the expiry check itself is serialized.
	sess.authTimer = time.AfterFunc(c.cfg.AuthWindow, func() {
		c.enqueue(authTimeoutCmd{sess: sess})
	})

	c.logger.Info().
		Str("session_id", sess.ID()).
		Int("total_sessions", c.registry.Len()).
		Msg("Session connected, awaiting auth frame.")
}

func (c *Coordinator) handleUnregister(sess *Session) {
	if !c.registry.Remove(sess) {
		return
	}

	if sess.authTimer != nil {
		sess.authTimer.Stop()
	}
	sess.closeSendQueue()

	c.logger.Info().
		Str("session_id", sess.ID()).
		Int("total_sessions", c.registry.Len()).
		Msg("Session left room.")

	c.armIdleTimerIfEmpty()
}

func (c *Coordinator) handleAuth(sess *Session, identity Identity) {
	if sess.State() == StateClosed {
		return
	}

	if sess.authTimer != nil {
		sess.authTimer.Stop()
	}

	sess.identity = identity
	sess.state.Store(int32(StateActive))

	c.logger.Info().
		Str("session_id", sess.ID()).
		Str("user_id", identity.ID).
		Msg("Session authenticated.")

	if err := sess.SendEvent(NewEvent(EventAuthOK, c.Key, identity)); err != nil {
		c.dropSession(sess)
	}
}

func (c *Coordinator) handleAuthTimeout(sess *Session) {
	if sess.Authenticated() || sess.State() == StateClosed {
		return
	}

	c.logger.Warn().
		Str("session_id", sess.ID()).
		Dur("auth_window", c.cfg.AuthWindow).
		Msg("No valid auth frame within window. Closing connection.")

	c.registry.Remove(sess)
	sess.closeSendQueue()
	sess.CloseWithFailure("authentication timeout")

	c.armIdleTimerIfEmpty()
}

// handleSubmit persists the message and, only on success, fans it out to every
// active session in the room (including the sender, for delivery
// acknowledgment). A persistence failure is reported to the submitter alone.
func (c *Coordinator) handleSubmit(sess *Session, text string, attachment *Attachment) {
	if !sess.Authenticated() {
		sess.SendError(errs.NewError(errs.ErrNotAuthenticated))
		return
	}

	msg := NewMessage(c.Key, sess.Identity(), text, attachment)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
	defer cancel()

	persisted, err := c.store.Append(ctx, msg)
	if err != nil {
		c.logger.Error().Err(err).Str("session_id", sess.ID()).Msg("Message append failed. Not broadcasting.")
		sess.SendError(errs.NewError(errs.ErrStorageFailed))
		return
	}

	c.broadcast(NewEvent(EventMessage, c.Key, persisted))
}

// handleStatus mutates the delivery status and notifies only the sessions
// belonging to the message's original sender. Unrelated participants observe
// nothing.
func (c *Coordinator) handleStatus(sess *Session, messageID string, status DeliveryStatus) {
	if !sess.Authenticated() {
		sess.SendError(errs.NewError(errs.ErrNotAuthenticated))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
	defer cancel()

	updated, err := c.store.Mutate(ctx, c.Key, messageID, Patch{Status: &status})
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			sess.SendError(errs.NewError(errs.ErrMessageNotFound))
		} else {
			c.logger.Error().Err(err).Str("message_id", messageID).Msg("Status mutation failed.")
			sess.SendError(errs.NewError(errs.ErrStorageFailed))
		}
		return
	}

	event := NewEvent(EventMessageStatus, c.Key, StatusEventPayload{
		MessageID: updated.ID,
		Status:    updated.Status,
		UpdatedBy: sess.Identity().ID,
	})

	for _, target := range c.registry.SessionsFor(updated.Sender.ID) {
		if err := target.SendEvent(event); err != nil {
			c.dropSession(target)
		}
	}
}

// handleReaction applies an idempotent add/remove of the caller under the
// emoji and broadcasts the updated reacting-user set to the room.
func (c *Coordinator) handleReaction(sess *Session, messageID, emoji string) {
	if !sess.Authenticated() {
		sess.SendError(errs.NewError(errs.ErrNotAuthenticated))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
	defer cancel()

	toggle := &ReactionToggle{UserID: sess.Identity().ID, Emoji: emoji}

	updated, err := c.store.Mutate(ctx, c.Key, messageID, Patch{Reaction: toggle})
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			sess.SendError(errs.NewError(errs.ErrMessageNotFound))
		} else {
			c.logger.Error().Err(err).Str("message_id", messageID).Msg("Reaction mutation failed.")
			sess.SendError(errs.NewError(errs.ErrStorageFailed))
		}
		return
	}

	users := updated.Reactions[emoji]
	if users == nil {
		users = []string{}
	}

	c.broadcast(NewEvent(EventReaction, c.Key, ReactionEventPayload{
		MessageID: updated.ID,
		Emoji:     emoji,
		Users:     users,
	}))
}

// handleRelay publishes an ephemeral event through the broadcast path without
// touching the store.
func (c *Coordinator) handleRelay(sess *Session, callID string) {
	if !sess.Authenticated() {
		sess.SendError(errs.NewError(errs.ErrNotAuthenticated))
		return
	}

	c.broadcast(NewEvent(EventCallInvitation, c.Key, CallInvitationPayload{
		CallID: callID,
		From:   sess.Identity(),
	}))
}

// broadcast delivers an event to every active session exactly once. Delivery
// is fire-and-forget: a failed send removes the session and is never retried.
func (c *Coordinator) broadcast(event Event) {
	for _, target := range c.registry.Authenticated() {
		if err := target.SendEvent(event); err != nil {
			c.dropSession(target)
		}
	}
}

// dropSession treats a send failure as an implicit disconnect.
func (c *Coordinator) dropSession(sess *Session) {
	if !c.registry.Remove(sess) {
		return
	}

	c.logger.Warn().
		Str("session_id", sess.ID()).
		Msg("Session send failed. Removing session without retry.")

	if sess.authTimer != nil {
		sess.authTimer.Stop()
	}
	sess.closeSendQueue()

	c.armIdleTimerIfEmpty()
}

func (c *Coordinator) armIdleTimerIfEmpty() {
	if c.registry.Len() != 0 {
		return
	}

	if c.idleTimer.Stop() {
		select {
		case <-c.idleTimer.C:
		default:
		}
	}
	c.idleTimer.Reset(c.cfg.IdleTimeout)
}
