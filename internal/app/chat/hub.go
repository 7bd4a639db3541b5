/*
Package chat contains the real-time messaging core: per-room coordinators,
session lifecycle management, message fanout, and the canonical room key scheme.

This file defines the Hub struct, the top-level directory from room key to
coordinator instance. Coordinators are created lazily on first connect and torn
down once their room has been empty past the idle timeout, so no global session
map or global lock ever exists.
*/
package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Plannorium/curenium-sub005/internal/pkg/logx"
)

// Hub maps room keys to live coordinators.
type Hub struct {
	// rooms stores the live Coordinator instances, keyed by canonical room key.
	rooms map[string]*Coordinator

	store    MessageStore
	verifier TokenVerifier
	cfg      Config

	// mu protects concurrent access to the rooms map and the closed flag.
	mu sync.RWMutex

	// closed marks the hub as shut down; no new coordinators are created.
	closed bool

	// cleanup is the channel coordinators use to announce their shutdown.
	cleanup chan string

	// wg waits for the runCleanupLoop goroutine during shutdown.
	wg sync.WaitGroup

	logger zerolog.Logger
}

// NewHub constructs a Hub and starts its cleanup loop.
func NewHub(store MessageStore, verifier TokenVerifier, cfg Config) *Hub {
	hubLogger := logx.Logger().With().Str("component", "Hub").Logger()

	h := &Hub{
		rooms:    make(map[string]*Coordinator),
		store:    store,
		verifier: verifier,
		cfg:      cfg.withDefaults(),
		cleanup:  make(chan string, 16),
		logger:   hubLogger,
	}

	h.wg.Add(1)
	go h.runCleanupLoop()

	return h
}

// runCleanupLoop removes coordinators as they announce shutdown.
func (h *Hub) runCleanupLoop() {
	defer h.wg.Done()

	h.logger.Info().Msg("Cleanup loop started.")

	for key := range h.cleanup {
		h.deleteRoom(key)
	}

	h.logger.Info().Msg("Cleanup loop stopped.")
}

// deleteRoom removes the room's entry if its coordinator has actually stopped.
// A fresh coordinator created for the same key in the meantime is left alone.
func (h *Hub) deleteRoom(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.rooms[key]; ok && c.Stopped() {
		delete(h.rooms, key)
		h.logger.Info().Str("room_key", key).Msg("Room coordinator removed.")
	}
}

// Room returns the live coordinator for the key, creating and starting one if
// none exists or the previous one has stopped. Returns nil once the hub has
// shut down.
func (h *Hub) Room(key string) *Coordinator {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil
	}
	c, ok := h.rooms[key]
	h.mu.RUnlock()

	if ok && !c.Stopped() {
		return c
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	if c, ok := h.rooms[key]; ok && !c.Stopped() {
		return c
	}

	c = NewCoordinator(key, h.store, h.verifier, h.cfg, h.cleanup)
	h.rooms[key] = c

	go c.Run()

	h.logger.Info().Str("room_key", key).Msg("Room coordinator created.")
	return c
}

// Peek returns the live coordinator for the key without creating one.
func (h *Hub) Peek(key string) *Coordinator {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.rooms[key]
	if !ok || c.Stopped() {
		return nil
	}
	return c
}

// Connect attaches the session to the room's coordinator, retrying when a
// connect races a coordinator teardown for the same key. Returns nil when the
// hub has shut down before the session could attach.
func (h *Hub) Connect(key string, sess *Session) *Coordinator {
	for {
		c := h.Room(key)
		if c == nil {
			return nil
		}
		sess.room = c
		if c.Connect(sess) {
			return c
		}
	}
}

// Deliver fans an externally persisted message out to the room's live sessions,
// if any. Rooms with no coordinator have no one to notify.
func (h *Hub) Deliver(msg Message) {
	if c := h.Peek(msg.RoomKey); c != nil {
		c.Deliver(msg)
	}
}

// Shutdown stops every coordinator and waits for the cleanup loop to exit.
func (h *Hub) Shutdown() {
	h.logger.Info().Msg("Shutting down hub...")

	h.mu.Lock()
	h.closed = true
	rooms := make([]*Coordinator, 0, len(h.rooms))
	for _, c := range h.rooms {
		c.Stop()
		rooms = append(rooms, c)
	}
	h.mu.Unlock()

	for _, c := range rooms {
		<-c.done
	}

	close(h.cleanup)
	h.wg.Wait()

	h.logger.Info().Msg("Hub shutdown complete.")
}
