package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Plannorium/curenium-sub005/internal/app/chat"
)

// entry pairs a message with an append sequence number so ordering stays
// strict even when two appends land on the same timestamp.
type entry struct {
	msg chat.Message
	seq uint64
}

// Memory is an in-process chat.MessageStore. It backs tests and single-node
// development runs; the Postgres store is the production implementation.
type Memory struct {
	mu    sync.Mutex
	rooms map[string][]entry
	seq   uint64
	now   func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[string][]entry),
		now:   time.Now,
	}
}

// SetClock overrides the append clock; intended for tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Append implements chat.MessageStore.
func (m *Memory) Append(_ context.Context, msg chat.Message) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.Reactions == nil {
		msg.Reactions = map[string][]string{}
	}

	m.seq++
	m.rooms[msg.RoomKey] = append(m.rooms[msg.RoomKey], entry{msg: cloneMessage(msg), seq: m.seq})

	return msg, nil
}

// Mutate implements chat.MessageStore.
func (m *Memory) Mutate(_ context.Context, roomKey, messageID string, patch chat.Patch) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.rooms[roomKey]
	for i := range entries {
		if entries[i].msg.ID != messageID {
			continue
		}

		msg := &entries[i].msg
		patch.Apply(msg)
		msg.UpdatedAt = m.now()

		return cloneMessage(*msg), nil
	}

	return chat.Message{}, chat.ErrMessageNotFound
}

// ListRecent implements chat.MessageStore.
func (m *Memory) ListRecent(_ context.Context, roomKey string, before time.Time, limit int) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.rooms[roomKey]

	filtered := make([]entry, 0, len(entries))
	for _, e := range entries {
		if before.IsZero() || e.msg.CreatedAt.Before(before) {
			filtered = append(filtered, e)
		}
	}

	sortDescending(filtered)

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}

	out := make([]chat.Message, 0, len(filtered))
	for _, e := range filtered {
		out = append(out, cloneMessage(e.msg))
	}
	return out, nil
}

// MostRecentPerRoom implements chat.MessageStore.
func (m *Memory) MostRecentPerRoom(_ context.Context, userID string, limit int) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest []entry
	for roomKey, entries := range m.rooms {
		if len(entries) == 0 || !participates(roomKey, entries, userID) {
			continue
		}

		top := entries[0]
		for _, e := range entries[1:] {
			if newerThan(e, top) {
				top = e
			}
		}
		latest = append(latest, top)
	}

	sortDescending(latest)

	if limit > 0 && len(latest) > limit {
		latest = latest[:limit]
	}

	out := make([]chat.Message, 0, len(latest))
	for _, e := range latest {
		out = append(out, cloneMessage(e.msg))
	}
	return out, nil
}

// participates reports whether userID is sender or recipient anywhere in the room.
func participates(roomKey string, entries []entry, userID string) bool {
	if a, b, ok := chat.DirectParticipants(roomKey); ok {
		return a == userID || b == userID
	}
	if strings.HasPrefix(roomKey, chat.SelfKeyPrefix) {
		return roomKey == chat.SelfKeyPrefix+userID
	}
	for _, e := range entries {
		if e.msg.Sender.ID == userID {
			return true
		}
	}
	return false
}

func newerThan(a, b entry) bool {
	if a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
		return a.seq > b.seq
	}
	return a.msg.CreatedAt.After(b.msg.CreatedAt)
}

func sortDescending(entries []entry) {
	sort.Slice(entries, func(i, j int) bool {
		return newerThan(entries[i], entries[j])
	})
}

func cloneMessage(msg chat.Message) chat.Message {
	if msg.Reactions != nil {
		reactions := make(map[string][]string, len(msg.Reactions))
		for emoji, users := range msg.Reactions {
			reactions[emoji] = append([]string(nil), users...)
		}
		msg.Reactions = reactions
	}
	if msg.Attachment != nil {
		attachment := *msg.Attachment
		msg.Attachment = &attachment
	}
	return msg
}
