package chat

import (
	"context"
	"errors"
	"time"
)

// ErrMessageNotFound is returned by MessageStore implementations when a mutation
// references an unknown message id.
var ErrMessageNotFound = errors.New("message not found")

// ReactionToggle describes an idempotent add/remove of a user under an emoji.
type ReactionToggle struct {
	UserID string
	Emoji  string
}

// Patch describes a mutation of a message's mutable fields. Nil fields are
// left untouched.
type Patch struct {
	Status   *DeliveryStatus
	Pinned   *bool
	Reaction *ReactionToggle
}

// Apply mutates m in place. Reaction toggling is idempotent add/remove: a
// second identical toggle by the same user removes rather than duplicates.
func (p Patch) Apply(m *Message) {
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.Pinned != nil {
		m.Pinned = *p.Pinned
	}
	if p.Reaction != nil {
		if m.Reactions == nil {
			m.Reactions = map[string][]string{}
		}

		toggle := p.Reaction
		if m.HasReaction(toggle.Emoji, toggle.UserID) {
			users := m.Reactions[toggle.Emoji]
			filtered := make([]string, 0, len(users)-1)
			for _, id := range users {
				if id != toggle.UserID {
					filtered = append(filtered, id)
				}
			}
			if len(filtered) == 0 {
				delete(m.Reactions, toggle.Emoji)
			} else {
				m.Reactions[toggle.Emoji] = filtered
			}
		} else {
			m.Reactions[toggle.Emoji] = append(m.Reactions[toggle.Emoji], toggle.UserID)
		}
	}
}

// MessageStore is the durable home for message records. Coordinators hold no
// second source of truth; every mutation goes through the store before any
// fanout happens.
type MessageStore interface {
	// Append persists the message, assigning authoritative timestamps.
	// A failed append means the message does not exist.
	Append(ctx context.Context, msg Message) (Message, error)

	// Mutate applies a patch to the message identified by (roomKey, messageID)
	// and returns the updated record. Returns ErrMessageNotFound for unknown ids.
	Mutate(ctx context.Context, roomKey, messageID string, patch Patch) (Message, error)

	// ListRecent returns messages older than before (all most-recent if before
	// is zero), ordered most-recent-first, at most limit entries.
	ListRecent(ctx context.Context, roomKey string, before time.Time, limit int) ([]Message, error)

	// MostRecentPerRoom returns, for every room where userID is sender or
	// recipient, the single most recent message, sorted descending by creation
	// time and truncated to limit.
	MostRecentPerRoom(ctx context.Context, userID string, limit int) ([]Message, error)
}

// TokenVerifier validates an auth-frame token against the external identity
// collaborator and resolves the identity it was issued for.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}
