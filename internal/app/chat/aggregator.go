package chat

import (
	"context"
)

// DefaultRecentLimit bounds the recent-conversations result set.
const DefaultRecentLimit = 10

// ConversationAggregator is the cross-room read-only query producing, for a
// given user, the single most recent message per distinct room they participate
// in. It reads the store directly and never coordinates with any room loop.
type ConversationAggregator struct {
	store MessageStore
	limit int
}

// NewConversationAggregator builds an aggregator with the given result limit;
// limit <= 0 falls back to DefaultRecentLimit.
func NewConversationAggregator(store MessageStore, limit int) *ConversationAggregator {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &ConversationAggregator{store: store, limit: limit}
}

// Recent returns at most the configured limit of entries, one per distinct
// room where userID is sender or recipient, sorted descending by timestamp.
func (a *ConversationAggregator) Recent(ctx context.Context, userID string) ([]Message, error) {
	return a.store.MostRecentPerRoom(ctx, userID, a.limit)
}
