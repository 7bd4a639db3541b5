/*
Package chat contains the real-time messaging core: per-room coordinators,
session lifecycle management, message fanout, and the canonical room key scheme.

This file defines room key derivation. A room is addressed either by an explicit
channel identifier, by a canonical two-party key, or by a reserved self-notes key.
Derivation is pure string work so every caller (WebSocket handler, HTTP history
reader, aggregator, internal ingest) computes the identical key independently.
*/
package chat

import (
	"strings"

	"github.com/Plannorium/curenium-sub005/internal/pkg/errs"
)

const (
	// DirectKeyPrefix marks a canonical two-party conversation key ("dm:<lo>:<hi>").
	DirectKeyPrefix = "dm:"

	// SelfKeyPrefix marks a user's private notes conversation ("self:<uid>").
	SelfKeyPrefix = "self:"

	// keySeparator joins the participant identities inside a derived key.
	// Participant identifiers must not contain it.
	keySeparator = ":"

	// MaxRoomKeyLength bounds accepted room keys to keep indexes and log fields sane.
	MaxRoomKeyLength = 128
)

// CanonicalKey derives the deterministic, order-independent key for the
// conversation between two participants. CanonicalKey(a, b) == CanonicalKey(b, a)
// for all pairs, and a pair of identical identities maps to the self-notes key.
func CanonicalKey(a, b string) string {
	if a == b {
		return SelfKeyPrefix + a
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return DirectKeyPrefix + lo + keySeparator + hi
}

// NormalizeRoomKey validates a caller-supplied room identifier and rewrites
// two-party keys into canonical participant order. Explicit channel identifiers
// pass through untouched. It returns an error for structurally invalid keys so
// that no caller can address a room under a divergent spelling.
func NormalizeRoomKey(key string) (string, *errs.CustomError) {
	if key == "" || len(key) > MaxRoomKeyLength {
		return "", errs.NewError(errs.ErrRoomKeyInvalid)
	}

	switch {
	case strings.HasPrefix(key, DirectKeyPrefix):
		parts := strings.Split(key[len(DirectKeyPrefix):], keySeparator)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == parts[1] {
			return "", errs.NewError(errs.ErrRoomKeyInvalid)
		}
		return CanonicalKey(parts[0], parts[1]), nil

	case strings.HasPrefix(key, SelfKeyPrefix):
		uid := key[len(SelfKeyPrefix):]
		if uid == "" || strings.Contains(uid, keySeparator) {
			return "", errs.NewError(errs.ErrRoomKeyInvalid)
		}
		return key, nil

	default:
		// Explicit channel id. Reject the reserved separator to keep the
		// channel namespace disjoint from derived keys.
		if strings.Contains(key, keySeparator) {
			return "", errs.NewError(errs.ErrRoomKeyInvalid)
		}
		return key, nil
	}
}

// DirectParticipants extracts the participant pair from a canonical two-party
// key. The second return value reports whether the key is a two-party key.
func DirectParticipants(key string) (string, string, bool) {
	if !strings.HasPrefix(key, DirectKeyPrefix) {
		return "", "", false
	}
	parts := strings.Split(key[len(DirectKeyPrefix):], keySeparator)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// RecipientOf resolves the counterparty of sender in a two-party room.
// It returns "" for channel rooms and self-notes rooms.
func RecipientOf(roomKey, senderID string) string {
	a, b, ok := DirectParticipants(roomKey)
	if !ok {
		return ""
	}
	if senderID == a {
		return b
	}
	return a
}
