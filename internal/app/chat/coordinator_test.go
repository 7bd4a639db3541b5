package chat

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Plannorium/curenium-sub005/internal/pkg/errs"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// fakeStore is an in-memory MessageStore for coordinator tests. It lives in
// this package (rather than reusing internal/app/store) to keep the import
// graph acyclic.
type fakeStore struct {
	mu        sync.Mutex
	messages  map[string]Message
	appendErr error
	mutateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: map[string]Message{}}
}

func (f *fakeStore) Append(_ context.Context, msg Message) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.appendErr != nil {
		return Message{}, f.appendErr
	}

	msg.CreatedAt = time.Now()
	msg.UpdatedAt = msg.CreatedAt
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeStore) Mutate(_ context.Context, roomKey, messageID string, patch Patch) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mutateErr != nil {
		return Message{}, f.mutateErr
	}

	msg, ok := f.messages[messageID]
	if !ok || msg.RoomKey != roomKey {
		return Message{}, ErrMessageNotFound
	}

	patch.Apply(&msg)
	msg.UpdatedAt = time.Now()
	f.messages[messageID] = msg
	return msg, nil
}

func (f *fakeStore) ListRecent(context.Context, string, time.Time, int) ([]Message, error) {
	return nil, nil
}

func (f *fakeStore) MostRecentPerRoom(context.Context, string, int) ([]Message, error) {
	return nil, nil
}

func (f *fakeStore) stored() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Message, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m)
	}
	return out
}

// fakeVerifier resolves tokens from a fixed table; everything else fails.
type fakeVerifier struct {
	identities map[string]Identity
}

func (f *fakeVerifier) Verify(token string) (Identity, error) {
	identity, ok := f.identities[token]
	if !ok {
		return Identity{}, errors.New("token rejected")
	}
	return identity, nil
}

func newTestVerifier() *fakeVerifier {
	return &fakeVerifier{identities: map[string]Identity{
		"token-alice": {ID: "alice", DisplayName: "Alice"},
		"token-bob":   {ID: "bob", DisplayName: "Bob"},
		"token-carol": {ID: "carol", DisplayName: "Carol"},
	}}
}

func startRoom(t *testing.T, key string, store MessageStore, verifier TokenVerifier, cfg Config) *Coordinator {
	t.Helper()

	c := NewCoordinator(key, store, verifier, cfg, nil)
	go c.Run()

	t.Cleanup(func() {
		c.Stop()
		<-c.done
	})

	return c
}

// wireEvent mirrors Event with a raw payload so tests can decode the variant
// they expect.
type wireEvent struct {
	Type    EventType       `json:"type"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

func recvEvent(t *testing.T, s *Session) wireEvent {
	t.Helper()

	select {
	case raw, ok := <-s.send:
		require.True(t, ok, "send queue closed while waiting for event")

		var ev wireEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev

	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return wireEvent{}
	}
}

func expectNoEvent(t *testing.T, s *Session) {
	t.Helper()

	select {
	case raw, ok := <-s.send:
		if ok {
			t.Fatalf("unexpected event: %s", raw)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func connectAuthed(t *testing.T, c *Coordinator, token string) *Session {
	t.Helper()

	s := NewSession(c, nil)
	require.True(t, c.Connect(s))

	c.Authenticate(s, token)

	ev := recvEvent(t, s)
	require.Equal(t, EventAuthOK, ev.Type)
	require.True(t, s.Authenticated())

	return s
}

func TestAuthSuccessBindsIdentity(t *testing.T) {
	c := startRoom(t, "dm:alice:bob", newFakeStore(), newTestVerifier(), Config{})

	s := connectAuthed(t, c, "token-alice")

	assert.Equal(t, "alice", s.Identity().ID)
	assert.Equal(t, StateActive, s.State())
}

func TestAuthFailureClosesSession(t *testing.T) {
	c := startRoom(t, "dm:alice:bob", newFakeStore(), newTestVerifier(), Config{})

	s := NewSession(c, nil)
	require.True(t, c.Connect(s))

	c.Authenticate(s, "bogus")

	ev := recvEvent(t, s)
	assert.Equal(t, EventAuthError, ev.Type)

	var payload ErrorEventPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, errs.ErrTokenInvalid, payload.Code)

	assert.Equal(t, StateClosed, s.State())
	assert.False(t, s.Authenticated())
}

func TestAuthTimeoutClosesUnauthenticatedSession(t *testing.T) {
	c := startRoom(t, "dm:alice:bob", newFakeStore(), newTestVerifier(), Config{AuthWindow: 30 * time.Millisecond})

	s := NewSession(c, nil)
	require.True(t, c.Connect(s))

	require.Eventually(t, func() bool {
		return s.State() == StateClosed
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-s.send:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond, "send queue should be closed after auth timeout")
}

func TestLateAuthAfterTimeoutIsRejected(t *testing.T) {
	c := startRoom(t, "dm:alice:bob", newFakeStore(), newTestVerifier(), Config{AuthWindow: 20 * time.Millisecond})

	s := NewSession(c, nil)
	require.True(t, c.Connect(s))

	require.Eventually(t, func() bool {
		return s.State() == StateClosed
	}, 2*time.Second, 5*time.Millisecond)

	// A valid token after the window must not resurrect the session.
	c.Authenticate(s, "token-alice")

	assert.Never(t, func() bool {
		return s.Authenticated()
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestSubmitBroadcastsToEveryActiveSessionIncludingSender(t *testing.T) {
	store := newFakeStore()
	c := startRoom(t, "dm:alice:bob", store, newTestVerifier(), Config{})

	alice := connectAuthed(t, c, "token-alice")
	bob := connectAuthed(t, c, "token-bob")

	c.Submit(alice, "hello bob", nil)

	for _, s := range []*Session{alice, bob} {
		ev := recvEvent(t, s)
		require.Equal(t, EventMessage, ev.Type)

		var msg Message
		require.NoError(t, json.Unmarshal(ev.Payload, &msg))
		assert.Equal(t, "hello bob", msg.Body)
		assert.Equal(t, "alice", msg.Sender.ID)
		assert.Equal(t, "dm:alice:bob", msg.RoomKey)
		assert.False(t, msg.CreatedAt.IsZero())
	}

	// Exactly once per session.
	expectNoEvent(t, alice)
	expectNoEvent(t, bob)

	require.Len(t, store.stored(), 1)
}

func TestSubmitDoesNotLeakAcrossRooms(t *testing.T) {
	store := newFakeStore()
	verifier := newTestVerifier()

	roomA := startRoom(t, "dm:alice:bob", store, verifier, Config{})
	roomB := startRoom(t, "dm:alice:carol", store, verifier, Config{})

	alice := connectAuthed(t, roomA, "token-alice")
	carol := connectAuthed(t, roomB, "token-carol")

	roomA.Submit(alice, "room A only", nil)

	ev := recvEvent(t, alice)
	assert.Equal(t, EventMessage, ev.Type)

	expectNoEvent(t, carol)
}

func TestSubmitPersistenceFailureNotifiesSenderOnly(t *testing.T) {
	store := newFakeStore()
	store.appendErr = errors.New("disk on fire")

	c := startRoom(t, "dm:alice:bob", store, newTestVerifier(), Config{})

	alice := connectAuthed(t, c, "token-alice")
	bob := connectAuthed(t, c, "token-bob")

	c.Submit(alice, "doomed", nil)

	ev := recvEvent(t, alice)
	require.Equal(t, EventError, ev.Type)

	var payload ErrorEventPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, errs.ErrStorageFailed, payload.Code)

	expectNoEvent(t, bob)
	assert.Empty(t, store.stored())
}

func TestStatusUpdateTargetsOriginalSenderSessions(t *testing.T) {
	store := newFakeStore()
	c := startRoom(t, "dm:alice:bob", store, newTestVerifier(), Config{})

	aliceOne := connectAuthed(t, c, "token-alice")
	aliceTwo := connectAuthed(t, c, "token-alice")
	bob := connectAuthed(t, c, "token-bob")

	c.Submit(aliceOne, "read me", nil)

	var msg Message
	for _, s := range []*Session{aliceOne, aliceTwo, bob} {
		ev := recvEvent(t, s)
		require.Equal(t, EventMessage, ev.Type)
		require.NoError(t, json.Unmarshal(ev.Payload, &msg))
	}

	c.UpdateStatus(bob, msg.ID, StatusRead)

	for _, s := range []*Session{aliceOne, aliceTwo} {
		ev := recvEvent(t, s)
		require.Equal(t, EventMessageStatus, ev.Type)

		var payload StatusEventPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		assert.Equal(t, msg.ID, payload.MessageID)
		assert.Equal(t, StatusRead, payload.Status)
		assert.Equal(t, "bob", payload.UpdatedBy)
	}

	// Bob updated the status; he is not the original sender and sees nothing.
	expectNoEvent(t, bob)
}

func TestStatusUpdateUnknownMessage(t *testing.T) {
	c := startRoom(t, "dm:alice:bob", newFakeStore(), newTestVerifier(), Config{})

	alice := connectAuthed(t, c, "token-alice")

	c.UpdateStatus(alice, "no-such-id", StatusDelivered)

	ev := recvEvent(t, alice)
	require.Equal(t, EventError, ev.Type)

	var payload ErrorEventPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, errs.ErrMessageNotFound, payload.Code)
}

func TestReactionToggleIsIdempotent(t *testing.T) {
	store := newFakeStore()
	c := startRoom(t, "dm:alice:bob", store, newTestVerifier(), Config{})

	alice := connectAuthed(t, c, "token-alice")
	bob := connectAuthed(t, c, "token-bob")

	c.Submit(alice, "react to me", nil)

	var msg Message
	for _, s := range []*Session{alice, bob} {
		ev := recvEvent(t, s)
		require.NoError(t, json.Unmarshal(ev.Payload, &msg))
	}

	// First toggle adds bob under the emoji.
	c.ToggleReaction(bob, msg.ID, "👍")

	for _, s := range []*Session{alice, bob} {
		ev := recvEvent(t, s)
		require.Equal(t, EventReaction, ev.Type)

		var payload ReactionEventPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		assert.Equal(t, "👍", payload.Emoji)
		assert.Equal(t, []string{"bob"}, payload.Users)
	}

	// Second identical toggle removes him again.
	c.ToggleReaction(bob, msg.ID, "👍")

	for _, s := range []*Session{alice, bob} {
		ev := recvEvent(t, s)
		require.Equal(t, EventReaction, ev.Type)

		var payload ReactionEventPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		assert.Empty(t, payload.Users)
	}
}

func TestRelayBroadcastsWithoutPersisting(t *testing.T) {
	store := newFakeStore()
	c := startRoom(t, "dm:alice:bob", store, newTestVerifier(), Config{})

	alice := connectAuthed(t, c, "token-alice")
	bob := connectAuthed(t, c, "token-bob")

	c.Relay(alice, "call-42")

	for _, s := range []*Session{alice, bob} {
		ev := recvEvent(t, s)
		require.Equal(t, EventCallInvitation, ev.Type)

		var payload CallInvitationPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		assert.Equal(t, "call-42", payload.CallID)
		assert.Equal(t, "alice", payload.From.ID)
	}

	assert.Empty(t, store.stored())
}

func TestDeliverFansOutExternallyPersistedMessage(t *testing.T) {
	c := startRoom(t, "dm:alice:bob", newFakeStore(), newTestVerifier(), Config{})

	bob := connectAuthed(t, c, "token-bob")

	msg := NewMessage("dm:alice:bob", Identity{ID: "alice"}, "ingested elsewhere", nil)
	require.True(t, c.Deliver(msg))

	ev := recvEvent(t, bob)
	require.Equal(t, EventMessage, ev.Type)

	var got Message
	require.NoError(t, json.Unmarshal(ev.Payload, &got))
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "ingested elsewhere", got.Body)
}

func TestDisconnectIsSynchronous(t *testing.T) {
	c := startRoom(t, "dm:alice:bob", newFakeStore(), newTestVerifier(), Config{})

	alice := connectAuthed(t, c, "token-alice")
	bob := connectAuthed(t, c, "token-bob")

	c.Disconnect(bob)

	// When Disconnect returns, no later broadcast may target the handle.
	c.Submit(alice, "after bob left", nil)

	ev := recvEvent(t, alice)
	assert.Equal(t, EventMessage, ev.Type)

	select {
	case raw, ok := <-bob.send:
		assert.False(t, ok, "expected closed send queue, got event: %s", raw)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("send queue not closed after disconnect")
	}
}

func TestUnauthenticatedFramesAreIgnored(t *testing.T) {
	store := newFakeStore()
	c := startRoom(t, "dm:alice:bob", store, newTestVerifier(), Config{})

	s := NewSession(c, nil)
	require.True(t, c.Connect(s))

	s.processFrame([]byte(`{"type":"message","text":"sneaky"}`))
	s.processFrame([]byte(`{"type":"reaction","payload":{"messageId":"x","emoji":"🎉"}}`))
	s.processFrame([]byte(`not even json`))

	expectNoEvent(t, s)
	assert.Empty(t, store.stored())
}

func TestOversizedMessageRejected(t *testing.T) {
	store := newFakeStore()
	c := startRoom(t, "dm:alice:bob", store, newTestVerifier(), Config{})

	alice := connectAuthed(t, c, "token-alice")

	huge := make([]byte, MaxContentBytes+1)
	for i := range huge {
		huge[i] = 'a'
	}

	frame, err := json.Marshal(Frame{Type: FrameMessage, Text: string(huge)})
	require.NoError(t, err)
	alice.processFrame(frame)

	ev := recvEvent(t, alice)
	require.Equal(t, EventError, ev.Type)

	var payload ErrorEventPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, errs.ErrMessageContentTooLong, payload.Code)
	assert.Empty(t, store.stored())
}

func TestStopReleasesSessions(t *testing.T) {
	c := NewCoordinator("dm:alice:bob", newFakeStore(), newTestVerifier(), Config{}, nil)
	go c.Run()

	s := NewSession(c, nil)
	require.True(t, c.Connect(s))

	c.Stop()
	<-c.done

	assert.True(t, c.Stopped())
	assert.False(t, c.Connect(NewSession(c, nil)))

	_, ok := <-s.send
	assert.False(t, ok, "shutdown must close remaining send queues")
}
