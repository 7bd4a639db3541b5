package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendEventAfterQueueCloseReturnsError(t *testing.T) {
	s := NewSession(&Coordinator{Key: "dm:alice:bob"}, nil)

	require.NoError(t, s.SendEvent(NewEvent(EventMessage, "dm:alice:bob", nil)))

	s.closeSendQueue()

	assert.Error(t, s.SendEvent(NewEvent(EventMessage, "dm:alice:bob", nil)))
	assert.Equal(t, StateClosed, s.State())

	// Closing again is a no-op.
	s.closeSendQueue()
}

// The coordinator loop closes the send queue while the read goroutine may still
// be queueing error events; the two must serialize rather than panic.
func TestSendEventConcurrentWithQueueClose(t *testing.T) {
	for i := 0; i < 2000; i++ {
		s := NewSession(&Coordinator{Key: "dm:alice:bob"}, nil)
		event := NewEvent(EventError, s.room.Key, ErrorEventPayload{Code: 1, Message: "x"})

		start := make(chan struct{})

		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 8; j++ {
				_ = s.SendEvent(event)
			}
		}()

		go func() {
			defer wg.Done()
			<-start
			s.closeSendQueue()
		}()

		close(start)
		wg.Wait()

		assert.Error(t, s.SendEvent(event))
	}
}
