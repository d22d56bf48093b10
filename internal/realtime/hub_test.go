// ABOUTME: Tests for the realtime hub
// ABOUTME: Verifies room fan-out, sender exclusion, presence, and slow-client drops

package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(c *client) []Event {
	var events []Event
	for {
		select {
		case e := <-c.send:
			events = append(events, e)
		default:
			return events
		}
	}
}

func TestHub_EmitReachesRoomMembers(t *testing.T) {
	h := NewHub(nil)
	a := h.register("alice")
	b := h.register("bob")
	h.join(a, GroupRoom("g1"))
	h.join(b, GroupRoom("g1"))

	h.Emit(GroupRoom("g1"), Event{Name: "newGroupMessage", Data: "hi"})

	require.Len(t, drain(a), 1)
	require.Len(t, drain(b), 1)
}

func TestHub_EmitSkipsNonMembers(t *testing.T) {
	h := NewHub(nil)
	a := h.register("alice")
	b := h.register("bob")
	h.join(a, GroupRoom("g1"))

	h.Emit(GroupRoom("g1"), Event{Name: "newGroupMessage"})

	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))
}

func TestHub_EmitExceptSkipsAllSenderConnections(t *testing.T) {
	h := NewHub(nil)
	a1 := h.register("alice")
	a2 := h.register("alice")
	b := h.register("bob")
	for _, c := range []*client{a1, a2, b} {
		h.join(c, GroupRoom("g1"))
	}

	h.EmitExcept(GroupRoom("g1"), "alice", Event{Name: "newGroupMessage"})

	assert.Empty(t, drain(a1))
	assert.Empty(t, drain(a2))
	assert.Len(t, drain(b), 1)
}

func TestHub_StudyRoomIsScopedByTopic(t *testing.T) {
	h := NewHub(nil)
	a := h.register("alice")
	b := h.register("bob")
	h.join(a, StudyRoom("g1", "calculus"))
	h.join(b, StudyRoom("g1", "algebra"))

	h.Emit(StudyRoom("g1", "calculus"), Event{Name: "newStudyChatMessages"})

	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))
}

func TestHub_UserRoomAutoJoined(t *testing.T) {
	h := NewHub(nil)
	a := h.register("alice")

	h.Emit(UserRoom("alice"), Event{Name: "newGroup"})

	assert.Len(t, drain(a), 1)
}

func TestHub_UnregisterLeavesRooms(t *testing.T) {
	h := NewHub(nil)
	a := h.register("alice")
	h.join(a, GroupRoom("g1"))

	h.unregister(a)

	// The write pump is signalled, the send channel stays open, and emitting
	// to the now-empty room is a no-op.
	select {
	case <-a.done:
	default:
		t.Fatal("done not closed on unregister")
	}
	h.Emit(GroupRoom("g1"), Event{Name: "newGroupMessage"})
	assert.Empty(t, drain(a))
}

func TestHub_EmitDuringUnregisterDoesNotPanic(t *testing.T) {
	h := NewHub(nil)

	// Emitters copy room members before sending, so a send can land after the
	// client unregistered. That must never hit a closed channel.
	for round := 0; round < 50; round++ {
		a := h.register("alice")
		h.join(a, GroupRoom("g1"))

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 20; i++ {
				h.Emit(GroupRoom("g1"), Event{Name: "newGroupMessage", Data: i})
			}
		}()
		h.unregister(a)
		<-done
	}
}

func TestHub_OnlineUsers(t *testing.T) {
	h := NewHub(nil)
	assert.Empty(t, h.OnlineUsers())

	a1 := h.register("alice")
	a2 := h.register("alice")
	b := h.register("bob")
	assert.Equal(t, []string{"alice", "bob"}, h.OnlineUsers())

	// Alice stays online while one connection remains.
	h.unregister(a1)
	assert.Equal(t, []string{"alice", "bob"}, h.OnlineUsers())

	h.unregister(a2)
	h.unregister(b)
	assert.Empty(t, h.OnlineUsers())
}

func TestHub_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil)
	a := h.register("alice")
	h.join(a, GroupRoom("g1"))

	// Overflow the buffer; emits must not block.
	for i := 0; i < clientBufferSize+10; i++ {
		h.Emit(GroupRoom("g1"), Event{Name: "newGroupMessage", Data: i})
	}

	assert.Len(t, drain(a), clientBufferSize)
}

func TestHub_Broadcast(t *testing.T) {
	h := NewHub(nil)
	a := h.register("alice")
	b := h.register("bob")

	h.Broadcast(Event{Name: "getOnlineUsers", Data: h.OnlineUsers()})

	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
}
