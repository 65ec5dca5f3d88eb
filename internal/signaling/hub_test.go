package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedeck/liveclass/internal/metrics"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop(), time.Hour)
}

func newTestClient(id string) *Client {
	return &Client{
		ID:   id,
		log:  zerolog.Nop(),
		send: make(chan *Event, 256),
	}
}

// drain empties a client's send buffer and returns everything that was queued.
func drain(c *Client) []*Event {
	var events []*Event
	for {
		select {
		case ev := <-c.send:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func join(h *Hub, c *Client, roomID, participantID, name string) {
	h.handleJoin(c, roomID, &ParticipantInfo{ID: participantID, Name: name})
}

func eventsOfKind(events []*Event, kind EventKind) []*Event {
	var out []*Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestJoinSnapshotAndAnnouncement(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")
	b := newTestClient("conn-b")

	join(h, a, "abc", "alice", "Alice")

	events := drain(a)
	require.Len(t, events, 1)
	assert.Equal(t, EventExistingParticipants, events[0].Kind)
	assert.Empty(t, events[0].Participants)

	join(h, b, "abc", "bob", "Bob")

	// Alice hears about Bob exactly once.
	aEvents := drain(a)
	joined := eventsOfKind(aEvents, EventParticipantJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "bob", joined[0].Participant)
	require.NotNil(t, joined[0].Info)
	assert.Equal(t, "Bob", joined[0].Info.Name)

	// Bob's snapshot holds exactly Alice, taken before Bob was added.
	bEvents := drain(b)
	snapshots := eventsOfKind(bEvents, EventExistingParticipants)
	require.Len(t, snapshots, 1)
	require.Len(t, snapshots[0].Participants, 1)
	assert.Equal(t, "alice", snapshots[0].Participants[0].ID)

	// No chat history was replayed because none exists.
	assert.Empty(t, eventsOfKind(bEvents, EventChatHistory))
}

func TestRoomSizeAcrossJoinLeaveRejoin(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")
	b := newTestClient("conn-b")

	assert.Equal(t, 0, h.roomSize("abc"))

	join(h, a, "abc", "alice", "Alice")
	join(h, b, "abc", "bob", "Bob")
	assert.Equal(t, 2, h.roomSize("abc"))

	// Rejoin does not double count.
	join(h, a, "abc", "alice", "Alice")
	assert.Equal(t, 2, h.roomSize("abc"))

	h.handleLeave("abc", "bob")
	assert.Equal(t, 1, h.roomSize("abc"))

	h.handleDisconnect(a)
	assert.Equal(t, 0, h.roomSize("abc"))
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")
	b := newTestClient("conn-b")

	join(h, a, "abc", "alice", "Alice")
	join(h, b, "abc", "bob", "Bob")
	drain(a)

	h.handleLeave("abc", "bob")
	left := eventsOfKind(drain(a), EventParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "bob", left[0].Participant)

	// Second leave for the same participant: no broadcast, no error.
	h.handleLeave("abc", "bob")
	assert.Empty(t, drain(a))

	// Leaving an unknown room is a no-op too.
	h.handleLeave("nope", "bob")
}

func TestDisconnectEquivalentToLeave(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")
	b := newTestClient("conn-b")

	join(h, a, "abc", "alice", "Alice")
	join(h, b, "abc", "bob", "Bob")
	drain(a)

	h.handleDisconnect(b)

	left := eventsOfKind(drain(a), EventParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "bob", left[0].Participant)
	assert.Equal(t, 1, h.roomSize("abc"))

	// A connection that never joined anything is a no-op.
	h.handleDisconnect(newTestClient("conn-c"))
	assert.Equal(t, 1, h.roomSize("abc"))
}

func TestJoinMovesConnectionBetweenRooms(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")
	g := newTestClient("conn-g")

	before := testutil.ToFloat64(metrics.ParticipantsActive)

	join(h, a, "roomA", "alice", "Alice")
	join(h, g, "roomA", "gary", "Gary")
	drain(a)

	// Joining another room on the same connection leaves the old room first.
	join(h, g, "roomB", "gary", "Gary")

	left := eventsOfKind(drain(a), EventParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "gary", left[0].Participant)
	assert.Equal(t, 1, h.roomSize("roomA"))
	assert.Equal(t, 1, h.roomSize("roomB"))

	// The disconnect tears down the latest binding only; the old room was
	// already cleaned up by the move.
	h.handleDisconnect(g)
	assert.Equal(t, 0, h.roomSize("roomB"))
	assert.Equal(t, 1, h.roomSize("roomA"))

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ParticipantsActive))
}

func TestJoinSameRoomUnderNewIDRemovesOldEntry(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")
	b := newTestClient("conn-b")

	join(h, a, "abc", "observer", "Olive")
	join(h, b, "abc", "bob", "Bob")
	drain(a)

	join(h, b, "abc", "bob2", "Bob")

	require.Equal(t, 2, h.roomSize("abc"))
	_, stale := h.rooms["abc"].get("bob")
	assert.False(t, stale)

	events := drain(a)
	left := eventsOfKind(events, EventParticipantLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "bob", left[0].Participant)
	joined := eventsOfKind(events, EventParticipantJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "bob2", joined[0].Participant)
}

func TestBroadcastSkipsDepartedConnection(t *testing.T) {
	h := newTestHub()
	ghost := newTestClient("conn-ghost")
	join(h, ghost, "roomA", "ghost", "Ghost")

	members := make([]*Client, 5)
	for i := range members {
		members[i] = newTestClient(fmt.Sprintf("conn-%d", i))
		join(h, members[i], "roomA", fmt.Sprintf("member-%d", i), "Member")
		drain(members[i])
	}

	// The transport tore the ghost down; its send channel is gone. Deliveries
	// to it must become drops without cutting the broadcast short for anyone.
	ghost.closed = true
	close(ghost.send)

	require.NotPanics(t, func() {
		for i := 1; i <= 20; i++ {
			h.handleChat("roomA", json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)))
		}
	})

	for _, m := range members {
		assert.Len(t, eventsOfKind(drain(m), EventChatMessage), 20)
	}
}

func TestStaleConnectionDoesNotEvictRejoinedParticipant(t *testing.T) {
	h := newTestHub()
	old := newTestClient("conn-old")
	fresh := newTestClient("conn-fresh")

	join(h, old, "abc", "alice", "Alice")
	join(h, fresh, "abc", "alice", "Alice")
	require.Equal(t, 1, h.roomSize("abc"))

	// The old connection finally notices it is dead. Alice, now living on the
	// fresh connection, must stay present.
	h.handleDisconnect(old)
	assert.Equal(t, 1, h.roomSize("abc"))
}

func TestChatHistoryCapAndReplay(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")
	join(h, a, "abc", "alice", "Alice")
	drain(a)

	for i := 1; i <= 105; i++ {
		h.handleChat("abc", json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)))
	}

	hist := h.history["abc"]
	require.NotNil(t, hist)
	require.Equal(t, 100, hist.len())
	assert.JSONEq(t, `{"seq":6}`, string(hist.msgs[0]))
	assert.JSONEq(t, `{"seq":105}`, string(hist.msgs[99]))

	// Every message was broadcast to the member, sender echo included.
	assert.Len(t, eventsOfKind(drain(a), EventChatMessage), 105)

	// A new joiner replays only the last 50.
	b := newTestClient("conn-b")
	join(h, b, "abc", "bob", "Bob")
	replays := eventsOfKind(drain(b), EventChatHistory)
	require.Len(t, replays, 1)
	require.Len(t, replays[0].History, 50)
	assert.JSONEq(t, `{"seq":56}`, string(replays[0].History[0]))
	assert.JSONEq(t, `{"seq":105}`, string(replays[0].History[49]))
}

func TestChatToRoomWithoutMembersIsStored(t *testing.T) {
	h := newTestHub()
	h.handleChat("ghost", json.RawMessage(`{"text":"anyone?"}`))
	require.NotNil(t, h.history["ghost"])
	assert.Equal(t, 1, h.history["ghost"].len())
}

func TestRelaySignal(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")
	b := newTestClient("conn-b")

	join(h, a, "abc", "alice", "Alice")
	join(h, b, "abc", "bob", "Bob")
	drain(a)
	drain(b)

	offer := json.RawMessage(`{"sdp":"v=0...","type":"offer"}`)
	h.relaySignal(a, KindWebRTCOffer, "bob", offer, false)

	events := drain(b)
	require.Len(t, events, 1)
	assert.Equal(t, EventKind("webrtc-offer"), events[0].Kind)
	assert.Equal(t, "alice", events[0].From)
	assert.Empty(t, events[0].FromUser)
	assert.JSONEq(t, string(offer), string(events[0].Payload))

	// The sender got nothing back.
	assert.Empty(t, drain(a))
}

func TestRelaySignalToAbsentTargetIsDropped(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")
	b := newTestClient("conn-b")

	join(h, a, "abc", "alice", "Alice")
	join(h, b, "abc", "bob", "Bob")
	drain(a)
	drain(b)

	h.relaySignal(a, KindWebRTCAnswer, "carol", json.RawMessage(`{}`), false)
	assert.Empty(t, drain(a))
	assert.Empty(t, drain(b))

	// A sender outside any room is dropped the same way.
	h.relaySignal(newTestClient("conn-c"), KindWebRTCOffer, "bob", json.RawMessage(`{}`), false)
	assert.Empty(t, drain(b))
}

func TestLegacyRelayAnnotatesFromUserID(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")
	b := newTestClient("conn-b")

	join(h, a, "abc", "alice", "Alice")
	join(h, b, "abc", "bob", "Bob")
	drain(b)

	candidate := json.RawMessage(`{"candidate":"candidate:1 1 UDP ..."}`)
	h.relaySignal(a, KindLegacyICE, "bob", candidate, true)

	events := drain(b)
	require.Len(t, events, 1)
	assert.Equal(t, EventKind("ice-candidate"), events[0].Kind)
	assert.Equal(t, "alice", events[0].FromUser)
	assert.Empty(t, events[0].From)
	assert.JSONEq(t, string(candidate), string(events[0].Payload))
}

func TestMediaStateMergeAndBroadcast(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")
	b := newTestClient("conn-b")

	join(h, a, "abc", "alice", "Alice")
	join(h, b, "abc", "bob", "Bob")
	drain(a)
	drain(b)

	on := true
	h.handleMediaState(a, &MediaState{MicOn: &on})

	events := eventsOfKind(drain(b), EventParticipantMedia)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].Participant)
	require.NotNil(t, events[0].Media.MicOn)
	assert.True(t, *events[0].Media.MicOn)

	// A later partial update leaves the mic flag alone.
	h.handleMediaState(a, &MediaState{ScreenSharing: &on})

	p, ok := h.rooms["abc"].get("alice")
	require.True(t, ok)
	assert.True(t, p.micOn)
	assert.True(t, p.screenSharing)
	assert.False(t, p.cameraOn)

	// Unknown participants and rooms are no-ops.
	h.handleMediaState(newTestClient("conn-c"), &MediaState{MicOn: &on})
}

func TestMediaFlagsAppearInSnapshots(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")
	join(h, a, "abc", "alice", "Alice")

	on := true
	h.handleMediaState(a, &MediaState{CameraOn: &on})

	list := h.rooms["abc"].snapshot()
	require.Len(t, list, 1)
	assert.True(t, list[0].CameraOn)
	assert.False(t, list[0].MicOn)
	assert.False(t, list[0].JoinedAt.IsZero())
}

func TestJoinValidationFailure(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")

	h.handleJoin(a, "abc", &ParticipantInfo{ID: "alice"}) // no name

	events := drain(a)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
	assert.Equal(t, 0, h.roomSize("abc"))

	// Nil info and empty room id fail the same way.
	h.handleJoin(a, "abc", nil)
	h.handleJoin(a, "", &ParticipantInfo{ID: "alice", Name: "Alice"})
	assert.Len(t, drain(a), 2)
	assert.Empty(t, h.rooms)
}

func TestHistoryExpiryHonorsRecreation(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")

	join(h, a, "abc", "alice", "Alice")
	h.handleChat("abc", json.RawMessage(`{"text":"hi"}`))

	epoch := h.epochs["abc"]
	h.handleLeave("abc", "alice")
	require.Empty(t, h.rooms)
	require.NotNil(t, h.history["abc"])

	// Room is recreated before the timer fires: the pending expiry must not
	// destroy the history of the reborn room.
	b := newTestClient("conn-b")
	join(h, b, "abc", "bob", "Bob")
	h.expireHistory("abc", epoch)

	require.NotNil(t, h.history["abc"])
	replays := eventsOfKind(drain(b), EventChatHistory)
	require.Len(t, replays, 1)
	assert.JSONEq(t, `{"text":"hi"}`, string(replays[0].History[0]))
}

func TestHistoryExpiryEpochGuard(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")

	join(h, a, "abc", "alice", "Alice")
	h.handleChat("abc", json.RawMessage(`{"text":"hi"}`))
	firstEpoch := h.epochs["abc"]
	h.handleLeave("abc", "alice")

	// Recreate and empty the room again; the first scheduled expiry is now
	// stale and must not fire.
	b := newTestClient("conn-b")
	join(h, b, "abc", "bob", "Bob")
	secondEpoch := h.epochs["abc"]
	require.Greater(t, secondEpoch, firstEpoch)
	h.handleLeave("abc", "bob")

	h.expireHistory("abc", firstEpoch)
	assert.NotNil(t, h.history["abc"])

	// The expiry scheduled for the second emptying is the one that counts.
	h.expireHistory("abc", secondEpoch)
	assert.Nil(t, h.history["abc"])
}

func TestDispatchDropsUnknownKind(t *testing.T) {
	h := newTestHub()
	a := newTestClient("conn-a")

	assert.NotPanics(t, func() {
		h.dispatch(&Message{Kind: "telepathy", client: a})
	})
	assert.Empty(t, drain(a))
}

func TestRunLoopServesQueries(t *testing.T) {
	h := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	a := newTestClient("conn-a")
	h.register <- a
	h.inbound <- &Message{
		Kind:   KindJoinRoom,
		RoomID: "abc",
		Info:   &ParticipantInfo{ID: "alice", Name: "Alice", Role: "instructor"},
		client: a,
	}

	assert.Equal(t, 1, h.RoomSize("abc"))
	assert.Equal(t, 0, h.RoomSize("other"))

	list := h.ListParticipants("abc")
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].ID)
	assert.Equal(t, "instructor", list[0].Role)

	assert.Empty(t, h.ListParticipants("other"))

	id := h.MintMeetingID()
	assert.NotEmpty(t, id)
	assert.Equal(t, 0, h.RoomSize(id))
}

func TestRunLoopSurvivesHandlerPanic(t *testing.T) {
	h := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	// A message with no client panics inside dispatch; the loop must absorb
	// it and keep serving.
	h.inbound <- &Message{Kind: KindLeaveRoom, RoomID: "abc"}

	assert.Equal(t, 0, h.RoomSize("abc"))
}
