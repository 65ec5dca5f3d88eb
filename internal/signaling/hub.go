package signaling

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/coursedeck/liveclass/internal/metrics"
)

// Hub is the room registry and signaling relay. It owns every room, every
// participant record and every chat buffer; all mutation happens on the single
// goroutine running Run, fed through the hub's channels. Nothing outside this
// package touches that state directly.
type Hub struct {
	log      zerolog.Logger
	validate *validator.Validate

	// retention is how long an emptied room's chat history is kept around
	// before it is discarded, in case the room is rejoined.
	retention time.Duration

	rooms   map[string]*Room
	history map[string]*chatHistory

	// epochs counts room creations per room id. A scheduled history cleanup
	// captures the epoch at scheduling time and is ignored at fire time if the
	// room has been recreated since (the epoch moved on).
	epochs map[string]uint64

	register   chan *Client
	unregister chan *Client
	inbound    chan *Message
	expirals   chan expiral
	queries    chan func()

	done chan struct{}
}

// expiral asks the hub to discard a room's chat history, provided the room is
// still gone and has not been recreated since the leave that scheduled it.
type expiral struct {
	roomID string
	epoch  uint64
}

// NewHub creates a Hub. It does nothing until Run is started.
func NewHub(log zerolog.Logger, retention time.Duration) *Hub {
	return &Hub{
		log:        log,
		validate:   validator.New(),
		retention:  retention,
		rooms:      make(map[string]*Room),
		history:    make(map[string]*chatHistory),
		epochs:     make(map[string]uint64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *Message),
		expirals:   make(chan expiral, 64),
		queries:    make(chan func()),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main processing loop. This is the single goroutine that
// safely manages all state; it exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			// The client is not in a room yet; membership starts with the
			// first join-room message.
			h.log.Debug().Str("conn", client.ID).Msg("client connected")
			metrics.ConnectionsActive.Inc()

		case client := <-h.unregister:
			h.safely(func() { h.handleDisconnect(client) })
			metrics.ConnectionsActive.Dec()
			client.closed = true
			close(client.send)

		case msg := <-h.inbound:
			h.safely(func() { h.dispatch(msg) })

		case exp := <-h.expirals:
			h.safely(func() { h.expireHistory(exp.roomID, exp.epoch) })

		case q := <-h.queries:
			h.safely(q)

		case <-ctx.Done():
			return
		}
	}
}

// safely runs one handler, containing a panic to the event that caused it. A
// bad message may degrade its own room but never takes the relay down.
func (h *Hub) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Any("panic", r).Msg("handler panicked")
		}
	}()
	fn()
}

// dispatch routes one inbound message to its handler. The Kind set is closed;
// anything else is logged and dropped.
func (h *Hub) dispatch(msg *Message) {
	switch msg.Kind {
	case KindJoinRoom:
		h.handleJoin(msg.client, msg.RoomID, msg.Info)
	case KindLeaveRoom:
		h.handleLeave(msg.RoomID, msg.client.participantID)
	case KindWebRTCOffer, KindWebRTCAnswer, KindWebRTCICE:
		h.relaySignal(msg.client, msg.Kind, msg.To, msg.Payload, false)
	case KindLegacyOffer, KindLegacyAnswer, KindLegacyICE:
		h.relaySignal(msg.client, msg.Kind, msg.Target, msg.Payload, true)
	case KindMediaStateChange:
		h.handleMediaState(msg.client, msg.Media)
	case KindChatMessage:
		h.handleChat(msg.RoomID, msg.Chat)
	default:
		h.log.Warn().Str("kind", string(msg.Kind)).Str("conn", msg.client.ID).Msg("unknown message kind")
	}
}

// handleJoin registers a participant in a room, creating the room if needed.
// The joiner gets the membership snapshot taken just before they were added,
// plus the tail of the room's chat history; everyone else gets a
// participant-joined announcement. A rejoin under the same id overwrites the
// previous state and re-announces, it is not an error.
func (h *Hub) handleJoin(c *Client, roomID string, info *ParticipantInfo) {
	if roomID == "" || info == nil {
		c.enqueue(&Event{Kind: EventError, Error: "Failed to join room"})
		return
	}
	if err := h.validate.Struct(info); err != nil {
		h.log.Warn().Err(err).Str("conn", c.ID).Str("room", roomID).Msg("join rejected")
		c.enqueue(&Event{Kind: EventError, Error: "Failed to join room"})
		return
	}

	// A connection is a member of at most one room under one id. Joining
	// somewhere else (or under a new id) runs the leave sequence for the old
	// binding first so no ghost entry survives the move.
	if c.roomID != "" && (c.roomID != roomID || c.participantID != info.ID) {
		h.leaveBound(c)
	}

	room, ok := h.rooms[roomID]
	if !ok {
		room = newRoom(roomID)
		h.rooms[roomID] = room
		h.epochs[roomID]++
		if _, ok := h.history[roomID]; !ok {
			h.history[roomID] = &chatHistory{}
		}
		metrics.RoomsActive.Inc()
	}

	// Snapshot before insertion so the joiner does not see themselves.
	existing := room.snapshot()

	if _, rejoin := room.get(info.ID); !rejoin {
		metrics.ParticipantsActive.Inc()
	}
	room.add(c, *info, time.Now().UTC())
	c.roomID = roomID
	c.participantID = info.ID

	h.log.Info().
		Str("room", roomID).
		Str("participant", info.ID).
		Int("size", room.size()).
		Msg("participant joined")

	h.broadcast(room, info.ID, &Event{
		Kind:        EventParticipantJoined,
		Participant: info.ID,
		Info:        info,
	})

	c.enqueue(&Event{Kind: EventExistingParticipants, Participants: existing})

	if hist := h.history[roomID]; hist != nil && hist.len() > 0 {
		c.enqueue(&Event{Kind: EventChatHistory, History: hist.recent(historyReplay)})
	}
}

// handleLeave removes a participant and tells the remaining members. Unknown
// rooms and already-departed participants are silent no-ops, so a leave-room
// racing a disconnect never double-announces. Emptying a room deletes it at
// once and schedules its chat history for expiry.
func (h *Hub) handleLeave(roomID, participantID string) {
	room, ok := h.rooms[roomID]
	if !ok || participantID == "" {
		return
	}
	if !room.remove(participantID) {
		return
	}
	metrics.ParticipantsActive.Dec()

	h.broadcast(room, participantID, &Event{
		Kind:        EventParticipantLeft,
		Participant: participantID,
	})

	h.log.Info().
		Str("room", roomID).
		Str("participant", participantID).
		Int("size", room.size()).
		Msg("participant left")

	if room.size() == 0 {
		delete(h.rooms, roomID)
		metrics.RoomsActive.Dec()
		h.scheduleHistoryExpiry(roomID)
	}
}

// scheduleHistoryExpiry arms the retention timer for an emptied room's chat
// history. The current epoch rides along so a recreated room invalidates the
// pending expiry.
func (h *Hub) scheduleHistoryExpiry(roomID string) {
	exp := expiral{roomID: roomID, epoch: h.epochs[roomID]}
	time.AfterFunc(h.retention, func() {
		select {
		case h.expirals <- exp:
		case <-h.done:
		}
	})
}

// expireHistory discards a room's chat history if the room is still absent and
// was not recreated after the expiry was scheduled.
func (h *Hub) expireHistory(roomID string, epoch uint64) {
	if _, live := h.rooms[roomID]; live {
		return
	}
	if h.epochs[roomID] != epoch {
		return
	}
	delete(h.history, roomID)
	delete(h.epochs, roomID)
	h.log.Debug().Str("room", roomID).Msg("chat history expired")
}

// relaySignal forwards a WebRTC negotiation payload to one participant of the
// sender's room, annotated with the sender's id. The payload itself is opaque.
// A missing room or target drops the signal silently; the sender has no
// synchronous way to learn of the miss anyway.
func (h *Hub) relaySignal(c *Client, kind Kind, target string, payload []byte, legacy bool) {
	room, ok := h.rooms[c.roomID]
	if !ok {
		h.log.Warn().Str("conn", c.ID).Str("kind", string(kind)).Msg("signal from client outside any room")
		metrics.SignalsDropped.WithLabelValues("no_room").Inc()
		return
	}
	peer, ok := room.get(target)
	if !ok {
		h.log.Warn().
			Str("room", room.ID).
			Str("target", target).
			Str("kind", string(kind)).
			Msg("signal target not in room")
		metrics.SignalsDropped.WithLabelValues("no_target").Inc()
		return
	}

	ev := &Event{Kind: SignalEventKind(kind), Payload: payload}
	if legacy {
		ev.FromUser = c.participantID
	} else {
		ev.From = c.participantID
	}
	peer.client.enqueue(ev)
	metrics.SignalsRelayed.WithLabelValues(string(kind)).Inc()

	h.log.Debug().
		Str("room", room.ID).
		Str("from", c.participantID).
		Str("to", target).
		Str("kind", string(kind)).
		Msg("signal relayed")
}

// handleMediaState merges a partial media update into the sender's stored
// state and announces the delta to the rest of the room.
func (h *Hub) handleMediaState(c *Client, media *MediaState) {
	room, ok := h.rooms[c.roomID]
	if !ok || c.participantID == "" {
		return
	}
	p, ok := room.get(c.participantID)
	if !ok {
		return
	}
	p.applyMedia(media)
	h.broadcast(room, c.participantID, &Event{
		Kind:        EventParticipantMedia,
		Participant: c.participantID,
		Media:       media,
	})
}

// handleChat appends a chat message to the room's history, creating the buffer
// if needed, and fans it out to every current member. Delivery back to the
// sender is intentional; suppressing the echo is the client's business.
func (h *Hub) handleChat(roomID string, msg []byte) {
	if roomID == "" || len(msg) == 0 {
		return
	}
	hist, ok := h.history[roomID]
	if !ok {
		hist = &chatHistory{}
		h.history[roomID] = hist
	}
	hist.append(msg)
	metrics.ChatMessages.Inc()

	if room, ok := h.rooms[roomID]; ok {
		h.broadcast(room, "", &Event{Kind: EventChatMessage, Chat: msg})
	}
}

// handleDisconnect runs the leave sequence for whatever room the connection
// had joined. A connection that never joined is a no-op, and so is one whose
// participant id has since been taken over by a rejoin on a fresh connection.
func (h *Hub) handleDisconnect(c *Client) {
	h.log.Debug().Str("conn", c.ID).Msg("client disconnected")
	h.leaveBound(c)
}

// leaveBound runs the leave sequence for the connection's current binding,
// unless the connection never joined or its participant entry is now owned by
// another connection.
func (h *Hub) leaveBound(c *Client) {
	if c.roomID == "" || c.participantID == "" {
		return
	}
	if room, ok := h.rooms[c.roomID]; ok {
		if p, ok := room.get(c.participantID); ok && p.client != c {
			return
		}
	}
	h.handleLeave(c.roomID, c.participantID)
}

// broadcast delivers an event to every room member except the one named; an
// empty exclude id reaches everyone.
func (h *Hub) broadcast(room *Room, exclude string, ev *Event) {
	for id, p := range room.participants {
		if exclude != "" && id == exclude {
			continue
		}
		p.client.enqueue(ev)
	}
}

// roomSize reports current membership; 0 for an unknown room.
func (h *Hub) roomSize(roomID string) int {
	if room, ok := h.rooms[roomID]; ok {
		return room.size()
	}
	return 0
}

// RoomSize is the concurrency-safe form of roomSize for callers outside the
// hub goroutine. It returns 0 once the hub has shut down.
func (h *Hub) RoomSize(roomID string) int {
	var n int
	h.query(func() { n = h.roomSize(roomID) })
	return n
}

// ListParticipants returns a point-in-time summary of a room's members, empty
// for an unknown room.
func (h *Hub) ListParticipants(roomID string) []ParticipantSummary {
	out := []ParticipantSummary{}
	h.query(func() {
		if room, ok := h.rooms[roomID]; ok {
			out = room.snapshot()
		}
	})
	return out
}

// MintMeetingID reserves nothing but guarantees the returned id does not
// collide with any currently live room.
func (h *Hub) MintMeetingID() string {
	var id string
	h.query(func() {
		id = newMeetingID(func(candidate string) bool {
			_, taken := h.rooms[candidate]
			return taken
		})
	})
	return id
}

// query runs fn on the hub goroutine and waits for it, giving outside callers
// a consistent snapshot without sharing the maps.
func (h *Hub) query(fn func()) {
	ran := make(chan struct{})
	select {
	case h.queries <- func() { fn(); close(ran) }:
		<-ran
	case <-h.done:
	}
}
