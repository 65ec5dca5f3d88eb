package signaling

import (
	"encoding/json"
	"time"

	"github.com/samber/lo"
)

const (
	// historyCap is the maximum number of chat messages retained per room.
	historyCap = 100

	// historyReplay is how many of the most recent messages a new joiner gets.
	historyReplay = 50
)

// Room represents a single live-class session. It maps stable participant ids
// to their current state; a rejoin under the same id replaces the old entry.
type Room struct {
	// ID is the meeting id the room was created under.
	ID string

	participants map[string]*participant
}

// participant is one member's presence within a room: their identity, the
// connection signals are delivered to, and their latest media flags.
type participant struct {
	client   *Client
	info     ParticipantInfo
	joinedAt time.Time

	cameraOn      bool
	micOn         bool
	screenSharing bool
}

func newRoom(id string) *Room {
	return &Room{
		ID:           id,
		participants: make(map[string]*participant),
	}
}

// add registers (or replaces) a member under their participant id.
func (r *Room) add(c *Client, info ParticipantInfo, now time.Time) *participant {
	p := &participant{client: c, info: info, joinedAt: now}
	r.participants[info.ID] = p
	return p
}

func (r *Room) remove(id string) bool {
	if _, ok := r.participants[id]; !ok {
		return false
	}
	delete(r.participants, id)
	return true
}

func (r *Room) get(id string) (*participant, bool) {
	p, ok := r.participants[id]
	return p, ok
}

func (r *Room) size() int { return len(r.participants) }

// snapshot lists current members as summaries, in no particular order.
func (r *Room) snapshot() []ParticipantSummary {
	return lo.MapToSlice(r.participants, func(id string, p *participant) ParticipantSummary {
		return p.summary()
	})
}

func (p *participant) summary() ParticipantSummary {
	return ParticipantSummary{
		ID:            p.info.ID,
		Name:          p.info.Name,
		Role:          p.info.Role,
		CameraOn:      p.cameraOn,
		MicOn:         p.micOn,
		ScreenSharing: p.screenSharing,
		JoinedAt:      p.joinedAt,
	}
}

// applyMedia merges a partial media update into the stored flags. Nil fields
// leave the stored value untouched.
func (p *participant) applyMedia(m *MediaState) {
	if m == nil {
		return
	}
	if m.CameraOn != nil {
		p.cameraOn = *m.CameraOn
	}
	if m.MicOn != nil {
		p.micOn = *m.MicOn
	}
	if m.ScreenSharing != nil {
		p.screenSharing = *m.ScreenSharing
	}
}

// chatHistory is a bounded, insertion-ordered buffer of opaque chat payloads.
// It is kept outside the Room so it can outlive an emptied room until the
// retention timer decides its fate.
type chatHistory struct {
	msgs []json.RawMessage
}

// append adds a message, evicting the oldest once the cap is exceeded.
func (h *chatHistory) append(msg json.RawMessage) {
	h.msgs = append(h.msgs, msg)
	if len(h.msgs) > historyCap {
		h.msgs = h.msgs[len(h.msgs)-historyCap:]
	}
}

// recent returns up to n of the most recent messages, oldest first.
func (h *chatHistory) recent(n int) []json.RawMessage {
	if len(h.msgs) <= n {
		return h.msgs
	}
	return h.msgs[len(h.msgs)-n:]
}

func (h *chatHistory) len() int { return len(h.msgs) }
