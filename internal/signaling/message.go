package signaling

import (
	"encoding/json"
	"time"
)

// Kind identifies an inbound (client to server) message. The set is closed:
// the hub dispatches on it with an exhaustive switch and drops anything else.
type Kind string

const (
	KindJoinRoom         Kind = "join-room"
	KindLeaveRoom        Kind = "leave-room"
	KindWebRTCOffer      Kind = "webrtc-offer"
	KindWebRTCAnswer     Kind = "webrtc-answer"
	KindWebRTCICE        Kind = "webrtc-ice-candidate"
	KindMediaStateChange Kind = "media-state-change"
	KindChatMessage      Kind = "chat-message"

	// Legacy signaling vocabulary kept for older clients. Same relay path as
	// the webrtc-* kinds, addressed by targetUserId instead of to, and
	// annotated with fromUserId instead of from on the way out.
	KindLegacyOffer  Kind = "offer"
	KindLegacyAnswer Kind = "answer"
	KindLegacyICE    Kind = "ice-candidate"
)

// EventKind identifies an outbound (server to client) message. Signal relays
// reuse the inbound Kind string so the receiver sees the same vocabulary the
// sender used.
type EventKind string

const (
	EventParticipantJoined    EventKind = "participant-joined"
	EventExistingParticipants EventKind = "existing-participants"
	EventChatHistory          EventKind = "chat-history"
	EventParticipantLeft      EventKind = "participant-left"
	EventParticipantMedia     EventKind = "participant-media-state"
	EventChatMessage          EventKind = "chat-message"
	EventError                EventKind = "error"
)

// Message defines the structure for all C2S websocket messages. Which fields
// are meaningful depends on Kind; the hub never inspects Payload or Chat.
type Message struct {
	Kind    Kind             `json:"type"`
	RoomID  string           `json:"roomId,omitempty"`
	Info    *ParticipantInfo `json:"userInfo,omitempty"`
	To      string           `json:"to,omitempty"`
	Target  string           `json:"targetUserId,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
	Media   *MediaState      `json:"mediaState,omitempty"`
	Chat    json.RawMessage  `json:"message,omitempty"`

	// client is the client that sent the message.
	// It's used internally by the Hub and not sent over JSON.
	client *Client
}

// Event defines the structure for all S2C websocket messages.
type Event struct {
	Kind         EventKind            `json:"type"`
	Participant  string               `json:"participantId,omitempty"`
	Info         *ParticipantInfo     `json:"userInfo,omitempty"`
	Participants []ParticipantSummary `json:"participants,omitempty"`
	History      []json.RawMessage    `json:"history,omitempty"`
	From         string               `json:"from,omitempty"`
	FromUser     string               `json:"fromUserId,omitempty"`
	Payload      json.RawMessage      `json:"payload,omitempty"`
	Media        *MediaState          `json:"mediaState,omitempty"`
	Chat         json.RawMessage      `json:"message,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// Signal relays echo the sender's vocabulary, so the outbound type field for a
// webrtc-offer is again "webrtc-offer". SignalEventKind makes that cast explicit.
func SignalEventKind(k Kind) EventKind { return EventKind(k) }

// ParticipantInfo is the identity a client presents when joining a room.
// The id must be stable across reconnects within a session; it is how peers
// address WebRTC signals to each other.
type ParticipantInfo struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
	Role string `json:"role,omitempty"`
}

// MediaState carries a participant's media flags. Fields are pointers so a
// media-state-change can carry a partial update: nil means "unchanged" and is
// merged over the stored state rather than clearing it.
type MediaState struct {
	CameraOn      *bool `json:"isCameraOn,omitempty"`
	MicOn         *bool `json:"isMicOn,omitempty"`
	ScreenSharing *bool `json:"isScreenSharing,omitempty"`
}

// ParticipantSummary is the read-only view of a room member returned by
// participant listings and the existing-participants snapshot sent on join.
type ParticipantSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Role          string    `json:"role,omitempty"`
	CameraOn      bool      `json:"isCameraOn"`
	MicOn         bool      `json:"isMicOn"`
	ScreenSharing bool      `json:"isScreenSharing"`
	JoinedAt      time.Time `json:"joinedAt"`
}
