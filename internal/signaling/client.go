package signaling

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer. A connection
	// that dies without a close frame blows this deadline, which is what turns
	// a silently-vanished participant into a disconnect.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for WebRTC SDP messages
)

// Client is a wrapper for a single websocket connection (a participant's
// transport). The hub addresses it through the buffered send channel; the two
// pumps own all reads and writes on the underlying connection.
type Client struct {
	// ID identifies the connection itself, distinct from any participant id.
	// Used for log correlation before (and after) the client joins a room.
	ID string

	hub  *Hub
	conn *websocket.Conn
	log  zerolog.Logger

	// roomID and participantID are set by the hub on join and route the
	// disconnect cleanup without scanning every room.
	roomID        string
	participantID string

	// send is the buffered channel of outbound events. The hub writes to it;
	// WritePump drains it onto the websocket.
	send chan *Event

	// closed is set by the hub just before it closes send, so a late delivery
	// to a departed connection is a drop, not a panic on a closed channel.
	// Both the write and every read happen on the hub goroutine.
	closed bool
}

// NewClient wraps an upgraded websocket connection. The caller registers it
// with the hub and starts the pumps.
func NewClient(id string, hub *Hub, conn *websocket.Conn, log zerolog.Logger, sendBuffer int) *Client {
	return &Client{
		ID:   id,
		hub:  hub,
		conn: conn,
		log:  log.With().Str("conn", id).Logger(),
		send: make(chan *Event, sendBuffer),
	}
}

// Register hands the client to the hub for lifecycle tracking.
func (c *Client) Register() {
	c.hub.register <- c
}

// enqueue offers an event to the client's send buffer. Delivery is
// best-effort: a full buffer means the client is too slow to keep up with the
// room and the event is dropped rather than stalling the hub.
func (c *Client) enqueue(ev *Event) {
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
		c.log.Warn().Str("event", string(ev.Kind)).Msg("send buffer full, event dropped")
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("read error")
			}
			break
		}

		msg.client = c
		c.hub.inbound <- &msg
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.Warn().Err(err).Msg("write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
