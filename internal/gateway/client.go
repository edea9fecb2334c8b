package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beamcast/beamcast/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP-sized payloads

	// Outbound buffer per connection.
	sendBufferSize = 256
)

type role int

const (
	roleNone role = iota
	roleStreamer
	roleViewer
	roleAdmin
)

// Client wraps a single websocket connection. Inbound messages are handled
// sequentially in the read pump goroutine, which gives per-connection
// ordering; outbound messages go through a buffered channel drained by the
// write pump.
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan *protocol.Message
	logger  *slog.Logger

	mu       sync.Mutex
	role     role
	roomID   string
	clientID string
}

// Send queues a message for the client. A slow or stalled connection drops
// the message rather than blocking the caller; the socket-level ping loop
// will eventually kill such a connection.
func (c *Client) Send(msg *protocol.Message) {
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("send buffer full, dropping message", slog.String("action", string(msg.Action)))
	}
}

func (c *Client) identify(r role, roomID, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = r
	c.roomID = roomID
	c.clientID = clientID
}

func (c *Client) identity() (role, string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role, c.roomID, c.clientID
}

// readPump pumps messages from the websocket connection into the gateway
// dispatcher. There is at most one reader per connection.
func (c *Client) readPump() {
	defer func() {
		c.gateway.handleClose(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Info("connection closed unexpectedly", slog.String("error", err.Error()))
			}
			break
		}

		msg, err := protocol.Parse(raw)
		if err != nil {
			// Protocol errors are owned by the sender; the message is
			// dropped and the connection stays open.
			c.gateway.metrics.ProtocolErrors.Inc()
			c.logger.Warn("dropping malformed message", slog.String("error", err.Error()))
			continue
		}

		c.gateway.dispatch(c, msg)
	}
}

// writePump pumps messages from the send channel to the websocket
// connection and keeps the socket alive with pings. There is at most one
// writer per connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Info("write failed", slog.String("error", err.Error()))
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
