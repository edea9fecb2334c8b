package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/beamcast/beamcast/internal/broadcast"
	"github.com/beamcast/beamcast/internal/media"
	"github.com/beamcast/beamcast/internal/metrics"
	"github.com/beamcast/beamcast/internal/protocol"
	"github.com/beamcast/beamcast/internal/room"
	"github.com/beamcast/beamcast/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Origin checking is delegated to the deployment's reverse proxy.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Gateway terminates websocket connections, decodes the protocol and
// dispatches each action to the room, registry, lifecycle manager or
// fanout. It holds no room state of its own.
type Gateway struct {
	registry *room.Registry
	sessions *session.Manager
	fanout   *broadcast.Fanout
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New builds a gateway.
func New(registry *room.Registry, sessions *session.Manager, fanout *broadcast.Fanout, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		sessions: sessions,
		fanout:   fanout,
		metrics:  m,
		logger:   logger,
	}
}

// ServeWS upgrades an HTTP request to a websocket and starts the pumps.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("failed to upgrade connection", slog.String("error", err.Error()))
		return
	}

	c := &Client{
		gateway: g,
		conn:    conn,
		send:    make(chan *protocol.Message, sendBufferSize),
		logger:  g.logger.With(slog.String("remote_addr", conn.RemoteAddr().String())),
	}
	g.metrics.ConnectedClients.Inc()

	go c.writePump()
	go c.readPump()
}

// dispatch routes one inbound message. It runs on the connection's read
// goroutine, so messages from a single connection are handled in arrival
// order.
func (g *Gateway) dispatch(c *Client, msg *protocol.Message) {
	g.metrics.MessagesTotal.WithLabelValues(string(msg.Action)).Inc()
	ctx := context.Background()

	switch msg.Action {
	case protocol.ActionJoinAsStreamer:
		if msg.ClientID == "" {
			g.dropProtocol(c, msg, errors.New("missing clientId"))
			return
		}
		c.identify(roleStreamer, msg.RoomID, msg.ClientID)
		if err := g.sessions.HandleJoinStreamer(ctx, msg.RoomID, msg.ClientID, c); err != nil {
			g.logger.Error("streamer join failed",
				slog.String("room_id", msg.RoomID),
				slog.String("client_id", msg.ClientID),
				slog.String("error", err.Error()),
			)
		}

	case protocol.ActionJoinAsViewer:
		if msg.ClientID == "" {
			g.dropProtocol(c, msg, errors.New("missing clientId"))
			return
		}
		c.identify(roleViewer, msg.RoomID, msg.ClientID)
		g.sessions.HandleJoinViewer(msg.RoomID, msg.ClientID, c)

	case protocol.ActionJoinAsAdmin:
		// The roomId on an admin join is a dummy; admins are a separate
		// control channel and never touch the registry.
		c.identify(roleAdmin, msg.RoomID, msg.ClientID)
		g.sessions.HandleJoinAdmin(c)

	case protocol.ActionCreateSendTransport, protocol.ActionCreateRecvTransport:
		g.handleCreateTransport(ctx, c, msg)

	case protocol.ActionConnectTransport:
		g.handleConnectTransport(ctx, c, msg)

	case protocol.ActionProduce:
		g.handleProduce(ctx, c, msg)

	case protocol.ActionConsume:
		g.handleConsume(ctx, c, msg)

	case protocol.ActionRestartICE:
		g.handleRestartICE(ctx, c, msg)

	case protocol.ActionCloseProducer:
		g.handleCloseProducer(c, msg)

	case protocol.ActionAdminAction:
		g.handleAdminAction(c, msg)

	default:
		g.logger.Warn("unknown action", slog.String("action", string(msg.Action)))
	}
}

func (g *Gateway) handleCreateTransport(ctx context.Context, c *Client, msg *protocol.Message) {
	r, clientID, ok := g.memberRoom(c, msg)
	if !ok {
		return
	}
	info, err := r.CreateTransport(ctx, clientID)
	if err != nil {
		g.logger.Error("failed to create transport",
			slog.String("room_id", msg.RoomID),
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		return
	}
	c.Send(protocol.New(msg.Action, msg.RoomID, "", protocol.TransportCreatedData{
		TransportID:    info.ID,
		ICEParameters:  info.ICEParameters,
		ICECandidates:  info.ICECandidates,
		DTLSParameters: info.DTLSParameters,
	}))
}

func (g *Gateway) handleConnectTransport(ctx context.Context, c *Client, msg *protocol.Message) {
	data, err := msg.ConnectTransport()
	if err != nil {
		g.dropProtocol(c, msg, err)
		return
	}
	r, clientID, ok := g.memberRoom(c, msg)
	if !ok {
		return
	}
	if err := r.ConnectTransport(ctx, data.TransportID, data.DTLSParameters); err != nil {
		g.logger.Warn("connect-transport failed",
			slog.String("room_id", msg.RoomID),
			slog.String("client_id", clientID),
			slog.String("transport_id", data.TransportID),
			slog.String("error", err.Error()),
		)
		return
	}
	c.Send(protocol.New(protocol.ActionTransportConnected, msg.RoomID, "", protocol.TransportConnectedData{
		TransportID: data.TransportID,
	}))
}

func (g *Gateway) handleProduce(ctx context.Context, c *Client, msg *protocol.Message) {
	data, err := msg.Produce()
	if err != nil {
		g.dropProtocol(c, msg, err)
		return
	}
	kind := media.Kind(data.Kind)
	if !kind.Valid() {
		g.dropProtocol(c, msg, errors.New("unknown media kind "+data.Kind))
		return
	}
	r, clientID, ok := g.memberRoom(c, msg)
	if !ok {
		return
	}

	producerID, err := r.Produce(ctx, clientID, data.TransportID, kind, data.RTPParameters)
	if err != nil {
		// A produce can lose the race against a disconnect cleanup; the
		// transport is gone and the operation fails locally.
		g.logger.Warn("produce failed",
			slog.String("room_id", msg.RoomID),
			slog.String("client_id", clientID),
			slog.String("transport_id", data.TransportID),
			slog.String("error", err.Error()),
		)
		return
	}

	c.Send(protocol.New(protocol.ActionProduceDone, msg.RoomID, "", protocol.ProduceDoneData{ProducerID: producerID}))
	g.fanout.NewProducer(r, room.ProducerInfo{ID: producerID, Kind: data.Kind, ClientID: clientID})
}

func (g *Gateway) handleConsume(ctx context.Context, c *Client, msg *protocol.Message) {
	data, err := msg.Consume()
	if err != nil {
		g.dropProtocol(c, msg, err)
		return
	}
	r, clientID, ok := g.memberRoom(c, msg)
	if !ok {
		return
	}

	info, err := r.Consume(ctx, clientID, data.TransportID, data.ProducerID, data.RTPCapabilities)
	if err != nil {
		g.logger.Warn("consume failed",
			slog.String("room_id", msg.RoomID),
			slog.String("client_id", clientID),
			slog.String("producer_id", data.ProducerID),
			slog.String("error", err.Error()),
		)
		return
	}

	c.Send(protocol.New(protocol.ActionConsumeDone, msg.RoomID, "", protocol.ConsumeDoneData{
		ID:            info.ID,
		ProducerID:    info.ProducerID,
		Kind:          string(info.Kind),
		RTPParameters: info.RTPParameters,
	}))
}

// handleRestartICE translates any missing room or transport into a
// session-ended message: the client's local state is stale (typically a
// process restart wiped the room) and it must rejoin from scratch.
func (g *Gateway) handleRestartICE(ctx context.Context, c *Client, msg *protocol.Message) {
	data, err := msg.RestartICE()
	if err != nil {
		g.dropProtocol(c, msg, err)
		return
	}

	r, ok := g.registry.Get(msg.RoomID)
	if !ok {
		c.Send(protocol.New(protocol.ActionSessionEnded, msg.RoomID, "", nil))
		return
	}

	iceParameters, err := r.RestartICE(ctx, data.TransportID)
	if err != nil {
		if errors.Is(err, media.ErrTransportNotFound) {
			c.Send(protocol.New(protocol.ActionSessionEnded, msg.RoomID, "", nil))
			return
		}
		g.logger.Warn("restart-ice failed",
			slog.String("room_id", msg.RoomID),
			slog.String("transport_id", data.TransportID),
			slog.String("error", err.Error()),
		)
		return
	}

	c.Send(protocol.New(protocol.ActionRestartICEDone, msg.RoomID, "", protocol.RestartICEDoneData{
		TransportID:   data.TransportID,
		ICEParameters: iceParameters,
	}))
}

func (g *Gateway) handleCloseProducer(c *Client, msg *protocol.Message) {
	data, err := msg.CloseProducer()
	if err != nil {
		g.dropProtocol(c, msg, err)
		return
	}
	r, clientID, ok := g.memberRoom(c, msg)
	if !ok {
		return
	}
	info, ok := r.CloseProducer(data.ProducerID)
	if !ok {
		g.logger.Warn("close-producer for unknown producer",
			slog.String("room_id", msg.RoomID),
			slog.String("producer_id", data.ProducerID),
		)
		return
	}
	g.fanout.ProducerClosed(r, clientID, info.ID)
}

func (g *Gateway) handleAdminAction(c *Client, msg *protocol.Message) {
	data, err := msg.AdminAction()
	if err != nil {
		g.dropProtocol(c, msg, err)
		return
	}
	r, ok := g.registry.Get(msg.RoomID)
	if !ok {
		g.logger.Info("admin action dropped, unknown room", slog.String("room_id", msg.RoomID))
		return
	}
	g.fanout.RelayAdminAction(r, msg, data.TargetClientID)
}

// handleClose runs when a connection's read pump exits. Admins just leave
// the broadcast set; room members enter the grace-period state machine,
// unless a newer socket already superseded this one.
func (g *Gateway) handleClose(c *Client) {
	g.metrics.ConnectedClients.Dec()

	connRole, roomID, clientID := c.identity()
	switch connRole {
	case roleAdmin:
		g.fanout.UnregisterAdmin(c)
	case roleStreamer, roleViewer:
		r, ok := g.registry.Get(roomID)
		if !ok {
			return
		}
		if !r.ClientIs(clientID, c) {
			// A reconnect already replaced this socket; its close must not
			// schedule cleanup for the new session.
			return
		}
		g.sessions.HandleDisconnect(roomID, clientID)
	}
}

// memberRoom resolves the room for a media operation from an identified
// connection. Unknown rooms and unidentified connections fail locally.
func (g *Gateway) memberRoom(c *Client, msg *protocol.Message) (*room.Room, string, bool) {
	connRole, _, clientID := c.identity()
	if connRole != roleStreamer && connRole != roleViewer {
		g.logger.Warn("media action from connection that never joined", slog.String("action", string(msg.Action)))
		return nil, "", false
	}
	r, ok := g.registry.Get(msg.RoomID)
	if !ok {
		g.logger.Warn("action for unknown room",
			slog.String("action", string(msg.Action)),
			slog.String("room_id", msg.RoomID),
		)
		return nil, "", false
	}
	return r, clientID, true
}

func (g *Gateway) dropProtocol(c *Client, msg *protocol.Message, err error) {
	g.metrics.ProtocolErrors.Inc()
	c.logger.Warn("dropping invalid message",
		slog.String("action", string(msg.Action)),
		slog.String("error", err.Error()),
	)
}
