package room

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/beamcast/beamcast/internal/media"
	"github.com/beamcast/beamcast/internal/protocol"
)

// Peer is the socket handle a room holds for each client. Implementations
// must never block in Send.
type Peer interface {
	Send(msg *protocol.Message)
}

// ProducerInfo is the listing view of a producer.
type ProducerInfo struct {
	ID       string `json:"producerId"`
	Kind     string `json:"kind"`
	ClientID string `json:"clientId"`
}

type producer struct {
	kind  media.Kind
	owner string
}

// Room is the aggregate for one broadcast session. All state is guarded by
// a per-room mutex; provider calls happen outside the lock, so an operation
// awaiting the media engine may observe that a concurrent cleanup won the
// race. Such operations fail with ErrTransportNotFound instead of
// resurrecting state.
type Room struct {
	id       string
	provider media.Provider
	logger   *slog.Logger

	mu               sync.Mutex
	clients          map[string]Peer
	viewers          map[string]struct{}
	transports       map[string]struct{}
	clientTransports map[string]map[string]struct{}
	producers        map[string]producer
	consumers        map[string]string // consumerID -> owning clientID
}

func newRoom(id string, provider media.Provider, logger *slog.Logger) *Room {
	return &Room{
		id:               id,
		provider:         provider,
		logger:           logger.With(slog.String("room_id", id)),
		clients:          make(map[string]Peer),
		viewers:          make(map[string]struct{}),
		transports:       make(map[string]struct{}),
		clientTransports: make(map[string]map[string]struct{}),
		producers:        make(map[string]producer),
		consumers:        make(map[string]string),
	}
}

// ID returns the room name.
func (r *Room) ID() string { return r.id }

// AddClient registers the active socket for a clientId. A newer handle
// silently supersedes the previous one; the old socket is not closed here.
func (r *Room) AddClient(clientID string, p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[clientID] = p
}

// ClientIs reports whether p is still the registered handle for clientId.
// The gateway uses it to ignore the close of a superseded socket.
func (r *Room) ClientIs(clientID string, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[clientID] == p
}

// Client returns the current socket handle for a clientId.
func (r *Room) Client(clientID string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.clients[clientID]
	return p, ok
}

// EachClient calls fn for every registered socket.
func (r *Room) EachClient(fn func(clientID string, p Peer)) {
	for id, p := range r.clientSnapshot() {
		fn(id, p)
	}
}

// EachClientExcept calls fn for every registered socket except exceptID.
func (r *Room) EachClientExcept(exceptID string, fn func(clientID string, p Peer)) {
	for id, p := range r.clientSnapshot() {
		if id != exceptID {
			fn(id, p)
		}
	}
}

func (r *Room) clientSnapshot() map[string]Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[string]Peer, len(r.clients))
	for id, p := range r.clients {
		snap[id] = p
	}
	return snap
}

// AddViewer records viewer membership. Pure set mutation; transports are
// managed separately.
func (r *Room) AddViewer(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewers[clientID] = struct{}{}
}

// RemoveViewer drops viewer membership. It does not close transports.
func (r *Room) RemoveViewer(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.viewers, clientID)
}

// IsViewer reports viewer membership.
func (r *Room) IsViewer(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.viewers[clientID]
	return ok
}

// ViewerCount returns the size of the viewer set, independent of how many
// sockets are registered.
func (r *Room) ViewerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers)
}

// HasProducers reports whether the room is active, i.e. broadcastable to
// admins.
func (r *Room) HasProducers() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.producers) > 0
}

// OwnsProducers reports whether the client currently owns at least one
// producer. Drives the streamer-vs-viewer grace period.
func (r *Room) OwnsProducers(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.producers {
		if p.owner == clientID {
			return true
		}
	}
	return false
}

// Producers lists all producers with owner and kind.
func (r *Room) Producers() []ProducerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProducerInfo, 0, len(r.producers))
	for id, p := range r.producers {
		out = append(out, ProducerInfo{ID: id, Kind: string(p.kind), ClientID: p.owner})
	}
	return out
}

// ProducerByKind returns the id of one producer of the given kind.
func (r *Room) ProducerByKind(kind media.Kind) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.producers {
		if p.kind == kind {
			return id, true
		}
	}
	return "", false
}

// TransportIDs returns the transports registered for a client.
func (r *Room) TransportIDs(clientID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.clientTransports[clientID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// CreateTransport requests a bidirectional transport from the provider and
// registers it for the client. Send and recv roles are identical at this
// layer; directionality is a client-side distinction. The client is
// re-checked after the provider call returns: a disconnect cleanup that
// completed while the call was in flight would otherwise leave the fresh
// transport orphaned in the room.
func (r *Room) CreateTransport(ctx context.Context, clientID string) (*media.TransportInfo, error) {
	info, err := r.provider.CreateTransport(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, ok := r.clients[clientID]; !ok {
		r.mu.Unlock()
		if err := r.provider.CloseTransport(info.ID); err != nil {
			r.logger.Warn("failed to close transport",
				slog.String("transport_id", info.ID),
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
		}
		return nil, media.ErrTransportNotFound
	}
	defer r.mu.Unlock()
	r.transports[info.ID] = struct{}{}
	set, ok := r.clientTransports[clientID]
	if !ok {
		set = make(map[string]struct{})
		r.clientTransports[clientID] = set
	}
	set[info.ID] = struct{}{}
	return info, nil
}

// ConnectTransport completes the DTLS handshake for a registered transport.
func (r *Room) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	if !r.hasTransport(transportID) {
		return media.ErrTransportNotFound
	}
	return r.provider.ConnectTransport(ctx, transportID, dtlsParameters)
}

// Produce creates a producer owned by clientId on the given transport. The
// transport is re-checked after the provider call returns: a disconnect
// cleanup may have torn it down while the call was in flight.
func (r *Room) Produce(ctx context.Context, clientID, transportID string, kind media.Kind, rtpParameters json.RawMessage) (string, error) {
	if !r.hasTransport(transportID) {
		return "", media.ErrTransportNotFound
	}

	producerID, err := r.provider.Produce(ctx, transportID, kind, rtpParameters)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transports[transportID]; !ok {
		return "", media.ErrTransportNotFound
	}
	r.producers[producerID] = producer{kind: kind, owner: clientID}
	return producerID, nil
}

// Consume creates a consumer for clientId against producerId. The consumer
// is created paused and resumed immediately server-side; there is no
// client-driven resume handshake.
func (r *Room) Consume(ctx context.Context, clientID, transportID, producerID string, rtpCapabilities json.RawMessage) (*media.ConsumerInfo, error) {
	if !r.hasTransport(transportID) {
		return nil, media.ErrTransportNotFound
	}
	if !r.hasProducer(producerID) {
		return nil, media.ErrProducerNotFound
	}
	if !r.provider.CanConsume(producerID, rtpCapabilities) {
		return nil, media.ErrNotConsumable
	}

	info, err := r.provider.Consume(ctx, transportID, producerID, rtpCapabilities)
	if err != nil {
		return nil, err
	}
	if err := r.provider.ResumeConsumer(ctx, info.ID); err != nil {
		r.logger.Warn("failed to resume consumer",
			slog.String("consumer_id", info.ID),
			slog.String("error", err.Error()),
		)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[info.ID] = clientID
	return info, nil
}

// RestartICE restarts ICE on a registered transport.
func (r *Room) RestartICE(ctx context.Context, transportID string) (json.RawMessage, error) {
	if !r.hasTransport(transportID) {
		return nil, media.ErrTransportNotFound
	}
	return r.provider.RestartICE(ctx, transportID)
}

// CloseProducer removes a producer from the room. The listing entry is
// returned so the caller can propagate producer-closed.
func (r *Room) CloseProducer(producerID string) (ProducerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[producerID]
	if !ok {
		return ProducerInfo{}, false
	}
	delete(r.producers, producerID)
	return ProducerInfo{ID: producerID, Kind: string(p.kind), ClientID: p.owner}, true
}

// RemoveClient purges everything a clientId owns: its socket entry, every
// transport it created and every producer or consumer riding on them. It
// returns the purged producer ids for producer-closed propagation.
// Idempotent: a clientId that owns nothing yields an empty result.
func (r *Room) RemoveClient(clientID string) []string {
	r.mu.Lock()

	var purged []string
	for id, p := range r.producers {
		if p.owner == clientID {
			purged = append(purged, id)
			delete(r.producers, id)
		}
	}
	for id, owner := range r.consumers {
		if owner == clientID {
			delete(r.consumers, id)
		}
	}
	delete(r.clients, clientID)

	transports := r.clientTransports[clientID]
	delete(r.clientTransports, clientID)
	for id := range transports {
		delete(r.transports, id)
	}
	r.mu.Unlock()

	// Provider teardown happens outside the lock; failures are logged and
	// the local purge stands.
	for id := range transports {
		if err := r.provider.CloseTransport(id); err != nil {
			r.logger.Warn("failed to close transport",
				slog.String("transport_id", id),
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
		}
	}
	return purged
}

func (r *Room) hasTransport(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.transports[id]
	return ok
}

func (r *Room) hasProducer(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.producers[id]
	return ok
}
