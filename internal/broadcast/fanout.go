package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beamcast/beamcast/internal/metrics"
	"github.com/beamcast/beamcast/internal/protocol"
	"github.com/beamcast/beamcast/internal/room"
)

// adminRoomID fills the envelope's roomId for messages that are not tied to
// a room. The admin channel ignores the field entirely.
const adminRoomID = "admin"

// Fanout pushes state-change notifications to the relevant socket sets: the
// clients of one room, or the cross-room admin set it owns.
type Fanout struct {
	registry *room.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics

	heartbeatInterval   time.Duration
	activeRoomsInterval time.Duration

	mu     sync.Mutex
	admins map[room.Peer]struct{}
}

// New builds a fanout around the registry. Intervals drive Run's tickers.
func New(registry *room.Registry, heartbeatInterval, activeRoomsInterval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Fanout {
	return &Fanout{
		registry:            registry,
		logger:              logger,
		metrics:             m,
		heartbeatInterval:   heartbeatInterval,
		activeRoomsInterval: activeRoomsInterval,
		admins:              make(map[room.Peer]struct{}),
	}
}

// RegisterAdmin adds a socket to the admin broadcast set and immediately
// pushes the current active-room list to it.
func (f *Fanout) RegisterAdmin(p room.Peer) {
	f.mu.Lock()
	f.admins[p] = struct{}{}
	f.mu.Unlock()
	p.Send(protocol.New(protocol.ActionActiveRooms, adminRoomID, "", f.registry.Active()))
}

// UnregisterAdmin drops a socket from the admin set.
func (f *Fanout) UnregisterAdmin(p room.Peer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.admins, p)
}

// AdminCount returns the size of the admin set.
func (f *Fanout) AdminCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.admins)
}

// ViewerCount recomputes the room's viewer count and pushes it to every
// client socket in the room.
func (f *Fanout) ViewerCount(r *room.Room) {
	msg := protocol.New(protocol.ActionViewerCount, r.ID(), "", protocol.ViewerCountData{Count: r.ViewerCount()})
	r.EachClient(func(_ string, p room.Peer) {
		p.Send(msg)
	})
	f.metrics.BroadcastsTotal.WithLabelValues("viewer-count").Inc()

	total := 0
	f.registry.Each(func(r *room.Room) { total += r.ViewerCount() })
	f.metrics.Viewers.Set(float64(total))
}

// NewProducer announces a producer to every client in the room except its
// owner.
func (f *Fanout) NewProducer(r *room.Room, info room.ProducerInfo) {
	msg := protocol.New(protocol.ActionNewProducer, r.ID(), "", protocol.NewProducerData{
		ProducerID: info.ID,
		Kind:       info.Kind,
		ClientID:   info.ClientID,
	})
	r.EachClientExcept(info.ClientID, func(_ string, p room.Peer) {
		p.Send(msg)
	})
	f.metrics.BroadcastsTotal.WithLabelValues("new-producer").Inc()
}

// ProducerClosed announces a removed producer to every client in the room
// except exceptClientID. Pass an empty exceptClientID to reach everyone.
func (f *Fanout) ProducerClosed(r *room.Room, exceptClientID, producerID string) {
	msg := protocol.New(protocol.ActionProducerClosed, r.ID(), "", protocol.ProducerClosedData{ProducerID: producerID})
	r.EachClientExcept(exceptClientID, func(_ string, p room.Peer) {
		p.Send(msg)
	})
	f.metrics.BroadcastsTotal.WithLabelValues("producer-closed").Inc()
}

// StreamInterrupted tells every admin that a streamer's socket dropped and
// its grace period started.
func (f *Fanout) StreamInterrupted(roomID, clientID string) {
	msg := protocol.New(protocol.ActionStreamInterrupted, roomID, "", protocol.StreamInterruptedData{ClientID: clientID})
	for _, p := range f.adminSnapshot() {
		p.Send(msg)
	}
	f.metrics.BroadcastsTotal.WithLabelValues("stream-interrupted").Inc()
}

// ActiveRooms pushes the current active-room list to every admin.
func (f *Fanout) ActiveRooms() {
	active := f.registry.Active()
	msg := protocol.New(protocol.ActionActiveRooms, adminRoomID, "", active)
	for _, p := range f.adminSnapshot() {
		p.Send(msg)
	}
	f.metrics.ActiveRooms.Set(float64(len(active)))
	f.metrics.BroadcastsTotal.WithLabelValues("active-rooms").Inc()
}

// RelayAdminAction forwards an admin command verbatim to the target's
// current socket. An absent or superseded target drops the action; nothing
// surfaces to the admin.
func (f *Fanout) RelayAdminAction(r *room.Room, msg *protocol.Message, targetClientID string) {
	p, ok := r.Client(targetClientID)
	if !ok {
		f.logger.Info("admin action dropped, target absent",
			slog.String("room_id", r.ID()),
			slog.String("target_client_id", targetClientID),
		)
		return
	}
	p.Send(msg)
	f.metrics.BroadcastsTotal.WithLabelValues("admin-action").Inc()
}

// Run drives the two periodic broadcasts until ctx is done: the active-room
// list for admins and the one-way heartbeat to every open socket. No
// acknowledgement is expected for either.
func (f *Fanout) Run(ctx context.Context) {
	active := time.NewTicker(f.activeRoomsInterval)
	heartbeat := time.NewTicker(f.heartbeatInterval)
	defer active.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-active.C:
			f.ActiveRooms()
		case <-heartbeat.C:
			f.heartbeat()
		}
	}
}

func (f *Fanout) heartbeat() {
	f.registry.Each(func(r *room.Room) {
		msg := protocol.New(protocol.ActionHeartbeat, r.ID(), "", nil)
		r.EachClient(func(_ string, p room.Peer) {
			p.Send(msg)
		})
	})
	msg := protocol.New(protocol.ActionHeartbeat, adminRoomID, "", nil)
	for _, p := range f.adminSnapshot() {
		p.Send(msg)
	}
	f.metrics.BroadcastsTotal.WithLabelValues("heartbeat").Inc()
}

func (f *Fanout) adminSnapshot() []room.Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]room.Peer, 0, len(f.admins))
	for p := range f.admins {
		out = append(out, p)
	}
	return out
}
