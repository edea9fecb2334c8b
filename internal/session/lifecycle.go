package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beamcast/beamcast/internal/broadcast"
	"github.com/beamcast/beamcast/internal/metrics"
	"github.com/beamcast/beamcast/internal/protocol"
	"github.com/beamcast/beamcast/internal/room"
)

// Notifier is the persistence collaborator seam. Calls are fire-and-forget;
// implementations log failures and never surface them.
type Notifier interface {
	StreamEnded(ctx context.Context, roomID, clientID string)
}

// pendingRemoval is a scheduled, cancelable cleanup keyed by room+client.
type pendingRemoval struct {
	timer    *time.Timer
	roomID   string
	clientID string
	streamer bool
}

// Manager is the per-client grace-period state machine. A disconnect
// schedules a removal timer; a rejoin before the deadline cancels it.
// Cancel and fire both take the manager mutex, so a timer that lost the
// race to a cancel becomes a no-op.
type Manager struct {
	registry *room.Registry
	fanout   *broadcast.Fanout
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	streamerGrace time.Duration
	viewerGrace   time.Duration

	mu      sync.Mutex
	pending map[string]*pendingRemoval
}

// NewManager builds the lifecycle manager.
func NewManager(registry *room.Registry, fanout *broadcast.Fanout, notifier Notifier, streamerGrace, viewerGrace time.Duration, m *metrics.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		registry:      registry,
		fanout:        fanout,
		notifier:      notifier,
		metrics:       m,
		logger:        logger,
		streamerGrace: streamerGrace,
		viewerGrace:   viewerGrace,
		pending:       make(map[string]*pendingRemoval),
	}
}

// HandleJoinStreamer processes join-as-streamer. Whether or not this is a
// reconnect, the client's prior state is purged first so a (re)join always
// starts from a clean slate: stale producers are closed and announced as
// closed to every other client, then the new socket is registered and a
// fresh send transport is allocated.
func (m *Manager) HandleJoinStreamer(ctx context.Context, roomID, clientID string, p room.Peer) error {
	r := m.registry.GetOrCreate(roomID)
	m.cancelPending(roomID, clientID)

	purged := r.RemoveClient(clientID)
	for _, producerID := range purged {
		m.fanout.ProducerClosed(r, clientID, producerID)
	}
	if len(purged) > 0 {
		m.logger.Info("purged stale producers on streamer join",
			slog.String("room_id", roomID),
			slog.String("client_id", clientID),
			slog.Int("count", len(purged)),
		)
	}

	r.AddClient(clientID, p)
	p.Send(protocol.New(protocol.ActionRouterRTPCapabilities, roomID, "", m.registry.RouterRTPCapabilities()))

	info, err := r.CreateTransport(ctx, clientID)
	if err != nil {
		return err
	}
	p.Send(protocol.New(protocol.ActionCreateSendTransport, roomID, "", protocol.TransportCreatedData{
		TransportID:    info.ID,
		ICEParameters:  info.ICEParameters,
		ICECandidates:  info.ICECandidates,
		DTLSParameters: info.DTLSParameters,
	}))
	p.Send(protocol.New(protocol.ActionStartProduce, roomID, "", nil))
	return nil
}

// HandleJoinViewer processes join-as-viewer. A rejoin within the grace
// period keeps the existing membership and does not rebuild transports; the
// socket handle is overwritten either way.
func (m *Manager) HandleJoinViewer(roomID, clientID string, p room.Peer) {
	r := m.registry.GetOrCreate(roomID)
	reconnect := m.cancelPending(roomID, clientID)

	r.AddClient(clientID, p)
	if !reconnect {
		r.AddViewer(clientID)
		m.fanout.ViewerCount(r)
	}

	p.Send(protocol.New(protocol.ActionRouterRTPCapabilities, roomID, "", m.registry.RouterRTPCapabilities()))
	p.Send(protocol.New(protocol.ActionExistingProducers, roomID, "", r.Producers()))
}

// HandleJoinAdmin registers the socket into the admin broadcast set. The
// roomId carried by the join message is a dummy; admins are a separate
// control channel, never room members.
func (m *Manager) HandleJoinAdmin(p room.Peer) {
	m.fanout.RegisterAdmin(p)
}

// HandleDisconnect schedules a grace-period removal for the clientId. A
// client owning at least one producer gets the streamer grace window and an
// immediate stream-interrupted notice to admins.
func (m *Manager) HandleDisconnect(roomID, clientID string) {
	r, ok := m.registry.Get(roomID)
	if !ok {
		return
	}

	streamer := r.OwnsProducers(clientID)
	grace := m.viewerGrace
	if streamer {
		grace = m.streamerGrace
		m.fanout.StreamInterrupted(roomID, clientID)
	}

	key := removalKey(roomID, clientID)
	m.mu.Lock()
	if old, ok := m.pending[key]; ok {
		old.timer.Stop()
	}
	pr := &pendingRemoval{roomID: roomID, clientID: clientID, streamer: streamer}
	pr.timer = time.AfterFunc(grace, func() { m.expire(key) })
	m.pending[key] = pr
	m.mu.Unlock()

	m.metrics.GraceTimersScheduled.Inc()
	m.logger.Info("grace timer scheduled",
		slog.String("room_id", roomID),
		slog.String("client_id", clientID),
		slog.Bool("streamer", streamer),
		slog.Duration("grace", grace),
	)
}

// PendingCount returns the number of scheduled removals.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// cancelPending clears a scheduled removal if one exists and reports
// whether it did, i.e. whether this join is a reconnect.
func (m *Manager) cancelPending(roomID, clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := removalKey(roomID, clientID)
	pr, ok := m.pending[key]
	if !ok {
		return false
	}
	pr.timer.Stop()
	delete(m.pending, key)
	m.metrics.GraceTimersCancelled.Inc()
	return true
}

// expire runs when a grace timer fires without cancellation. The map check
// under the mutex makes a timer that already lost to a cancel a no-op.
func (m *Manager) expire(key string) {
	m.mu.Lock()
	pr, ok := m.pending[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, key)
	m.mu.Unlock()

	m.metrics.GraceTimersFired.Inc()

	r, ok := m.registry.Get(pr.roomID)
	if !ok {
		return
	}

	if pr.streamer {
		m.notifier.StreamEnded(context.Background(), pr.roomID, pr.clientID)
	}

	purged := r.RemoveClient(pr.clientID)
	if !pr.streamer {
		r.RemoveViewer(pr.clientID)
	}

	m.fanout.ViewerCount(r)
	for _, producerID := range purged {
		m.fanout.ProducerClosed(r, "", producerID)
	}
	m.fanout.ActiveRooms()

	m.logger.Info("grace timer fired, client removed",
		slog.String("room_id", pr.roomID),
		slog.String("client_id", pr.clientID),
		slog.Bool("streamer", pr.streamer),
		slog.Int("purged_producers", len(purged)),
	)
}

func removalKey(roomID, clientID string) string {
	return roomID + "/" + clientID
}
