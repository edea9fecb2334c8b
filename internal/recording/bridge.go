package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/beamcast/beamcast/internal/media"
	"github.com/beamcast/beamcast/internal/room"
)

var (
	// ErrRoomNotFound means the named room does not exist.
	ErrRoomNotFound = errors.New("room not found")

	// ErrNoProducers means the room is missing an audio or video producer.
	ErrNoProducers = errors.New("room has no audio and video producers")

	// ErrTupleExists means a recording tuple is already active for the room.
	ErrTupleExists = errors.New("recording transports already exist for room")

	// ErrNoTuple means there is nothing to close for the room.
	ErrNoTuple = errors.New("no recording transports for room")
)

// Tuple is one pair of plain transports bound to a room's current audio and
// video producers, plus the session description an external recorder uses
// to receive them.
type Tuple struct {
	ID               string
	RoomID           string
	AudioTransportID string
	VideoTransportID string
	SDP              string
}

// Bridge hands plain (non-ICE) transports to the external recording
// collaborator. It never participates in the viewer/streamer protocol.
type Bridge struct {
	registry *room.Registry
	provider media.Provider
	logger   *slog.Logger

	mu     sync.Mutex
	tuples map[string]*Tuple // keyed by roomID
}

// NewBridge builds the recording bridge.
func NewBridge(registry *room.Registry, provider media.Provider, logger *slog.Logger) *Bridge {
	return &Bridge{
		registry: registry,
		provider: provider,
		logger:   logger,
		tuples:   make(map[string]*Tuple),
	}
}

// CreateTuple locates the room's current audio and video producers, binds a
// plain transport to each at the given remote endpoint and returns the
// transport pair with a generated session description. The room key is
// reserved before the provider calls begin: requests arrive on independent
// HTTP goroutines, and two concurrent creates for the same room must not
// both bind transports and overwrite each other's tuple.
func (b *Bridge) CreateTuple(ctx context.Context, roomID, recordingIP string, audioPort, videoPort int) (*Tuple, error) {
	b.mu.Lock()
	if _, ok := b.tuples[roomID]; ok {
		b.mu.Unlock()
		return nil, ErrTupleExists
	}
	b.tuples[roomID] = nil // reserved, binding in progress
	b.mu.Unlock()

	release := func() {
		b.mu.Lock()
		delete(b.tuples, roomID)
		b.mu.Unlock()
	}

	r, ok := b.registry.Get(roomID)
	if !ok {
		release()
		return nil, ErrRoomNotFound
	}
	audioProducer, okAudio := r.ProducerByKind(media.KindAudio)
	videoProducer, okVideo := r.ProducerByKind(media.KindVideo)
	if !okAudio || !okVideo {
		release()
		return nil, ErrNoProducers
	}

	audioTransport, audioCodec, err := b.bindPlain(ctx, recordingIP, audioPort, audioProducer)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to bind audio transport: %w", err)
	}
	videoTransport, videoCodec, err := b.bindPlain(ctx, recordingIP, videoPort, videoProducer)
	if err != nil {
		b.closeTransport(audioTransport)
		release()
		return nil, fmt.Errorf("failed to bind video transport: %w", err)
	}

	sdp, err := buildSDP(recordingIP, mediaStream{port: audioPort, kind: media.KindAudio, codec: audioCodec},
		mediaStream{port: videoPort, kind: media.KindVideo, codec: videoCodec})
	if err != nil {
		b.closeTransport(audioTransport)
		b.closeTransport(videoTransport)
		release()
		return nil, fmt.Errorf("failed to build session description: %w", err)
	}

	tuple := &Tuple{
		ID:               uuid.NewString(),
		RoomID:           roomID,
		AudioTransportID: audioTransport,
		VideoTransportID: videoTransport,
		SDP:              sdp,
	}

	b.mu.Lock()
	b.tuples[roomID] = tuple
	b.mu.Unlock()

	b.logger.Info("recording transports created",
		slog.String("room_id", roomID),
		slog.String("tuple_id", tuple.ID),
		slog.String("recording_ip", recordingIP),
	)
	return tuple, nil
}

// CloseTuple tears down the room's recording transports. A nil entry is a
// create still binding its transports; it stays reserved and there is
// nothing to close yet.
func (b *Bridge) CloseTuple(roomID string) error {
	b.mu.Lock()
	tuple, ok := b.tuples[roomID]
	if ok && tuple != nil {
		delete(b.tuples, roomID)
	}
	b.mu.Unlock()

	if !ok || tuple == nil {
		return ErrNoTuple
	}
	b.closeTransport(tuple.AudioTransportID)
	b.closeTransport(tuple.VideoTransportID)
	b.logger.Info("recording transports closed",
		slog.String("room_id", roomID),
		slog.String("tuple_id", tuple.ID),
	)
	return nil
}

func (b *Bridge) bindPlain(ctx context.Context, remoteIP string, remotePort int, producerID string) (string, *media.RTPCodecParameters, error) {
	info, err := b.provider.CreatePlainTransport(ctx, remoteIP, remotePort)
	if err != nil {
		return "", nil, err
	}
	if err := b.provider.ConsumeOnPlain(ctx, info.ID, producerID); err != nil {
		b.closeTransport(info.ID)
		return "", nil, err
	}
	codec, err := b.provider.ProducerCodec(producerID)
	if err != nil {
		b.closeTransport(info.ID)
		return "", nil, err
	}
	return info.ID, codec, nil
}

func (b *Bridge) closeTransport(id string) {
	if err := b.provider.CloseTransport(id); err != nil {
		b.logger.Warn("failed to close recording transport",
			slog.String("transport_id", id),
			slog.String("error", err.Error()),
		)
	}
}
