package media

import (
	"context"
	"encoding/json"
	"errors"
)

// Kind is the media kind of a producer or consumer.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Valid reports whether k is one of the two supported kinds.
func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

var (
	// ErrTransportNotFound is returned when an operation references a
	// transport the provider no longer knows about, typically because a
	// disconnect cleanup ran to completion first.
	ErrTransportNotFound = errors.New("transport not found")

	// ErrProducerNotFound is returned when a consume or codec readout
	// references a producer that is gone.
	ErrProducerNotFound = errors.New("producer not found")

	// ErrNotConsumable is returned when a client's RTP capabilities cannot
	// consume the requested producer.
	ErrNotConsumable = errors.New("producer not consumable with given capabilities")
)

// TransportInfo describes a freshly created ICE transport. The parameter
// blobs are opaque to the signaling layer and handed to the client as-is.
type TransportInfo struct {
	ID             string
	ICEParameters  json.RawMessage
	ICECandidates  json.RawMessage
	DTLSParameters json.RawMessage
}

// PlainTransportInfo describes a plain (non-ICE) RTP transport created for
// an external recorder.
type PlainTransportInfo struct {
	ID        string
	LocalIP   string
	LocalPort int
}

// ConsumerInfo describes a consumer created against one producer.
type ConsumerInfo struct {
	ID            string
	ProducerID    string
	Kind          Kind
	RTPParameters json.RawMessage
}

// RTPCodecParameters is the negotiated codec of a producer, read back for
// session-description generation. This is the only structured view the
// signaling layer takes on media parameters.
type RTPCodecParameters struct {
	PayloadType uint8
	MimeType    string
	ClockRate   int
	Channels    int
}

// Provider is the contract of the external media engine. All capability and
// parameter objects cross this boundary as opaque JSON; the engine performs
// the actual ICE/DTLS/RTP work. Every call may suspend, and the signaling
// state may change arbitrarily while a call is in flight.
type Provider interface {
	// RouterRTPCapabilities returns the capabilities a client needs before
	// it can create transports or consumers.
	RouterRTPCapabilities() json.RawMessage

	CreateTransport(ctx context.Context) (*TransportInfo, error)
	ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error
	CloseTransport(transportID string) error

	Produce(ctx context.Context, transportID string, kind Kind, rtpParameters json.RawMessage) (producerID string, err error)
	ProducerCodec(producerID string) (*RTPCodecParameters, error)

	// CanConsume reports whether the given capabilities can consume the
	// producer. Consume creates the consumer paused; ResumeConsumer starts
	// the media flow server-side.
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool
	Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*ConsumerInfo, error)
	ResumeConsumer(ctx context.Context, consumerID string) error

	RestartICE(ctx context.Context, transportID string) (iceParameters json.RawMessage, err error)

	// CreatePlainTransport binds a non-ICE RTP transport to a remote
	// endpoint; ConsumeOnPlain attaches a producer's media to it.
	CreatePlainTransport(ctx context.Context, remoteIP string, remotePort int) (*PlainTransportInfo, error)
	ConsumeOnPlain(ctx context.Context, transportID, producerID string) error
}
