// Package mediatest provides a scripted in-memory media.Provider for tests.
package mediatest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/beamcast/beamcast/internal/media"
)

// Fake is an in-memory Provider. Every created entity gets a deterministic
// id so tests can assert on exact values. All methods are safe for
// concurrent use.
type Fake struct {
	mu sync.Mutex

	nextTransport int
	nextProducer  int
	nextConsumer  int
	nextPlain     int

	transports      map[string]bool
	plainTransports map[string]bool
	producers       map[string]media.Kind
	consumers       map[string]string // consumerID -> producerID
	resumed         map[string]bool

	// Consumable gates CanConsume; defaults to true.
	Consumable bool

	// Errors injected per method name ("Produce", "Consume", ...). The
	// error is returned once and cleared.
	failures map[string]error

	closedTransports []string
	codecs           map[string]media.RTPCodecParameters
}

// NewFake returns an empty fake provider.
func NewFake() *Fake {
	return &Fake{
		transports:      make(map[string]bool),
		plainTransports: make(map[string]bool),
		producers:       make(map[string]media.Kind),
		consumers:       make(map[string]string),
		resumed:         make(map[string]bool),
		failures:        make(map[string]error),
		codecs:          make(map[string]media.RTPCodecParameters),
		Consumable:      true,
	}
}

// FailNext makes the named method return err on its next call.
func (f *Fake) FailNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = err
}

func (f *Fake) takeFailure(method string) error {
	err := f.failures[method]
	delete(f.failures, method)
	return err
}

// SetCodec scripts the codec readout for a producer.
func (f *Fake) SetCodec(producerID string, codec media.RTPCodecParameters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codecs[producerID] = codec
}

// ClosedTransports returns the ids passed to CloseTransport, in order.
func (f *Fake) ClosedTransports() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.closedTransports))
	copy(out, f.closedTransports)
	return out
}

// Resumed reports whether the consumer was resumed server-side.
func (f *Fake) Resumed(consumerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumed[consumerID]
}

// HasTransport reports whether the transport is still open.
func (f *Fake) HasTransport(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[id] || f.plainTransports[id]
}

func (f *Fake) RouterRTPCapabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"mimeType":"audio/opus"},{"mimeType":"video/VP8"}]}`)
}

func (f *Fake) CreateTransport(ctx context.Context) (*media.TransportInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("CreateTransport"); err != nil {
		return nil, err
	}
	f.nextTransport++
	id := fmt.Sprintf("transport-%d", f.nextTransport)
	f.transports[id] = true
	return &media.TransportInfo{
		ID:             id,
		ICEParameters:  json.RawMessage(`{"usernameFragment":"uf","password":"pw"}`),
		ICECandidates:  json.RawMessage(`[]`),
		DTLSParameters: json.RawMessage(`{"role":"auto"}`),
	}, nil
}

func (f *Fake) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("ConnectTransport"); err != nil {
		return err
	}
	if !f.transports[transportID] {
		return media.ErrTransportNotFound
	}
	return nil
}

func (f *Fake) CloseTransport(transportID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedTransports = append(f.closedTransports, transportID)
	if f.plainTransports[transportID] {
		delete(f.plainTransports, transportID)
		return nil
	}
	if !f.transports[transportID] {
		return media.ErrTransportNotFound
	}
	delete(f.transports, transportID)
	return nil
}

func (f *Fake) Produce(ctx context.Context, transportID string, kind media.Kind, rtpParameters json.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Produce"); err != nil {
		return "", err
	}
	if !f.transports[transportID] {
		return "", media.ErrTransportNotFound
	}
	f.nextProducer++
	id := fmt.Sprintf("producer-%d", f.nextProducer)
	f.producers[id] = kind
	return id, nil
}

func (f *Fake) ProducerCodec(producerID string) (*media.RTPCodecParameters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if codec, ok := f.codecs[producerID]; ok {
		return &codec, nil
	}
	kind, ok := f.producers[producerID]
	if !ok {
		return nil, media.ErrProducerNotFound
	}
	if kind == media.KindAudio {
		return &media.RTPCodecParameters{PayloadType: 100, MimeType: "audio/opus", ClockRate: 48000, Channels: 2}, nil
	}
	return &media.RTPCodecParameters{PayloadType: 101, MimeType: "video/VP8", ClockRate: 90000}, nil
}

func (f *Fake) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.producers[producerID]; !ok {
		return false
	}
	return f.Consumable
}

func (f *Fake) Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*media.ConsumerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("Consume"); err != nil {
		return nil, err
	}
	if !f.transports[transportID] {
		return nil, media.ErrTransportNotFound
	}
	kind, ok := f.producers[producerID]
	if !ok {
		return nil, media.ErrProducerNotFound
	}
	f.nextConsumer++
	id := fmt.Sprintf("consumer-%d", f.nextConsumer)
	f.consumers[id] = producerID
	return &media.ConsumerInfo{
		ID:            id,
		ProducerID:    producerID,
		Kind:          kind,
		RTPParameters: json.RawMessage(`{"codecs":[]}`),
	}, nil
}

func (f *Fake) ResumeConsumer(ctx context.Context, consumerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.consumers[consumerID]; !ok {
		return media.ErrProducerNotFound
	}
	f.resumed[consumerID] = true
	return nil
}

func (f *Fake) RestartICE(ctx context.Context, transportID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("RestartICE"); err != nil {
		return nil, err
	}
	if !f.transports[transportID] {
		return nil, media.ErrTransportNotFound
	}
	return json.RawMessage(`{"usernameFragment":"uf2","password":"pw2"}`), nil
}

func (f *Fake) CreatePlainTransport(ctx context.Context, remoteIP string, remotePort int) (*media.PlainTransportInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("CreatePlainTransport"); err != nil {
		return nil, err
	}
	f.nextPlain++
	id := fmt.Sprintf("plain-%d", f.nextPlain)
	f.plainTransports[id] = true
	return &media.PlainTransportInfo{ID: id, LocalIP: "127.0.0.1", LocalPort: 41000 + f.nextPlain}, nil
}

func (f *Fake) ConsumeOnPlain(ctx context.Context, transportID, producerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("ConsumeOnPlain"); err != nil {
		return err
	}
	if !f.plainTransports[transportID] {
		return media.ErrTransportNotFound
	}
	if _, ok := f.producers[producerID]; !ok {
		return media.ErrProducerNotFound
	}
	return nil
}

var _ media.Provider = (*Fake)(nil)
