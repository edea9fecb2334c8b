package media

import (
	"context"
	"encoding/json"
	"time"

	"github.com/beamcast/beamcast/internal/metrics"
)

// Instrument wraps a Provider so every engine call is timed and failures
// are counted.
func Instrument(p Provider, m *metrics.Metrics) Provider {
	return &instrumented{next: p, metrics: m}
}

type instrumented struct {
	next    Provider
	metrics *metrics.Metrics
}

func (i *instrumented) observe(method string, start time.Time, err error) {
	i.metrics.ProviderCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		i.metrics.ProviderErrors.Inc()
	}
}

func (i *instrumented) RouterRTPCapabilities() json.RawMessage {
	return i.next.RouterRTPCapabilities()
}

func (i *instrumented) CreateTransport(ctx context.Context) (*TransportInfo, error) {
	start := time.Now()
	info, err := i.next.CreateTransport(ctx)
	i.observe("create_transport", start, err)
	return info, err
}

func (i *instrumented) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	start := time.Now()
	err := i.next.ConnectTransport(ctx, transportID, dtlsParameters)
	i.observe("connect_transport", start, err)
	return err
}

func (i *instrumented) CloseTransport(transportID string) error {
	start := time.Now()
	err := i.next.CloseTransport(transportID)
	i.observe("close_transport", start, err)
	return err
}

func (i *instrumented) Produce(ctx context.Context, transportID string, kind Kind, rtpParameters json.RawMessage) (string, error) {
	start := time.Now()
	id, err := i.next.Produce(ctx, transportID, kind, rtpParameters)
	i.observe("produce", start, err)
	return id, err
}

func (i *instrumented) ProducerCodec(producerID string) (*RTPCodecParameters, error) {
	start := time.Now()
	codec, err := i.next.ProducerCodec(producerID)
	i.observe("producer_codec", start, err)
	return codec, err
}

func (i *instrumented) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	start := time.Now()
	ok := i.next.CanConsume(producerID, rtpCapabilities)
	i.observe("can_consume", start, nil)
	return ok
}

func (i *instrumented) Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*ConsumerInfo, error) {
	start := time.Now()
	info, err := i.next.Consume(ctx, transportID, producerID, rtpCapabilities)
	i.observe("consume", start, err)
	return info, err
}

func (i *instrumented) ResumeConsumer(ctx context.Context, consumerID string) error {
	start := time.Now()
	err := i.next.ResumeConsumer(ctx, consumerID)
	i.observe("resume_consumer", start, err)
	return err
}

func (i *instrumented) RestartICE(ctx context.Context, transportID string) (json.RawMessage, error) {
	start := time.Now()
	params, err := i.next.RestartICE(ctx, transportID)
	i.observe("restart_ice", start, err)
	return params, err
}

func (i *instrumented) CreatePlainTransport(ctx context.Context, remoteIP string, remotePort int) (*PlainTransportInfo, error) {
	start := time.Now()
	info, err := i.next.CreatePlainTransport(ctx, remoteIP, remotePort)
	i.observe("create_plain_transport", start, err)
	return info, err
}

func (i *instrumented) ConsumeOnPlain(ctx context.Context, transportID, producerID string) error {
	start := time.Now()
	err := i.next.ConsumeOnPlain(ctx, transportID, producerID)
	i.observe("consume_on_plain", start, err)
	return err
}
