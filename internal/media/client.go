package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client is the HTTP adapter to the media engine's control API. It
// implements Provider by forwarding every primitive to the engine process
// and translating its status codes onto the local error taxonomy.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	// routerCaps is fetched once at startup; the engine's router
	// capabilities do not change over its lifetime.
	routerCaps json.RawMessage
}

// ClientConfig configures the media engine client.
type ClientConfig struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// NewClient connects to the media engine and fetches the router RTP
// capabilities. It fails when the engine is unreachable, since nothing in
// the signaling layer can work without it.
func NewClient(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:    cfg.Endpoint,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	var caps json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/router/rtp-capabilities", nil, &caps); err != nil {
		return nil, fmt.Errorf("failed to fetch router capabilities: %w", err)
	}
	c.routerCaps = caps
	return c, nil
}

// RouterRTPCapabilities returns the capabilities fetched at startup.
func (c *Client) RouterRTPCapabilities() json.RawMessage {
	return c.routerCaps
}

// CreateTransport asks the engine for a new ICE transport.
func (c *Client) CreateTransport(ctx context.Context) (*TransportInfo, error) {
	var out struct {
		TransportID    string          `json:"transportId"`
		ICEParameters  json.RawMessage `json:"iceParameters"`
		ICECandidates  json.RawMessage `json:"iceCandidates"`
		DTLSParameters json.RawMessage `json:"dtlsParameters"`
	}
	if err := c.do(ctx, http.MethodPost, "/transports", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &TransportInfo{
		ID:             out.TransportID,
		ICEParameters:  out.ICEParameters,
		ICECandidates:  out.ICECandidates,
		DTLSParameters: out.DTLSParameters,
	}, nil
}

// ConnectTransport completes the DTLS handshake for a transport.
func (c *Client) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	body := map[string]json.RawMessage{"dtlsParameters": dtlsParameters}
	return c.do(ctx, http.MethodPost, "/transports/"+transportID+"/connect", body, nil)
}

// CloseTransport tears down a transport and everything riding on it.
func (c *Client) CloseTransport(transportID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
	defer cancel()
	return c.do(ctx, http.MethodDelete, "/transports/"+transportID, nil, nil)
}

// Produce creates a producer on a send transport.
func (c *Client) Produce(ctx context.Context, transportID string, kind Kind, rtpParameters json.RawMessage) (string, error) {
	body := map[string]any{"kind": kind, "rtpParameters": rtpParameters}
	var out struct {
		ProducerID string `json:"producerId"`
	}
	if err := c.do(ctx, http.MethodPost, "/transports/"+transportID+"/producers", body, &out); err != nil {
		return "", err
	}
	return out.ProducerID, nil
}

// ProducerCodec reads back the negotiated codec of a producer.
func (c *Client) ProducerCodec(producerID string) (*RTPCodecParameters, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
	defer cancel()
	var out struct {
		PayloadType uint8  `json:"payloadType"`
		MimeType    string `json:"mimeType"`
		ClockRate   int    `json:"clockRate"`
		Channels    int    `json:"channels"`
	}
	if err := c.do(ctx, http.MethodGet, "/producers/"+producerID+"/codec", nil, &out); err != nil {
		return nil, err
	}
	return &RTPCodecParameters{
		PayloadType: out.PayloadType,
		MimeType:    out.MimeType,
		ClockRate:   out.ClockRate,
		Channels:    out.Channels,
	}, nil
}

// CanConsume asks the engine whether the capabilities match the producer.
// Engine errors are treated as "no" and logged; the caller falls back to
// rejecting the consume request.
func (c *Client) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
	defer cancel()
	body := map[string]json.RawMessage{"rtpCapabilities": rtpCapabilities}
	var out struct {
		Consumable bool `json:"consumable"`
	}
	if err := c.do(ctx, http.MethodPost, "/producers/"+producerID+"/can-consume", body, &out); err != nil {
		c.logger.Warn("can-consume check failed", slog.String("producer_id", producerID), slog.String("error", err.Error()))
		return false
	}
	return out.Consumable
}

// Consume creates a paused consumer for a producer on the given transport.
func (c *Client) Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*ConsumerInfo, error) {
	body := map[string]any{"producerId": producerID, "rtpCapabilities": rtpCapabilities, "paused": true}
	var out struct {
		ConsumerID    string          `json:"consumerId"`
		ProducerID    string          `json:"producerId"`
		Kind          Kind            `json:"kind"`
		RTPParameters json.RawMessage `json:"rtpParameters"`
	}
	if err := c.do(ctx, http.MethodPost, "/transports/"+transportID+"/consumers", body, &out); err != nil {
		return nil, err
	}
	return &ConsumerInfo{
		ID:            out.ConsumerID,
		ProducerID:    out.ProducerID,
		Kind:          out.Kind,
		RTPParameters: out.RTPParameters,
	}, nil
}

// ResumeConsumer unpauses a consumer.
func (c *Client) ResumeConsumer(ctx context.Context, consumerID string) error {
	return c.do(ctx, http.MethodPost, "/consumers/"+consumerID+"/resume", struct{}{}, nil)
}

// RestartICE restarts the ICE session of a transport and returns the new
// ICE parameters.
func (c *Client) RestartICE(ctx context.Context, transportID string) (json.RawMessage, error) {
	var out struct {
		ICEParameters json.RawMessage `json:"iceParameters"`
	}
	if err := c.do(ctx, http.MethodPost, "/transports/"+transportID+"/restart-ice", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.ICEParameters, nil
}

// CreatePlainTransport binds a non-ICE RTP transport to a remote endpoint.
func (c *Client) CreatePlainTransport(ctx context.Context, remoteIP string, remotePort int) (*PlainTransportInfo, error) {
	body := map[string]any{"remoteIp": remoteIP, "remotePort": remotePort}
	var out struct {
		TransportID string `json:"transportId"`
		LocalIP     string `json:"localIp"`
		LocalPort   int    `json:"localPort"`
	}
	if err := c.do(ctx, http.MethodPost, "/plain-transports", body, &out); err != nil {
		return nil, err
	}
	return &PlainTransportInfo{ID: out.TransportID, LocalIP: out.LocalIP, LocalPort: out.LocalPort}, nil
}

// ConsumeOnPlain attaches a producer's media to a plain transport.
func (c *Client) ConsumeOnPlain(ctx context.Context, transportID, producerID string) error {
	body := map[string]string{"producerId": producerID}
	return c.do(ctx, http.MethodPost, "/plain-transports/"+transportID+"/consume", body, nil)
}

// Watch polls the engine's health endpoint and invokes onFatal after three
// consecutive failures. The media engine dying is fatal for the whole
// process; recovery is an external supervisor restart.
func (c *Client) Watch(ctx context.Context, interval time.Duration, onFatal func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
			if err == nil {
				failures = 0
				continue
			}
			failures++
			c.logger.Warn("media engine health check failed",
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()),
			)
			if failures >= 3 {
				onFatal(fmt.Errorf("media engine unreachable: %w", err))
				return
			}
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("media engine request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// The engine distinguishes the missing entity in the body, but for
		// the signaling layer the path already tells which one it was. Only
		// entity paths map onto the sentinels; a 404 elsewhere (router
		// capabilities, health) is an engine fault, not a lost entity.
		switch {
		case strings.HasPrefix(path, "/producers/"):
			return ErrProducerNotFound
		case strings.HasPrefix(path, "/transports/"), strings.HasPrefix(path, "/plain-transports/"):
			return ErrTransportNotFound
		default:
			return fmt.Errorf("media engine returned 404 for %s", path)
		}
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return ErrNotConsumable
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("media engine returned %d for %s: %s", resp.StatusCode, path, raw)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode media engine response: %w", err)
		}
	}
	return nil
}
