package status

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Notifier reports stream lifecycle changes to the persistence
// collaborator. Every call is fire-and-forget: failures are logged and
// never block or reverse a local state transition.
type Notifier struct {
	endpoint   string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

type streamStatus struct {
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId"`
	Status   string `json:"status"`
}

// New builds a notifier for the given collaborator base URL.
func New(endpoint, token string, timeout time.Duration, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// StreamEnded reports that a streamer's grace period expired without a
// reconnect.
func (n *Notifier) StreamEnded(ctx context.Context, roomID, clientID string) {
	body := streamStatus{RoomID: roomID, ClientID: clientID, Status: "ended"}
	if err := n.post(ctx, "/internal/stream-status", body); err != nil {
		n.logger.Warn("failed to notify stream end",
			slog.String("room_id", roomID),
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
	}
}

// Reset idempotently marks every previously-live room offline. Called once
// at startup, because in-memory room state does not survive a restart.
func (n *Notifier) Reset(ctx context.Context) {
	if err := n.post(ctx, "/internal/stream-status/reset", struct{}{}); err != nil {
		n.logger.Warn("failed to reset stream status", slog.String("error", err.Error()))
	}
}

func (n *Notifier) post(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return http.StatusText(e.code)
}
