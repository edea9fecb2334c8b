package recording

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// createRequest is the inbound body of POST /create-recording-transport.
type createRequest struct {
	RoomID      string `json:"roomId"`
	RecordingIP string `json:"recordingIp"`
	AudioPort   int    `json:"audioPort"`
	VideoPort   int    `json:"videoPort"`
}

// createResponse carries the tuple id and the generated SDP.
type createResponse struct {
	TransportID string `json:"transportId"`
	SDP         string `json:"sdp"`
}

// closeRequest is the inbound body of POST /close-recording-transport.
type closeRequest struct {
	RoomID string `json:"roomId"`
}

type closeResponse struct {
	Success bool `json:"success"`
}

// Handlers exposes the bridge over HTTP to the recording collaborator,
// authenticated by a shared secret.
type Handlers struct {
	bridge *Bridge
	secret string
	logger *slog.Logger
}

// NewHandlers wraps the bridge for HTTP exposure.
func NewHandlers(bridge *Bridge, secret string, logger *slog.Logger) *Handlers {
	return &Handlers{bridge: bridge, secret: secret, logger: logger}
}

// Register attaches the recording endpoints to the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/create-recording-transport", h.handleCreate)
	mux.HandleFunc("/close-recording-transport", h.handleClose)
}

func (h *Handlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RoomID == "" || req.RecordingIP == "" || req.AudioPort == 0 || req.VideoPort == 0 {
		http.Error(w, "roomId, recordingIp, audioPort and videoPort are required", http.StatusBadRequest)
		return
	}

	tuple, err := h.bridge.CreateTuple(r.Context(), req.RoomID, req.RecordingIP, req.AudioPort, req.VideoPort)
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrNoProducers):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, ErrTupleExists):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("failed to create recording transports",
			slog.String("room_id", req.RoomID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "media engine error", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, createResponse{TransportID: tuple.ID, SDP: tuple.SDP})
}

func (h *Handlers) handleClose(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RoomID == "" {
		http.Error(w, "roomId is required", http.StatusBadRequest)
		return
	}

	if err := h.bridge.CloseTuple(req.RoomID); err != nil {
		writeJSON(w, http.StatusNotFound, closeResponse{Success: false})
		return
	}
	writeJSON(w, http.StatusOK, closeResponse{Success: true})
}

func (h *Handlers) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
