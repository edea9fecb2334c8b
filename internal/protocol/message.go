package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action identifies the kind of a signaling message. The same envelope is
// used in both directions; some action names appear on both sides (a
// create-send-transport request is answered with a create-send-transport
// message carrying the transport parameters).
type Action string

// Client to server actions.
const (
	ActionJoinAsStreamer      Action = "join-as-streamer"
	ActionJoinAsViewer        Action = "join-as-viewer"
	ActionJoinAsAdmin         Action = "join-as-admin"
	ActionCreateSendTransport Action = "create-send-transport"
	ActionCreateRecvTransport Action = "create-recv-transport"
	ActionConnectTransport    Action = "connect-transport"
	ActionProduce             Action = "produce"
	ActionConsume             Action = "consume"
	ActionRestartICE          Action = "restart-ice"
	ActionCloseProducer       Action = "close-producer"
	ActionAdminAction         Action = "admin-action"
)

// Server to client actions.
const (
	ActionRouterRTPCapabilities Action = "router-rtp-capabilities"
	ActionStartProduce          Action = "start-produce"
	ActionProduceDone           Action = "produce-done"
	ActionNewProducer           Action = "new-producer"
	ActionProducerClosed        Action = "producer-closed"
	ActionExistingProducers     Action = "existing-producers"
	ActionConsumeDone           Action = "consume-done"
	ActionTransportConnected    Action = "transport-connected"
	ActionRestartICEDone        Action = "restart-ice-done"
	ActionSessionEnded          Action = "session-ended"
	ActionViewerCount           Action = "viewer-count"
	ActionActiveRooms           Action = "active-rooms"
	ActionStreamInterrupted     Action = "stream-interrupted"
	ActionHeartbeat             Action = "heartbeat"
)

// Message is the wire envelope for every signaling exchange.
type Message struct {
	Action   Action          `json:"action"`
	RoomID   string          `json:"roomId"`
	ClientID string          `json:"clientId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

var (
	// ErrBadEnvelope marks input that is not a signaling envelope at all.
	ErrBadEnvelope = errors.New("malformed message envelope")

	// ErrMissingField marks an envelope or payload lacking a required field.
	ErrMissingField = errors.New("missing required field")
)

// Parse decodes raw socket bytes into a Message. A parse failure is a
// protocol error owned by the sender; the connection itself stays usable.
func Parse(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if msg.Action == "" {
		return nil, fmt.Errorf("%w: action", ErrMissingField)
	}
	if msg.RoomID == "" {
		return nil, fmt.Errorf("%w: roomId", ErrMissingField)
	}
	return &msg, nil
}

// New builds an outbound message, marshaling data into the envelope.
// A nil data leaves the field empty.
func New(action Action, roomID, clientID string, data any) *Message {
	msg := &Message{Action: action, RoomID: roomID, ClientID: clientID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			msg.Data = raw
		}
	}
	return msg
}

func (m *Message) decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: data", ErrMissingField)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return nil
}
