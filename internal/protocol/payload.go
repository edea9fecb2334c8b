package protocol

import (
	"encoding/json"
	"fmt"
)

// ConnectTransportData carries the DTLS handshake parameters for a
// previously created transport.
type ConnectTransportData struct {
	TransportID    string          `json:"transportId"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// ProduceData asks the server to create a producer on a send transport.
type ProduceData struct {
	TransportID   string          `json:"transportId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

// ConsumeData asks the server to create a consumer for a producer.
type ConsumeData struct {
	TransportID     string          `json:"transportId"`
	ProducerID      string          `json:"producerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

// RestartICEData identifies the transport whose ICE session should restart.
type RestartICEData struct {
	TransportID string `json:"transportId"`
}

// CloseProducerData identifies a producer the owner wants closed.
type CloseProducerData struct {
	ProducerID string `json:"producerId"`
}

// AdminActionData is a command relayed verbatim to one client's socket.
type AdminActionData struct {
	TargetClientID string          `json:"targetClientId"`
	ActionType     string          `json:"actionType"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// TransportCreatedData is the reply to create-send-transport and
// create-recv-transport, carrying everything the client needs to connect.
type TransportCreatedData struct {
	TransportID    string          `json:"transportId"`
	ICEParameters  json.RawMessage `json:"iceParameters,omitempty"`
	ICECandidates  json.RawMessage `json:"iceCandidates,omitempty"`
	DTLSParameters json.RawMessage `json:"dtlsParameters,omitempty"`
}

// ProduceDoneData acknowledges a produce request.
type ProduceDoneData struct {
	ProducerID string `json:"producerId"`
}

// NewProducerData announces a producer to the other clients of a room.
type NewProducerData struct {
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind"`
	ClientID   string `json:"clientId"`
}

// ProducerClosedData announces that a producer is gone.
type ProducerClosedData struct {
	ProducerID string `json:"producerId"`
}

// ConsumeDoneData carries a freshly created consumer back to the viewer.
type ConsumeDoneData struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

// TransportConnectedData acknowledges connect-transport.
type TransportConnectedData struct {
	TransportID string `json:"transportId"`
}

// RestartICEDoneData returns the new ICE parameters after a restart.
type RestartICEDoneData struct {
	TransportID   string          `json:"transportId"`
	ICEParameters json.RawMessage `json:"iceParameters"`
}

// ViewerCountData is the fan-out payload for viewer membership changes.
type ViewerCountData struct {
	Count int `json:"count"`
}

// StreamInterruptedData tells admins a streamer's socket dropped.
type StreamInterruptedData struct {
	ClientID string `json:"clientId"`
}

// ConnectTransport decodes and validates a connect-transport payload.
func (m *Message) ConnectTransport() (*ConnectTransportData, error) {
	var d ConnectTransportData
	if err := m.decode(&d); err != nil {
		return nil, err
	}
	if d.TransportID == "" {
		return nil, fmt.Errorf("%w: transportId", ErrMissingField)
	}
	if len(d.DTLSParameters) == 0 {
		return nil, fmt.Errorf("%w: dtlsParameters", ErrMissingField)
	}
	return &d, nil
}

// Produce decodes and validates a produce payload.
func (m *Message) Produce() (*ProduceData, error) {
	var d ProduceData
	if err := m.decode(&d); err != nil {
		return nil, err
	}
	if d.TransportID == "" {
		return nil, fmt.Errorf("%w: transportId", ErrMissingField)
	}
	if d.Kind == "" {
		return nil, fmt.Errorf("%w: kind", ErrMissingField)
	}
	if len(d.RTPParameters) == 0 {
		return nil, fmt.Errorf("%w: rtpParameters", ErrMissingField)
	}
	return &d, nil
}

// Consume decodes and validates a consume payload.
func (m *Message) Consume() (*ConsumeData, error) {
	var d ConsumeData
	if err := m.decode(&d); err != nil {
		return nil, err
	}
	if d.TransportID == "" {
		return nil, fmt.Errorf("%w: transportId", ErrMissingField)
	}
	if d.ProducerID == "" {
		return nil, fmt.Errorf("%w: producerId", ErrMissingField)
	}
	if len(d.RTPCapabilities) == 0 {
		return nil, fmt.Errorf("%w: rtpCapabilities", ErrMissingField)
	}
	return &d, nil
}

// RestartICE decodes and validates a restart-ice payload.
func (m *Message) RestartICE() (*RestartICEData, error) {
	var d RestartICEData
	if err := m.decode(&d); err != nil {
		return nil, err
	}
	if d.TransportID == "" {
		return nil, fmt.Errorf("%w: transportId", ErrMissingField)
	}
	return &d, nil
}

// CloseProducer decodes and validates a close-producer payload.
func (m *Message) CloseProducer() (*CloseProducerData, error) {
	var d CloseProducerData
	if err := m.decode(&d); err != nil {
		return nil, err
	}
	if d.ProducerID == "" {
		return nil, fmt.Errorf("%w: producerId", ErrMissingField)
	}
	return &d, nil
}

// AdminAction decodes and validates an admin-action payload.
func (m *Message) AdminAction() (*AdminActionData, error) {
	var d AdminActionData
	if err := m.decode(&d); err != nil {
		return nil, err
	}
	if d.TargetClientID == "" {
		return nil, fmt.Errorf("%w: targetClientId", ErrMissingField)
	}
	if d.ActionType == "" {
		return nil, fmt.Errorf("%w: actionType", ErrMissingField)
	}
	return &d, nil
}
