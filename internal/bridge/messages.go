package bridge

import (
	"errors"
	"time"

	"github.com/nerrad567/radiolink/internal/radio"
)

// SendCommand asks the gateway to transmit a payload.
// Topic: radiolink/command/send
type SendCommand struct {
	// ID correlates the command with its response. A UUID is assigned when empty.
	ID string `json:"id"`

	// Dest64 is the 64-bit destination address as 16 hex digits.
	Dest64 string `json:"dest64,omitempty"`

	// Dest16 is the 16-bit destination address as 4 hex digits. Used when
	// Dest64 is empty.
	Dest16 string `json:"dest16,omitempty"`

	// Broadcast sends to every node. Dest64 and Dest16 must be empty.
	Broadcast bool `json:"broadcast,omitempty"`

	// Data is the payload, base64 encoded on the wire.
	Data []byte `json:"data"`

	// Sync waits for the module's transmit report before responding.
	Sync bool `json:"sync"`

	// TimeoutMS bounds a synchronous send. Zero uses the device receive timeout.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// DiscoverCommand asks the gateway to scan for peers.
// Topic: radiolink/command/discover
type DiscoverCommand struct {
	ID string `json:"id"`

	// NodeID limits the scan to peers with this node identifier.
	NodeID string `json:"node_id,omitempty"`

	// TimeoutMS bounds the scan. Zero uses the module's own discovery timeout.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// ResponseStatus is the outcome of a command.
type ResponseStatus string

const (
	// StatusAccepted means the command completed. For an asynchronous send
	// it means the frame was handed to the module.
	StatusAccepted ResponseStatus = "accepted"

	// StatusFailed means the command could not be carried out.
	StatusFailed ResponseStatus = "failed"

	// StatusTimeout means the module did not answer within the bound.
	StatusTimeout ResponseStatus = "timeout"

	// StatusRejected means the module reported a delivery failure.
	StatusRejected ResponseStatus = "rejected"
)

// Error codes carried in ResponseError.Code.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConnected      = "NOT_CONNECTED"
	ErrCodeInvalidMode       = "INVALID_OPERATING_MODE"
	ErrCodeNotSupported      = "NOT_SUPPORTED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeRejected          = "REMOTE_REJECTED"
	ErrCodeTransport         = "TRANSPORT_ERROR"
	ErrCodeBusy              = "TOO_MANY_PENDING"
	ErrCodeNotFound          = "DEVICE_NOT_FOUND"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ResponseMessage reports the outcome of a command.
// Topic: radiolink/response/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Status    ResponseStatus `json:"status"`

	// Data carries the transmit report or the discovered peers.
	Data any `json:"data,omitempty"`

	Error *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed commands.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Status is the raw status byte when the module rejected the frame.
	Status *byte `json:"status,omitempty"`
}

// TransmitReport is the Data of a successful synchronous send.
type TransmitReport struct {
	FrameID   byte            `json:"frame_id"`
	Status    byte            `json:"status"`
	Retries   byte            `json:"retries"`
	Discovery byte            `json:"discovery"`
	Address16 radio.Address16 `json:"address16"`
}

// DataMessage carries a payload received from a peer.
// Topic: radiolink/data/{address64}
type DataMessage struct {
	Source64   radio.Address64 `json:"source64"`
	Source16   radio.Address16 `json:"source16"`
	NodeID     string          `json:"node_id,omitempty"`
	Data       []byte          `json:"data"`
	Broadcast  bool            `json:"broadcast,omitempty"`
	RSSI       int             `json:"rssi,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// NewDataMessage converts a received frame to its published form. The
// sender's node identifier and 64-bit address are filled from the registry
// record when the frame only carried a 16-bit source.
func NewDataMessage(msg radio.Message) DataMessage {
	out := DataMessage{
		Source64:   msg.Source64,
		Source16:   msg.Source16,
		Data:       msg.Data,
		Broadcast:  msg.Broadcast,
		RSSI:       msg.RSSI,
		ReceivedAt: msg.ReceivedAt.UTC(),
	}
	if msg.Peer != nil {
		info := msg.Peer.Info()
		out.NodeID = info.NodeID
		if !out.Source64.IsKnown() {
			out.Source64 = info.Address64
		}
	}
	return out
}

// PeerMessage is the retained registry record of a peer.
// Topic: radiolink/peer/{address64}
type PeerMessage struct {
	radio.PeerInfo
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus represents the operational status of the gateway.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports gateway status.
// Topic: radiolink/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Status        HealthStatus `json:"status"`
	Site          string       `json:"site"`
	Version       string       `json:"version"`
	Timestamp     time.Time    `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Module        *ModuleInfo  `json:"module,omitempty"`
	Statistics    *Statistics  `json:"statistics,omitempty"`
	Peers         int          `json:"peers"`
	Reason        string       `json:"reason,omitempty"`
}

// ModuleInfo describes the local module.
type ModuleInfo struct {
	Open      bool            `json:"open"`
	Family    string          `json:"family"`
	Mode      string          `json:"mode"`
	Address64 radio.Address64 `json:"address64"`
	Address16 radio.Address16 `json:"address16"`
	NodeID    string          `json:"node_id,omitempty"`
}

// Statistics mirrors radio.Stats.
type Statistics struct {
	FramesSent       uint64     `json:"frames_sent"`
	FramesReceived   uint64     `json:"frames_received"`
	FramesDropped    uint64     `json:"frames_dropped"`
	CallbacksDropped uint64     `json:"callbacks_dropped"`
	Errors           uint64     `json:"errors"`
	Timeouts         uint64     `json:"timeouts"`
	Reconnects       uint64     `json:"reconnects"`
	Pending          int        `json:"pending"`
	LastActivity     *time.Time `json:"last_activity,omitempty"`
}

// NewStatistics copies device counters into their published form.
func NewStatistics(s radio.Stats) *Statistics {
	st := &Statistics{
		FramesSent:       s.FramesSent,
		FramesReceived:   s.FramesReceived,
		FramesDropped:    s.FramesDropped,
		CallbacksDropped: s.CallbacksDropped,
		Errors:           s.Errors,
		Timeouts:         s.Timeouts,
		Reconnects:       s.Reconnects,
		Pending:          s.Pending,
	}
	if !s.LastActivity.IsZero() {
		t := s.LastActivity.UTC()
		st.LastActivity = &t
	}
	return st
}

// NewModuleInfo describes the local module for health reports.
func NewModuleInfo(open bool, info radio.Info) *ModuleInfo {
	return &ModuleInfo{
		Open:      open,
		Family:    info.Family.String(),
		Mode:      info.Mode.String(),
		Address64: info.Address64,
		Address16: info.Address16,
		NodeID:    info.NodeID,
	}
}

// classifyError maps a radio error to a response status and error code.
func classifyError(err error) (ResponseStatus, *ResponseError) {
	re := &ResponseError{Code: ErrCodeBridgeError, Message: err.Error()}
	status := StatusFailed

	var rejected *radio.RemoteRejectedError
	switch {
	case errors.As(err, &rejected):
		status = StatusRejected
		re.Code = ErrCodeRejected
		s := rejected.Status
		re.Status = &s
	case errors.Is(err, radio.ErrTimeout):
		status = StatusTimeout
		re.Code = ErrCodeTimeout
	case errors.Is(err, radio.ErrInvalidArgument), errors.Is(err, radio.ErrInvalidAddress):
		re.Code = ErrCodeInvalidParameters
	case errors.Is(err, radio.ErrConnectionNotOpen):
		re.Code = ErrCodeNotConnected
	case errors.Is(err, radio.ErrInvalidOperatingMode):
		re.Code = ErrCodeInvalidMode
	case errors.Is(err, radio.ErrOperationNotSupported):
		re.Code = ErrCodeNotSupported
	case errors.Is(err, radio.ErrTransport):
		re.Code = ErrCodeTransport
	case errors.Is(err, radio.ErrTooManyPending):
		re.Code = ErrCodeBusy
	case errors.Is(err, radio.ErrDeviceNotFound):
		re.Code = ErrCodeNotFound
	}
	return status, re
}
