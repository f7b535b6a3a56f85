package radio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FrameType is the API identifier byte that opens every frame body.
type FrameType byte

// Outbound frame types.
const (
	FrameATCommand     FrameType = 0x08
	FrameTX64          FrameType = 0x00
	FrameTX16          FrameType = 0x01
	FrameTransmit      FrameType = 0x10
	FrameExplicitTX    FrameType = 0x11
	FrameRemoteCommand FrameType = 0x17
)

// Inbound frame types.
const (
	FrameATResponse     FrameType = 0x88
	FrameTXStatus       FrameType = 0x89
	FrameModemStatus    FrameType = 0x8A
	FrameTransmitStatus FrameType = 0x8B
	FrameRX64           FrameType = 0x80
	FrameRX16           FrameType = 0x81
	FrameReceive        FrameType = 0x90
	FrameExplicitRX     FrameType = 0x91
	FrameNodeIdentify   FrameType = 0x95
	FrameRemoteResponse FrameType = 0x97
)

// Transmit option bits.
const (
	OptionDisableAck   byte = 0x01
	OptionBroadcastPAN byte = 0x04
	OptionEncrypted    byte = 0x20
)

// Receive option bits.
const (
	RxOptionAcknowledged byte = 0x01
	RxOptionBroadcast    byte = 0x02
)

// Status byte values with meaning shared across response types.
const (
	StatusSuccess byte = 0x00
)

// Frame is one decoded API frame.
//
// Fields are populated according to Type. For transmit frames Addr64 and
// Addr16 are the destination; for receive frames they are the source. For a
// node identification indicator they identify the announced node.
type Frame struct {
	Type FrameType

	// ID is the correlation id. Zero means no response is requested.
	ID byte

	Addr64 Address64
	Addr16 Address16

	Options byte
	Radius  byte

	// Command is the two-character AT command for AT frames.
	Command string

	// Status is the result byte of response and modem status frames.
	Status byte

	// Retries and Discovery are transmit status details.
	Retries   byte
	Discovery byte

	// RSSI is the received signal strength in -dBm (RX64/RX16 only).
	RSSI byte

	// Explicit addressing fields.
	SourceEndpoint byte
	DestEndpoint   byte
	ClusterID      uint16
	ProfileID      uint16

	// NodeID is the node identifier carried by node identification frames.
	NodeID string

	// Data is the payload, AT parameter or AT response value.
	Data []byte
}

// IsResponse reports whether the frame answers an earlier command by ID.
func (f Frame) IsResponse() bool {
	switch f.Type {
	case FrameATResponse, FrameTXStatus, FrameTransmitStatus, FrameRemoteResponse:
		return true
	}
	return false
}

// CorrelationID returns the frame ID linking a response to its command.
func (f Frame) CorrelationID() byte {
	return f.ID
}

// IsReceive reports whether the frame carries an application payload from a peer.
func (f Frame) IsReceive() bool {
	switch f.Type {
	case FrameRX64, FrameRX16, FrameReceive, FrameExplicitRX:
		return true
	}
	return false
}

// Err converts a non-success response status into a *RemoteRejectedError.
func (f Frame) Err() error {
	if !f.IsResponse() || f.Status == StatusSuccess {
		return nil
	}
	return &RemoteRejectedError{Status: f.Status, Frame: f.Type}
}

func (t FrameType) String() string {
	switch t {
	case FrameATCommand:
		return "at_command"
	case FrameTX64:
		return "tx64"
	case FrameTX16:
		return "tx16"
	case FrameTransmit:
		return "transmit_request"
	case FrameExplicitTX:
		return "explicit_tx"
	case FrameRemoteCommand:
		return "remote_at_command"
	case FrameATResponse:
		return "at_response"
	case FrameTXStatus:
		return "tx_status"
	case FrameModemStatus:
		return "modem_status"
	case FrameTransmitStatus:
		return "transmit_status"
	case FrameRX64:
		return "rx64"
	case FrameRX16:
		return "rx16"
	case FrameReceive:
		return "receive_packet"
	case FrameExplicitRX:
		return "explicit_rx"
	case FrameNodeIdentify:
		return "node_identification"
	case FrameRemoteResponse:
		return "remote_at_response"
	default:
		return fmt.Sprintf("0x%02X", byte(t))
	}
}

// statusText describes a status byte in the context of the frame type carrying it.
func (t FrameType) statusText(status byte) string {
	var table map[byte]string
	switch t {
	case FrameATResponse, FrameRemoteResponse:
		table = atStatusText
	case FrameTXStatus:
		table = txStatusText
	case FrameTransmitStatus:
		table = deliveryStatusText
	case FrameModemStatus:
		table = modemStatusText
	}
	if s, ok := table[status]; ok {
		return s
	}
	return "unknown status"
}

var atStatusText = map[byte]string{
	0x00: "OK",
	0x01: "ERROR",
	0x02: "invalid command",
	0x03: "invalid parameter",
	0x04: "transmission failure",
}

var txStatusText = map[byte]string{
	0x00: "success",
	0x01: "no acknowledgement received",
	0x02: "CCA failure",
	0x03: "purged",
}

var deliveryStatusText = map[byte]string{
	0x00: "success",
	0x01: "MAC ACK failure",
	0x02: "CCA failure",
	0x15: "invalid destination endpoint",
	0x21: "network ACK failure",
	0x22: "not joined to network",
	0x23: "self-addressed",
	0x24: "address not found",
	0x25: "route not found",
	0x74: "payload too large",
}

// ModemStatus is an unsolicited module state notification.
type ModemStatus byte

// Modem status values.
const (
	ModemHardwareReset      ModemStatus = 0x00
	ModemWatchdogReset      ModemStatus = 0x01
	ModemJoinedNetwork      ModemStatus = 0x02
	ModemDisassociated      ModemStatus = 0x03
	ModemCoordinatorStarted ModemStatus = 0x06
)

var modemStatusText = map[byte]string{
	0x00: "hardware reset",
	0x01: "watchdog timer reset",
	0x02: "joined network",
	0x03: "disassociated",
	0x06: "coordinator started",
}

func (s ModemStatus) String() string {
	return FrameModemStatus.statusText(byte(s))
}

// Minimum body lengths (excluding the type byte) per frame type.
var minBodyLen = map[FrameType]int{
	FrameATCommand:      3,
	FrameTX64:           10,
	FrameTX16:           4,
	FrameTransmit:       13,
	FrameExplicitTX:     19,
	FrameRemoteCommand:  14,
	FrameATResponse:     4,
	FrameTXStatus:       2,
	FrameModemStatus:    1,
	FrameTransmitStatus: 6,
	FrameRX64:           10,
	FrameRX16:           4,
	FrameReceive:        11,
	FrameExplicitRX:     17,
	FrameNodeIdentify:   22,
	FrameRemoteResponse: 14,
}

// marshalBody serialises the frame body: type byte followed by the fields.
func (f Frame) marshalBody() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte(byte(f.Type))

	switch f.Type {
	case FrameATCommand:
		if len(f.Command) != 2 {
			return nil, fmt.Errorf("%w: AT command must be 2 characters, got %q", ErrInvalidFrame, f.Command)
		}
		b.WriteByte(f.ID)
		b.WriteString(f.Command)
	case FrameRemoteCommand:
		if len(f.Command) != 2 {
			return nil, fmt.Errorf("%w: AT command must be 2 characters, got %q", ErrInvalidFrame, f.Command)
		}
		b.WriteByte(f.ID)
		b.Write(f.Addr64.Bytes())
		b.Write(f.Addr16.Bytes())
		b.WriteByte(f.Options)
		b.WriteString(f.Command)
	case FrameTX64:
		b.WriteByte(f.ID)
		b.Write(f.Addr64.Bytes())
		b.WriteByte(f.Options)
	case FrameTX16:
		b.WriteByte(f.ID)
		b.Write(f.Addr16.Bytes())
		b.WriteByte(f.Options)
	case FrameTransmit:
		b.WriteByte(f.ID)
		b.Write(f.Addr64.Bytes())
		b.Write(f.Addr16.Bytes())
		b.WriteByte(f.Radius)
		b.WriteByte(f.Options)
	case FrameExplicitTX:
		b.WriteByte(f.ID)
		b.Write(f.Addr64.Bytes())
		b.Write(f.Addr16.Bytes())
		b.WriteByte(f.SourceEndpoint)
		b.WriteByte(f.DestEndpoint)
		writeUint16(&b, f.ClusterID)
		writeUint16(&b, f.ProfileID)
		b.WriteByte(f.Radius)
		b.WriteByte(f.Options)
	case FrameATResponse:
		if len(f.Command) != 2 {
			return nil, fmt.Errorf("%w: AT command must be 2 characters, got %q", ErrInvalidFrame, f.Command)
		}
		b.WriteByte(f.ID)
		b.WriteString(f.Command)
		b.WriteByte(f.Status)
	case FrameRemoteResponse:
		if len(f.Command) != 2 {
			return nil, fmt.Errorf("%w: AT command must be 2 characters, got %q", ErrInvalidFrame, f.Command)
		}
		b.WriteByte(f.ID)
		b.Write(f.Addr64.Bytes())
		b.Write(f.Addr16.Bytes())
		b.WriteString(f.Command)
		b.WriteByte(f.Status)
	case FrameTXStatus:
		b.WriteByte(f.ID)
		b.WriteByte(f.Status)
	case FrameModemStatus:
		b.WriteByte(f.Status)
	case FrameTransmitStatus:
		b.WriteByte(f.ID)
		b.Write(f.Addr16.Bytes())
		b.WriteByte(f.Retries)
		b.WriteByte(f.Status)
		b.WriteByte(f.Discovery)
	case FrameRX64:
		b.Write(f.Addr64.Bytes())
		b.WriteByte(f.RSSI)
		b.WriteByte(f.Options)
	case FrameRX16:
		b.Write(f.Addr16.Bytes())
		b.WriteByte(f.RSSI)
		b.WriteByte(f.Options)
	case FrameReceive:
		b.Write(f.Addr64.Bytes())
		b.Write(f.Addr16.Bytes())
		b.WriteByte(f.Options)
	case FrameExplicitRX:
		b.Write(f.Addr64.Bytes())
		b.Write(f.Addr16.Bytes())
		b.WriteByte(f.SourceEndpoint)
		b.WriteByte(f.DestEndpoint)
		writeUint16(&b, f.ClusterID)
		writeUint16(&b, f.ProfileID)
		b.WriteByte(f.Options)
	case FrameNodeIdentify:
		// Sender addresses are not tracked separately; the announced node is
		// written into both the sender and remote slots.
		b.Write(f.Addr64.Bytes())
		b.Write(f.Addr16.Bytes())
		b.WriteByte(f.Options)
		b.Write(f.Addr16.Bytes())
		b.Write(f.Addr64.Bytes())
		b.WriteString(f.NodeID)
		b.WriteByte(0)
	default:
		return nil, fmt.Errorf("%w: unsupported frame type %s", ErrInvalidFrame, f.Type)
	}

	b.Write(f.Data)
	return b.Bytes(), nil
}

// unmarshalBody parses a frame body (type byte first).
func unmarshalBody(body []byte) (Frame, error) {
	if len(body) == 0 {
		return Frame{}, fmt.Errorf("%w: empty frame body", ErrInvalidFrame)
	}

	f := Frame{Type: FrameType(body[0]), Addr64: Unknown64, Addr16: Unknown16}
	p := body[1:]

	need, ok := minBodyLen[f.Type]
	if !ok {
		return Frame{}, fmt.Errorf("%w: unsupported frame type %s", ErrInvalidFrame, f.Type)
	}
	if len(p) < need {
		return Frame{}, fmt.Errorf("%w: %s too short (%d bytes, need at least %d)", ErrInvalidFrame, f.Type, len(p), need)
	}

	switch f.Type {
	case FrameATCommand:
		f.ID = p[0]
		f.Command = string(p[1:3])
		p = p[3:]
	case FrameRemoteCommand:
		f.ID = p[0]
		f.Addr64 = readAddress64(p[1:])
		f.Addr16 = readAddress16(p[9:])
		f.Options = p[11]
		f.Command = string(p[12:14])
		p = p[14:]
	case FrameTX64:
		f.ID = p[0]
		f.Addr64 = readAddress64(p[1:])
		f.Options = p[9]
		p = p[10:]
	case FrameTX16:
		f.ID = p[0]
		f.Addr16 = readAddress16(p[1:])
		f.Options = p[3]
		p = p[4:]
	case FrameTransmit:
		f.ID = p[0]
		f.Addr64 = readAddress64(p[1:])
		f.Addr16 = readAddress16(p[9:])
		f.Radius = p[11]
		f.Options = p[12]
		p = p[13:]
	case FrameExplicitTX:
		f.ID = p[0]
		f.Addr64 = readAddress64(p[1:])
		f.Addr16 = readAddress16(p[9:])
		f.SourceEndpoint = p[11]
		f.DestEndpoint = p[12]
		f.ClusterID = binary.BigEndian.Uint16(p[13:])
		f.ProfileID = binary.BigEndian.Uint16(p[15:])
		f.Radius = p[17]
		f.Options = p[18]
		p = p[19:]
	case FrameATResponse:
		f.ID = p[0]
		f.Command = string(p[1:3])
		f.Status = p[3]
		p = p[4:]
	case FrameRemoteResponse:
		f.ID = p[0]
		f.Addr64 = readAddress64(p[1:])
		f.Addr16 = readAddress16(p[9:])
		f.Command = string(p[11:13])
		f.Status = p[13]
		p = p[14:]
	case FrameTXStatus:
		f.ID = p[0]
		f.Status = p[1]
		p = p[2:]
	case FrameModemStatus:
		f.Status = p[0]
		p = p[1:]
	case FrameTransmitStatus:
		f.ID = p[0]
		f.Addr16 = readAddress16(p[1:])
		f.Retries = p[3]
		f.Status = p[4]
		f.Discovery = p[5]
		p = p[6:]
	case FrameRX64:
		f.Addr64 = readAddress64(p)
		f.RSSI = p[8]
		f.Options = p[9]
		p = p[10:]
	case FrameRX16:
		f.Addr16 = readAddress16(p)
		f.RSSI = p[2]
		f.Options = p[3]
		p = p[4:]
	case FrameReceive:
		f.Addr64 = readAddress64(p)
		f.Addr16 = readAddress16(p[8:])
		f.Options = p[10]
		p = p[11:]
	case FrameExplicitRX:
		f.Addr64 = readAddress64(p)
		f.Addr16 = readAddress16(p[8:])
		f.SourceEndpoint = p[10]
		f.DestEndpoint = p[11]
		f.ClusterID = binary.BigEndian.Uint16(p[12:])
		f.ProfileID = binary.BigEndian.Uint16(p[14:])
		f.Options = p[16]
		p = p[17:]
	case FrameNodeIdentify:
		f.Options = p[10]
		f.Addr16 = readAddress16(p[11:])
		f.Addr64 = readAddress64(p[13:])
		p = p[21:]
		ni, rest, found := bytes.Cut(p, []byte{0})
		if !found {
			return Frame{}, fmt.Errorf("%w: node identifier not terminated", ErrInvalidFrame)
		}
		f.NodeID = string(ni)
		p = rest
	}

	if len(p) > 0 {
		f.Data = append([]byte(nil), p...)
	}
	return f, nil
}

func writeUint16(b *bytes.Buffer, v uint16) {
	b.WriteByte(byte(v >> 8))
	b.WriteByte(byte(v))
}

func readAddress64(p []byte) Address64 {
	return Address64(binary.BigEndian.Uint64(p))
}

func readAddress16(p []byte) Address16 {
	return Address16(binary.BigEndian.Uint16(p))
}
