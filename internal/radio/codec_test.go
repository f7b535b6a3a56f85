package radio

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
)

func TestAPICodecEncodeATCommand(t *testing.T) {
	raw, err := APICodec{}.Encode(Frame{Type: FrameATCommand, ID: 0x52, Command: "NJ"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := []byte{0x7E, 0x00, 0x04, 0x08, 0x52, 0x4E, 0x4A, 0x0D}
	if !bytes.Equal(raw, want) {
		t.Errorf("Encode() = % X, want % X", raw, want)
	}
}

func TestAPICodecEscaping(t *testing.T) {
	f := Frame{
		Type:    FrameTransmit,
		ID:      0x7D,
		Addr64:  0x0013A20040A1E77E,
		Addr16:  Unknown16,
		Options: 0x00,
		Data:    []byte{0x11, 0x13, 0x7E},
	}

	plain, err := APICodec{}.Encode(f)
	if err != nil {
		t.Fatalf("Encode(plain) error = %v", err)
	}
	escaped, err := APICodec{Escaped: true}.Encode(f)
	if err != nil {
		t.Fatalf("Encode(escaped) error = %v", err)
	}

	if len(escaped) <= len(plain) {
		t.Errorf("escaped frame length %d, want more than %d", len(escaped), len(plain))
	}
	if bytes.IndexByte(escaped[1:], startDelimiter) != -1 {
		t.Error("escaped frame contains an unescaped start delimiter")
	}

	got, err := APICodec{Escaped: true}.Decode(bufio.NewReader(bytes.NewReader(escaped)))
	if err != nil {
		t.Fatalf("Decode(escaped) error = %v", err)
	}
	if got.ID != f.ID || got.Addr64 != f.Addr64 || !bytes.Equal(got.Data, f.Data) {
		t.Errorf("Decode(escaped) = %+v, want %+v", got, f)
	}
}

func TestAPICodecFrameTypes(t *testing.T) {
	frames := []Frame{
		{Type: FrameATCommand, ID: 1, Addr64: Unknown64, Addr16: Unknown16, Command: "NI", Data: []byte("NODE")},
		{Type: FrameTX64, ID: 2, Addr64: 0x0013A20040A1E77E, Addr16: Unknown16, Options: OptionDisableAck, Data: []byte{1}},
		{Type: FrameTX16, ID: 3, Addr64: Unknown64, Addr16: 0x1234, Data: []byte{2}},
		{Type: FrameExplicitTX, ID: 4, Addr64: Broadcast64, Addr16: Unknown16, SourceEndpoint: 0xE8, DestEndpoint: 0xE8, ClusterID: 0x0011, ProfileID: 0xC105, Data: []byte{3}},
		{Type: FrameATResponse, ID: 5, Addr64: Unknown64, Addr16: Unknown16, Command: "AP", Data: []byte{1}},
		{Type: FrameTransmitStatus, ID: 6, Addr64: Unknown64, Addr16: 0x0000, Retries: 1, Status: 0x21, Discovery: 2},
		{Type: FrameRX16, Addr64: Unknown64, Addr16: 0x0001, RSSI: 0x28, Options: RxOptionBroadcast, Data: []byte("hi")},
		{Type: FrameReceive, Addr64: 0x0013A20040A1E77E, Addr16: 0xFFFE, Options: RxOptionAcknowledged, Data: []byte("payload")},
		{Type: FrameExplicitRX, Addr64: 0x0013A20040A1E77E, Addr16: 0x5678, SourceEndpoint: 1, DestEndpoint: 2, ClusterID: 3, ProfileID: 4, Data: []byte("x")},
		{Type: FrameNodeIdentify, Addr64: 0x0013A20040A1E77E, Addr16: 0x5678, Options: 0x02, NodeID: "SENSOR"},
		{Type: FrameRemoteResponse, ID: 7, Addr64: 0x0013A20040A1E77E, Addr16: Unknown16, Command: "D0", Data: []byte{4}},
		{Type: FrameModemStatus, Addr64: Unknown64, Addr16: Unknown16, Status: byte(ModemJoinedNetwork)},
	}

	codec := APICodec{Escaped: true}
	var stream bytes.Buffer
	for _, f := range frames {
		raw, err := codec.Encode(f)
		if err != nil {
			t.Fatalf("Encode(%s) error = %v", f.Type, err)
		}
		stream.Write(raw)
	}

	r := bufio.NewReader(&stream)
	for _, want := range frames {
		got, err := codec.Decode(r)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", want.Type, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Decode(%s) = %+v, want %+v", want.Type, got, want)
		}
	}
	if _, err := codec.Decode(r); !errors.Is(err, io.EOF) {
		t.Errorf("Decode(empty) error = %v, want io.EOF", err)
	}
}

func TestAPICodecDecodeResync(t *testing.T) {
	codec := APICodec{}
	good, _ := codec.Encode(Frame{Type: FrameTXStatus, ID: 9, Status: 0})

	bad := append([]byte(nil), good...)
	bad[len(bad)-1]++ // corrupt checksum

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x42})
	stream.Write(bad)
	stream.Write(good)

	r := bufio.NewReader(&stream)
	if _, err := codec.Decode(r); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("Decode(bad checksum) error = %v, want ErrInvalidFrame", err)
	}
	f, err := codec.Decode(r)
	if err != nil {
		t.Fatalf("Decode(after resync) error = %v", err)
	}
	if f.Type != FrameTXStatus || f.ID != 9 {
		t.Errorf("Decode(after resync) = %+v", f)
	}
}

func TestAPICodecEscapedTruncatedFrame(t *testing.T) {
	codec := APICodec{Escaped: true}
	good, _ := codec.Encode(Frame{Type: FrameModemStatus, Status: 0x06})

	// A frame cut short by a new start delimiter.
	var stream bytes.Buffer
	stream.Write(good[:3])
	stream.Write(good)

	r := bufio.NewReader(&stream)
	if _, err := codec.Decode(r); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("Decode(truncated) error = %v, want ErrInvalidFrame", err)
	}
	f, err := codec.Decode(r)
	if err != nil {
		t.Fatalf("Decode(next) error = %v", err)
	}
	if f.Type != FrameModemStatus || f.Status != 0x06 {
		t.Errorf("Decode(next) = %+v", f)
	}
}

func TestAPICodecRejects(t *testing.T) {
	codec := APICodec{}

	if _, err := codec.Encode(Frame{Type: FrameATCommand, Command: "TOOLONG"}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Encode(bad command) error = %v, want ErrInvalidFrame", err)
	}
	if _, err := codec.Encode(Frame{Type: FrameType(0xEE)}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Encode(unknown type) error = %v, want ErrInvalidFrame", err)
	}

	zeroLen := []byte{0x7E, 0x00, 0x00, 0xFF}
	if _, err := codec.Decode(bufio.NewReader(bytes.NewReader(zeroLen))); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Decode(zero length) error = %v, want ErrInvalidFrame", err)
	}

	short := []byte{0x7E, 0x00, 0x02, 0x8B, 0x01, 0x73}
	if _, err := codec.Decode(bufio.NewReader(bytes.NewReader(short))); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Decode(short body) error = %v, want ErrInvalidFrame", err)
	}
}

func TestFrameErr(t *testing.T) {
	ok := Frame{Type: FrameTransmitStatus, ID: 1, Status: StatusSuccess}
	if err := ok.Err(); err != nil {
		t.Errorf("Err() on success = %v", err)
	}

	rejected := Frame{Type: FrameTransmitStatus, ID: 1, Status: 0x25}
	err := rejected.Err()
	var rre *RemoteRejectedError
	if !errors.As(err, &rre) || rre.Status != 0x25 {
		t.Fatalf("Err() = %v, want RemoteRejectedError{0x25}", err)
	}
	if !errors.Is(err, ErrRemoteRejected) {
		t.Error("errors.Is(err, ErrRemoteRejected) = false")
	}
	if want := "radio: rejected by remote: route not found (0x25)"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
