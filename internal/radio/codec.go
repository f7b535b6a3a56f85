package radio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

// API framing bytes.
const (
	startDelimiter byte = 0x7E
	escapeByte     byte = 0x7D
	xon            byte = 0x11
	xoff           byte = 0x13
	escapeXOR      byte = 0x20

	// maxBodyLen bounds a single frame body. Module buffers are far smaller;
	// anything larger is line noise.
	maxBodyLen = 1024
)

// Codec converts between frames and their wire form.
type Codec interface {
	Encode(f Frame) ([]byte, error)
	Decode(r *bufio.Reader) (Frame, error)
}

// APICodec implements API framing (AP=1) and, when Escaped is set, escaped
// API framing (AP=2).
//
// Wire format:
//
//	0x7E | length (2, big-endian) | body (type byte + fields) | checksum
//
// The checksum is 0xFF minus the low byte of the sum of the body bytes.
// In escaped mode every byte after the delimiter that is 0x7E, 0x7D, 0x11
// or 0x13 is sent as 0x7D followed by the byte XOR 0x20.
type APICodec struct {
	Escaped bool
}

// errResync signals that a start delimiter appeared inside a frame. The
// delimiter has been pushed back so the next Decode starts from it.
var errResync = fmt.Errorf("%w: unexpected start delimiter inside frame", ErrInvalidFrame)

// Encode serialises a frame into wire bytes.
func (c APICodec) Encode(f Frame) ([]byte, error) {
	body, err := f.marshalBody()
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyLen {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds %d", ErrInvalidFrame, len(body), maxBodyLen)
	}

	raw := make([]byte, 0, len(body)+3)
	raw = binary.BigEndian.AppendUint16(raw, uint16(len(body)))
	raw = append(raw, body...)
	raw = append(raw, checksum(body))

	out := make([]byte, 0, len(raw)+8)
	out = append(out, startDelimiter)
	for _, b := range raw {
		if c.Escaped && needsEscape(b) {
			out = append(out, escapeByte, b^escapeXOR)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// Decode reads the next frame from r.
//
// Bytes preceding a start delimiter are discarded. Malformed frames return
// an error wrapping ErrInvalidFrame; the caller may call Decode again to
// resynchronise on the following delimiter. Errors from r (including io.EOF)
// are returned unwrapped.
func (c APICodec) Decode(r *bufio.Reader) (Frame, error) {
	return decodeAPI(r, func() bool { return c.Escaped })
}

// decodeAPI reads one API frame. escaped is sampled once the start
// delimiter has been read, so the framing mode may change while a reader
// is blocked waiting for the next frame.
func decodeAPI(r *bufio.Reader, escaped func() bool) (Frame, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b == startDelimiter {
			break
		}
	}
	c := APICodec{Escaped: escaped()}

	var hdr [2]byte
	for i := range hdr {
		b, err := c.readByte(r)
		if err != nil {
			return Frame{}, err
		}
		hdr[i] = b
	}

	n := int(binary.BigEndian.Uint16(hdr[:]))
	if n == 0 || n > maxBodyLen {
		return Frame{}, fmt.Errorf("%w: bad length %d", ErrInvalidFrame, n)
	}

	body := make([]byte, n)
	for i := range body {
		b, err := c.readByte(r)
		if err != nil {
			return Frame{}, err
		}
		body[i] = b
	}

	sum, err := c.readByte(r)
	if err != nil {
		return Frame{}, err
	}
	if want := checksum(body); sum != want {
		return Frame{}, fmt.Errorf("%w: checksum 0x%02X, want 0x%02X", ErrInvalidFrame, sum, want)
	}

	return unmarshalBody(body)
}

// readByte reads one logical byte, undoing escaping when enabled.
func (c APICodec) readByte(r *bufio.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if !c.Escaped {
		return b, nil
	}

	switch b {
	case startDelimiter:
		if uerr := r.UnreadByte(); uerr != nil {
			return 0, errors.Join(errResync, uerr)
		}
		return 0, errResync
	case escapeByte:
		next, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		return next ^ escapeXOR, nil
	}
	return b, nil
}

func needsEscape(b byte) bool {
	return b == startDelimiter || b == escapeByte || b == xon || b == xoff
}

func checksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum += b
	}
	return 0xFF - sum
}

// apiFraming is the API codec a device uses by default. Its escaping can be
// changed at any time, including while the reader task is inside Decode.
type apiFraming struct {
	escaped atomic.Bool
}

func newAPIFraming(escaped bool) *apiFraming {
	af := &apiFraming{}
	af.escaped.Store(escaped)
	return af
}

func (a *apiFraming) Encode(f Frame) ([]byte, error) {
	return APICodec{Escaped: a.escaped.Load()}.Encode(f)
}

func (a *apiFraming) Decode(r *bufio.Reader) (Frame, error) {
	return decodeAPI(r, a.escaped.Load)
}
