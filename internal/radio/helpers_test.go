package radio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeModule is a scripted radio module implementing Transport.
// It decodes every written frame and answers the way a module would.
type fakeModule struct {
	codec APICodec

	mu       sync.Mutex
	open     bool
	openErr  error
	writeErr error
	r        *io.PipeReader
	w        *io.PipeWriter
	written  []Frame

	// Behaviour.
	params       map[string][]byte
	remoteParams map[string][]byte
	silent       bool
	noTxStatus   bool
	txStatus     byte
	discovery    [][]byte
	noNDEnd      bool
	replyDelay   time.Duration
}

func newFakeModule(family ProtocolFamily) *fakeModule {
	m := &fakeModule{
		params: map[string][]byte{
			"AP": {0x01},
			"SH": {0x00, 0x13, 0xA2, 0x00},
			"SL": {0x40, 0xA1, 0xE7, 0x7E},
			"MY": {0xFF, 0xFE},
			"NI": []byte("LOCAL"),
			"NT": {0x00, 0x3C},
		},
		remoteParams: map[string][]byte{},
	}
	switch family {
	case FamilyRaw802:
		m.params["HV"] = []byte{0x17, 0x4A}
		m.params["VR"] = []byte{0x10, 0xED}
		m.params["MY"] = []byte{0x00, 0x01}
	case FamilyZigBee:
		m.params["HV"] = []byte{0x19, 0x4B}
		m.params["VR"] = []byte{0x21, 0xA7}
		m.params["MY"] = []byte{0x00, 0x00}
	default:
		m.params["HV"] = []byte{0x1E, 0x46}
		m.params["VR"] = []byte{0x80, 0x67}
	}
	return m
}

func (m *fakeModule) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	if m.open {
		return errors.New("already open")
	}
	m.r, m.w = io.Pipe()
	m.open = true
	return nil
}

func (m *fakeModule) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		m.w.CloseWithError(io.ErrClosedPipe)
		m.open = false
	}
	return nil
}

func (m *fakeModule) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *fakeModule) Read(p []byte) (int, error) {
	m.mu.Lock()
	r := m.r
	m.mu.Unlock()
	if r == nil {
		return 0, io.ErrClosedPipe
	}
	return r.Read(p)
}

func (m *fakeModule) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return 0, err
	}
	m.mu.Unlock()

	f, err := m.codec.Decode(bufio.NewReader(bytes.NewReader(p)))
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.written = append(m.written, f)
	replies := m.replies(f)
	delay := m.replyDelay
	m.mu.Unlock()

	if len(replies) > 0 {
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			for _, r := range replies {
				m.inject(r)
			}
		}()
	}
	return len(p), nil
}

// replies builds the module's answers to f. Caller holds m.mu.
func (m *fakeModule) replies(f Frame) []Frame {
	if m.silent {
		return nil
	}

	switch f.Type {
	case FrameATCommand:
		if f.Command == "ND" {
			out := make([]Frame, 0, len(m.discovery)+1)
			for _, d := range m.discovery {
				out = append(out, Frame{Type: FrameATResponse, ID: f.ID, Command: "ND", Data: d})
			}
			if !m.noNDEnd {
				out = append(out, Frame{Type: FrameATResponse, ID: f.ID, Command: "ND"})
			}
			return out
		}
		resp := Frame{Type: FrameATResponse, ID: f.ID, Command: f.Command}
		if f.Data != nil {
			m.params[f.Command] = f.Data
			return []Frame{resp}
		}
		v, ok := m.params[f.Command]
		if !ok {
			resp.Status = 0x02
		}
		resp.Data = v
		return []Frame{resp}
	case FrameRemoteCommand:
		resp := Frame{Type: FrameRemoteResponse, ID: f.ID, Addr64: f.Addr64, Addr16: Unknown16, Command: f.Command}
		if f.Data != nil {
			m.remoteParams[f.Command] = f.Data
			return []Frame{resp}
		}
		v, ok := m.remoteParams[f.Command]
		if !ok {
			resp.Status = 0x02
		}
		resp.Data = v
		return []Frame{resp}
	case FrameTX64, FrameTX16:
		if f.ID == 0 || m.noTxStatus {
			return nil
		}
		return []Frame{{Type: FrameTXStatus, ID: f.ID, Status: m.txStatus}}
	case FrameTransmit, FrameExplicitTX:
		if f.ID == 0 || m.noTxStatus {
			return nil
		}
		return []Frame{{Type: FrameTransmitStatus, ID: f.ID, Addr16: 0x1234, Status: m.txStatus}}
	}
	return nil
}

// inject delivers an unsolicited frame to the device.
func (m *fakeModule) inject(f Frame) {
	raw, err := m.codec.Encode(f)
	if err != nil {
		panic(err)
	}
	m.injectRaw(raw)
}

func (m *fakeModule) injectRaw(raw []byte) {
	m.mu.Lock()
	w := m.w
	m.mu.Unlock()
	if w != nil {
		_, _ = w.Write(raw)
	}
}

func (m *fakeModule) set(fn func(m *fakeModule)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *fakeModule) frames() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Frame(nil), m.written...)
}

func (m *fakeModule) framesOfType(t FrameType) []Frame {
	var out []Frame
	for _, f := range m.frames() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// openDevice creates and opens a device on m, released at test end.
func openDevice(t *testing.T, m *fakeModule, opts ...Option) *Device {
	t.Helper()

	opts = append([]Option{WithReceiveTimeout(500 * time.Millisecond)}, opts...)
	d, err := NewDevice(m, opts...)
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	t.Cleanup(func() { _ = d.Release() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return d
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ndResponse builds a mesh-family node discovery response value.
func ndResponse(a16 Address16, a64 Address64, ni string) []byte {
	var b bytes.Buffer
	b.Write(a16.Bytes())
	b.Write(a64.Bytes())
	b.WriteString(ni)
	b.WriteByte(0)
	b.Write([]byte{0xFF, 0xFE, 0x01, 0x00, 0xC1, 0x05, 0x10, 0x1E})
	return b.Bytes()
}
