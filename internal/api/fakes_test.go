package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/radiolink/internal/bridge"
	"github.com/nerrad567/radiolink/internal/infrastructure/config"
	"github.com/nerrad567/radiolink/internal/infrastructure/logging"
	"github.com/nerrad567/radiolink/internal/radio"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeRadio is a scripted local module.
type fakeRadio struct {
	mu        sync.Mutex
	open      bool
	listeners []func(radio.Message)
	sendErr   error
	status    radio.TransmitStatus
	sent      []sentFrame
}

type sentFrame struct {
	Dst     radio.Destination
	Payload []byte
	Opts    radio.SendOptions
	Sync    bool
}

func (r *fakeRadio) Info() radio.Info {
	return radio.Info{
		Family:    radio.FamilyDigiMesh,
		Mode:      radio.ModeAPI,
		Address64: 0x0013A20040A1E77E,
		Address16: radio.Unknown16,
		NodeID:    "GATEWAY",
	}
}

func (r *fakeRadio) Stats() radio.Stats {
	return radio.Stats{FramesSent: 12, FramesReceived: 40}
}

func (r *fakeRadio) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *fakeRadio) AddDataListener(fn func(radio.Message)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
	i := len(r.listeners) - 1
	return func() {
		r.mu.Lock()
		r.listeners[i] = nil
		r.mu.Unlock()
	}
}

func (r *fakeRadio) listenerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, fn := range r.listeners {
		if fn != nil {
			n++
		}
	}
	return n
}

func (r *fakeRadio) Send(_ context.Context, dst radio.Destination, payload []byte, opts radio.SendOptions) (radio.TransmitStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentFrame{Dst: dst, Payload: payload, Opts: opts, Sync: true})
	return r.status, r.sendErr
}

func (r *fakeRadio) SendAsync(dst radio.Destination, payload []byte, opts radio.SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentFrame{Dst: dst, Payload: payload, Opts: opts})
	return r.sendErr
}

func (r *fakeRadio) frames() []sentFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentFrame(nil), r.sent...)
}

// fakeRegistry is an in-memory peer table.
type fakeRegistry struct {
	mu      sync.Mutex
	peers   []*radio.RemoteDevice
	found   []*radio.RemoteDevice
	err     error
	scanned []string
	cleared bool
}

func (f *fakeRegistry) Devices() []*radio.RemoteDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*radio.RemoteDevice(nil), f.peers...)
}

func (f *fakeRegistry) DeviceBy64(a radio.Address64) (*radio.RemoteDevice, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rd := range f.peers {
		if rd.Address64() == a {
			return rd, true
		}
	}
	return nil, false
}

func (f *fakeRegistry) NumberOfDevices() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakeRegistry) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers = nil
	f.cleared = true
}

func (f *fakeRegistry) DiscoverDevices(_ context.Context, timeout time.Duration) ([]*radio.RemoteDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanned = append(f.scanned, "*"+timeout.String())
	return f.found, f.err
}

func (f *fakeRegistry) DiscoverAllDevicesByID(_ context.Context, id string, timeout time.Duration) ([]*radio.RemoteDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanned = append(f.scanned, id+timeout.String())
	var out []*radio.RemoteDevice
	for _, rd := range f.found {
		if rd.NodeID() == id {
			out = append(out, rd)
		}
	}
	return out, f.err
}

// fakeSightings serves a fixed audit trail.
type fakeSightings struct {
	list []bridge.Sighting
	err  error
}

func (f *fakeSightings) Sightings(context.Context) ([]bridge.Sighting, error) {
	return f.list, f.err
}

// testServer builds an unstarted server over fakes.
func testServer(t *testing.T) (*Server, *fakeRadio, *fakeRegistry) {
	t.Helper()

	rad := &fakeRadio{open: true}
	reg := &fakeRegistry{}
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
		Logger:   log,
		Radio:    rad,
		Registry: reg,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, rad, reg
}

func localDevice(t *testing.T) *radio.Device {
	t.Helper()
	d, err := radio.NewDevice(radio.NewTCPTransport("127.0.0.1:1"))
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	t.Cleanup(func() { _ = d.Release() })
	return d
}

func remotePeer(t *testing.T, local *radio.Device, a64 radio.Address64, a16 radio.Address16, nodeID string) *radio.RemoteDevice {
	t.Helper()
	rd, err := radio.NewRemoteDevice(local, a64, a16, nodeID)
	if err != nil {
		t.Fatalf("NewRemoteDevice() error = %v", err)
	}
	return rd
}

func bearer(t *testing.T) string {
	t.Helper()
	tok, err := NewToken(testSecret, "ops", time.Minute)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}
	return "Bearer " + tok
}
