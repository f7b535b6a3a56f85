package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/radiolink/internal/infrastructure/influxdb"
	"github.com/nerrad567/radiolink/internal/infrastructure/mqtt"
	"github.com/nerrad567/radiolink/internal/radio"
)

// fakeMQTT records publishes and lets tests deliver messages to subscribers.
type fakeMQTT struct {
	mu         sync.Mutex
	connected  bool
	published  []published
	handlers   map[string]mqtt.MessageHandler
	publishErr error
}

type published struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, published{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *fakeMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *fakeMQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *fakeMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *fakeMQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// deliver hands payload to the handler subscribed with pattern.
func (m *fakeMQTT) deliver(t *testing.T, pattern, topic string, payload []byte) {
	t.Helper()
	m.mu.Lock()
	h := m.handlers[pattern]
	m.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler subscribed to %s", pattern)
	}
	if err := h(topic, payload); err != nil {
		t.Fatalf("handler error = %v", err)
	}
}

func (m *fakeMQTT) messages(topic string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *fakeMQTT) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.published))
	for _, p := range m.published {
		out = append(out, p.Topic)
	}
	return out
}

// waitResponse polls until a response for id was published and decodes it.
func (m *fakeMQTT) waitResponse(t *testing.T, id string) ResponseMessage {
	t.Helper()
	topic := mqtt.Topics{}.Response(id)
	waitFor(t, "response on "+topic, func() bool { return len(m.messages(topic)) > 0 })

	var resp ResponseMessage
	if err := json.Unmarshal(m.messages(topic)[0].Payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

// fakeRadio is a scripted local module.
type fakeRadio struct {
	mu        sync.Mutex
	open      bool
	info      radio.Info
	stats     radio.Stats
	listeners []func(radio.Message)

	sendErr error
	status  radio.TransmitStatus
	block   bool
	sent    []sentFrame
}

type sentFrame struct {
	Dst     radio.Destination
	Payload []byte
	Opts    radio.SendOptions
	Sync    bool
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		open: true,
		info: radio.Info{
			Family:    radio.FamilyDigiMesh,
			Mode:      radio.ModeAPI,
			Address64: 0x0013A20040A1E77E,
			Address16: radio.Unknown16,
			NodeID:    "LOCAL",
		},
		stats: radio.Stats{FramesSent: 3, FramesReceived: 7, Timeouts: 1},
	}
}

func (r *fakeRadio) Info() radio.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

func (r *fakeRadio) Stats() radio.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
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

func (r *fakeRadio) receive(msg radio.Message) {
	r.mu.Lock()
	ls := append(([]func(radio.Message))(nil), r.listeners...)
	r.mu.Unlock()
	for _, fn := range ls {
		if fn != nil {
			fn(msg)
		}
	}
}

func (r *fakeRadio) Send(ctx context.Context, dst radio.Destination, payload []byte, opts radio.SendOptions) (radio.TransmitStatus, error) {
	r.mu.Lock()
	r.sent = append(r.sent, sentFrame{Dst: dst, Payload: payload, Opts: opts, Sync: true})
	block, err, st := r.block, r.sendErr, r.status
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return radio.TransmitStatus{}, ctx.Err()
	}
	return st, err
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

// fakeRegistry answers discovery with a fixed peer list.
type fakeRegistry struct {
	mu      sync.Mutex
	count   int
	found   []*radio.RemoteDevice
	err     error
	scanned []string
}

func (f *fakeRegistry) NumberOfDevices() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
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

// fakeMetrics records metric writes.
type fakeMetrics struct {
	mu    sync.Mutex
	links []influxdb.LinkStats
	rx    []rxPoint
}

type rxPoint struct {
	Site, Peer string
	Size, RSSI int
}

func (f *fakeMetrics) WriteLinkStats(_ string, _ string, s influxdb.LinkStats, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, s)
}

func (f *fakeMetrics) WriteRxMetric(site, peer string, size, rssi int, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = append(f.rx, rxPoint{Site: site, Peer: peer, Size: size, RSSI: rssi})
}

func (f *fakeMetrics) linkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

// fakeRecorder records sightings in memory.
type fakeRecorder struct {
	mu       sync.Mutex
	messages []radio.Message
	peers    []radio.PeerInfo
}

func (f *fakeRecorder) RecordMessage(msg radio.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
}

func (f *fakeRecorder) RecordPeer(info radio.PeerInfo, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers = append(f.peers, info)
}

// localDevice returns an unopened device that peer records can point at.
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
