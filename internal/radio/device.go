package radio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

func closedOnce() *closeOnce {
	c := newCloseOnce()
	c.Close()
	return c
}

// Default timeouts and sizes for device communication.
const (
	// DefaultReceiveTimeout bounds synchronous commands.
	DefaultReceiveTimeout = 2 * time.Second

	// probeTimeout bounds each register read during Open.
	probeTimeout = time.Second

	// defaultReconnectInterval is the initial delay between transport reopen attempts.
	defaultReconnectInterval = time.Second

	// maxReconnectInterval is the maximum delay between transport reopen attempts.
	maxReconnectInterval = 2 * time.Minute

	// callbackQueueSize is the buffer size for the listener callback queue.
	callbackQueueSize = 100

	// callbackWorkerCount is the number of concurrent callback workers.
	callbackWorkerCount = 4

	// dataQueueSize is the number of received messages kept for ReadData.
	dataQueueSize = 50
)

// Logger is the logging interface used by the radio package.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Direction tells a FrameObserver which way a frame travelled.
type Direction int

// Frame directions.
const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "out"
	}
	return "in"
}

// FrameObserver sees every frame written to or decoded from the transport.
// It is called on the reader task or the writing goroutine and must not block.
type FrameObserver interface {
	ObserveFrame(dir Direction, f Frame, at time.Time)
}

// Stats holds operational counters for a local device.
type Stats struct {
	FramesSent       uint64
	FramesReceived   uint64
	FramesDropped    uint64
	CallbacksDropped uint64
	Errors           uint64
	Timeouts         uint64
	Reconnects       uint64
	Pending          int
	LastActivity     time.Time
}

// Info is the identity a local module reported when it was opened.
type Info struct {
	ID              string
	Family          ProtocolFamily
	Mode            OperatingMode
	Address64       Address64
	Address16       Address16
	NodeID          string
	HardwareVersion uint16
	FirmwareVersion uint16
}

// Option configures a Device.
type Option func(*Device)

// WithFamily makes Open verify the attached module runs the given family.
func WithFamily(f ProtocolFamily) Option {
	return func(d *Device) { d.expected = f }
}

// WithEscapedAPI selects escaped API framing (AP=2).
func WithEscapedAPI(escaped bool) Option {
	return func(d *Device) { d.codec = newAPIFraming(escaped) }
}

// WithCodec replaces the frame codec. A custom codec is used as is; Open
// does not adapt it to the module's AP setting.
func WithCodec(c Codec) Option {
	return func(d *Device) { d.codec = c }
}

// WithReceiveTimeout sets the default bound for synchronous commands.
func WithReceiveTimeout(timeout time.Duration) Option {
	return func(d *Device) { d.receiveTimeout = timeout }
}

// WithDiscoveryTimeout fixes the default discovery bound instead of deriving
// it from the module's NT register.
func WithDiscoveryTimeout(timeout time.Duration) Option {
	return func(d *Device) { d.discoveryTimeout = timeout }
}

// WithClock replaces the clock used for deadlines.
func WithClock(clk clock.Clock) Option {
	return func(d *Device) { d.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(d *Device) { d.logger = l }
}

// WithFrameObserver registers an observer for every frame.
func WithFrameObserver(o FrameObserver) Option {
	return func(d *Device) { d.observer = o }
}

// devices is the process-wide table of local devices. Remote records refer
// to their local device by ID through this table.
var devices = struct {
	sync.RWMutex
	m map[string]*Device
}{m: make(map[string]*Device)}

// LookupDevice returns the local device registered under id.
func LookupDevice(id string) (*Device, bool) {
	devices.RLock()
	defer devices.RUnlock()
	d, ok := devices.m[id]
	return d, ok
}

// Device is a radio module: either a local module attached through a
// Transport, or a remote context addressing a peer through a local module.
type Device struct {
	id string

	// Remote context fields.
	remote     bool
	localID    string
	remoteAddr Address64

	transport        Transport
	codec            Codec
	clock            clock.Clock
	expected         ProtocolFamily
	receiveTimeout   time.Duration
	discoveryTimeout time.Duration
	observer         FrameObserver

	// Open state and cached module identity.
	stateMu sync.RWMutex
	opened  bool
	done    *closeOnce
	info    Info
	ntValue time.Duration

	writeMu sync.Mutex
	pending *pendingTable
	network *Network
	wg      sync.WaitGroup

	// Listeners.
	listenerMu     sync.RWMutex
	listenerSeq    uint64
	dataListeners  map[uint64]func(Message)
	frameListeners map[uint64]func(Frame)
	modemListeners map[uint64]func(ModemStatus)
	callbackQueue  chan inbound
	dataQueue      chan Message

	// Statistics (atomic for lock-free access).
	framesTx         atomic.Uint64
	framesRx         atomic.Uint64
	framesDropped    atomic.Uint64
	callbacksDropped atomic.Uint64
	errorsTotal      atomic.Uint64
	timeouts         atomic.Uint64
	reconnects       atomic.Uint64
	lastActivity     atomic.Int64

	loggerMu sync.RWMutex
	logger   Logger
}

// NewDevice creates a local device on top of a transport. The device is
// registered in the device table until Release is called.
//
// Parameters:
//   - t: Unopened transport to the module
//   - opts: Optional configuration
//
// Returns:
//   - *Device: Closed device; call Open before use
//   - error: ErrInvalidArgument if t is nil
func NewDevice(t Transport, opts ...Option) (*Device, error) {
	if t == nil {
		return nil, invalidArgument("transport cannot be nil")
	}

	d := &Device{
		id:             uuid.NewString(),
		transport:      t,
		codec:          newAPIFraming(false),
		clock:          clock.New(),
		receiveTimeout: DefaultReceiveTimeout,
		done:           closedOnce(),
		dataListeners:  make(map[uint64]func(Message)),
		frameListeners: make(map[uint64]func(Frame)),
		modemListeners: make(map[uint64]func(ModemStatus)),
		callbackQueue:  make(chan inbound, callbackQueueSize),
		dataQueue:      make(chan Message, dataQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pending = newPendingTable(d.clock)
	d.network = newNetwork(d)
	d.info = Info{ID: d.id, Family: d.expected, Address64: Unknown64, Address16: Unknown16}
	d.network.SetLogger(d.logger)

	devices.Lock()
	devices.m[d.id] = d
	devices.Unlock()

	return d, nil
}

// NewRemoteContext creates a device handle for a peer reachable through
// local. It owns no transport; parameter access is relayed by local as
// remote AT commands, and it cannot originate data transmissions.
//
// Returns ErrInvalidArgument if local is nil, the address is unknown, or
// local is itself a remote context.
func NewRemoteContext(local *Device, addr Address64) (*Device, error) {
	if local == nil {
		return nil, invalidArgument("local device cannot be nil")
	}
	if !addr.IsKnown() {
		return nil, invalidArgument("remote address cannot be unknown")
	}
	if local.remote {
		return nil, invalidArgument("local device cannot be a remote device")
	}

	return &Device{
		id:         uuid.NewString(),
		remote:     true,
		localID:    local.id,
		remoteAddr: addr,
		clock:      local.clock,
		done:       closedOnce(),
		info:       Info{Family: local.Family(), Mode: ModeUnknown, Address64: addr, Address16: Unknown16},
		logger:     local.logger,
	}, nil
}

// ID returns the handle under which the device is registered.
func (d *Device) ID() string {
	return d.id
}

// IsRemote reports whether the device is a remote context.
func (d *Device) IsRemote() bool {
	return d.remote
}

// LocalDevice returns the local device a remote context relays through.
// For a local device it returns the device itself.
func (d *Device) LocalDevice() (*Device, bool) {
	if !d.remote {
		return d, true
	}
	return LookupDevice(d.localID)
}

// Open opens the transport, starts the reader task and reads the module's
// identity registers.
//
// Parameters:
//   - ctx: Bounds the identity probe
//
// Returns:
//   - error: ErrConnection if already open or the transport fails to open,
//     *ProtocolMismatchError if the module runs a different family than
//     requested with WithFamily
func (d *Device) Open(ctx context.Context) error {
	if d.remote {
		return fmt.Errorf("%w: remote devices cannot be opened", ErrOperationNotSupported)
	}

	d.stateMu.Lock()
	if d.opened || d.transport.IsOpen() {
		d.stateMu.Unlock()
		return fmt.Errorf("%w: connection already open", ErrConnection)
	}
	if err := d.transport.Open(); err != nil {
		d.stateMu.Unlock()
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	d.opened = true
	d.done = newCloseOnce()
	done := d.done
	d.stateMu.Unlock()

	d.lastActivity.Store(d.clock.Now().Unix())

	for i := 0; i < callbackWorkerCount; i++ {
		d.wg.Add(1)
		go d.callbackWorker(done)
	}
	d.wg.Add(1)
	go d.readLoop(done)

	if err := d.readDeviceInfo(ctx); err != nil {
		_ = d.Close()
		return err
	}

	info := d.Info()
	d.logInfo("device opened",
		"family", info.Family.Description(),
		"mode", info.Mode.String(),
		"address64", info.Address64.String(),
		"node_id", info.NodeID,
	)
	return nil
}

// readDeviceInfo caches operating mode, family and addresses.
func (d *Device) readDeviceInfo(ctx context.Context) error {
	info := Info{ID: d.id, Family: FamilyUnknown, Mode: ModeUnknown, Address64: Unknown64, Address16: Unknown16}

	ap, err := d.probe(ctx, "AP")
	switch {
	case err == nil && len(ap) > 0:
		info.Mode = operatingModeFromAP(ap[len(ap)-1])
	case errors.Is(err, ErrTimeout):
		d.logWarn("module did not answer in API mode, operating mode unknown")
	case err != nil && !errors.Is(err, ErrRemoteRejected):
		return err
	default:
		// The module answered a framed request, so it is in an API mode.
		info.Mode = ModeAPI
	}

	if info.Mode.IsAPI() {
		d.adoptFraming(info.Mode)

		if v, err := d.probe(ctx, "HV"); err == nil {
			info.HardwareVersion = uint16(beUint(v))
		}
		if v, err := d.probe(ctx, "VR"); err == nil {
			info.FirmwareVersion = uint16(beUint(v))
		}
		sh, errH := d.probe(ctx, "SH")
		sl, errL := d.probe(ctx, "SL")
		if errH == nil && errL == nil {
			info.Address64 = Address64(beUint(sh)<<32 | beUint(sl))
		}
		if v, err := d.probe(ctx, "MY"); err == nil && len(v) > 0 {
			info.Address16 = Address16(beUint(v))
		}
		if v, err := d.probe(ctx, "NI"); err == nil {
			info.NodeID = string(v)
		}
		if v, err := d.probe(ctx, "NT"); err == nil && len(v) > 0 {
			d.stateMu.Lock()
			d.ntValue = time.Duration(beUint(v)) * 100 * time.Millisecond
			d.stateMu.Unlock()
		}
		info.Family = DetectFamily(info.HardwareVersion, info.FirmwareVersion)
	}

	if d.expected != FamilyUnknown {
		if info.Family != FamilyUnknown && info.Family != d.expected {
			return &ProtocolMismatchError{Expected: d.expected, Actual: info.Family}
		}
		info.Family = d.expected
	}

	d.stateMu.Lock()
	d.info = info
	d.stateMu.Unlock()
	return nil
}

// adoptFraming switches the default API codec to the escaping the module
// reports, so later frames carrying 0x7E, 0x7D, 0x11 or 0x13 decode.
func (d *Device) adoptFraming(mode OperatingMode) {
	af, ok := d.codec.(*apiFraming)
	if !ok {
		return
	}
	escaped := mode == ModeAPIEscaped
	if af.escaped.Swap(escaped) != escaped {
		d.logInfo("switched API framing to match module", "mode", mode.String())
	}
}

// probe reads one register during Open, before the operating mode is known.
func (d *Device) probe(ctx context.Context, cmd string) ([]byte, error) {
	resp, err := d.atCommand(ctx, Frame{Type: FrameATCommand, Command: cmd}, min(d.receiveTimeout, probeTimeout))
	if err != nil {
		d.logDebug("probe failed", "command", cmd, "error", err)
		return nil, err
	}
	return resp.Data, nil
}

func beUint(b []byte) uint64 {
	if len(b) > 8 {
		b = b[len(b)-8:]
	}
	var buf [8]byte
	copy(buf[8-len(b):], b)
	return binary.BigEndian.Uint64(buf[:])
}

// Close stops the reader task and closes the transport. Waiting commands
// fail with ErrConnectionNotOpen. Safe to call multiple times.
func (d *Device) Close() error {
	if d.remote {
		return nil
	}

	d.stateMu.Lock()
	wasOpen := d.opened
	d.opened = false
	d.done.Close()
	d.stateMu.Unlock()

	err := d.transport.Close()
	d.wg.Wait()
	d.pending.clear()
	d.drainCallbackQueue()

	if wasOpen {
		d.logInfo("device closed")
	}
	return err
}

// Release closes the device and removes it from the device table.
func (d *Device) Release() error {
	err := d.Close()
	devices.Lock()
	delete(devices.m, d.id)
	devices.Unlock()
	return err
}

// IsOpen reports whether the connection to the module is open. A remote
// context reports the state of its local device.
func (d *Device) IsOpen() bool {
	if d.remote {
		local, ok := d.LocalDevice()
		return ok && local.IsOpen()
	}
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.opened && d.transport.IsOpen()
}

// Info returns the identity cached at Open.
func (d *Device) Info() Info {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.info
}

// Family returns the cached protocol family.
func (d *Device) Family() ProtocolFamily {
	return d.Info().Family
}

// Mode returns the cached operating mode.
func (d *Device) Mode() OperatingMode {
	return d.Info().Mode
}

// Network returns the peer registry of a local device. A remote context
// returns the registry of its local device, or nil if it has been released.
func (d *Device) Network() *Network {
	if d.remote {
		local, ok := d.LocalDevice()
		if !ok {
			return nil
		}
		return local.network
	}
	return d.network
}

// ReceiveTimeout returns the default bound for synchronous commands.
func (d *Device) ReceiveTimeout() time.Duration {
	return d.receiveTimeout
}

// stop returns the channel closed when the current connection ends.
func (d *Device) stop() <-chan struct{} {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.done.Done()
}

// readLoop is the reader task: it decodes frames and dispatches them.
// On transport failure it reopens the transport with exponential backoff.
func (d *Device) readLoop(done *closeOnce) {
	defer d.wg.Done()

	br := bufio.NewReader(d.transport)
	backoff := defaultReconnectInterval

	for {
		f, err := d.codec.Decode(br)
		if err == nil {
			backoff = defaultReconnectInterval
			d.dispatch(f, d.clock.Now())
			continue
		}

		if isDone(done) {
			return
		}

		if errors.Is(err, ErrInvalidFrame) {
			d.framesDropped.Add(1)
			d.logWarn("dropping malformed frame", "error", err)
			continue
		}

		d.errorsTotal.Add(1)
		d.logError("read failed", err)
		if !d.reopen(done, backoff) {
			return
		}
		backoff = min(time.Duration(float64(backoff)*1.5), maxReconnectInterval)
		br.Reset(d.transport)
	}
}

// reopen waits for backoff then reopens the transport.
// It returns false if the device was closed meanwhile.
func (d *Device) reopen(done *closeOnce, backoff time.Duration) bool {
	timer := d.clock.Timer(backoff)
	defer timer.Stop()

	select {
	case <-done.Done():
		return false
	case <-timer.C:
	}

	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if isDone(done) {
		return false
	}

	_ = d.transport.Close()
	if err := d.transport.Open(); err != nil {
		d.logWarn("transport reopen failed", "error", err, "retry_in", backoff.String())
		return true
	}
	d.reconnects.Add(1)
	d.logInfo("transport reopened", "total_reconnects", d.reconnects.Load())
	return true
}

func isDone(c *closeOnce) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// dispatch routes one inbound frame: pending commands first, then the
// registry and the listeners.
func (d *Device) dispatch(f Frame, receivedAt time.Time) {
	d.framesRx.Add(1)
	d.lastActivity.Store(receivedAt.Unix())
	if d.observer != nil {
		d.observer.ObserveFrame(Inbound, f, receivedAt)
	}

	if f.IsResponse() && f.ID != 0 {
		if d.pending.resolve(f, receivedAt) {
			return
		}
		d.logDebug("response arrived too late or for an unknown command",
			"type", f.Type.String(), "frame_id", f.ID)
	}

	var peer *RemoteDevice
	switch {
	case f.IsReceive():
		peer = d.network.learn(f.Addr64, f.Addr16, "")
		d.enqueueData(newMessage(f, peer, receivedAt))
	case f.Type == FrameNodeIdentify:
		peer = d.network.learn(f.Addr64, f.Addr16, f.NodeID)
	}

	if !d.hasListeners() {
		return
	}

	select {
	case d.callbackQueue <- inbound{frame: f, peer: peer, receivedAt: receivedAt}:
	default:
		d.callbacksDropped.Add(1)
		d.logWarn("callback queue full, dropping frame", "type", f.Type.String())
	}
}

// writeFrame encodes and writes one frame. Writes are serialised.
func (d *Device) writeFrame(f Frame) error {
	raw, err := d.codec.Encode(f)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	d.writeMu.Lock()
	_, err = d.transport.Write(raw)
	d.writeMu.Unlock()

	if err != nil {
		d.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	now := d.clock.Now()
	d.framesTx.Add(1)
	d.lastActivity.Store(now.Unix())
	if d.observer != nil {
		d.observer.ObserveFrame(Outbound, f, now)
	}
	return nil
}

// Stats returns current operational statistics.
func (d *Device) Stats() Stats {
	s := Stats{
		FramesSent:       d.framesTx.Load(),
		FramesReceived:   d.framesRx.Load(),
		FramesDropped:    d.framesDropped.Load(),
		CallbacksDropped: d.callbacksDropped.Load(),
		Errors:           d.errorsTotal.Load(),
		Timeouts:         d.timeouts.Load(),
		Reconnects:       d.reconnects.Load(),
		Pending:          d.pending.len(),
	}
	if at := d.lastActivity.Load(); at != 0 {
		s.LastActivity = time.Unix(at, 0)
	}
	return s
}

// HealthCheck reports whether the device can carry traffic.
func (d *Device) HealthCheck(_ context.Context) error {
	if !d.IsOpen() {
		return ErrConnectionNotOpen
	}
	if !d.Mode().IsAPI() {
		return ErrInvalidOperatingMode
	}
	return nil
}

// SetLogger sets the logger for the device and its registry.
func (d *Device) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
	if d.network != nil {
		d.network.SetLogger(logger)
	}
}

func (d *Device) log() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

func (d *Device) logDebug(msg string, keysAndValues ...any) {
	if l := d.log(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (d *Device) logInfo(msg string, keysAndValues ...any) {
	if l := d.log(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (d *Device) logWarn(msg string, keysAndValues ...any) {
	if l := d.log(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (d *Device) logError(msg string, err error) {
	if l := d.log(); l != nil {
		l.Error(msg, "error", err)
	}
}
