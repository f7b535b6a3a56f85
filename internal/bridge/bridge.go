package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/radiolink/internal/infrastructure/influxdb"
	"github.com/nerrad567/radiolink/internal/infrastructure/mqtt"
	"github.com/nerrad567/radiolink/internal/radio"
)

const (
	// commandQoS is used for command subscriptions and responses.
	commandQoS = 1

	// dataQoS is used for received payloads.
	dataQoS = 0

	// maxCommandTimeout caps timeout_ms on send and discover commands.
	maxCommandTimeout = 5 * time.Minute
)

// Bridge translates between the radio module and MQTT.
//   - Received payloads are published on radiolink/data/{address64}
//   - Registry changes are published retained on radiolink/peer/{address64}
//   - Send and discover commands are executed and answered on radiolink/response/{id}
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	site     string
	mqtt     MQTTClient
	radio    Radio
	registry Registry
	health   *HealthReporter
	recorder Recorder
	metrics  Metrics
	topics   mqtt.Topics

	removeListener func()

	done      chan struct{}
	wg        sync.WaitGroup
	cmdMu     sync.Mutex // guards stopping and wg.Add against Stop
	stopping  bool
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the logging interface used by the bridge. *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations. *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Radio is the local module surface the bridge drives. *radio.Device satisfies it.
type Radio interface {
	Info() radio.Info
	Stats() radio.Stats
	IsOpen() bool
	AddDataListener(fn func(radio.Message)) (remove func())
	Send(ctx context.Context, dst radio.Destination, payload []byte, opts radio.SendOptions) (radio.TransmitStatus, error)
	SendAsync(dst radio.Destination, payload []byte, opts radio.SendOptions) error
}

// Registry is the peer registry surface the bridge uses. *radio.Network satisfies it.
type Registry interface {
	PeerCounter
	DiscoverDevices(ctx context.Context, timeout time.Duration) ([]*radio.RemoteDevice, error)
	DiscoverAllDevicesByID(ctx context.Context, id string, timeout time.Duration) ([]*radio.RemoteDevice, error)
}

// Recorder receives every sighting. *SightingRecorder satisfies it.
type Recorder interface {
	RecordMessage(msg radio.Message)
	RecordPeer(info radio.PeerInfo, seen time.Time)
}

// Metrics receives link and receive points. *influxdb.Client satisfies it.
type Metrics interface {
	WriteLinkStats(site, addr64 string, s influxdb.LinkStats, at time.Time)
	WriteRxMetric(site, peer string, size, rssi int, at time.Time)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Site tags health messages and metrics.
	Site string

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration

	MQTTClient MQTTClient
	Radio      Radio
	Registry   Registry

	// Recorder is optional. If nil, sightings are not recorded.
	Recorder Recorder

	// Metrics is optional. If nil, no metrics are written.
	Metrics Metrics

	// Logger is optional.
	Logger Logger
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Radio == nil {
		return nil, fmt.Errorf("radio is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		site:      opts.Site,
		mqtt:      opts.MQTTClient,
		radio:     opts.Radio,
		registry:  opts.Registry,
		recorder:  opts.Recorder,
		metrics:   opts.Metrics,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Site:      opts.Site,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Radio:     opts.Radio,
		Peers:     opts.Registry,
		Metrics:   opts.Metrics,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Health returns the bridge's health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Start subscribes to command topics, begins forwarding received payloads
// and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, commandQoS, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.removeListener = b.radio.AddDataListener(b.HandleMessage)

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started",
		"site", b.site,
		"address64", b.radio.Info().Address64.String(),
		"peers", b.registry.NumberOfDevices())
	return nil
}

// Stop shuts the bridge down and waits for in-flight commands.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.cmdMu.Lock()
		b.stopping = true
		b.cmdMu.Unlock()

		close(b.done)
		b.ctxCancel()

		if b.removeListener != nil {
			b.removeListener()
		}
		if err := b.mqtt.Unsubscribe(b.topics.AllCommands()); err != nil {
			b.logDebug("unsubscribe from commands failed", "error", err)
		}

		b.health.Stop()
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// HandleMessage forwards a received payload to MQTT and records it.
// It is registered as a data listener by Start.
func (b *Bridge) HandleMessage(msg radio.Message) {
	out := NewDataMessage(msg)

	payload, err := json.Marshal(out)
	if err != nil {
		b.logError("failed to marshal data message", err)
		return
	}
	addr := out.Source64.String()
	if err := b.mqtt.Publish(b.topics.Data(addr), payload, dataQoS, false); err != nil {
		b.logError("failed to publish data", err)
	}

	if b.recorder != nil {
		b.recorder.RecordMessage(msg)
	}
	if b.metrics != nil {
		b.metrics.WriteRxMetric(b.site, addr, len(msg.Data), msg.RSSI, msg.ReceivedAt)
	}
}

// HandlePeerEvent mirrors a registry change to its retained peer topic.
// Records without a known 64-bit address have no topic and are skipped.
// A removed peer's retained record is cleared with an empty payload.
func (b *Bridge) HandlePeerEvent(ev radio.PeerEvent) {
	if !ev.Info.Address64.IsKnown() {
		return
	}
	topic := b.topics.Peer(ev.Info.Address64.String())
	now := time.Now().UTC()

	if ev.Kind == radio.PeerRemoved {
		if err := b.mqtt.Publish(topic, nil, commandQoS, true); err != nil {
			b.logError("failed to clear peer record", err)
		}
		return
	}

	payload, err := json.Marshal(PeerMessage{PeerInfo: ev.Info, Event: ev.Kind.String(), Timestamp: now})
	if err != nil {
		b.logError("failed to marshal peer message", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, commandQoS, true); err != nil {
		b.logError("failed to publish peer record", err)
	}

	if b.recorder != nil {
		b.recorder.RecordPeer(ev.Info, now)
	}
}

// handleMQTTMessage routes a command to its handler. Commands run on their
// own goroutine so a synchronous send does not stall the MQTT client.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	select {
	case <-b.done:
		return nil
	default:
	}

	var run func()
	switch topic {
	case b.topics.CommandSend():
		var cmd SendCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			b.publishError(requestIDFrom(payload), ErrCodeInvalidCommand, "invalid send command: "+err.Error())
			return nil
		}
		run = func() { b.handleSend(cmd) }
	case b.topics.CommandDiscover():
		var cmd DiscoverCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			b.publishError(requestIDFrom(payload), ErrCodeInvalidCommand, "invalid discover command: "+err.Error())
			return nil
		}
		run = func() { b.handleDiscover(cmd) }
	default:
		b.publishError(requestIDFrom(payload), ErrCodeInvalidCommand,
			"unknown command "+strings.TrimPrefix(topic, mqtt.TopicPrefix+"/command/"))
		return nil
	}

	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()
	if b.stopping {
		return nil
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		run()
	}()
	return nil
}

// handleSend transmits the payload of a send command.
func (b *Bridge) handleSend(cmd SendCommand) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	dst, err := cmd.Destination()
	if err != nil {
		b.publishError(cmd.ID, ErrCodeInvalidParameters, err.Error())
		return
	}
	timeout, err := CommandTimeout(cmd.TimeoutMS)
	if err != nil {
		b.publishError(cmd.ID, ErrCodeInvalidParameters, err.Error())
		return
	}
	opts := radio.SendOptions{Timeout: timeout}

	if !cmd.Sync {
		if err := b.radio.SendAsync(dst, cmd.Data, opts); err != nil {
			b.publishFailure(cmd.ID, err)
			return
		}
		b.publishResponse(ResponseMessage{RequestID: cmd.ID, Status: StatusAccepted})
		return
	}

	st, err := b.radio.Send(b.ctx, dst, cmd.Data, opts)
	if err != nil {
		b.publishFailure(cmd.ID, err)
		return
	}
	b.publishResponse(ResponseMessage{
		RequestID: cmd.ID,
		Status:    StatusAccepted,
		Data: TransmitReport{
			FrameID:   st.FrameID,
			Status:    st.Status,
			Retries:   st.Retries,
			Discovery: st.Discovery,
			Address16: st.Addr16,
		},
	})
}

// handleDiscover runs a node discovery scan and answers with the peers found.
func (b *Bridge) handleDiscover(cmd DiscoverCommand) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	timeout, err := CommandTimeout(cmd.TimeoutMS)
	if err != nil {
		b.publishError(cmd.ID, ErrCodeInvalidParameters, err.Error())
		return
	}

	var found []*radio.RemoteDevice
	if cmd.NodeID != "" {
		found, err = b.registry.DiscoverAllDevicesByID(b.ctx, cmd.NodeID, timeout)
	} else {
		found, err = b.registry.DiscoverDevices(b.ctx, timeout)
	}
	// A scan cut short by shutdown still reports what it found.
	if err != nil && !errors.Is(err, context.Canceled) {
		b.publishFailure(cmd.ID, err)
		return
	}

	peers := make([]radio.PeerInfo, 0, len(found))
	for _, rd := range found {
		peers = append(peers, rd.Info())
	}
	b.logInfo("discovery complete", "request_id", cmd.ID, "found", len(peers))
	b.publishResponse(ResponseMessage{RequestID: cmd.ID, Status: StatusAccepted, Data: peers})
}

// Destination resolves the command's addressing fields.
func (cmd SendCommand) Destination() (radio.Destination, error) {
	switch {
	case cmd.Broadcast:
		if cmd.Dest64 != "" || cmd.Dest16 != "" {
			return radio.Destination{}, fmt.Errorf("broadcast cannot name a destination")
		}
		return radio.Broadcast, nil
	case cmd.Dest64 != "":
		a, err := radio.ParseAddress64(cmd.Dest64)
		if err != nil {
			return radio.Destination{}, err
		}
		dst := radio.To64(a)
		if cmd.Dest16 != "" {
			a16, err := radio.ParseAddress16(cmd.Dest16)
			if err != nil {
				return radio.Destination{}, err
			}
			dst.Addr16 = a16
		}
		return dst, nil
	case cmd.Dest16 != "":
		a, err := radio.ParseAddress16(cmd.Dest16)
		if err != nil {
			return radio.Destination{}, err
		}
		return radio.To16(a), nil
	default:
		return radio.Destination{}, fmt.Errorf("dest64, dest16 or broadcast is required")
	}
}

// CommandTimeout converts a timeout_ms field. Zero means the device default.
func CommandTimeout(ms int) (time.Duration, error) {
	if ms < 0 {
		return 0, fmt.Errorf("timeout_ms must not be negative")
	}
	d := time.Duration(ms) * time.Millisecond
	if d > maxCommandTimeout {
		return 0, fmt.Errorf("timeout_ms exceeds %d", maxCommandTimeout.Milliseconds())
	}
	return d, nil
}

// requestIDFrom extracts "id" from a payload that failed to parse as a
// command, so the caller still gets an answer on its response topic.
func requestIDFrom(payload []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && probe.ID != "" {
		return probe.ID
	}
	return uuid.NewString()
}

func (b *Bridge) publishFailure(id string, err error) {
	status, re := classifyError(err)
	b.logWarn("command failed", "request_id", id, "status", string(status), "error", err)
	b.publishResponse(ResponseMessage{RequestID: id, Status: status, Error: re})
}

func (b *Bridge) publishError(id, code, message string) {
	b.logWarn("command rejected", "request_id", id, "code", code, "reason", message)
	b.publishResponse(ResponseMessage{
		RequestID: id,
		Status:    StatusFailed,
		Error:     &ResponseError{Code: code, Message: message},
	})
}

func (b *Bridge) publishResponse(resp ResponseMessage) {
	resp.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Response(resp.RequestID), payload, commandQoS, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) log() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if l := b.log(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.log(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.log(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if l := b.log(); l != nil {
		l.Error(msg, "error", err)
	}
}
