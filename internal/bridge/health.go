package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/radiolink/internal/infrastructure/influxdb"
	"github.com/nerrad567/radiolink/internal/infrastructure/mqtt"
)

// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthReporter periodically publishes gateway status to the retained
// health topic and, when Metrics is set, a link counter point to InfluxDB.
type HealthReporter struct {
	site      string
	version   string
	interval  time.Duration
	clock     clock.Clock
	startTime time.Time

	publisher HealthPublisher
	radio     Radio
	peers     PeerCounter
	metrics   Metrics

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// *mqtt.Client satisfies it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// PeerCounter reports the registry size. *radio.Network satisfies it.
type PeerCounter interface {
	NumberOfDevices() int
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Site    string
	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Radio     Radio
	Peers     PeerCounter

	// Metrics is optional.
	Metrics Metrics

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// NewHealthReporter creates a health reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &HealthReporter{
		site:      cfg.Site,
		version:   cfg.Version,
		interval:  interval,
		clock:     clk,
		startTime: clk.Now(),
		publisher: cfg.Publisher,
		radio:     cfg.Radio,
		peers:     cfg.Peers,
		metrics:   cfg.Metrics,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "gateway stopping")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "gateway starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// Snapshot builds the current health message without publishing it.
func (h *HealthReporter) Snapshot() HealthMessage {
	status, reason := h.determineStatus()
	return h.buildMessage(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := h.clock.Ticker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
			h.writeLinkStats()
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.radio == nil || !h.radio.IsOpen() {
		return HealthDegraded, "radio module not open"
	}
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	now := h.clock.Now()
	msg := HealthMessage{
		Status:        status,
		Site:          h.site,
		Version:       h.version,
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.radio != nil {
		msg.Module = NewModuleInfo(h.radio.IsOpen(), h.radio.Info())
		msg.Statistics = NewStatistics(h.radio.Stats())
	}
	if h.peers != nil {
		msg.Peers = h.peers.NumberOfDevices()
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(mqtt.Topics{}.Health(), payload, 1, true)
}

// writeLinkStats records the module counters, one point per tick.
func (h *HealthReporter) writeLinkStats() {
	if h.metrics == nil || h.radio == nil {
		return
	}

	s := h.radio.Stats()
	ls := influxdb.LinkStats{
		FramesSent:     s.FramesSent,
		FramesReceived: s.FramesReceived,
		FramesDropped:  s.FramesDropped,
		Errors:         s.Errors,
		Timeouts:       s.Timeouts,
	}
	if h.peers != nil {
		ls.Peers = h.peers.NumberOfDevices()
	}
	h.metrics.WriteLinkStats(h.site, h.radio.Info().Address64.String(), ls, h.clock.Now())
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
