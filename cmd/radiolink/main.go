// radiolink - radio module gateway
//
// radiolink drives a locally attached XBee-family radio module in API mode,
// keeps a registry of the mesh peers it hears from, and exposes the network
// over MQTT and a small REST/WebSocket API.
//
// Usage:
//
//	radiolink                  run the gateway
//	radiolink -token <subject> print a bearer token for the control API
//
// The configuration file is configs/config.yaml unless RADIOLINK_CONFIG
// names another.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/radiolink/migrations"

	"github.com/nerrad567/radiolink/internal/api"
	"github.com/nerrad567/radiolink/internal/bridge"
	"github.com/nerrad567/radiolink/internal/capture"
	"github.com/nerrad567/radiolink/internal/infrastructure/config"
	"github.com/nerrad567/radiolink/internal/infrastructure/database"
	"github.com/nerrad567/radiolink/internal/infrastructure/influxdb"
	"github.com/nerrad567/radiolink/internal/infrastructure/logging"
	"github.com/nerrad567/radiolink/internal/infrastructure/mqtt"
	"github.com/nerrad567/radiolink/internal/radio"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// defaultTokenTTL is the lifetime of tokens printed by -token.
	defaultTokenTTL = 90 * 24 * time.Hour
)

func main() {
	subject := flag.String("token", "", "print a control API bearer token for `subject` and exit")
	ttl := flag.Duration("token-ttl", defaultTokenTTL, "lifetime of the token printed by -token")
	flag.Parse()

	if *subject != "" {
		if err := printToken(os.Stdout, *subject, *ttl); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printToken mints a bearer token with the configured JWT secret.
func printToken(w io.Writer, subject string, ttl time.Duration) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	tok, err := api.NewToken(cfg.Security.JWT.Secret, subject, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}

// run wires the gateway together and blocks until ctx is cancelled.
// Components are torn down in reverse order by the deferred closes.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup sequence: one block per component
	log := logging.Default()
	log.Info("starting radiolink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	// Radio module
	dev, err := openRadio(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("releasing radio module")
		if closeErr := dev.Release(); closeErr != nil {
			log.Error("error releasing radio module", "error", closeErr)
		}
	}()
	info := dev.Info()
	log.Info("radio module open",
		"port", cfg.Radio.Port,
		"family", info.Family.Description(),
		"address64", info.Address64.String(),
		"node_id", info.NodeID,
	)

	// Peer sightings (optional)
	var (
		db       *database.DB
		recorder *bridge.SightingRecorder
	)
	if cfg.Database.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}

		recorder = bridge.NewSightingRecorder(db.DB)
		recorder.SetLogger(log.Component("sightings"))
		if startErr := recorder.Start(); startErr != nil {
			return fmt.Errorf("starting sighting recorder: %w", startErr)
		}
		defer recorder.Stop()
		log.Info("database ready", "path", cfg.Database.Path)
	} else {
		log.Info("database disabled, peer sightings not recorded")
	}

	// Link metrics (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Peer events fan out to every consumer that registered one.
	var peerHandlers []func(radio.PeerEvent)

	// MQTT bridge
	if cfg.MQTT.Enabled {
		br, stop, mqttErr := startBridge(ctx, cfg, dev, recorder, influxClient, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer stop()
		peerHandlers = append(peerHandlers, br.HandlePeerEvent)
	} else {
		log.Info("MQTT disabled")
	}

	// REST and WebSocket API
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Radio:    dev,
			Registry: dev.Network(),
			Version:  version,
		}
		if recorder != nil {
			deps.Sightings = recorder
		}
		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		peerHandlers = append(peerHandlers, srv.HandlePeerEvent)
	} else {
		log.Info("API disabled")
	}

	dev.Network().SetPeerHandler(fanOut(peerHandlers))
	defer dev.Network().SetPeerHandler(nil)

	if cfg.Radio.DiscoveryTimeout > 0 {
		go initialDiscovery(ctx, dev.Network(), cfg.GetDiscoveryTimeout(), log)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse: peer handler, API, bridge,
	// InfluxDB, recorder, database, radio module.
	return nil
}

// openRadio builds the transport and device from config and opens it.
func openRadio(ctx context.Context, cfg *config.Config, log *logging.Logger) (*radio.Device, error) {
	transport, err := radio.NewTransport(cfg.Radio.Port)
	if err != nil {
		return nil, fmt.Errorf("radio port: %w", err)
	}
	family, err := radio.ParseProtocolFamily(cfg.Radio.Family)
	if err != nil {
		return nil, fmt.Errorf("radio family: %w", err)
	}

	opts := []radio.Option{
		radio.WithFamily(family),
		radio.WithEscapedAPI(cfg.Radio.Escaped),
		radio.WithReceiveTimeout(cfg.GetReceiveTimeout()),
		radio.WithLogger(log.Component("radio")),
	}
	if cfg.Radio.DiscoveryTimeout > 0 {
		opts = append(opts, radio.WithDiscoveryTimeout(cfg.GetDiscoveryTimeout()))
	}
	if cfg.Radio.CaptureFile != "" {
		w, captureErr := capture.NewWriter(cfg.Radio.CaptureFile)
		if captureErr != nil {
			return nil, fmt.Errorf("opening capture file: %w", captureErr)
		}
		w.SetLogger(log.Component("capture"))
		opts = append(opts, radio.WithFrameObserver(w))
		log.Info("capturing frames", "path", cfg.Radio.CaptureFile)
		go func() {
			<-ctx.Done()
			_ = w.Close()
		}()
	}

	dev, err := radio.NewDevice(transport, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating radio device: %w", err)
	}
	if err := dev.Open(ctx); err != nil {
		_ = dev.Release()
		return nil, fmt.Errorf("opening radio module on %s: %w", cfg.Radio.Port, err)
	}
	return dev, nil
}

// startBridge connects to the broker and starts the MQTT bridge. The
// returned stop function stops the bridge and disconnects.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	dev *radio.Device,
	recorder *bridge.SightingRecorder,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*bridge.Bridge, func(), error) {
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	opts := bridge.Options{
		Site:           cfg.Site.ID,
		Version:        version,
		HealthInterval: cfg.GetHealthInterval(),
		MQTTClient:     mqttClient,
		Radio:          dev,
		Registry:       dev.Network(),
		Logger:         log.Component("bridge"),
	}
	// Leave the interfaces nil rather than holding typed nil pointers.
	if recorder != nil {
		opts.Recorder = recorder
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	br, err := bridge.New(opts)
	if err != nil {
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("creating bridge: %w", err)
	}
	if err := br.Start(ctx); err != nil {
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("MQTT bridge started", "site", cfg.Site.ID)

	stop := func() {
		log.Info("stopping MQTT bridge")
		br.Stop()
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}
	return br, stop, nil
}

// fanOut combines peer handlers into the single handler the registry accepts.
func fanOut(handlers []func(radio.PeerEvent)) func(radio.PeerEvent) {
	if len(handlers) == 0 {
		return nil
	}
	return func(ev radio.PeerEvent) {
		for _, h := range handlers {
			h(ev)
		}
	}
}

// initialDiscovery populates the registry once at startup.
func initialDiscovery(ctx context.Context, n *radio.Network, timeout time.Duration, log *logging.Logger) {
	found, err := n.DiscoverDevices(ctx, timeout)
	switch {
	case err == nil:
		log.Info("initial discovery complete", "peers", len(found))
	case errors.Is(err, context.Canceled):
	default:
		log.Warn("initial discovery failed", "error", err)
	}
}

// getConfigPath returns RADIOLINK_CONFIG, or the default path when unset.
func getConfigPath() string {
	if path := os.Getenv("RADIOLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
