// Package logging provides structured logging for radiolink.
//
// It wraps log/slog so every component logs the same way: JSON for
// production, text for development, and service/version fields on every
// record.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	dev.SetLogger(logger.Component("radio"))
//	logger.Error("failed to open module", "error", err)
//
// Never log secrets: MQTT passwords, InfluxDB tokens and JWTs stay out of
// log records.
package logging
