package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
//
// Check them with errors.Is:
//
//	if errors.Is(err, influxdb.ErrNotConnected) {
//	    // metrics are best-effort; carry on without them
//	}
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps errors reported asynchronously by the write API.
	// They reach the SetOnError callback, never the Write* call.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled indicates InfluxDB integration is disabled in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
