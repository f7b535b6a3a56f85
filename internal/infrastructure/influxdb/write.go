package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	// MeasurementLink holds local module counters, one point per health tick.
	MeasurementLink = "radio_link"

	// MeasurementRx holds one point per received payload.
	MeasurementRx = "radio_rx"
)

// LinkStats is a snapshot of the local module's traffic counters.
type LinkStats struct {
	FramesSent     uint64
	FramesReceived uint64
	FramesDropped  uint64
	Errors         uint64
	Timeouts       uint64
	Peers          int
}

// WriteLinkStats records a counter snapshot for the module at addr64.
//
// Example:
//
//	client.WriteLinkStats("site-001", "0013A20040A1E77E", influxdb.LinkStats{FramesSent: 12}, time.Now())
func (c *Client) WriteLinkStats(site, addr64 string, s LinkStats, at time.Time) {
	c.WritePointWithTime(MeasurementLink,
		map[string]string{
			"site":   site,
			"module": addr64,
		},
		map[string]interface{}{
			"tx":       int64(s.FramesSent),     // #nosec G115 -- counters stay far below MaxInt64
			"rx":       int64(s.FramesReceived), // #nosec G115
			"dropped":  int64(s.FramesDropped),  // #nosec G115
			"errors":   int64(s.Errors),         // #nosec G115
			"timeouts": int64(s.Timeouts),       // #nosec G115
			"peers":    s.Peers,
		},
		at,
	)
}

// WriteRxMetric records a received payload from peer. rssi is in -dBm and
// omitted when the frame type does not carry it (zero).
func (c *Client) WriteRxMetric(site, peer string, size, rssi int, at time.Time) {
	fields := map[string]interface{}{
		"bytes": size,
	}
	if rssi != 0 {
		fields["rssi"] = rssi
	}
	c.WritePointWithTime(MeasurementRx,
		map[string]string{
			"site": site,
			"peer": peer,
		},
		fields,
		at,
	)
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// Writes on a disconnected client are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
