// Package influxdb records radio link metrics in InfluxDB v2.
//
// Two measurements are written:
//   - radio_link: the local module's tx/rx/dropped/error/timeout counters
//     and peer count, one point per health tick
//   - radio_rx: bytes and RSSI of every received payload, tagged by peer
//
// Writes are non-blocking and batched (batch_size, flush_interval);
// asynchronous failures are reported through SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics off
//	}
//	defer client.Close()
//
//	client.WriteRxMetric("site-001", "0013A20040A1E77E", 12, 40, time.Now())
package influxdb
