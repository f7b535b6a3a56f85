// Package bridge connects a local radio module to MQTT.
//
// It publishes every application payload received from a peer on
// radiolink/data/{address64}, mirrors the peer registry as retained records on
// radiolink/peer/{address64}, and accepts send and discovery requests on
// radiolink/command/+. The outcome of each request is published on
// radiolink/response/{request_id}.
//
// A HealthReporter publishes the module's counters and the registry size on
// the retained radiolink/health topic. When configured, a SightingRecorder
// keeps an SQLite audit trail of every peer heard and Metrics receives link
// and receive points for InfluxDB.
//
// Message flow:
//
//	radio module ──rx──▶ Bridge ──▶ radiolink/data/{addr64}
//	                       │
//	                       ├──▶ SightingRecorder (SQLite)
//	                       └──▶ Metrics (InfluxDB)
//
//	radiolink/command/send ──▶ Bridge ──tx──▶ radio module
//	                       ◀── radiolink/response/{id}
package bridge
