// Package radio implements the host side of a framed serial radio module.
//
// It owns the byte stream to one locally attached module, turns send
// requests into API frames, correlates command responses with the callers
// waiting for them, and keeps an address-keyed registry of the remote peers
// reachable through the module's mesh.
//
// # Architecture
//
//	┌──────────────┐  Send/Parameter  ┌──────────────┐  API frames  ┌──────────┐
//	│   callers    │─────────────────►│    Device    │◄────────────►│  module  │
//	└──────────────┘                  │  readLoop ──►│  Transport   └──────────┘
//	        ▲        listeners        │  pending     │
//	        └─────────────────────────│  Network     │
//	                                  └──────────────┘
//
// A single reader goroutine per Device parses inbound bytes. Response frames
// are handed to the pending-command table first; everything else reaches the
// registered listeners through a bounded worker pool. Only the calling
// goroutine of a synchronous send ever blocks.
//
// # Addresses
//
// Peers have a 64-bit hardware address and a 16-bit network address. Either
// may be unknown. The Network registry indexes peers by whichever addresses are
// known and merges updates into existing records in place.
//
// Example:
//
//	dev := radio.NewDevice(transport, radio.WithFamily(radio.FamilyDigiMesh))
//	if err := dev.Open(ctx); err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	status, err := dev.SendData(ctx, dest, []byte("hello"))
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package radio
