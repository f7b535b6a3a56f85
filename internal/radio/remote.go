package radio

import "sync"

// RemoteDevice is the registry record of a peer reachable through a local
// device.
//
// The record refers to its local device by ID, not by pointer; the local
// device may be released while records are still held. Records handed out
// by a Network are updated in place when the registry learns more about
// the peer.
type RemoteDevice struct {
	localID string

	mu     sync.RWMutex
	addr64 Address64
	addr16 Address16
	nodeID string
}

// PeerInfo is a point-in-time copy of a RemoteDevice.
type PeerInfo struct {
	Address64 Address64 `json:"address64"`
	Address16 Address16 `json:"address16"`
	NodeID    string    `json:"node_id,omitempty"`
}

// NewRemoteDevice creates a peer record reachable through local.
//
// Parameters:
//   - local: Local device the peer is reached through
//   - addr64: 64-bit address or Unknown64
//   - addr16: 16-bit address or Unknown16
//   - nodeID: Node identifier, may be empty
//
// Returns:
//   - *RemoteDevice: New, unregistered record
//   - error: ErrInvalidArgument if local is nil or a remote context, or if
//     both addresses are unknown
func NewRemoteDevice(local *Device, addr64 Address64, addr16 Address16, nodeID string) (*RemoteDevice, error) {
	if local == nil {
		return nil, invalidArgument("local device cannot be nil")
	}
	if local.remote {
		return nil, invalidArgument("local device cannot be a remote device")
	}
	if !addr64.IsKnown() && !addr16.IsKnown() {
		return nil, invalidArgument("remote device needs a known 64-bit or 16-bit address")
	}
	return newRemoteDevice(local.id, addr64, addr16, nodeID), nil
}

func newRemoteDevice(localID string, addr64 Address64, addr16 Address16, nodeID string) *RemoteDevice {
	return &RemoteDevice{localID: localID, addr64: addr64, addr16: addr16, nodeID: nodeID}
}

// Address64 returns the 64-bit address, or Unknown64.
func (r *RemoteDevice) Address64() Address64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addr64
}

// Address16 returns the 16-bit address, or Unknown16.
func (r *RemoteDevice) Address16() Address16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addr16
}

// NodeID returns the node identifier, empty if unset.
func (r *RemoteDevice) NodeID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodeID
}

// Info returns a copy of the record's fields.
func (r *RemoteDevice) Info() PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return PeerInfo{Address64: r.addr64, Address16: r.addr16, NodeID: r.nodeID}
}

// Destination returns the transmission destination for the peer.
func (r *RemoteDevice) Destination() Destination {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Destination{Addr64: r.addr64, Addr16: r.addr16}
}

// LocalDevice returns the local device the peer is reached through.
// It returns false once that device has been released.
func (r *RemoteDevice) LocalDevice() (*Device, bool) {
	return LookupDevice(r.localID)
}

// Context returns a remote device context for parameter access on the peer.
func (r *RemoteDevice) Context() (*Device, error) {
	local, ok := r.LocalDevice()
	if !ok {
		return nil, invalidArgument("local device has been released")
	}
	return NewRemoteContext(local, r.Address64())
}

func (r *RemoteDevice) String() string {
	info := r.Info()
	if info.NodeID != "" {
		return info.Address64.String() + " - " + info.NodeID
	}
	return info.Address64.String()
}
