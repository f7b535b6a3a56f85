package radio

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// Discovery timeout sentinels.
const (
	// UseDeviceTimeout bounds discovery by the device's default discovery time.
	UseDeviceTimeout time.Duration = 0

	// WaitForever is never accepted by discovery; scans are always bounded.
	WaitForever time.Duration = -1
)

const (
	// defaultNodeDiscoveryTime is the module's factory NT value.
	defaultNodeDiscoveryTime = 6 * time.Second

	// discoveryMargin is added to the module's own discovery time so that
	// late responses are still collected.
	discoveryMargin = 2 * time.Second
)

// discoveredNode is one parsed node discovery response.
type discoveredNode struct {
	addr16 Address16
	addr64 Address64
	nodeID string
}

// validateDiscovery checks discovery arguments before any scan is started.
func validateDiscovery(id string, timeout time.Duration) error {
	if id == "" {
		return invalidArgument("identifier cannot be empty")
	}
	return validateDiscoveryTimeout(timeout)
}

func validateDiscoveryTimeout(timeout time.Duration) error {
	switch {
	case timeout == WaitForever:
		return invalidArgument("discovery cannot block forever")
	case timeout < 0:
		return invalidArgument("timeout must be greater than 0")
	}
	return nil
}

// DiscoverDeviceByID scans for the peer whose node identifier is exactly id
// and stops at the first match. The match is merged into the registry.
//
// Parameters:
//   - ctx: Cancels the scan
//   - id: Node identifier to look for (non-empty)
//   - timeout: Scan bound, or UseDeviceTimeout
//
// Returns:
//   - *RemoteDevice: The registry record of the first match
//   - error: ErrInvalidArgument for an empty id, WaitForever or a negative
//     timeout; ErrDeviceNotFound if no peer answered within the bound
func (n *Network) DiscoverDeviceByID(ctx context.Context, id string, timeout time.Duration) (*RemoteDevice, error) {
	if err := validateDiscovery(id, timeout); err != nil {
		return nil, err
	}

	nodes, err := n.scan(ctx, id, timeout, true)
	for _, node := range nodes {
		if node.nodeID != id {
			continue
		}
		rec := n.learn(node.addr64, node.addr16, node.nodeID)
		if rec != nil {
			return rec, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, id)
}

// DiscoverAllDevicesByID scans for every peer whose node identifier is
// exactly id. Every response is merged into the registry; the matches are
// returned. Matches found before the bound or a cancellation are returned
// even when err is non-nil.
func (n *Network) DiscoverAllDevicesByID(ctx context.Context, id string, timeout time.Duration) ([]*RemoteDevice, error) {
	if err := validateDiscovery(id, timeout); err != nil {
		return nil, err
	}

	nodes, err := n.scan(ctx, id, timeout, false)
	var found []*RemoteDevice
	for _, node := range nodes {
		rec := n.learn(node.addr64, node.addr16, node.nodeID)
		if rec != nil && node.nodeID == id {
			found = append(found, rec)
		}
	}
	return found, err
}

// DiscoverDevices scans for every reachable peer and merges them into the
// registry.
func (n *Network) DiscoverDevices(ctx context.Context, timeout time.Duration) ([]*RemoteDevice, error) {
	if err := validateDiscoveryTimeout(timeout); err != nil {
		return nil, err
	}

	nodes, err := n.scan(ctx, "", timeout, false)
	found := make([]*RemoteDevice, 0, len(nodes))
	for _, node := range nodes {
		if rec := n.learn(node.addr64, node.addr16, node.nodeID); rec != nil {
			found = append(found, rec)
		}
	}
	return found, err
}

// scan runs one node discovery (AT ND) and collects the responses until the
// bound. With first set it ends at the first response naming id.
func (n *Network) scan(ctx context.Context, id string, timeout time.Duration, first bool) ([]discoveredNode, error) {
	d := n.dev
	if d == nil {
		return nil, fmt.Errorf("%w: registry has no local device", ErrOperationNotSupported)
	}
	if !d.IsOpen() {
		return nil, ErrConnectionNotOpen
	}
	if mode := d.Mode(); !mode.IsAPI() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOperatingMode, mode)
	}

	if timeout == UseDeviceTimeout {
		timeout = d.defaultDiscoveryTimeout()
	}

	pc, err := d.pending.register(timeout, true)
	if err != nil {
		return nil, err
	}

	var param []byte
	if id != "" {
		param = []byte(id)
	}
	if err := d.writeFrame(Frame{Type: FrameATCommand, ID: pc.id, Command: "ND", Data: param}); err != nil {
		d.pending.cancel(pc)
		return nil, err
	}
	d.logDebug("discovery started", "node_id", id, "timeout", timeout.String())

	family := d.Family()
	var nodes []discoveredNode
	_, err = d.pending.collect(ctx, pc, d.stop(), func(f Frame) (bool, bool) {
		// An empty successful response marks the end of the scan.
		if f.Status == StatusSuccess && len(f.Data) == 0 {
			return false, true
		}
		if f.Status != StatusSuccess {
			d.logDebug("discovery response rejected", "status", f.Status)
			return false, false
		}
		node, perr := parseDiscovery(f.Data, family)
		if perr != nil {
			d.framesDropped.Add(1)
			d.logWarn("dropping malformed discovery response", "error", perr)
			return false, false
		}
		nodes = append(nodes, node)
		return false, first && node.nodeID == id
	})

	d.logDebug("discovery finished", "node_id", id, "responses", len(nodes))
	return nodes, err
}

// defaultDiscoveryTimeout is the configured bound, or the module's NT
// register plus a margin.
func (d *Device) defaultDiscoveryTimeout() time.Duration {
	if d.discoveryTimeout > 0 {
		return d.discoveryTimeout
	}

	d.stateMu.RLock()
	nt := d.ntValue
	d.stateMu.RUnlock()

	if nt <= 0 {
		nt = defaultNodeDiscoveryTime
	}
	return nt + discoveryMargin
}

// parseDiscovery decodes a node discovery response value.
//
// 802.15.4 layout:
//
//	MY(2) SH(4) SL(4) RSSI(1) NI(n, optional NUL)
//
// Mesh family layout:
//
//	MY(2) SH(4) SL(4) NI(n) NUL PARENT(2) TYPE(1) STATUS(1) PROFILE(2) MFG(2)
func parseDiscovery(data []byte, family ProtocolFamily) (discoveredNode, error) {
	const addrLen = 10
	if len(data) < addrLen {
		return discoveredNode{}, fmt.Errorf("%w: discovery response too short (%d bytes)", ErrInvalidFrame, len(data))
	}

	node := discoveredNode{
		addr16: readAddress16(data),
		addr64: Address64(uint64(beUint(data[2:6]))<<32 | beUint(data[6:10])),
	}
	rest := data[addrLen:]

	if family == FamilyRaw802 {
		if len(rest) < 1 {
			return discoveredNode{}, fmt.Errorf("%w: discovery response missing RSSI", ErrInvalidFrame)
		}
		ni, _, _ := bytes.Cut(rest[1:], []byte{0})
		node.nodeID = string(ni)
		return node, nil
	}

	ni, _, found := bytes.Cut(rest, []byte{0})
	if !found {
		return discoveredNode{}, fmt.Errorf("%w: node identifier not terminated", ErrInvalidFrame)
	}
	node.nodeID = string(ni)
	return node, nil
}
