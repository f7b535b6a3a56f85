package radio

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// PeerEventKind tells what happened to a registry record.
type PeerEventKind int

// Peer event kinds.
const (
	PeerAdded PeerEventKind = iota
	PeerUpdated
	PeerRemoved
)

func (k PeerEventKind) String() string {
	switch k {
	case PeerAdded:
		return "added"
	case PeerUpdated:
		return "updated"
	case PeerRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// PeerEvent reports a registry change. Info is the record's state right
// after the change.
type PeerEvent struct {
	Kind PeerEventKind
	Peer *RemoteDevice
	Info PeerInfo
}

// Network is the registry of remote peers reachable through one local device.
//
// Peers are indexed by whichever addresses are known. Adding a peer that is
// already registered merges the new information into the existing record
// and returns that record, so references held by callers stay valid.
//
// All operations are serialised by a single mutex; the merge-or-insert
// decision is one critical section.
type Network struct {
	dev     *Device
	localID string

	mu    sync.Mutex
	by64  map[Address64]*RemoteDevice
	by16  map[Address16]*RemoteDevice
	peers map[*RemoteDevice]struct{}

	handlerMu sync.RWMutex
	onPeer    func(PeerEvent)

	loggerMu sync.RWMutex
	logger   Logger
}

func newNetwork(dev *Device) *Network {
	n := &Network{
		dev:   dev,
		by64:  make(map[Address64]*RemoteDevice),
		by16:  make(map[Address16]*RemoteDevice),
		peers: make(map[*RemoteDevice]struct{}),
	}
	if dev != nil {
		n.localID = dev.id
	}
	return n
}

// Device returns the local device owning the registry.
func (n *Network) Device() *Device {
	return n.dev
}

// AddRemoteDevice registers a peer or merges it into the existing record.
//
// The existing record is found by 64-bit address when known, otherwise by
// 16-bit address. A record known only by 16-bit address also matches an
// incoming peer with the same 16-bit address and a 64-bit address; the
// record then learns that 64-bit address.
//
// Merging updates the 16-bit address and node identifier when the incoming
// values are set, and the 64-bit address only while it is still unknown.
//
// Parameters:
//   - rd: Peer to add
//
// Returns:
//   - *RemoteDevice: The existing record after the merge, or rd if it was inserted
//   - error: ErrInvalidArgument if rd is nil or has no known address
func (n *Network) AddRemoteDevice(rd *RemoteDevice) (*RemoteDevice, error) {
	if rd == nil {
		return nil, invalidArgument("remote device cannot be nil")
	}
	in := rd.Info()
	if !in.Address64.IsKnown() && !in.Address16.IsKnown() {
		return nil, invalidArgument("remote device needs a known 64-bit or 16-bit address")
	}

	n.mu.Lock()
	rec, events := n.add(rd, in)
	n.mu.Unlock()

	n.emit(events)
	return rec, nil
}

// AddRemoteDevices adds every peer in order. The result is a new slice
// parallel to list holding, per slot, the inserted peer or the existing
// record it merged into. Nothing is added if any element is invalid.
func (n *Network) AddRemoteDevices(list []*RemoteDevice) ([]*RemoteDevice, error) {
	if list == nil {
		return nil, invalidArgument("list of remote devices cannot be nil")
	}

	infos := make([]PeerInfo, len(list))
	for i, rd := range list {
		if rd == nil {
			return nil, fmt.Errorf("%w: remote device %d is nil", ErrInvalidArgument, i)
		}
		infos[i] = rd.Info()
		if !infos[i].Address64.IsKnown() && !infos[i].Address16.IsKnown() {
			return nil, fmt.Errorf("%w: remote device %d has no known address", ErrInvalidArgument, i)
		}
	}

	out := make([]*RemoteDevice, 0, len(list))
	var events []PeerEvent

	n.mu.Lock()
	for i, rd := range list {
		rec, ev := n.add(rd, infos[i])
		out = append(out, rec)
		events = append(events, ev...)
	}
	n.mu.Unlock()

	n.emit(events)
	return out, nil
}

// add merges or inserts. Caller holds n.mu.
func (n *Network) add(rd *RemoteDevice, in PeerInfo) (*RemoteDevice, []PeerEvent) {
	if rec := n.find(in); rec != nil {
		return rec, n.merge(rec, in)
	}
	return rd, n.insert(rd, in)
}

// find locates the record for a peer. Caller holds n.mu.
func (n *Network) find(in PeerInfo) *RemoteDevice {
	if in.Address64.IsKnown() {
		if rec, ok := n.by64[in.Address64]; ok {
			return rec
		}
	}
	if in.Address16.IsKnown() {
		if rec, ok := n.by16[in.Address16]; ok {
			// A record with a different 64-bit address is a different peer.
			if !in.Address64.IsKnown() || !rec.Address64().IsKnown() {
				return rec
			}
		}
	}
	return nil
}

// insert indexes a new record. Caller holds n.mu.
func (n *Network) insert(rd *RemoteDevice, in PeerInfo) []PeerEvent {
	n.peers[rd] = struct{}{}
	if in.Address64.IsKnown() {
		n.by64[in.Address64] = rd
	}

	var events []PeerEvent
	if in.Address16.IsKnown() {
		events = n.claim16(rd, in.Address16)
		n.by16[in.Address16] = rd
	}
	return append(events, PeerEvent{Kind: PeerAdded, Peer: rd, Info: in})
}

// merge updates rec in place and re-indexes it. Caller holds n.mu.
func (n *Network) merge(rec *RemoteDevice, in PeerInfo) []PeerEvent {
	rec.mu.Lock()
	old := PeerInfo{Address64: rec.addr64, Address16: rec.addr16, NodeID: rec.nodeID}
	if !rec.addr64.IsKnown() && in.Address64.IsKnown() {
		rec.addr64 = in.Address64
	}
	if in.Address16.IsKnown() {
		rec.addr16 = in.Address16
	}
	if in.NodeID != "" {
		rec.nodeID = in.NodeID
	}
	cur := PeerInfo{Address64: rec.addr64, Address16: rec.addr16, NodeID: rec.nodeID}
	rec.mu.Unlock()

	if cur == old {
		return nil
	}

	var events []PeerEvent
	if cur.Address64 != old.Address64 {
		n.by64[cur.Address64] = rec
	}
	if cur.Address16 != old.Address16 {
		if old.Address16.IsKnown() && n.by16[old.Address16] == rec {
			delete(n.by16, old.Address16)
		}
		events = n.claim16(rec, cur.Address16)
		n.by16[cur.Address16] = rec
	}
	return append(events, PeerEvent{Kind: PeerUpdated, Peer: rec, Info: cur})
}

// claim16 takes a 16-bit address away from whichever other record holds it.
// A record still known by its 64-bit address keeps that index and forgets
// the 16-bit address; a record known only by the 16-bit address is dropped.
// Caller holds n.mu and re-indexes the address afterwards.
func (n *Network) claim16(rec *RemoteDevice, a16 Address16) []PeerEvent {
	other, ok := n.by16[a16]
	if !ok || other == rec {
		return nil
	}
	delete(n.by16, a16)

	other.mu.Lock()
	if other.addr64.IsKnown() {
		other.addr16 = Unknown16
		info := PeerInfo{Address64: other.addr64, Address16: other.addr16, NodeID: other.nodeID}
		other.mu.Unlock()
		return []PeerEvent{{Kind: PeerUpdated, Peer: other, Info: info}}
	}
	info := PeerInfo{Address64: other.addr64, Address16: other.addr16, NodeID: other.nodeID}
	other.mu.Unlock()

	delete(n.peers, other)
	return []PeerEvent{{Kind: PeerRemoved, Peer: other, Info: info}}
}

// learn feeds addresses seen on an inbound frame into the registry.
func (n *Network) learn(a64 Address64, a16 Address16, nodeID string) *RemoteDevice {
	if a64.IsBroadcast() {
		a64 = Unknown64
	}
	if a16.IsBroadcast() {
		a16 = Unknown16
	}
	if !a64.IsKnown() && !a16.IsKnown() {
		return nil
	}
	rec, err := n.AddRemoteDevice(newRemoteDevice(n.localID, a64, a16, nodeID))
	if err != nil {
		return nil
	}
	return rec
}

// DeviceBy64 returns the peer with the given 64-bit address.
func (n *Network) DeviceBy64(a Address64) (*RemoteDevice, bool) {
	if !a.IsKnown() {
		return nil, false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	rec, ok := n.by64[a]
	return rec, ok
}

// DeviceBy16 returns the peer with the given 16-bit address.
func (n *Network) DeviceBy16(a Address16) (*RemoteDevice, bool) {
	if !a.IsKnown() {
		return nil, false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	rec, ok := n.by16[a]
	return rec, ok
}

// DeviceByNodeID returns the first peer whose node identifier equals id.
func (n *Network) DeviceByNodeID(id string) (*RemoteDevice, bool) {
	if id == "" {
		return nil, false
	}
	for _, rec := range n.Devices() {
		if rec.NodeID() == id {
			return rec, true
		}
	}
	return nil, false
}

// NumberOfDevices returns the number of distinct peers. A peer indexed by
// both addresses counts once.
func (n *Network) NumberOfDevices() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.peers)
}

// Devices returns the registered peers ordered by 64-bit then 16-bit address.
func (n *Network) Devices() []*RemoteDevice {
	n.mu.Lock()
	out := make([]*RemoteDevice, 0, len(n.peers))
	for rec := range n.peers {
		out = append(out, rec)
	}
	n.mu.Unlock()

	slices.SortFunc(out, func(a, b *RemoteDevice) int {
		ai, bi := a.Info(), b.Info()
		if c := cmp.Compare(ai.Address64, bi.Address64); c != 0 {
			return c
		}
		return cmp.Compare(ai.Address16, bi.Address16)
	})
	return out
}

// RemoveRemoteDevice removes the record matching rd's addresses.
// Removing an unregistered peer is a no-op.
func (n *Network) RemoveRemoteDevice(rd *RemoteDevice) error {
	if rd == nil {
		return invalidArgument("remote device cannot be nil")
	}

	n.mu.Lock()
	rec := n.find(rd.Info())
	if rec == nil {
		n.mu.Unlock()
		return nil
	}
	info := rec.Info()
	if n.by64[info.Address64] == rec {
		delete(n.by64, info.Address64)
	}
	if n.by16[info.Address16] == rec {
		delete(n.by16, info.Address16)
	}
	delete(n.peers, rec)
	n.mu.Unlock()

	n.emit([]PeerEvent{{Kind: PeerRemoved, Peer: rec, Info: info}})
	return nil
}

// Clear removes every peer. In-flight discovery and dispatch are unaffected.
func (n *Network) Clear() {
	n.mu.Lock()
	events := make([]PeerEvent, 0, len(n.peers))
	for rec := range n.peers {
		events = append(events, PeerEvent{Kind: PeerRemoved, Peer: rec, Info: rec.Info()})
	}
	clear(n.by64)
	clear(n.by16)
	clear(n.peers)
	n.mu.Unlock()

	n.emit(events)
}

// SetPeerHandler sets the function called after every registry change.
// It is called without registry locks held.
func (n *Network) SetPeerHandler(fn func(PeerEvent)) {
	n.handlerMu.Lock()
	n.onPeer = fn
	n.handlerMu.Unlock()
}

func (n *Network) emit(events []PeerEvent) {
	if len(events) == 0 {
		return
	}

	n.handlerMu.RLock()
	fn := n.onPeer
	n.handlerMu.RUnlock()

	for _, ev := range events {
		n.logDebug("peer "+ev.Kind.String(),
			"address64", ev.Info.Address64.String(),
			"address16", ev.Info.Address16.String(),
			"node_id", ev.Info.NodeID,
		)
		if fn != nil {
			fn(ev)
		}
	}
}

// SetLogger sets the logger for the registry.
func (n *Network) SetLogger(logger Logger) {
	n.loggerMu.Lock()
	n.logger = logger
	n.loggerMu.Unlock()
}

func (n *Network) logDebug(msg string, keysAndValues ...any) {
	n.loggerMu.RLock()
	logger := n.logger
	n.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
