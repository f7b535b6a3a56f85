package radio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDiscoveryValidationBeforeScan(t *testing.T) {
	m := newFakeModule(FamilyDigiMesh)
	d := openDevice(t, m)
	n := d.Network()
	ctx := context.Background()
	written := len(m.frames())

	tests := []struct {
		name    string
		id      string
		timeout time.Duration
		msg     string
	}{
		{name: "empty identifier", id: "", timeout: time.Second, msg: "identifier cannot be empty"},
		{name: "wait forever", id: "NODE", timeout: WaitForever, msg: "discovery cannot block forever"},
		{name: "negative timeout", id: "NODE", timeout: -5, msg: "timeout must be greater than 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.DiscoverDeviceByID(ctx, tt.id, tt.timeout)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("DiscoverDeviceByID() error = %v, want ErrInvalidArgument", err)
			}
			if err != nil && err.Error() != "radio: invalid argument: "+tt.msg {
				t.Errorf("DiscoverDeviceByID() message = %q", err.Error())
			}

			_, err = n.DiscoverAllDevicesByID(ctx, tt.id, tt.timeout)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("DiscoverAllDevicesByID() error = %v, want ErrInvalidArgument", err)
			}
		})
	}

	if _, err := n.DiscoverDevices(ctx, WaitForever); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("DiscoverDevices(WaitForever) error = %v, want ErrInvalidArgument", err)
	}
	if got := len(m.frames()); got != written {
		t.Errorf("%d frames written by rejected discoveries, want 0", got-written)
	}
}

func TestDiscoverDeviceByID(t *testing.T) {
	m := newFakeModule(FamilyDigiMesh)
	m.discovery = [][]byte{
		ndResponse(Unknown16, 0x0013A20040000001, "OTHER"),
		ndResponse(Unknown16, 0x0013A20040000002, "SENSOR"),
		ndResponse(Unknown16, 0x0013A20040000003, "SENSOR"),
	}
	d := openDevice(t, m)

	rec, err := d.Network().DiscoverDeviceByID(context.Background(), "SENSOR", time.Second)
	if err != nil {
		t.Fatalf("DiscoverDeviceByID() error = %v", err)
	}
	if rec.Address64() != 0x0013A20040000002 || rec.NodeID() != "SENSOR" {
		t.Errorf("DiscoverDeviceByID() = %v", rec)
	}
	if got, ok := d.Network().DeviceBy64(0x0013A20040000002); !ok || got != rec {
		t.Error("discovered peer not visible in the registry")
	}

	nd := m.framesOfType(FrameATCommand)
	last := nd[len(nd)-1]
	if last.Command != "ND" || string(last.Data) != "SENSOR" {
		t.Errorf("discovery request = %+v", last)
	}
}

func TestDiscoverDeviceByIDNotFound(t *testing.T) {
	m := newFakeModule(FamilyDigiMesh)
	m.discovery = [][]byte{ndResponse(Unknown16, 0x0013A20040000001, "OTHER")}
	d := openDevice(t, m)

	_, err := d.Network().DiscoverDeviceByID(context.Background(), "MISSING", time.Second)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("DiscoverDeviceByID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDiscoverAllDevicesByID(t *testing.T) {
	m := newFakeModule(FamilyDigiMesh)
	m.discovery = [][]byte{
		ndResponse(Unknown16, 0x0013A20040000001, "OTHER"),
		ndResponse(Unknown16, 0x0013A20040000002, "SENSOR"),
		ndResponse(Unknown16, 0x0013A20040000003, "SENSOR"),
		{0x01, 0x02}, // malformed
	}
	d := openDevice(t, m)

	found, err := d.Network().DiscoverAllDevicesByID(context.Background(), "SENSOR", time.Second)
	if err != nil {
		t.Fatalf("DiscoverAllDevicesByID() error = %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("DiscoverAllDevicesByID() found %d, want 2", len(found))
	}
	if n := d.Network().NumberOfDevices(); n != 3 {
		t.Errorf("NumberOfDevices() = %d, want 3 (every response is registered)", n)
	}
}

func TestDiscoveryMergesIntoExistingRecord(t *testing.T) {
	m := newFakeModule(FamilyDigiMesh)
	m.discovery = [][]byte{ndResponse(Unknown16, addrA, "RENAMED")}
	d := openDevice(t, m)

	existing, _ := NewRemoteDevice(d, addrA, Unknown16, "OLD")
	d.Network().AddRemoteDevice(existing)

	rec, err := d.Network().DiscoverDeviceByID(context.Background(), "RENAMED", time.Second)
	if err != nil {
		t.Fatalf("DiscoverDeviceByID() error = %v", err)
	}
	if rec != existing {
		t.Error("discovery created a second record for a known peer")
	}
	if existing.NodeID() != "RENAMED" {
		t.Errorf("NodeID() = %q, want RENAMED", existing.NodeID())
	}
}

func TestDiscoveryBoundReturnsPartialResults(t *testing.T) {
	m := newFakeModule(FamilyDigiMesh)
	m.discovery = [][]byte{ndResponse(Unknown16, 0x0013A20040000002, "SENSOR")}
	m.noNDEnd = true
	d := openDevice(t, m)

	start := time.Now()
	found, err := d.Network().DiscoverAllDevicesByID(context.Background(), "SENSOR", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("DiscoverAllDevicesByID() error = %v", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("discovery returned before its bound without an end marker")
	}
	if len(found) != 1 {
		t.Errorf("found %d, want the 1 response gathered before the bound", len(found))
	}
}

func TestDiscoverDevicesRaw802(t *testing.T) {
	m := newFakeModule(FamilyRaw802)
	m.discovery = [][]byte{
		{0x00, 0x02, 0x00, 0x13, 0xA2, 0x00, 0x40, 0x00, 0x00, 0x02, 0x28, 'E', 'N', 'D', 0x00},
	}
	d := openDevice(t, m)

	found, err := d.Network().DiscoverDevices(context.Background(), UseDeviceTimeout)
	if err != nil {
		t.Fatalf("DiscoverDevices() error = %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("DiscoverDevices() found %d, want 1", len(found))
	}
	info := found[0].Info()
	if info.Address16 != 0x0002 || info.Address64 != 0x0013A20040000002 || info.NodeID != "END" {
		t.Errorf("discovered %+v", info)
	}

	nd := m.framesOfType(FrameATCommand)
	if last := nd[len(nd)-1]; last.Command != "ND" || last.Data != nil {
		t.Errorf("scan request = %+v, want ND without parameter", last)
	}
}

func TestDiscoveryPreconditions(t *testing.T) {
	m := newFakeModule(FamilyDigiMesh)
	d, _ := NewDevice(m)
	defer d.Release()

	if _, err := d.Network().DiscoverDeviceByID(context.Background(), "X", time.Second); !errors.Is(err, ErrConnectionNotOpen) {
		t.Errorf("DiscoverDeviceByID() on closed device error = %v, want ErrConnectionNotOpen", err)
	}
	if _, err := newNetwork(nil).DiscoverDevices(context.Background(), time.Second); !errors.Is(err, ErrOperationNotSupported) {
		t.Errorf("DiscoverDevices() without device error = %v, want ErrOperationNotSupported", err)
	}
}

func TestParseDiscoveryRejectsShort(t *testing.T) {
	if _, err := parseDiscovery([]byte{1, 2, 3}, FamilyDigiMesh); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("parseDiscovery(short) error = %v, want ErrInvalidFrame", err)
	}
	unterminated := append(make([]byte, 10), 'N', 'I')
	if _, err := parseDiscovery(unterminated, FamilyZigBee); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("parseDiscovery(unterminated) error = %v, want ErrInvalidFrame", err)
	}
}
