package radio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Destination addresses a transmission. Either address may be unknown but
// not both. Broadcast is the reserved broadcast address pair.
type Destination struct {
	Addr64 Address64
	Addr16 Address16
}

// Broadcast addresses every node in the network. The 16-bit field is left
// unknown so every family routes it by the 64-bit broadcast address.
var Broadcast = Destination{Addr64: Broadcast64, Addr16: Unknown16}

// To64 addresses a peer by its 64-bit address.
func To64(a Address64) Destination {
	return Destination{Addr64: a, Addr16: Unknown16}
}

// To16 addresses a peer by its 16-bit address only.
func To16(a Address16) Destination {
	return Destination{Addr64: Unknown64, Addr16: a}
}

// IsKnown reports whether at least one address is known.
func (d Destination) IsKnown() bool {
	return d.Addr64.IsKnown() || d.Addr16.IsKnown()
}

func (d Destination) String() string {
	if d.Addr64.IsKnown() {
		return d.Addr64.String()
	}
	return d.Addr16.String()
}

// ExplicitAddressing carries the application-layer fields of explicit frames.
type ExplicitAddressing struct {
	SourceEndpoint byte
	DestEndpoint   byte
	ClusterID      uint16
	ProfileID      uint16
}

// SendOptions tunes a transmission.
type SendOptions struct {
	// Options is the transmit options bit field.
	Options byte

	// Radius limits broadcast hops. Zero uses the module maximum.
	Radius byte

	// Timeout bounds a synchronous send. Zero uses the device receive timeout.
	Timeout time.Duration

	// Explicit selects the explicit addressing frame.
	Explicit *ExplicitAddressing
}

// TransmitStatus is the module's report for a synchronous send.
type TransmitStatus struct {
	FrameID   byte
	Status    byte
	Retries   byte
	Discovery byte
	Addr16    Address16
}

// Success reports whether the module delivered the frame.
func (s TransmitStatus) Success() bool {
	return s.Status == StatusSuccess
}

// checkSend applies the transmission preconditions in order:
// arguments, remote context, connection, operating mode.
func (d *Device) checkSend(dst Destination, payload []byte) error {
	if payload == nil {
		return invalidArgument("data cannot be nil")
	}
	if !dst.IsKnown() {
		return invalidArgument("destination address cannot be unknown")
	}
	if d.remote {
		return fmt.Errorf("%w: cannot send data to a remote device from a remote device", ErrOperationNotSupported)
	}
	if !d.IsOpen() {
		return ErrConnectionNotOpen
	}
	if mode := d.Mode(); !mode.IsAPI() {
		return fmt.Errorf("%w: %s", ErrInvalidOperatingMode, mode)
	}
	return nil
}

// buildTransmit selects the frame shape for the destination and family.
func (d *Device) buildTransmit(dst Destination, payload []byte, opts SendOptions) (Frame, error) {
	family := d.Family()

	if opts.Explicit != nil {
		if !family.SupportsExplicit() {
			return Frame{}, fmt.Errorf("%w: %s has no explicit addressing", ErrOperationNotSupported, family.Description())
		}
		return Frame{
			Type:           FrameExplicitTX,
			Addr64:         dst.Addr64,
			Addr16:         dst.Addr16,
			Radius:         opts.Radius,
			Options:        opts.Options,
			SourceEndpoint: opts.Explicit.SourceEndpoint,
			DestEndpoint:   opts.Explicit.DestEndpoint,
			ClusterID:      opts.Explicit.ClusterID,
			ProfileID:      opts.Explicit.ProfileID,
			Data:           payload,
		}, nil
	}

	shape := family.Shape64()
	if !dst.Addr64.IsKnown() {
		shape = family.Shape16()
	}

	switch shape {
	case ShapeTX64:
		return Frame{Type: FrameTX64, Addr64: dst.Addr64, Options: opts.Options, Data: payload}, nil
	case ShapeTX16:
		return Frame{Type: FrameTX16, Addr16: dst.Addr16, Options: opts.Options, Data: payload}, nil
	case ShapeTransmitRequest:
		return Frame{
			Type:    FrameTransmit,
			Addr64:  dst.Addr64,
			Addr16:  dst.Addr16,
			Radius:  opts.Radius,
			Options: opts.Options,
			Data:    payload,
		}, nil
	default:
		return Frame{}, fmt.Errorf("%w: %s cannot address by 16-bit address", ErrOperationNotSupported, family.Description())
	}
}

// Send transmits payload and blocks until the module reports the outcome or
// the timeout elapses.
//
// Parameters:
//   - ctx: Cancels the wait (the frame may already be on air)
//   - dst: Destination; at least one address must be known
//   - payload: Data to send; may be empty but not nil
//   - opts: Transmit options and timeout
//
// Returns:
//   - TransmitStatus: The module's transmit report
//   - error: ErrInvalidArgument, ErrOperationNotSupported, ErrConnectionNotOpen,
//     ErrInvalidOperatingMode, ErrTransport, ErrTimeout, or a
//     *RemoteRejectedError when the module reports a delivery failure
func (d *Device) Send(ctx context.Context, dst Destination, payload []byte, opts SendOptions) (TransmitStatus, error) {
	if err := d.checkSend(dst, payload); err != nil {
		return TransmitStatus{}, err
	}

	f, err := d.buildTransmit(dst, payload, opts)
	if err != nil {
		return TransmitStatus{}, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.receiveTimeout
	}

	resp, err := d.roundTrip(ctx, f, timeout)
	if err != nil {
		return TransmitStatus{}, err
	}

	status := TransmitStatus{
		FrameID:   resp.ID,
		Status:    resp.Status,
		Retries:   resp.Retries,
		Discovery: resp.Discovery,
		Addr16:    resp.Addr16,
	}
	if resp.Type == FrameTXStatus {
		status.Addr16 = Unknown16
	}
	return status, resp.Err()
}

// SendAsync transmits payload without waiting for a transmit report.
// Failures to submit the frame are still returned.
func (d *Device) SendAsync(dst Destination, payload []byte, opts SendOptions) error {
	if err := d.checkSend(dst, payload); err != nil {
		return err
	}

	f, err := d.buildTransmit(dst, payload, opts)
	if err != nil {
		return err
	}
	f.ID = 0
	return d.writeFrame(f)
}

// roundTrip writes a command frame and waits for its correlated response.
// The completion slot is released again if the write fails.
func (d *Device) roundTrip(ctx context.Context, f Frame, timeout time.Duration) (Frame, error) {
	pc, err := d.pending.register(timeout, false)
	if err != nil {
		return Frame{}, err
	}
	f.ID = pc.id

	if err := d.writeFrame(f); err != nil {
		d.pending.cancel(pc)
		return Frame{}, err
	}

	resp, err := d.pending.wait(ctx, pc, d.stop())
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			d.timeouts.Add(1)
			return Frame{}, fmt.Errorf("%w: no response to %s frame %d within %s", ErrTimeout, f.Type, f.ID, timeout)
		}
		return Frame{}, err
	}
	return resp, nil
}

// SendData sends payload to a 64-bit address and waits for the transmit report.
func (d *Device) SendData(ctx context.Context, addr Address64, payload []byte) (TransmitStatus, error) {
	return d.Send(ctx, To64(addr), payload, SendOptions{})
}

// SendDataAsync sends payload to a 64-bit address without waiting.
func (d *Device) SendDataAsync(addr Address64, payload []byte) error {
	return d.SendAsync(To64(addr), payload, SendOptions{})
}

// SendData16 sends payload to a 16-bit address. Only families with 16-bit
// addressing support it.
func (d *Device) SendData16(ctx context.Context, addr Address16, payload []byte) (TransmitStatus, error) {
	return d.Send(ctx, To16(addr), payload, SendOptions{})
}

// SendDataToRemote sends payload to a registry peer.
func (d *Device) SendDataToRemote(ctx context.Context, peer *RemoteDevice, payload []byte) (TransmitStatus, error) {
	if peer == nil {
		return TransmitStatus{}, invalidArgument("remote device cannot be nil")
	}
	return d.Send(ctx, peer.Destination(), payload, SendOptions{})
}

// SendDataAsyncToRemote sends payload to a registry peer without waiting.
func (d *Device) SendDataAsyncToRemote(peer *RemoteDevice, payload []byte) error {
	if peer == nil {
		return invalidArgument("remote device cannot be nil")
	}
	return d.SendAsync(peer.Destination(), payload, SendOptions{})
}

// SendBroadcastData sends payload to every node and waits for the transmit report.
func (d *Device) SendBroadcastData(ctx context.Context, payload []byte) (TransmitStatus, error) {
	return d.Send(ctx, Broadcast, payload, SendOptions{})
}

// SendBroadcastDataAsync sends payload to every node without waiting.
func (d *Device) SendBroadcastDataAsync(payload []byte) error {
	return d.SendAsync(Broadcast, payload, SendOptions{})
}

// SendExplicitData sends payload with explicit application addressing.
func (d *Device) SendExplicitData(ctx context.Context, addr Address64, explicit ExplicitAddressing, payload []byte) (TransmitStatus, error) {
	return d.Send(ctx, To64(addr), payload, SendOptions{Explicit: &explicit})
}

// SendBroadcastExplicitData broadcasts payload with explicit application addressing.
func (d *Device) SendBroadcastExplicitData(ctx context.Context, explicit ExplicitAddressing, payload []byte) (TransmitStatus, error) {
	return d.Send(ctx, Broadcast, payload, SendOptions{Explicit: &explicit})
}

// atCommand runs a local AT command without checking the operating mode.
// Open uses it before the mode is known.
func (d *Device) atCommand(ctx context.Context, f Frame, timeout time.Duration) (Frame, error) {
	if !d.IsOpen() {
		return Frame{}, ErrConnectionNotOpen
	}
	resp, err := d.roundTrip(ctx, f, timeout)
	if err != nil {
		return Frame{}, err
	}
	if err := resp.Err(); err != nil {
		return Frame{}, fmt.Errorf("AT %s: %w", f.Command, err)
	}
	return resp, nil
}

// checkCommand applies the connection and mode preconditions for commands.
func (d *Device) checkCommand(cmd string) error {
	if len(cmd) != 2 {
		return invalidArgument("AT command must be 2 characters")
	}
	if !d.IsOpen() {
		return ErrConnectionNotOpen
	}
	if d.remote {
		return nil
	}
	if mode := d.Mode(); !mode.IsAPI() {
		return fmt.Errorf("%w: %s", ErrInvalidOperatingMode, mode)
	}
	return nil
}

// Parameter reads an AT register. A remote context reads it from its peer.
func (d *Device) Parameter(ctx context.Context, cmd string) ([]byte, error) {
	resp, err := d.command(ctx, cmd, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SetParameter writes an AT register. A remote context writes it on its
// peer and applies the change immediately.
func (d *Device) SetParameter(ctx context.Context, cmd string, value []byte) error {
	if value == nil {
		return invalidArgument("value cannot be nil")
	}
	_, err := d.command(ctx, cmd, value)
	return err
}

// ExecuteCommand runs an AT command that takes no value, such as "WR" or "AC".
func (d *Device) ExecuteCommand(ctx context.Context, cmd string) error {
	_, err := d.command(ctx, cmd, nil)
	return err
}

// remoteApplyChanges is the remote AT option bit that applies changes at once.
const remoteApplyChanges byte = 0x02

func (d *Device) command(ctx context.Context, cmd string, value []byte) (Frame, error) {
	if err := d.checkCommand(cmd); err != nil {
		return Frame{}, err
	}

	if !d.remote {
		return d.atCommand(ctx, Frame{Type: FrameATCommand, Command: cmd, Data: value}, d.receiveTimeout)
	}

	local, ok := d.LocalDevice()
	if !ok {
		return Frame{}, ErrConnectionNotOpen
	}
	if mode := local.Mode(); !mode.IsAPI() {
		return Frame{}, fmt.Errorf("%w: %s", ErrInvalidOperatingMode, mode)
	}
	return local.atCommand(ctx, Frame{
		Type:    FrameRemoteCommand,
		Addr64:  d.remoteAddr,
		Addr16:  Unknown16,
		Options: remoteApplyChanges,
		Command: cmd,
		Data:    value,
	}, local.receiveTimeout)
}
