package radio

import (
	"context"
	"fmt"
	"time"
)

// Message is an application payload received from a peer.
type Message struct {
	Source64 Address64
	Source16 Address16

	// Peer is the registry record of the sender. Nil when the frame carried
	// no usable address.
	Peer *RemoteDevice

	Data      []byte
	Broadcast bool

	// RSSI is the signal strength in dBm. Zero when the frame does not report it.
	RSSI int

	// Explicit is set for frames received with explicit addressing.
	Explicit *ExplicitAddressing

	ReceivedAt time.Time
}

func newMessage(f Frame, peer *RemoteDevice, receivedAt time.Time) Message {
	msg := Message{
		Source64:   f.Addr64,
		Source16:   f.Addr16,
		Peer:       peer,
		Data:       f.Data,
		Broadcast:  f.Options&RxOptionBroadcast != 0,
		ReceivedAt: receivedAt,
	}
	if f.Type == FrameRX64 || f.Type == FrameRX16 {
		msg.RSSI = -int(f.RSSI)
	}
	if f.Type == FrameExplicitRX {
		msg.Explicit = &ExplicitAddressing{
			SourceEndpoint: f.SourceEndpoint,
			DestEndpoint:   f.DestEndpoint,
			ClusterID:      f.ClusterID,
			ProfileID:      f.ProfileID,
		}
	}
	return msg
}

// enqueueData keeps the most recent messages for ReadData, dropping the oldest.
func (d *Device) enqueueData(msg Message) {
	for {
		select {
		case d.dataQueue <- msg:
			return
		default:
		}
		select {
		case <-d.dataQueue:
			d.framesDropped.Add(1)
		default:
		}
	}
}

// ReadData returns the next received message, blocking until one arrives,
// ctx is done or the device is closed.
//
// Returns:
//   - Message: Oldest unread message
//   - error: ErrOperationNotSupported for remote contexts,
//     ErrConnectionNotOpen if the device is or becomes closed
func (d *Device) ReadData(ctx context.Context) (Message, error) {
	if d.remote {
		return Message{}, fmt.Errorf("%w: cannot read data from a remote device", ErrOperationNotSupported)
	}
	if !d.IsOpen() {
		return Message{}, ErrConnectionNotOpen
	}

	select {
	case msg := <-d.dataQueue:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-d.stop():
		return Message{}, ErrConnectionNotOpen
	}
}

// AddDataListener registers fn for every received message.
// The returned function removes the listener.
//
// Listeners run on a bounded worker pool; a panicking listener is recovered
// and logged. Messages are dropped when the pool falls behind.
func (d *Device) AddDataListener(fn func(Message)) (remove func()) {
	return addListener(d, d.dataListeners, fn)
}

// AddFrameListener registers fn for every inbound frame not consumed by a
// waiting command.
func (d *Device) AddFrameListener(fn func(Frame)) (remove func()) {
	return addListener(d, d.frameListeners, fn)
}

// AddModemStatusListener registers fn for modem status notifications.
func (d *Device) AddModemStatusListener(fn func(ModemStatus)) (remove func()) {
	return addListener(d, d.modemListeners, fn)
}

func addListener[T any](d *Device, m map[uint64]func(T), fn func(T)) func() {
	if fn == nil {
		return func() {}
	}

	d.listenerMu.Lock()
	d.listenerSeq++
	id := d.listenerSeq
	m[id] = fn
	d.listenerMu.Unlock()

	return func() {
		d.listenerMu.Lock()
		delete(m, id)
		d.listenerMu.Unlock()
	}
}

func snapshot[T any](d *Device, m map[uint64]func(T)) []func(T) {
	d.listenerMu.RLock()
	defer d.listenerMu.RUnlock()
	out := make([]func(T), 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}

func (d *Device) hasListeners() bool {
	d.listenerMu.RLock()
	defer d.listenerMu.RUnlock()
	return len(d.dataListeners)+len(d.frameListeners)+len(d.modemListeners) > 0
}

// callbackWorker delivers queued frames to listeners.
// Runs in a bounded worker pool to prevent goroutine explosion.
func (d *Device) callbackWorker(done *closeOnce) {
	defer d.wg.Done()

	for {
		select {
		case <-done.Done():
			return
		case in := <-d.callbackQueue:
			d.deliver(in)
		}
	}
}

// inbound is a frame queued for listener delivery.
type inbound struct {
	frame      Frame
	peer       *RemoteDevice
	receivedAt time.Time
}

func (d *Device) deliver(in inbound) {
	f := in.frame
	for _, fn := range snapshot(d, d.frameListeners) {
		d.safeCall("frame listener", func() { fn(f) })
	}

	switch {
	case f.IsReceive():
		msg := newMessage(f, in.peer, in.receivedAt)
		for _, fn := range snapshot(d, d.dataListeners) {
			d.safeCall("data listener", func() { fn(msg) })
		}
	case f.Type == FrameModemStatus:
		status := ModemStatus(f.Status)
		for _, fn := range snapshot(d, d.modemListeners) {
			d.safeCall("modem status listener", func() { fn(status) })
		}
	}
}

func (d *Device) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logError(name+" panic", fmt.Errorf("%v", r))
		}
	}()
	fn()
}

// drainCallbackQueue discards frames left in the callback queue.
func (d *Device) drainCallbackQueue() {
	for {
		select {
		case <-d.callbackQueue:
		default:
			return
		}
	}
}
