package radio

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Correlation id limits. Zero is reserved for "no response requested".
const (
	minFrameID = 1
	maxFrameID = 255

	// multiQueueSize buffers responses for a multi-response slot (discovery).
	multiQueueSize = 64
)

// pendingCommand is the completion slot of one command awaiting a response.
type pendingCommand struct {
	id       byte
	issuedAt time.Time
	deadline time.Time
	multi    bool
	ch       chan Frame
}

// pendingTable correlates response frames with the commands waiting for them.
//
// The deliver-or-drop decision for a response is made under mu using the
// time the reader task received the frame, so a response received at or
// before the deadline always reaches its waiter and a response received
// after it never does.
type pendingTable struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[byte]*pendingCommand
	next    byte
}

func newPendingTable(clk clock.Clock) *pendingTable {
	return &pendingTable{
		clock:   clk,
		entries: make(map[byte]*pendingCommand),
		next:    minFrameID,
	}
}

// register allocates a free correlation id and opens a completion slot.
func (p *pendingTable) register(timeout time.Duration, multi bool) (*pendingCommand, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) >= maxFrameID {
		return nil, ErrTooManyPending
	}

	id := p.next
	for {
		if _, busy := p.entries[id]; !busy {
			break
		}
		id = nextFrameID(id)
	}
	p.next = nextFrameID(id)

	size := 1
	if multi {
		size = multiQueueSize
	}
	now := p.clock.Now()
	pc := &pendingCommand{
		id:       id,
		issuedAt: now,
		deadline: now.Add(timeout),
		multi:    multi,
		ch:       make(chan Frame, size),
	}
	p.entries[id] = pc
	return pc, nil
}

func nextFrameID(id byte) byte {
	if id == maxFrameID {
		return minFrameID
	}
	return id + 1
}

// resolve hands a response frame to its waiter. It returns false when no
// slot is waiting for the frame's id or the frame was received after the
// slot's deadline; such frames are dropped.
func (p *pendingTable) resolve(f Frame, receivedAt time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	pc, ok := p.entries[f.ID]
	if !ok {
		return false
	}
	if receivedAt.After(pc.deadline) {
		return false
	}

	if !pc.multi {
		delete(p.entries, f.ID)
		pc.ch <- f
		return true
	}

	select {
	case pc.ch <- f:
		return true
	default:
		return false
	}
}

// cancel removes a slot without delivering anything.
// It reports whether the slot was still pending.
func (p *pendingTable) cancel(pc *pendingCommand) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.entries[pc.id]; ok && cur == pc {
		delete(p.entries, pc.id)
		return true
	}
	return false
}

// wait blocks until the slot's response arrives, the deadline passes, ctx
// is cancelled or stop is closed.
func (p *pendingTable) wait(ctx context.Context, pc *pendingCommand, stop <-chan struct{}) (Frame, error) {
	timer := p.expiry(pc)
	defer timer.Stop()

	select {
	case f := <-pc.ch:
		return f, nil
	case <-timer.C:
		return p.abandon(pc, ErrTimeout)
	case <-ctx.Done():
		return p.abandon(pc, ctx.Err())
	case <-stop:
		return p.abandon(pc, ErrConnectionNotOpen)
	}
}

// expiry returns a timer that fires once the clock is strictly past the
// slot's deadline. A response received at the deadline itself still wins.
func (p *pendingTable) expiry(pc *pendingCommand) *clock.Timer {
	return p.clock.Timer(pc.deadline.Sub(p.clock.Now()) + time.Nanosecond)
}

// abandon gives up on a single-response slot. If resolve won the race the
// delivered frame is returned instead of err.
func (p *pendingTable) abandon(pc *pendingCommand, err error) (Frame, error) {
	if p.cancel(pc) {
		return Frame{}, err
	}
	select {
	case f := <-pc.ch:
		return f, nil
	default:
		// Cleared by Close without a response.
		return Frame{}, err
	}
}

// collect gathers every response for a multi-response slot until the
// deadline, until step reports the scan finished, or until ctx/stop end it.
// step decides whether a frame is kept. Responses gathered before the bound
// are always returned.
func (p *pendingTable) collect(ctx context.Context, pc *pendingCommand, stop <-chan struct{}, step func(Frame) (keep, finished bool)) ([]Frame, error) {
	timer := p.expiry(pc)
	defer timer.Stop()
	defer p.cancel(pc)

	var frames []Frame
	for {
		select {
		case f := <-pc.ch:
			keep, finished := step(f)
			if keep {
				frames = append(frames, f)
			}
			if finished {
				return frames, nil
			}
		case <-timer.C:
			p.cancel(pc)
			return append(frames, drain(pc.ch, step)...), nil
		case <-ctx.Done():
			p.cancel(pc)
			return append(frames, drain(pc.ch, step)...), ctx.Err()
		case <-stop:
			return frames, ErrConnectionNotOpen
		}
	}
}

// drain empties buffered responses that were accepted before the slot closed.
func drain(ch chan Frame, step func(Frame) (keep, finished bool)) []Frame {
	var frames []Frame
	for {
		select {
		case f := <-ch:
			if keep, _ := step(f); keep {
				frames = append(frames, f)
			}
		default:
			return frames
		}
	}
}

// len returns the number of open slots.
func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// clear drops every open slot. Waiters observe it through their stop channel.
func (p *pendingTable) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.entries)
}
