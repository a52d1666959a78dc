package reactor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/acolita/adbwifi/internal/adapters/realclock"
	"github.com/acolita/adbwifi/internal/ports"
)

// Handler is a descriptor registered with a Poller. Concrete handlers embed
// Base for the bookkeeping and implement the readiness callbacks.
//
// A handler whose Fd is negative has been released by its owner; the poller
// treats it as a dead registration.
type Handler interface {
	Fd() int
	Enabled() bool
	ReadRequired() bool
	WriteRequired() bool
	Timers() *TimerSet

	OnReadable()
	OnWritable()
	OnError()
	OnTimer(id TimerID)
}

// Base implements the non-callback half of Handler: descriptor ownership, the
// enabled and write-pending flags, and per-handler timers.
type Base struct {
	fd        int
	enabled   bool
	writeReq  bool
	writeOnly bool
	timers    TimerSet
	clock     ports.Clock
}

// NewBase wraps fd. The handler owns fd from now on and closes it in Close.
// A nil clock means the real clock.
func NewBase(fd int, clock ports.Clock) Base {
	if clock == nil {
		clock = realclock.New()
	}
	return Base{fd: fd, clock: clock}
}

// Fd returns the owned descriptor, or -1 once closed.
func (b *Base) Fd() int { return b.fd }

// Enabled reports whether the poller should watch the descriptor.
func (b *Base) Enabled() bool { return b.enabled }

// SetEnabled turns reactor participation on or off.
func (b *Base) SetEnabled(enable bool) { b.enabled = enable }

// ReadRequired reports whether read readiness is requested. It is true unless
// the handler was made write-only.
func (b *Base) ReadRequired() bool { return !b.writeOnly }

// SetWriteOnly drops read interest, for descriptors that share an open file
// with a reading handler.
func (b *Base) SetWriteOnly(writeOnly bool) { b.writeOnly = writeOnly }

// WriteRequired reports whether write readiness is requested.
func (b *Base) WriteRequired() bool { return b.writeReq }

// SetWriteRequest requests or cancels write readiness notifications.
func (b *Base) SetWriteRequest(enable bool) { b.writeReq = enable }

// Timers exposes the handler's timer set.
func (b *Base) Timers() *TimerSet { return &b.timers }

// Clock returns the clock used for timer deadlines.
func (b *Base) Clock() ports.Clock { return b.clock }

// StartTimer arms id to fire after delay.
func (b *Base) StartTimer(id TimerID, delay time.Duration, resetPrevious bool) {
	b.timers.Start(id, b.clock.Now().Add(delay), resetPrevious)
}

// StopTimer cancels every pending entry for id and reports whether any existed.
func (b *Base) StopTimer(id TimerID) bool {
	return b.timers.Stop(id) > 0
}

// ClosestTime returns the nearest pending deadline.
func (b *Base) ClosestTime() (time.Time, bool) {
	return b.timers.Closest()
}

// Close disables the handler, drops its timers and closes the descriptor.
// Calling Close again is a no-op.
func (b *Base) Close() error {
	b.enabled = false
	b.writeReq = false
	b.timers.Clear()
	if b.fd < 0 {
		return nil
	}
	fd := b.fd
	b.fd = -1
	return unix.Close(fd)
}

// CheckTimers fires every timer of h that is due at now, oldest first, and
// returns how many fired. A callback that arms another already-due timer has
// it fired in the same call.
func CheckTimers(h Handler, now time.Time) int {
	fired := 0
	for {
		id, ok := h.Timers().PopExpired(now)
		if !ok {
			break
		}
		fired++
		h.OnTimer(id)
	}
	return fired
}
