// Package reactor implements a single-threaded poll(2) event loop with
// per-handler timers.
package reactor

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/acolita/adbwifi/internal/adapters/realclock"
	"github.com/acolita/adbwifi/internal/ports"
)

// ID identifies a registration with a Poller.
type ID uint32

// InvalidID is never assigned to a registration.
const InvalidID ID = 0

// Infinite blocks PollOnce until a descriptor or timer is ready.
const Infinite time.Duration = -1

// Options configures a Poller.
type Options struct {
	// SingleThreaded skips locking of the registration table. Use it when Add
	// and Remove are only ever called from the goroutine running the loop.
	SingleThreaded bool

	Clock  ports.Clock
	Logger *slog.Logger
}

// Poller multiplexes readiness of registered handlers. It does not own them:
// a handler released by its owner (Fd() < 0) is dropped from the table the next
// time the poller comes across it.
type Poller struct {
	mu       sync.Mutex
	single   bool
	handlers map[ID]Handler
	seq      ID
	clock    ports.Clock
	logger   *slog.Logger

	pfds []unix.PollFd
	ids  []ID
}

// New creates an empty Poller.
func New(opts Options) *Poller {
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		single:   opts.SingleThreaded,
		handlers: make(map[ID]Handler),
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
}

func (p *Poller) lock() func() {
	if p.single {
		return func() {}
	}
	p.mu.Lock()
	return p.mu.Unlock
}

// Add registers h and returns its id, or InvalidID if h is nil, already
// released, or no id is free.
func (p *Poller) Add(h Handler) ID {
	if h == nil || h.Fd() < 0 {
		return InvalidID
	}
	defer p.lock()()

	id := p.nextID()
	if id != InvalidID {
		p.handlers[id] = h
	}
	return id
}

// Remove drops a registration. Unknown ids are ignored.
func (p *Poller) Remove(id ID) {
	defer p.lock()()
	delete(p.handlers, id)
}

// Len returns the number of live registrations, pruning dead ones.
func (p *Poller) Len() int {
	defer p.lock()()
	for id, h := range p.handlers {
		if h.Fd() < 0 {
			delete(p.handlers, id)
		}
	}
	return len(p.handlers)
}

func (p *Poller) nextID() ID {
	start := p.seq
	p.seq++
	for p.seq == InvalidID || p.handlers[p.seq] != nil {
		if p.seq == start {
			return InvalidID
		}
		p.seq++
	}
	return p.seq
}

// lookup returns the live handler for id, pruning it if it was released.
func (p *Poller) lookup(id ID) Handler {
	defer p.lock()()
	h, ok := p.handlers[id]
	if !ok {
		return nil
	}
	if h.Fd() < 0 {
		delete(p.handlers, id)
		return nil
	}
	return h
}

func (p *Poller) sortedIDs() []ID {
	defer p.lock()()
	return slices.Sorted(maps.Keys(p.handlers))
}

// PollOnce runs one dispatch pass and returns the number of descriptors that
// were polled. A negative timeout blocks until something is ready. With nothing
// to poll it returns 0 immediately.
func (p *Poller) PollOnce(timeout time.Duration) (int, error) {
	now := p.clock.Now()
	nearest, haveTimer := p.buildPollSet()
	count := len(p.pfds)
	if count == 0 {
		return 0, nil
	}

	ms := -1
	if timeout >= 0 {
		ms = ceilMillis(timeout)
	}
	if haveTimer {
		if tms := ceilMillis(max(nearest.Sub(now), 0)); ms < 0 || tms < ms {
			ms = tms
		}
	}

	p.logger.Debug("running poll", slog.Int("fds", count), slog.Int("timeout_ms", ms))

	n, err := unix.Poll(p.pfds, ms)
	if err != nil {
		if !errors.Is(err, unix.EINTR) {
			return count, fmt.Errorf("poll: %w", err)
		}
		n = 0
	}

	if n > 0 {
		// Callbacks may re-enter Add, so the poll set is copied first.
		ready := make([]unix.PollFd, count)
		ids := make([]ID, count)
		copy(ready, p.pfds)
		copy(ids, p.ids)
		for i, pfd := range ready {
			if pfd.Revents != 0 {
				p.dispatch(ids[i], pfd)
			}
		}
	}

	if haveTimer {
		p.fireTimers()
	}
	return count, nil
}

func (p *Poller) buildPollSet() (time.Time, bool) {
	defer p.lock()()

	p.pfds = p.pfds[:0]
	p.ids = p.ids[:0]
	var nearest time.Time
	haveTimer := false

	for _, id := range slices.Sorted(maps.Keys(p.handlers)) {
		h := p.handlers[id]
		if h.Fd() < 0 {
			p.logger.Debug("pruning released handler", slog.Uint64("handler", uint64(id)))
			delete(p.handlers, id)
			continue
		}
		if !h.Enabled() {
			continue
		}

		var events int16
		if h.ReadRequired() {
			events |= unix.POLLIN
		}
		if h.WriteRequired() {
			events |= unix.POLLOUT
		}
		p.pfds = append(p.pfds, unix.PollFd{Fd: int32(h.Fd()), Events: events})
		p.ids = append(p.ids, id)

		if d, ok := h.Timers().Closest(); ok && (!haveTimer || d.Before(nearest)) {
			nearest = d
			haveTimer = true
		}
	}
	return nearest, haveTimer
}

func (p *Poller) dispatch(id ID, pfd unix.PollFd) {
	h := p.lookup(id)
	if h == nil {
		p.logger.Debug("handler gone before dispatch", slog.Int("fd", int(pfd.Fd)))
		return
	}
	if h.Fd() != int(pfd.Fd) {
		return
	}

	re := pfd.Revents
	hup := re&unix.POLLHUP != 0
	readable := re&unix.POLLIN != 0 || (hup && h.ReadRequired())
	failed := re&(unix.POLLERR|unix.POLLNVAL) != 0 || (hup && !h.ReadRequired())

	enabled := h.Enabled()
	if enabled && readable {
		h.OnReadable()
		enabled = h.Enabled()
	}
	if enabled && failed {
		h.OnError()
		enabled = h.Enabled()
	}
	if enabled && re&unix.POLLOUT != 0 {
		h.OnWritable()
	}
}

func (p *Poller) fireTimers() {
	now := p.clock.Now()

	var due []ID
	for _, id := range p.sortedIDs() {
		h := p.lookup(id)
		if h == nil || !h.Enabled() {
			continue
		}
		if d, ok := h.Timers().Closest(); ok && !d.After(now) {
			due = append(due, id)
		}
	}

	switch len(due) {
	case 0:
	case 1:
		if h := p.lookup(due[0]); h != nil {
			CheckTimers(h, now)
		}
	default:
		for _, id := range p.sortedIDs() {
			if h := p.lookup(id); h != nil && h.Enabled() {
				CheckTimers(h, now)
			}
		}
	}
}

// Run polls until a poll call fails or no enabled handler remains.
func (p *Poller) Run() error {
	for {
		n, err := p.PollOnce(Infinite)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func ceilMillis(d time.Duration) int {
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
