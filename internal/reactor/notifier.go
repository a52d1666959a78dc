package reactor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/acolita/adbwifi/internal/ports"
)

// Notifier wakes the loop from another goroutine. Notify may be called from
// any goroutine; the callback always runs on the goroutine running the poller.
type Notifier struct {
	Base
	mu     sync.RWMutex // guards wfd against Close while a Notify writes
	wfd    int
	notify func()
}

// NewNotifier creates a self-pipe notifier that calls fn whenever Notify was
// called at least once since the previous callback. The returned notifier is
// enabled and ready to be added to a Poller.
func NewNotifier(clock ports.Clock, fn func()) (*Notifier, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("notifier pipe: %w", err)
	}
	n := &Notifier{
		Base:   NewBase(p[0], clock),
		wfd:    p[1],
		notify: fn,
	}
	n.SetEnabled(true)
	return n, nil
}

// Notify schedules the callback. A full pipe already guarantees a pending
// wakeup, so EAGAIN is ignored.
func (n *Notifier) Notify() {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.wfd >= 0 {
		_, _ = unix.Write(n.wfd, []byte{1})
	}
}

// OnReadable drains the pipe and runs the callback once.
func (n *Notifier) OnReadable() {
	var buf [64]byte
	for {
		k, err := unix.Read(n.Fd(), buf[:])
		if err != nil || k == 0 {
			break
		}
	}
	if n.notify != nil {
		n.notify()
	}
}

func (n *Notifier) OnWritable()       {}
func (n *Notifier) OnError()          { n.SetEnabled(false) }
func (n *Notifier) OnTimer(_ TimerID) {}

// Close closes both ends of the pipe. Notify after Close is a no-op.
func (n *Notifier) Close() error {
	err := n.Base.Close()
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.wfd >= 0 {
		if cerr := unix.Close(n.wfd); err == nil {
			err = cerr
		}
		n.wfd = -1
	}
	return err
}
