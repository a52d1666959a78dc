package session

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/acolita/adbwifi/internal/reactor"
)

type signalWatch struct {
	notifier *reactor.Notifier
	id       reactor.ID
	ch       chan os.Signal
	done     chan struct{}
}

// AttachSignals fails the session with ErrInterrupted when one of sigs
// (SIGINT and SIGTERM by default) arrives. Delivery is moved onto the loop
// through a reactor.Notifier. The watch ends with the session.
func (c *Controller) AttachSignals(sigs ...os.Signal) error {
	if !c.running {
		return ErrNotRunning
	}
	if c.signals != nil {
		return nil
	}
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	n, err := reactor.NewNotifier(c.clock, func() {
		c.fail(ErrInterrupted)
	})
	if err != nil {
		return fmt.Errorf("attach signals: %w", err)
	}
	id := c.poller.Add(n)
	if id == reactor.InvalidID {
		n.Close()
		return fmt.Errorf("attach signals: %w", ErrRegistration)
	}

	w := &signalWatch{
		notifier: n,
		id:       id,
		ch:       make(chan os.Signal, 1),
		done:     make(chan struct{}),
	}
	signal.Notify(w.ch, sigs...)
	go func() {
		for {
			select {
			case sig := <-w.ch:
				c.log.Debug("signal received", slog.String("signal", sig.String()))
				n.Notify()
			case <-w.done:
				return
			}
		}
	}()
	c.signals = w
	return nil
}

func (c *Controller) detachSignals() {
	w := c.signals
	if w == nil {
		return
	}
	c.signals = nil
	signal.Stop(w.ch)
	close(w.done)
	c.poller.Remove(w.id)
	w.notifier.Close()
}
