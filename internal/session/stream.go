package session

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/acolita/adbwifi/internal/buffer"
	"github.com/acolita/adbwifi/internal/logging"
	"github.com/acolita/adbwifi/internal/ports"
	"github.com/acolita/adbwifi/internal/reactor"
	"github.com/acolita/adbwifi/internal/task"
)

// maxReadPerEvent bounds how much one readable event may pull from a stream
// before control returns to the loop.
const maxReadPerEvent = 10 << 10

// streamOwner receives the events of the stream handlers.
type streamOwner interface {
	streamData(s task.Stream, buf *buffer.ReadBuffer)
	streamTimer(s task.Stream, id reactor.TimerID)
	streamFailed(s task.Stream, err error)
	stdinClosed()
}

type ioFunc func(fd int, p []byte) (int, error)

// inputStream feeds the child's stdin from a write buffer.
type inputStream struct {
	reactor.Base
	owner streamOwner
	buf   *buffer.WriteBuffer
	write ioFunc
	log   *slog.Logger
}

func newInputStream(fd int, owner streamOwner, clock ports.Clock, log *slog.Logger) *inputStream {
	return &inputStream{
		Base:  reactor.NewBase(fd, clock),
		owner: owner,
		buf:   buffer.NewWriteBuffer(buffer.DefaultReserve),
		write: unix.Write,
		log:   log.With(slog.String("stream", task.Stdin.String())),
	}
}

// queue appends p and requests write readiness.
func (s *inputStream) queue(p []byte) {
	if len(p) == 0 {
		return
	}
	s.buf.Append(p, true)
	s.SetWriteRequest(true)
}

// writeOnce performs a single write of pending data. It returns false on a
// non-retryable error.
func (s *inputStream) writeOnce() (bool, error) {
	data := s.buf.Bytes()
	if len(data) == 0 {
		s.SetWriteRequest(false)
		return true, nil
	}
	n, err := s.write(s.Fd(), data)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return true, nil
	case err != nil:
		return false, err
	}
	s.log.Debug("wrote", slog.Int("bytes", n), slog.String("hex", logging.HexDump(data[:n], 32)))
	s.buf.Consume(n, true)
	if s.buf.Empty() {
		s.SetWriteRequest(false)
	}
	return true, nil
}

// flush writes as much pending data as the descriptor accepts right now.
func (s *inputStream) flush() {
	for s.Fd() >= 0 && !s.buf.Empty() {
		before := s.buf.FilledSize()
		if ok, _ := s.writeOnce(); !ok || s.buf.FilledSize() == before {
			return
		}
	}
}

func (s *inputStream) OnWritable() {
	if ok, err := s.writeOnce(); !ok {
		s.owner.streamFailed(task.Stdin, fmt.Errorf("%w: stdin: %w", ErrWrite, err))
	}
}

// OnReadable only happens on a pipe when the reading end is gone.
func (s *inputStream) OnReadable() {
	s.hangup("stdin closed by child")
}

func (s *inputStream) OnError() {
	s.hangup("stdin error")
}

// hangup handles the child giving up its end of stdin. Children that never
// read stdin do this when they exit; it is only a failure while data is still
// queued for them.
func (s *inputStream) hangup(reason string) {
	if s.buf.Empty() {
		s.log.Debug(reason)
		s.owner.stdinClosed()
		return
	}
	s.owner.streamFailed(task.Stdin, fmt.Errorf("%w: %s with %d bytes pending", ErrWrite, reason, s.buf.FilledSize()))
}

func (s *inputStream) OnTimer(id reactor.TimerID) {
	s.owner.streamTimer(task.Stdin, id)
}

func (s *inputStream) release() {
	s.Close()
	s.buf.Release()
}

// outputStream collects one of the child's output streams.
type outputStream struct {
	reactor.Base
	stream task.Stream
	owner  streamOwner
	buf    *buffer.ReadBuffer
	read   ioFunc
	log    *slog.Logger
}

func newOutputStream(st task.Stream, fd int, owner streamOwner, clock ports.Clock, log *slog.Logger) *outputStream {
	return &outputStream{
		Base:   reactor.NewBase(fd, clock),
		stream: st,
		owner:  owner,
		buf:    buffer.NewReadBuffer(buffer.DefaultReserve),
		read:   unix.Read,
		log:    log.With(slog.String("stream", st.String())),
	}
}

// OnReadable reads until the descriptor runs dry, a short read, or the per-event
// cap, then hands everything unconsumed to the owner. End of stream is reported
// after the data read before it.
func (s *outputStream) OnReadable() {
	var (
		total   int
		readErr error
	)
	for total < maxReadPerEvent {
		if s.buf.RestSize() == 0 {
			s.buf.Reserve(((2*s.buf.FilledSize())>>10+1)<<10, true)
		}
		free := s.buf.Free()
		if room := maxReadPerEvent - total; len(free) > room {
			free = free[:room]
		}
		n, err := s.read(s.Fd(), free)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			break
		}
		if err != nil {
			readErr = fmt.Errorf("%w: %s: %w", ErrRead, s.stream, err)
			break
		}
		if n == 0 {
			readErr = fmt.Errorf("%w: %s: end of stream", ErrRead, s.stream)
			break
		}
		s.buf.AddFilled(n)
		total += n
		if n < len(free) {
			break
		}
	}

	if total > 0 {
		s.log.Debug("read", slog.Int("bytes", total), slog.Int("buffered", s.buf.FilledSize()),
			slog.String("data", logging.Truncate(string(s.buf.Bytes()[s.buf.FilledSize()-total:]), 120)))
		s.owner.streamData(s.stream, s.buf)
	}
	if readErr != nil && s.Enabled() {
		s.owner.streamFailed(s.stream, readErr)
	}
}

func (s *outputStream) OnWritable() {}

func (s *outputStream) OnError() {
	s.owner.streamFailed(s.stream, fmt.Errorf("%w: %s: descriptor error", ErrRead, s.stream))
}

func (s *outputStream) OnTimer(id reactor.TimerID) {
	s.owner.streamTimer(s.stream, id)
}

func (s *outputStream) release() {
	s.Close()
	if tail := s.buf.Bytes(); len(tail) > 0 {
		s.log.Debug("discarding unconsumed output", slog.String("data", logging.Truncate(string(tail), 256)))
	}
	s.buf.Release()
}
