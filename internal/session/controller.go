// Package session drives a child process through a task.Script on a reactor.
package session

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/acolita/adbwifi/internal/adapters/realclock"
	"github.com/acolita/adbwifi/internal/buffer"
	"github.com/acolita/adbwifi/internal/ports"
	"github.com/acolita/adbwifi/internal/process"
	"github.com/acolita/adbwifi/internal/reactor"
	"github.com/acolita/adbwifi/internal/task"
)

// Controller owns the child process, its stream handlers and the active task.
// All methods other than AttachSignals' signal delivery run on the goroutine
// running the poller.
type Controller struct {
	poller  *reactor.Poller
	command string
	args    []string
	procOpt process.Options
	clock   ports.Clock
	log     *slog.Logger

	child   *process.Child
	stdin   *inputStream
	stdout  *outputStream
	stderr  *outputStream
	handler []reactor.ID
	stdinID reactor.ID

	script    *task.Script
	current   task.Task
	running   bool
	completed bool
	err       error

	signals *signalWatch
	trans   transcript
}

// Option configures a Controller.
type Option func(*Controller)

// WithArgs sets the arguments of the initial child.
func WithArgs(args ...string) Option {
	return func(c *Controller) {
		c.args = args
	}
}

// WithProcessOptions sets how children are spawned and reaped. Stdin and
// stdout are always wired.
func WithProcessOptions(opts process.Options) Option {
	return func(c *Controller) {
		c.procOpt = opts
	}
}

// WithClock sets the clock used by timers and the reap loop.
func WithClock(clock ports.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithRecorder mirrors the session traffic to rec.
func WithRecorder(rec Recorder) Option {
	return func(c *Controller) {
		c.trans.rec = rec
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// New creates a controller that runs command on poller.
func New(poller *reactor.Poller, command string, opts ...Option) *Controller {
	c := &Controller{
		poller:  poller,
		command: command,
		procOpt: process.Options{Flags: process.DefaultFlags},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = realclock.New()
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}
	c.procOpt.Clock = c.clock
	c.procOpt.Logger = c.log
	c.trans.log = c.log
	return c
}

// Running reports whether the session is active.
func (c *Controller) Running() bool { return c.running }

// Pid returns the pid of the current child, or 0.
func (c *Controller) Pid() int {
	if c.child == nil {
		return 0
	}
	return c.child.Pid()
}

// ExitCode is 0 once the script ran to completion and 1 otherwise.
func (c *Controller) ExitCode() int {
	if c.completed {
		return 0
	}
	return 1
}

// Err returns the cause of a failed session.
func (c *Controller) Err() error { return c.err }

// Output returns the most recent output of the session's children.
func (c *Controller) Output() string { return string(c.trans.tail) }

// Start spawns the initial child, registers its streams and starts the first
// step of script. An error means nothing is left running. A first step that
// fails during setup ends the session without an error from Start; see Err.
func (c *Controller) Start(script *task.Script) error {
	if c.running {
		return fmt.Errorf("start %s: session already running", script.Name())
	}
	c.script = script
	c.completed = false
	c.err = nil
	c.trans.tail = c.trans.tail[:0]
	script.Bind(c)
	script.Reset()

	if err := c.spawn(c.args, c.procOpt.Flags); err != nil {
		c.err = err
		return err
	}
	c.running = true
	if err := c.register(); err != nil {
		c.fail(err)
		return err
	}

	c.log.Info("session started",
		slog.String("script", script.Name()),
		slog.String("command", c.command),
		slog.Int("pid", c.child.Pid()),
	)
	c.advance()
	return nil
}

// Run starts script and runs the poller until the session ends.
func (c *Controller) Run(script *task.Script) (int, error) {
	if err := c.Start(script); err != nil {
		return c.ExitCode(), err
	}
	return c.Wait()
}

// Wait runs the poller until the started session ends and returns its exit
// code and failure cause.
func (c *Controller) Wait() (int, error) {
	if err := c.poller.Run(); err != nil {
		c.fail(err)
		return c.ExitCode(), err
	}
	if c.running {
		c.fail(fmt.Errorf("%w: event loop drained", ErrInterrupted))
	}
	return c.ExitCode(), c.err
}

func (c *Controller) spawn(args []string, flags process.Flags) error {
	opts := c.procOpt
	opts.Flags = flags | process.FlagStdin | process.FlagStdout
	child := process.New(opts)
	if err := child.Exec(c.command, args); err != nil {
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	c.child = child
	c.trans.restart(strings.Join(append([]string{c.command}, args[:min(len(args), 2)]...), " "))

	c.stdin = newInputStream(child.TakeStdin(), c, c.clock, c.log)
	if opts.Flags&process.FlagPTY != 0 {
		// Stdout reads the same terminal master.
		c.stdin.SetWriteOnly(true)
	}
	c.stdout = newOutputStream(task.Stdout, child.TakeStdout(), c, c.clock, c.log)
	if fd := child.TakeStderr(); fd >= 0 {
		c.stderr = newOutputStream(task.Stderr, fd, c, c.clock, c.log)
	}
	return nil
}

// stream is the part of a stream handler the controller manages.
type stream interface {
	reactor.Handler
	SetEnabled(bool)
	Close() error
	release()
}

func (c *Controller) streams() []stream {
	var ss []stream
	if c.stdin != nil {
		ss = append(ss, c.stdin)
	}
	if c.stdout != nil {
		ss = append(ss, c.stdout)
	}
	if c.stderr != nil {
		ss = append(ss, c.stderr)
	}
	return ss
}

func (c *Controller) register() error {
	for _, s := range c.streams() {
		s.SetEnabled(true)
		id := c.poller.Add(s)
		if id == reactor.InvalidID {
			return fmt.Errorf("%w: fd %d", ErrRegistration, s.Fd())
		}
		c.handler = append(c.handler, id)
		if s == c.stdin {
			c.stdinID = id
		}
	}
	return nil
}

func (c *Controller) deregister() {
	for _, s := range c.streams() {
		s.SetEnabled(false)
	}
	for _, id := range c.handler {
		c.poller.Remove(id)
	}
	c.handler = nil
	c.stdinID = reactor.InvalidID
}

// closeStreams deregisters and closes the stream handlers and releases their
// buffers.
func (c *Controller) closeStreams() {
	c.deregister()
	for _, s := range c.streams() {
		s.release()
	}
	c.stdin, c.stdout, c.stderr = nil, nil, nil
}

// advance moves past completed steps until one stays in progress, fails, or
// the script is exhausted.
func (c *Controller) advance() {
	for c.running {
		if c.current != nil {
			c.current.Cleanup()
			c.current = nil
		}
		if !c.script.HasNext() {
			c.completed = true
			c.log.Info("script completed", slog.String("script", c.script.Name()))
			c.teardown()
			return
		}
		pos := c.script.Position()
		c.current = c.script.Next()
		c.log.Debug("starting step", slog.Int("step", pos))

		v := c.current.Start()
		if !c.running {
			return
		}
		switch v {
		case task.Continue:
			return
		case task.Fail:
			c.fail(fmt.Errorf("%w: step %d", ErrTaskStart, pos))
			return
		}
	}
}

func (c *Controller) switchTask(v task.Verdict, cause error) {
	if !c.running {
		return
	}
	switch v {
	case task.Continue:
	case task.Next:
		c.advance()
	default:
		c.fail(cause)
	}
}

// fail records cause and tears the session down.
func (c *Controller) fail(cause error) {
	if !c.running {
		return
	}
	if c.err == nil {
		c.err = cause
	}
	c.log.Warn("session failed", slog.String("error", cause.Error()))
	c.teardown()
}

// teardown runs the task cleanup, then drops and closes the streams, then
// terminates and reaps the child.
func (c *Controller) teardown() {
	if !c.running {
		return
	}
	c.running = false
	if c.current != nil {
		c.current.Cleanup()
		c.current = nil
	}
	c.detachSignals()

	c.deregister()
	for _, s := range c.streams() {
		s.Close()
	}
	if c.child != nil {
		c.child.Cleanup(true, unix.SIGTERM)
	}
	for _, s := range c.streams() {
		s.release()
	}
	c.stdin, c.stdout, c.stderr = nil, nil, nil
}

// streamData routes freshly read bytes to the current step.
func (c *Controller) streamData(s task.Stream, buf *buffer.ReadBuffer) {
	if !c.running || c.current == nil {
		return
	}
	c.trans.output(s, buf.Bytes())
	v, n := c.current.OnDataReady(s, buf.Bytes())
	if !c.running {
		return
	}
	if v != task.Fail {
		buf.Cut(min(max(n, 0), buf.FilledSize()), true)
	}
	c.trans.retained(s, buf.FilledSize())
	c.switchTask(v, fmt.Errorf("%w on %s", ErrProtocol, s))
}

func (c *Controller) streamTimer(s task.Stream, id reactor.TimerID) {
	if !c.running || c.current == nil {
		return
	}
	v := c.current.OnTimer(s, id)
	c.switchTask(v, fmt.Errorf("%w: timer %d on %s", ErrTimeout, id, s))
}

func (c *Controller) streamFailed(_ task.Stream, err error) {
	c.fail(err)
}

// stdinClosed drops the stdin handler of a child that closed its end with
// nothing left to write. Output keeps flowing to the current step.
func (c *Controller) stdinClosed() {
	if !c.running || c.stdin == nil {
		return
	}
	c.stdin.SetEnabled(false)
	if c.stdinID != reactor.InvalidID {
		c.poller.Remove(c.stdinID)
		c.handler = slices.DeleteFunc(c.handler, func(id reactor.ID) bool { return id == c.stdinID })
		c.stdinID = reactor.InvalidID
	}
	c.stdin.release()
	c.stdin = nil
}

func (c *Controller) streamHandler(s task.Stream) *reactor.Base {
	switch s {
	case task.Stdin:
		if c.stdin != nil {
			return &c.stdin.Base
		}
	case task.Stdout:
		if c.stdout != nil {
			return &c.stdout.Base
		}
	case task.Stderr:
		if c.stderr != nil {
			return &c.stderr.Base
		}
	}
	return nil
}

// WriteStdin queues p for the child.
func (c *Controller) WriteStdin(p []byte) error {
	if !c.running {
		return fmt.Errorf("%w: %w", ErrWrite, ErrNotRunning)
	}
	if c.stdin == nil {
		return fmt.Errorf("%w: stdin closed by child", ErrWrite)
	}
	c.stdin.queue(p)
	c.trans.input(p)
	return nil
}

// StartTimer arms a timer on the handler of s.
func (c *Controller) StartTimer(s task.Stream, id reactor.TimerID, d time.Duration) error {
	h := c.streamHandler(s)
	if h == nil {
		return fmt.Errorf("start timer on %s: %w", s, ErrNotRunning)
	}
	h.StartTimer(id, d, true)
	return nil
}

// StopTimer cancels a timer armed with StartTimer.
func (c *Controller) StopTimer(s task.Stream, id reactor.TimerID) {
	if h := c.streamHandler(s); h != nil {
		h.StopTimer(id)
	}
}

// Launch replaces the current child with the session command run with args on
// plain pipes. Pending stdin is flushed as far as possible first and the old
// child is given the regular reap budget to exit on its own.
func (c *Controller) Launch(args []string) error {
	if !c.running {
		return ErrNotRunning
	}
	if c.stdin != nil {
		c.stdin.flush()
	}
	c.closeStreams()
	if c.child != nil {
		c.child.Cleanup(false, 0)
	}

	if err := c.spawn(args, c.procOpt.Flags&^process.FlagPTY); err != nil {
		return err
	}
	if err := c.register(); err != nil {
		return err
	}
	c.log.Debug("launched", slog.String("subcommand", strings.Join(args[:min(len(args), 2)], " ")), slog.Int("pid", c.child.Pid()))
	return nil
}

// Stop ends the session; it counts as complete only if no step remains.
func (c *Controller) Stop() {
	if !c.running {
		return
	}
	if c.script != nil && !c.script.HasNext() {
		if c.current != nil {
			c.current.Cleanup()
			c.current = nil
		}
		c.completed = true
		c.teardown()
		return
	}
	c.fail(ErrInterrupted)
}
