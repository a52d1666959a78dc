// Package process supervises a single child process wired to the parent through
// pipes or a pseudo-terminal.
package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/acolita/adbwifi/internal/adapters/realclock"
	"github.com/acolita/adbwifi/internal/ports"
)

// Flags select which streams are wired and how.
type Flags uint8

const (
	// FlagStdin wires the child's stdin to a pipe.
	FlagStdin Flags = 1 << iota
	// FlagStdout wires the child's stdout to a pipe.
	FlagStdout
	// FlagStderr gives stderr its own pipe. Without it stderr is merged into stdout.
	FlagStderr
	// FlagNonblock puts the parent-side descriptors in non-blocking mode.
	FlagNonblock
	// FlagPTY runs the child on a pseudo-terminal. Stdin and stdout become two
	// descriptors of the terminal master; stderr is always merged.
	FlagPTY

	DefaultFlags = FlagStdin | FlagStdout | FlagNonblock
)

// Defaults for the reap loop in Wait.
const (
	DefaultReapAttempts = 5
	DefaultReapInterval = 200 * time.Millisecond
)

// State is the lifecycle state of a Child.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrRunning is returned by Exec while a previous child is still recorded.
var ErrRunning = errors.New("child process already running")

// Options configures a Child.
type Options struct {
	Flags Flags
	Dir   string
	Env   []string // defaults to the parent's environment

	ReapAttempts int
	ReapInterval time.Duration

	Clock  ports.Clock
	Logger *slog.Logger
}

// Child is a handle on one spawned process and the parent ends of its streams.
// Descriptors not handed off with the Take methods are closed by Cleanup.
type Child struct {
	opts   Options
	state  State
	pid    int
	stdin  int
	stdout int
	stderr int
	status unix.WaitStatus
	exited bool
}

// New returns a handle; nothing is spawned until Exec.
func New(opts Options) *Child {
	if opts.Flags == 0 {
		opts.Flags = DefaultFlags
	}
	if opts.ReapAttempts <= 0 {
		opts.ReapAttempts = DefaultReapAttempts
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = DefaultReapInterval
	}
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Child{opts: opts, stdin: -1, stdout: -1, stderr: -1}
}

// State returns the lifecycle state.
func (c *Child) State() State { return c.state }

// Pid returns the process id, or 0 when nothing is running.
func (c *Child) Pid() int { return c.pid }

// Flags returns the configured flags.
func (c *Child) Flags() Flags { return c.opts.Flags }

// StdinFd returns the parent end of the child's stdin, or -1.
func (c *Child) StdinFd() int { return c.stdin }

// StdoutFd returns the parent end of the child's stdout, or -1.
func (c *Child) StdoutFd() int { return c.stdout }

// StderrFd returns the parent end of the child's stderr, or -1 when merged.
func (c *Child) StderrFd() int { return c.stderr }

// TakeStdin hands ownership of the stdin descriptor to the caller.
func (c *Child) TakeStdin() int { return take(&c.stdin) }

// TakeStdout hands ownership of the stdout descriptor to the caller.
func (c *Child) TakeStdout() int { return take(&c.stdout) }

// TakeStderr hands ownership of the stderr descriptor to the caller.
func (c *Child) TakeStderr() int { return take(&c.stderr) }

func take(fd *int) int {
	v := *fd
	*fd = -1
	return v
}

// ExitStatus returns the wait status of the last reaped child.
func (c *Child) ExitStatus() (unix.WaitStatus, bool) {
	return c.status, c.exited
}

// fdSet tracks descriptors to close if Exec fails half way.
type fdSet []int

func (s *fdSet) add(fds ...int) { *s = append(*s, fds...) }

func (s fdSet) closeAll() {
	for _, fd := range s {
		if fd >= 0 {
			unix.Close(fd)
		}
	}
}

// Exec resolves command through PATH and starts it with the literal argument
// vector args. On failure every descriptor created here is closed and no
// process is left behind.
func (c *Child) Exec(command string, args []string) error {
	if c.state == StateRunning {
		return ErrRunning
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", command, err)
	}

	var (
		childFds  [3]int
		parentIn  = -1
		parentOut = -1
		parentErr = -1
		sys       = &syscall.SysProcAttr{}
		toClose   fdSet // closed after fork regardless of outcome
		onFailure fdSet // closed only if the spawn fails
	)

	if c.opts.Flags&FlagPTY != 0 {
		ptmx, tty, err := pty.Open()
		if err != nil {
			return fmt.Errorf("open pty: %w", err)
		}
		master := int(ptmx.Fd())
		parentIn, err = unix.FcntlInt(uintptr(master), unix.F_DUPFD_CLOEXEC, 0)
		if err == nil {
			parentOut, err = unix.FcntlInt(uintptr(master), unix.F_DUPFD_CLOEXEC, 0)
		}
		ptmx.Close()
		if err != nil {
			tty.Close()
			(fdSet{parentIn, parentOut}).closeAll()
			return fmt.Errorf("dup pty master: %w", err)
		}
		// tty is an *os.File; keep it alive until the fork is done.
		defer tty.Close()
		slave := int(tty.Fd())
		childFds = [3]int{slave, slave, slave}
		onFailure.add(parentIn, parentOut)
		sys.Setsid = true
		sys.Setctty = true
		sys.Ctty = 0
	} else {
		null := -1
		devNull := func() (int, error) {
			if null < 0 {
				fd, err := unix.Open(os.DevNull, unix.O_RDWR|unix.O_CLOEXEC, 0)
				if err != nil {
					return -1, err
				}
				null = fd
				toClose.add(fd)
			}
			return null, nil
		}
		fail := func(what string, err error) error {
			toClose.closeAll()
			onFailure.closeAll()
			return fmt.Errorf("%s: %w", what, err)
		}

		if c.opts.Flags&FlagStdin != 0 {
			r, w, err := openPipe()
			if err != nil {
				return fail("create stdin pipe", err)
			}
			childFds[0], parentIn = r, w
			toClose.add(r)
			onFailure.add(w)
		} else if childFds[0], err = devNull(); err != nil {
			return fail("open stdin", err)
		}

		if c.opts.Flags&FlagStdout != 0 {
			r, w, err := openPipe()
			if err != nil {
				return fail("create stdout pipe", err)
			}
			childFds[1], parentOut = w, r
			toClose.add(w)
			onFailure.add(r)
		} else if childFds[1], err = devNull(); err != nil {
			return fail("open stdout", err)
		}

		switch {
		case c.opts.Flags&FlagStderr != 0:
			r, w, err := openPipe()
			if err != nil {
				return fail("create stderr pipe", err)
			}
			childFds[2], parentErr = w, r
			toClose.add(w)
			onFailure.add(r)
		case c.opts.Flags&FlagStdout != 0:
			childFds[2] = childFds[1]
		default:
			if childFds[2], err = devNull(); err != nil {
				return fail("open stderr", err)
			}
		}
	}

	env := c.opts.Env
	if env == nil {
		env = os.Environ()
	}
	attr := &syscall.ProcAttr{
		Dir:   c.opts.Dir,
		Env:   env,
		Files: []uintptr{uintptr(childFds[0]), uintptr(childFds[1]), uintptr(childFds[2])},
		Sys:   sys,
	}
	argv := append([]string{command}, args...)

	pid, err := syscall.ForkExec(path, argv, attr)
	toClose.closeAll()
	if err != nil {
		onFailure.closeAll()
		c.opts.Logger.Warn("spawn failed",
			slog.String("command", command),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("spawn %s: %w", command, err)
	}

	if c.opts.Flags&FlagNonblock != 0 {
		for _, fd := range []int{parentIn, parentOut, parentErr} {
			if fd < 0 {
				continue
			}
			if err := unix.SetNonblock(fd, true); err != nil {
				c.opts.Logger.Warn("set nonblock failed", slog.Int("fd", fd), slog.String("error", err.Error()))
			}
		}
	}

	c.pid = pid
	c.state = StateRunning
	c.exited = false
	c.stdin, c.stdout, c.stderr = parentIn, parentOut, parentErr

	c.opts.Logger.Debug("child started",
		slog.String("command", command),
		slog.Int("argc", len(args)),
		slog.Int("pid", pid),
	)
	return nil
}

func openPipe() (r, w int, err error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return p[0], p[1], nil
}

// Cleanup closes the parent descriptors still owned by c, each exactly once,
// then terminates and reaps the child through Wait. It returns Wait's result.
func (c *Child) Cleanup(forceStop bool, sig unix.Signal) bool {
	for _, fd := range []*int{&c.stdin, &c.stdout, &c.stderr} {
		if *fd >= 0 {
			unix.Close(*fd)
			*fd = -1
		}
	}
	return c.Wait(forceStop, sig)
}

// Wait reaps the child. With forceStop it first sends sig (SIGTERM when zero).
// It polls for exit a bounded number of times, sleeping in between, and if the
// child is still alive after the last attempt it is killed with SIGKILL and
// reaped with a blocking wait. The pid is forgotten afterwards no matter what,
// so a second call is a no-op that reports the process as already stopped.
func (c *Child) Wait(forceStop bool, sig unix.Signal) bool {
	if c.state != StateRunning {
		c.opts.Logger.Debug("wait: not running")
		return true
	}
	pid := c.pid
	log := c.opts.Logger.With(slog.Int("pid", pid))

	found := true
	if forceStop {
		if sig == 0 {
			sig = unix.SIGTERM
		}
		if err := unix.Kill(pid, sig); errors.Is(err, unix.ESRCH) {
			found = false
		}
	}

	var (
		ws   unix.WaitStatus
		wpid int
		err  error
	)
	for attempt := 0; attempt < c.opts.ReapAttempts; attempt++ {
		wpid, err = unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			attempt--
			continue
		}
		if err != nil || wpid > 0 {
			break
		}
		if attempt < c.opts.ReapAttempts-1 {
			log.Debug("child still running", slog.Duration("sleep", c.opts.ReapInterval))
			c.opts.Clock.Sleep(c.opts.ReapInterval)
		}
	}

	switch {
	case err != nil:
		if errors.Is(err, unix.ECHILD) {
			log.Debug("no such child or SIGCHLD ignored")
		} else {
			log.Debug("wait4 failed", slog.String("error", err.Error()))
		}
	case wpid == 0 && found:
		if sig != unix.SIGKILL {
			log.Debug("killing child")
			unix.Kill(pid, unix.SIGKILL)
		}
		for {
			wpid, err = unix.Wait4(pid, &ws, 0, nil)
			if !errors.Is(err, unix.EINTR) {
				break
			}
		}
		if wpid != pid {
			log.Debug("final wait failed", slog.Int("ret", wpid), slog.Any("error", err))
		}
	case wpid == 0:
		log.Debug("failed to signal child and it has not exited")
	}

	stopped := wpid == pid
	if stopped {
		c.status = ws
		c.exited = true
		switch {
		case ws.Exited():
			log.Debug("child exited", slog.Int("status", ws.ExitStatus()))
		case ws.Signaled():
			log.Debug("child killed by signal",
				slog.String("signal", ws.Signal().String()),
				slog.Bool("core_dump", ws.CoreDump()),
			)
		}
	}

	c.pid = 0
	c.state = StateStopped
	return stopped
}
