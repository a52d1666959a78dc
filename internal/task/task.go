// Package task defines the steps a session drives a child process through.
package task

import (
	"fmt"
	"time"

	"github.com/acolita/adbwifi/internal/reactor"
)

// Verdict is what a task reports after handling an event.
type Verdict int

const (
	// Next completes the current step; the session advances the script.
	Next Verdict = iota
	// Continue keeps the current step running.
	Continue
	// Fail aborts the session.
	Fail
)

func (v Verdict) String() string {
	switch v {
	case Next:
		return "next"
	case Continue:
		return "continue"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Stream names one of the child's standard streams.
type Stream int

const (
	Stdin Stream = iota
	Stdout
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdin:
		return "stdin"
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// Context is the session as seen by a task.
type Context interface {
	// WriteStdin queues p for the child's stdin.
	WriteStdin(p []byte) error
	// StartTimer arms a one-shot timer on the handler of stream, replacing a
	// pending timer with the same id.
	StartTimer(s Stream, id reactor.TimerID, d time.Duration) error
	// StopTimer cancels a timer armed with StartTimer.
	StopTimer(s Stream, id reactor.TimerID)
	// Launch replaces the running child with the session command run with args.
	Launch(args []string) error
	// Stop asks the session to end after the current callback.
	Stop()
}

// Task is one step of a Script.
//
// Start returns Fail when setup failed and Next when the step is already
// complete. OnDataReady sees every unconsumed byte of stream and returns how
// many of them it consumed; on Fail the bytes are left in the buffer. Cleanup
// is called before the session moves past the task and may be called again.
type Task interface {
	Start() Verdict
	OnDataReady(s Stream, data []byte) (Verdict, int)
	OnTimer(s Stream, id reactor.TimerID) Verdict
	Cleanup()
}

// Base provides the default event handling: unexpected data and elapsed timers
// both fail the step.
type Base struct {
	Ctx Context
}

func (b *Base) Start() Verdict { return Continue }

func (b *Base) OnDataReady(Stream, []byte) (Verdict, int) { return Fail, 0 }

func (b *Base) OnTimer(Stream, reactor.TimerID) Verdict { return Fail }

func (b *Base) Cleanup() {}

// Factory builds a task bound to ctx.
type Factory func(ctx Context) Task
