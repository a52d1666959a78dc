package session

import "errors"

// Failure causes recorded by a Controller. Err wraps one of these.
var (
	ErrSpawn        = errors.New("spawn failed")
	ErrRegistration = errors.New("handler registration failed")
	ErrRead         = errors.New("read failed")
	ErrWrite        = errors.New("write failed")
	ErrTimeout      = errors.New("step timed out")
	ErrProtocol     = errors.New("unexpected output")
	ErrTaskStart    = errors.New("step setup failed")
	ErrInterrupted  = errors.New("interrupted")
	ErrNotRunning   = errors.New("session not running")
)
