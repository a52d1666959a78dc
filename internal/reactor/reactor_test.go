package reactor

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/acolita/adbwifi/internal/testing/fakes/fakeclock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testHandler struct {
	Base
	events  []string
	fired   []TimerID
	onRead  func(h *testHandler)
	onTimer func(h *testHandler, id TimerID)
}

func (h *testHandler) OnReadable() {
	h.events = append(h.events, "read")
	if h.onRead != nil {
		h.onRead(h)
	}
}

func (h *testHandler) OnWritable() {
	h.events = append(h.events, "write")
	h.SetWriteRequest(false)
}

func (h *testHandler) OnError() {
	h.events = append(h.events, "error")
	h.SetEnabled(false)
}

func (h *testHandler) OnTimer(id TimerID) {
	h.fired = append(h.fired, id)
	if h.onTimer != nil {
		h.onTimer(h, id)
	}
}

func newTestHandler(fd int, clock *fakeclock.Clock) *testHandler {
	h := &testHandler{}
	if clock != nil {
		h.Base = NewBase(fd, clock)
	} else {
		h.Base = NewBase(fd, nil)
	}
	h.SetEnabled(true)
	return h
}

func pipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

// dupFd gives a handler its own descriptor so Close in the handler does not
// race with the test cleanup.
func dupFd(t *testing.T, fd int) int {
	t.Helper()
	d, err := unix.Dup(fd)
	require.NoError(t, err)
	return d
}

// ---------------------------------------------------------------------------
// TimerSet
// ---------------------------------------------------------------------------

func TestTimerSet_ResetPreviousKeepsLatest(t *testing.T) {
	var s TimerSet
	s.Start(7, epoch.Add(time.Second), true)
	s.Start(7, epoch.Add(3*time.Second), true)

	assert.Equal(t, 1, s.Count(7))
	d, ok := s.Deadline(7)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(3*time.Second), d)
}

func TestTimerSet_WithoutResetDuplicates(t *testing.T) {
	var s TimerSet
	s.Start(7, epoch.Add(time.Second), false)
	s.Start(7, epoch.Add(2*time.Second), false)
	s.Start(8, epoch.Add(500*time.Millisecond), false)

	assert.Equal(t, 2, s.Count(7))
	assert.Equal(t, 2, s.Stop(7))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0, s.Stop(7))
}

func TestTimerSet_PopExpiredOrder(t *testing.T) {
	var s TimerSet
	s.Start(3, epoch.Add(3*time.Second), false)
	s.Start(1, epoch.Add(1*time.Second), false)
	s.Start(2, epoch.Add(1*time.Second), false)

	_, ok := s.PopExpired(epoch)
	assert.False(t, ok, "nothing is due before the first deadline")

	var got []TimerID
	for {
		id, ok := s.PopExpired(epoch.Add(5 * time.Second))
		if !ok {
			break
		}
		got = append(got, id)
	}
	assert.Equal(t, []TimerID{1, 2, 3}, got, "equal deadlines keep insertion order")
	_, ok = s.Closest()
	assert.False(t, ok)
}

func TestCheckTimers_Reentrant(t *testing.T) {
	clock := fakeclock.New(epoch)
	r, _ := pipe(t)
	h := newTestHandler(dupFd(t, r), clock)
	defer h.Close()

	h.StartTimer(1, time.Second, true)
	h.onTimer = func(h *testHandler, id TimerID) {
		if id == 1 {
			h.StartTimer(2, 0, true)
		}
	}

	assert.Equal(t, 0, CheckTimers(h, clock.Now()))
	clock.Advance(time.Second)
	assert.Equal(t, 2, CheckTimers(h, clock.Now()))
	assert.Equal(t, []TimerID{1, 2}, h.fired)
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func TestPoller_AddAssignsIncreasingIDs(t *testing.T) {
	p := New(Options{SingleThreaded: true})
	r1, _ := pipe(t)
	r2, _ := pipe(t)
	h1 := newTestHandler(dupFd(t, r1), nil)
	h2 := newTestHandler(dupFd(t, r2), nil)
	defer h1.Close()
	defer h2.Close()

	id1 := p.Add(h1)
	id2 := p.Add(h2)
	assert.NotEqual(t, InvalidID, id1)
	assert.Greater(t, id2, id1)
	assert.Equal(t, 2, p.Len())

	p.Remove(id1)
	assert.Equal(t, 1, p.Len())
	p.Remove(id1)
	assert.Equal(t, 1, p.Len())
}

func TestPoller_AddRejectsNilAndReleased(t *testing.T) {
	p := New(Options{})
	assert.Equal(t, InvalidID, p.Add(nil))

	r, _ := pipe(t)
	h := newTestHandler(dupFd(t, r), nil)
	require.NoError(t, h.Close())
	assert.Equal(t, InvalidID, p.Add(h))
}

func TestPoller_IDsWrapAndSkipInvalid(t *testing.T) {
	p := New(Options{SingleThreaded: true})
	p.seq = math.MaxUint32 - 1

	r, _ := pipe(t)
	h := newTestHandler(dupFd(t, r), nil)
	defer h.Close()

	assert.Equal(t, ID(math.MaxUint32), p.Add(h))
	assert.Equal(t, ID(1), p.Add(h))
	assert.Equal(t, ID(2), p.Add(h))
}

func TestPoller_IDsSkipCollisions(t *testing.T) {
	p := New(Options{SingleThreaded: true})
	r, _ := pipe(t)
	h := newTestHandler(dupFd(t, r), nil)
	defer h.Close()

	first := p.Add(h)
	p.seq = 0
	assert.NotEqual(t, first, p.Add(h))
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func TestPoller_ReleasedHandlerIsOmitted(t *testing.T) {
	p := New(Options{})
	r, w := pipe(t)
	h := newTestHandler(dupFd(t, r), nil)
	require.NotEqual(t, InvalidID, p.Add(h))

	_, err := unix.Write(w, []byte("data"))
	require.NoError(t, err)

	// The owner drops the handler before the loop sees the readiness.
	require.NoError(t, h.Close())

	n, err := p.PollOnce(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, h.events)
	assert.Equal(t, 0, p.Len())
}

func TestPoller_DisabledHandlerNotPolled(t *testing.T) {
	p := New(Options{})
	r, w := pipe(t)
	h := newTestHandler(dupFd(t, r), nil)
	defer h.Close()
	p.Add(h)
	h.SetEnabled(false)

	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)

	n, err := p.PollOnce(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, h.events)
}

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fds[1]) })
	return fds[0], fds[1]
}

func TestPoller_ReadBeforeWrite(t *testing.T) {
	p := New(Options{})
	a, b := socketpair(t)
	h := newTestHandler(a, nil)
	defer h.Close()
	h.SetWriteRequest(true)
	h.onRead = func(h *testHandler) {
		var buf [16]byte
		unix.Read(h.Fd(), buf[:])
	}
	p.Add(h)

	_, err := unix.Write(b, []byte("ping"))
	require.NoError(t, err)

	_, err = p.PollOnce(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, h.events)
}

func TestPoller_DisableSuppressesLaterCallbacks(t *testing.T) {
	p := New(Options{})
	a, b := socketpair(t)
	h := newTestHandler(a, nil)
	defer h.Close()
	h.SetWriteRequest(true)
	h.onRead = func(h *testHandler) { h.SetEnabled(false) }
	p.Add(h)

	_, err := unix.Write(b, []byte("ping"))
	require.NoError(t, err)

	_, err = p.PollOnce(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, h.events)
}

func TestPoller_WriteOnlyIgnoresInput(t *testing.T) {
	p := New(Options{})
	a, b := socketpair(t)
	h := newTestHandler(a, nil)
	defer h.Close()
	h.SetWriteOnly(true)
	p.Add(h)

	_, err := unix.Write(b, []byte("ping"))
	require.NoError(t, err)

	_, err = p.PollOnce(0)
	require.NoError(t, err)
	assert.Empty(t, h.events)
}

func TestPoller_HangupIsReadable(t *testing.T) {
	p := New(Options{})
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	h := newTestHandler(fds[0], nil)
	defer h.Close()
	h.onRead = func(h *testHandler) { h.SetEnabled(false) }
	p.Add(h)

	require.NoError(t, unix.Close(fds[1]))

	_, err := p.PollOnce(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, h.events)
}

// ---------------------------------------------------------------------------
// Timers through the poller
// ---------------------------------------------------------------------------

func TestPoller_NoTimerFiresBeforeDeadline(t *testing.T) {
	clock := fakeclock.New(epoch)
	p := New(Options{Clock: clock})
	r, _ := pipe(t)
	h := newTestHandler(dupFd(t, r), clock)
	defer h.Close()
	h.StartTimer(1, time.Hour, true)
	p.Add(h)

	clock.Advance(time.Hour - time.Millisecond)
	_, err := p.PollOnce(0)
	require.NoError(t, err)
	assert.Empty(t, h.fired)
}

func TestPoller_SimultaneousTimersFireInOnePass(t *testing.T) {
	clock := fakeclock.New(epoch)
	p := New(Options{Clock: clock})

	var handlers []*testHandler
	for i := 0; i < 3; i++ {
		r, _ := pipe(t)
		h := newTestHandler(dupFd(t, r), clock)
		defer h.Close()
		h.StartTimer(TimerID(10+i), 100*time.Millisecond, true)
		p.Add(h)
		handlers = append(handlers, h)
	}

	clock.Advance(100 * time.Millisecond)
	_, err := p.PollOnce(Infinite)
	require.NoError(t, err)

	for i, h := range handlers {
		assert.Equal(t, []TimerID{TimerID(10 + i)}, h.fired)
	}
}

func TestPoller_SingleDueHandlerOnlyFiresItself(t *testing.T) {
	clock := fakeclock.New(epoch)
	p := New(Options{Clock: clock})

	r1, _ := pipe(t)
	due := newTestHandler(dupFd(t, r1), clock)
	defer due.Close()
	due.StartTimer(1, 10*time.Millisecond, true)
	p.Add(due)

	r2, _ := pipe(t)
	later := newTestHandler(dupFd(t, r2), clock)
	defer later.Close()
	later.StartTimer(2, time.Hour, true)
	p.Add(later)

	clock.Advance(10 * time.Millisecond)
	_, err := p.PollOnce(Infinite)
	require.NoError(t, err)
	assert.Equal(t, []TimerID{1}, due.fired)
	assert.Empty(t, later.fired)
}

func TestPoller_TimerClampsInfiniteWait(t *testing.T) {
	p := New(Options{})
	r, _ := pipe(t)
	h := newTestHandler(dupFd(t, r), nil)
	defer h.Close()
	h.StartTimer(5, 30*time.Millisecond, true)
	h.onTimer = func(h *testHandler, _ TimerID) { h.SetEnabled(false) }
	p.Add(h)

	start := time.Now()
	require.NoError(t, p.Run())
	assert.Equal(t, []TimerID{5}, h.fired)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPoller_RunReturnsWhenEmpty(t *testing.T) {
	p := New(Options{})
	done := make(chan error, 1)
	go func() { done <- p.Run() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return with no handlers")
	}
}

// ---------------------------------------------------------------------------
// Notifier
// ---------------------------------------------------------------------------

func TestNotifier_WakesLoop(t *testing.T) {
	p := New(Options{})
	calls := 0
	var n *Notifier
	n, err := NewNotifier(nil, func() {
		calls++
		n.SetEnabled(false)
	})
	require.NoError(t, err)
	defer n.Close()
	p.Add(n)

	go func() {
		time.Sleep(20 * time.Millisecond)
		n.Notify()
		n.Notify()
	}()

	require.NoError(t, p.Run())
	assert.Equal(t, 1, calls)
}

func TestNotifier_NotifyAfterClose(t *testing.T) {
	n, err := NewNotifier(nil, nil)
	require.NoError(t, err)
	require.NoError(t, n.Close())
	assert.NotPanics(t, n.Notify)
	assert.NoError(t, n.Close())
}

func TestNotifier_NotifyRacingCloseLeavesReusedFdAlone(t *testing.T) {
	n, err := NewNotifier(nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				n.Notify()
			}
		}()
	}
	require.NoError(t, n.Close())

	// The freed descriptor numbers are handed out again here.
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	wg.Wait()
	for range 10 {
		n.Notify()
	}

	var buf [16]byte
	_, err = unix.Read(p[0], buf[:])
	assert.ErrorIs(t, err, unix.EAGAIN)
}
