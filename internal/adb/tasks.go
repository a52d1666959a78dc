package adb

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/acolita/adbwifi/internal/prompt"
	"github.com/acolita/adbwifi/internal/reactor"
	"github.com/acolita/adbwifi/internal/task"
)

// stepTimer is the id of the deadline every step arms on the stdout handler.
const stepTimer reactor.TimerID = 10

var (
	lineFeed = []byte("\n")
	exitCmd  = []byte("\nexit\n")
	ctrlC    = []byte{0x03}
)

// completeLines splits data into the complete lines it holds and returns them
// with the number of bytes they span. Carriage returns are stripped.
func completeLines(data []byte) ([]string, int) {
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil, 0
	}
	var lines []string
	for _, l := range bytes.Split(data[:end], lineFeed) {
		if l = bytes.TrimRight(l, "\r"); len(l) > 0 {
			lines = append(lines, string(l))
		}
	}
	return lines, end + 1
}

// WaitPrompt confirms the interactive shell answers: it waits for a prompt,
// sends an empty line and waits for the prompt again.
type WaitPrompt struct {
	task.Base
	detector *prompt.Detector
	timeouts Timeouts
	log      *slog.Logger
	found    int
	cleaned  bool
}

// NewWaitPrompt returns the prompt check step.
func NewWaitPrompt(ctx task.Context, detector *prompt.Detector, timeouts Timeouts, log *slog.Logger) *WaitPrompt {
	if detector == nil {
		detector = prompt.NewDetector()
	}
	return &WaitPrompt{
		Base:     task.Base{Ctx: ctx},
		detector: detector,
		timeouts: timeouts.withDefaults(),
		log:      log,
	}
}

func (w *WaitPrompt) Start() task.Verdict {
	if err := w.Ctx.StartTimer(task.Stdout, stepTimer, w.timeouts.FirstPrompt); err != nil {
		w.log.Debug("arm prompt timer", slog.String("error", err.Error()))
		return task.Fail
	}
	return task.Continue
}

func (w *WaitPrompt) OnDataReady(s task.Stream, data []byte) (task.Verdict, int) {
	if s != task.Stdout {
		return task.Continue, len(data)
	}
	det := w.detector.Detect(string(data))
	if det == nil {
		_, n := completeLines(data)
		return task.Continue, n
	}

	w.found++
	if w.found == 1 {
		w.log.Debug("found first prompt", slog.String("prompt", det.MatchedText))
		if err := w.Ctx.WriteStdin(lineFeed); err != nil {
			return task.Fail, 0
		}
		if err := w.Ctx.StartTimer(task.Stdout, stepTimer, w.timeouts.SecondPrompt); err != nil {
			return task.Fail, 0
		}
		return task.Continue, len(data)
	}
	w.log.Debug("found second prompt", slog.String("prompt", det.MatchedText))
	return task.Next, len(data)
}

func (w *WaitPrompt) OnTimer(task.Stream, reactor.TimerID) task.Verdict {
	w.log.Info("wait for prompt timed out", slog.Int("prompts_seen", w.found))
	return task.Fail
}

// Cleanup leaves the shell and disarms the step deadline.
func (w *WaitPrompt) Cleanup() {
	if w.cleaned {
		return
	}
	w.cleaned = true
	w.found = 0
	w.Ctx.StopTimer(task.Stdout, stepTimer)
	_ = w.Ctx.WriteStdin(exitCmd)
}

// LaunchActivity runs "am start" for the agent and waits for the activity
// manager to accept the intent.
type LaunchActivity struct {
	task.Base
	mode     Mode
	params   Params
	timeouts Timeouts
	log      *slog.Logger
	cleaned  bool
}

// NewLaunchActivity returns the intent step.
func NewLaunchActivity(ctx task.Context, mode Mode, p Params, timeouts Timeouts, log *slog.Logger) *LaunchActivity {
	return &LaunchActivity{
		Base:     task.Base{Ctx: ctx},
		mode:     mode,
		params:   p,
		timeouts: timeouts.withDefaults(),
		log:      log,
	}
}

func (l *LaunchActivity) Start() task.Verdict {
	// Timers live on the stream handlers, which the launch replaces.
	if err := l.Ctx.Launch(IntentArgs(l.mode, l.params)); err != nil {
		l.log.Warn("launch activity", slog.String("error", err.Error()))
		return task.Fail
	}
	if err := l.Ctx.StartTimer(task.Stdout, stepTimer, l.timeouts.Launch); err != nil {
		l.log.Debug("arm launch timer", slog.String("error", err.Error()))
		return task.Fail
	}
	l.log.Debug("activity launch requested", slog.String("mode", string(l.mode)))
	return task.Continue
}

func (l *LaunchActivity) OnDataReady(_ task.Stream, data []byte) (task.Verdict, int) {
	lines, n := completeLines(data)
	for _, line := range lines {
		l.log.Debug("am", slog.String("line", line))
		switch {
		case strings.HasPrefix(strings.TrimSpace(line), "Error"),
			strings.Contains(line, "Exception"):
			l.log.Warn("activity manager refused the intent", slog.String("line", line))
			return task.Fail, 0
		case strings.HasPrefix(strings.TrimSpace(line), "Starting: Intent"):
			return task.Next, n
		}
	}
	return task.Continue, n
}

func (l *LaunchActivity) OnTimer(task.Stream, reactor.TimerID) task.Verdict {
	l.log.Info("adb hangs")
	return task.Fail
}

func (l *LaunchActivity) Cleanup() {
	if l.cleaned {
		return
	}
	l.cleaned = true
	l.Ctx.StopTimer(task.Stdout, stepTimer)
	_ = l.Ctx.WriteStdin(ctrlC)
}

// WaitLog follows logcat until the agent reports the end of this run.
type WaitLog struct {
	task.Base
	mode     Mode
	params   Params
	timeouts Timeouts
	log      *slog.Logger
	cleaned  bool
}

// NewWaitLog returns the completion step.
func NewWaitLog(ctx task.Context, mode Mode, p Params, timeouts Timeouts, log *slog.Logger) *WaitLog {
	return &WaitLog{
		Base:     task.Base{Ctx: ctx},
		mode:     mode,
		params:   p,
		timeouts: timeouts.withDefaults(),
		log:      log,
	}
}

func (w *WaitLog) Start() task.Verdict {
	if err := w.Ctx.Launch(LogcatArgs()); err != nil {
		w.log.Warn("launch logcat", slog.String("error", err.Error()))
		return task.Fail
	}
	if err := w.Ctx.StartTimer(task.Stdout, stepTimer, w.timeouts.Logcat); err != nil {
		return task.Fail
	}
	return task.Continue
}

func (w *WaitLog) OnDataReady(s task.Stream, data []byte) (task.Verdict, int) {
	lines, n := completeLines(data)
	if s != task.Stdout {
		return task.Continue, n
	}
	for _, line := range lines {
		if !strings.Contains(line, AgentTag) {
			continue
		}
		w.log.Debug("agent", slog.String("line", line))
		if w.matches(line) {
			w.log.Info("agent finished", slog.String("mode", string(w.mode)), slog.String("ssid", w.params.SSID))
			return task.Next, n
		}
	}
	return task.Continue, n
}

func (w *WaitLog) matches(line string) bool {
	return strings.Contains(line, w.params.UniqTag+" "+w.mode.Signature())
}

func (w *WaitLog) OnTimer(task.Stream, reactor.TimerID) task.Verdict {
	w.log.Info("operation timed out, no answer from the agent")
	return task.Fail
}

func (w *WaitLog) Cleanup() {
	if w.cleaned {
		return
	}
	w.cleaned = true
	w.Ctx.StopTimer(task.Stdout, stepTimer)
	_ = w.Ctx.WriteStdin(ctrlC)
}
