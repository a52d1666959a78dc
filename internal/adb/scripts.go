package adb

import (
	"log/slog"

	"github.com/acolita/adbwifi/internal/prompt"
	"github.com/acolita/adbwifi/internal/task"
)

// ScriptOptions tune the steps of a run.
type ScriptOptions struct {
	Timeouts Timeouts
	Detector *prompt.Detector
	Logger   *slog.Logger
}

// NewScript returns the three-step run for mode: check the interactive
// shell, start the agent, wait for its completion line.
func NewScript(mode Mode, p Params, opts ScriptOptions) *task.Script {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(slog.String("mode", string(mode)))
	return task.NewScript(string(mode),
		func(ctx task.Context) task.Task {
			return NewWaitPrompt(ctx, opts.Detector, opts.Timeouts, log)
		},
		func(ctx task.Context) task.Task {
			return NewLaunchActivity(ctx, mode, p, opts.Timeouts, log)
		},
		func(ctx task.Context) task.Task {
			return NewWaitLog(ctx, mode, p, opts.Timeouts, log)
		},
	)
}

// ConnectScript joins the network described by p.
func ConnectScript(p Params, opts ScriptOptions) *task.Script {
	return NewScript(ModeConnect, p, opts)
}

// DisconnectScript leaves the current network.
func DisconnectScript(p Params, opts ScriptOptions) *task.Script {
	return NewScript(ModeDisconnect, p, opts)
}
