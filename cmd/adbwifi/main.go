// adbwifi joins or leaves a WiFi network on an Android device over adb.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/acolita/adbwifi/internal/adapters/realdialog"
	"github.com/acolita/adbwifi/internal/adapters/realfs"
	"github.com/acolita/adbwifi/internal/config"
	"github.com/acolita/adbwifi/internal/logging"
	"github.com/acolita/adbwifi/internal/ports"
	"github.com/acolita/adbwifi/internal/recovery"
)

// Version information - set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// Exit statuses besides the session's own 0/1.
const (
	exitUsage    = 1
	exitNotStart = 255
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError carries the process exit status of a failed command and the
// recovery hints for it.
type exitError struct {
	code  int
	err   error
	hints []*recovery.Suggestion
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func run(args []string, stdout, stderr io.Writer) int {
	a := newApp(stderr)
	cmd := a.rootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	var ee *exitError
	if !errors.As(err, &ee) {
		return exitUsage
	}
	for _, h := range ee.hints {
		fmt.Fprintf(stderr, "hint: %s. %s\n", h.Problem, h.Explanation)
		for _, c := range h.Commands {
			fmt.Fprintf(stderr, "  $ %s\n", c)
		}
	}
	return ee.code
}

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	adb        string
	debug      bool
	logFormat  string
	tty        bool
	record     string
}

// app holds what the commands need; tests swap the collaborators.
type app struct {
	fs          ports.FileSystem
	dialog      ports.DialogProvider
	interactive func() bool
	stderr      io.Writer

	opts rootOptions
	cfg  *config.Config
	log  *slog.Logger
}

func newApp(stderr io.Writer) *app {
	return &app{
		fs:     realfs.New(),
		dialog: realdialog.New(),
		interactive: func() bool {
			fd := os.Stdin.Fd()
			return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
		},
		stderr: stderr,
		log:    slog.New(slog.DiscardHandler),
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "adbwifi",
		Short:         "Join or leave a WiFi network on an Android device over adb",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetVersionTemplate(fmt.Sprintf("adbwifi {{.Version}} (%s)\n", GitCommit))

	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.configPath, "config", "", "Path to configuration file (default $XDG_CONFIG_HOME/adbwifi/config.yaml)")
	pf.StringVar(&a.opts.adb, "adb", "", "adb executable (name or path)")
	pf.BoolVar(&a.opts.debug, "debug", false, "Enable debug logging")
	pf.StringVar(&a.opts.logFormat, "log-format", "", "Log format: text or json")
	pf.BoolVar(&a.opts.tty, "tty", true, "Run the interactive adb shell on a pseudo-terminal")
	pf.StringVar(&a.opts.record, "record", "", "Write an asciicast recording of the adb traffic to this directory")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		return a.setup(cmd)
	}

	root.AddCommand(
		a.connectCommand(),
		a.disconnectCommand(),
		a.forgetCommand(),
	)
	return root
}

// setup loads the configuration, applies flag overrides and starts logging.
func (a *app) setup(cmd *cobra.Command) error {
	path := a.opts.configPath
	if path == "" {
		path = config.DefaultConfigPath(a.fs)
	}
	cfg, err := config.Load(path, a.fs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if a.opts.adb != "" {
		cfg.ADB.Command = a.opts.adb
	}
	if a.opts.debug {
		cfg.Logging.Level = "debug"
	}
	if a.opts.logFormat != "" {
		cfg.Logging.Format = a.opts.logFormat
	}
	if a.opts.record != "" {
		cfg.Recording.Dir = a.opts.record
	}
	if cmd.Flags().Changed("tty") {
		cfg.ADB.TTY = a.opts.tty
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.Setup(a.stderr, cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Sanitize)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log.With(slog.String("command", cmd.Name()))
	a.log.Debug("configuration loaded", slog.String("path", path))
	return nil
}
