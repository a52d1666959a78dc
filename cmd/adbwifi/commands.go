package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/acolita/adbwifi/internal/adapters/realclock"
	"github.com/acolita/adbwifi/internal/adb"
	"github.com/acolita/adbwifi/internal/logging"
	"github.com/acolita/adbwifi/internal/process"
	"github.com/acolita/adbwifi/internal/prompt"
	"github.com/acolita/adbwifi/internal/reactor"
	"github.com/acolita/adbwifi/internal/recording"
	"github.com/acolita/adbwifi/internal/recovery"
	"github.com/acolita/adbwifi/internal/security"
	"github.com/acolita/adbwifi/internal/session"
)

type connectOptions struct {
	ssid     string
	key      string
	authType string
	saveKey  bool
}

func (a *app) connectCommand() *cobra.Command {
	var opts connectOptions
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a WiFi network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.connect(opts, cmd.Flags().Changed("key"))
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.ssid, "ssid", "", "Network name (default wifi.ssid from the config)")
	f.StringVar(&opts.key, "key", "", "Network key; empty for an open network")
	f.StringVar(&opts.authType, "type", "", "Key type: WEP or WPA (default wifi.auth_type from the config)")
	f.BoolVar(&opts.saveKey, "save-key", false, "Store the key in the OS keyring after a successful join")
	return cmd
}

func (a *app) disconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Leave the current WiFi network",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			p := adb.Params{UniqTag: adb.NewUniqTag()}
			return a.runMode(adb.ModeDisconnect, p)
		},
	}
}

func (a *app) forgetCommand() *cobra.Command {
	var ssid string
	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Remove a stored network key from the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if ssid == "" {
				ssid = a.cfg.WiFi.SSID
			}
			if err := security.NewKeyringStore(a.log).DeleteNetworkKey(ssid); err != nil {
				return fmt.Errorf("forget %q: %w", ssid, err)
			}
			a.log.Info("network key removed", slog.String("ssid", ssid))
			return nil
		},
	}
	cmd.Flags().StringVar(&ssid, "ssid", "", "Network name (default wifi.ssid from the config)")
	return cmd
}

func (a *app) connect(opts connectOptions, keyGiven bool) error {
	ssid := opts.ssid
	if ssid == "" {
		ssid = a.cfg.WiFi.SSID
	}
	if strings.TrimSpace(ssid) == "" {
		return errors.New("no network name: pass --ssid or set wifi.ssid")
	}
	authName := opts.authType
	if authName == "" {
		authName = a.cfg.WiFi.AuthType
	}
	auth, err := adb.ParseAuthType(authName)
	if err != nil {
		return err
	}

	var given []byte
	if keyGiven {
		given = []byte(opts.key)
	}
	key, err := a.resolveKey(ssid, given)
	if err != nil {
		return err
	}
	defer security.WipeBytes(key)

	p := adb.Params{
		SSID:     ssid,
		Password: string(key),
		AuthType: auth,
		UniqTag:  adb.NewUniqTag(),
	}
	if err := p.Validate(adb.ModeConnect); err != nil {
		return err
	}
	if err := a.runMode(adb.ModeConnect, p); err != nil {
		return err
	}

	if opts.saveKey && len(key) > 0 {
		if err := security.NewKeyringStore(a.log).StoreNetworkKey(ssid, key); err != nil {
			a.log.Warn("network key not saved", slog.String("ssid", ssid), slog.String("error", err.Error()))
		}
	}
	return nil
}

// resolveKey returns the network key from, in order: the --key flag, the
// environment variable named by wifi.password_env, the OS keyring and an
// interactive prompt. No source at all means an open network.
func (a *app) resolveKey(ssid string, given []byte) ([]byte, error) {
	if given != nil {
		return given, nil
	}
	if name := a.cfg.WiFi.PasswordEnv; name != "" {
		if v := a.fs.Getenv(name); v != "" {
			a.log.Debug("network key taken from environment", slog.String("var", name))
			return []byte(v), nil
		}
	}
	if a.cfg.WiFi.UseKeyring {
		store := security.NewKeyringStore(a.log)
		if store.IsEnabled() {
			key, err := store.GetNetworkKey(ssid)
			if err != nil {
				a.log.Warn("keyring lookup failed", slog.String("ssid", ssid), slog.String("error", err.Error()))
			} else if key != nil {
				a.log.Debug("network key taken from keyring", slog.String("ssid", ssid))
				return key, nil
			}
		}
	}
	if a.interactive() {
		key, err := a.dialog.WiFiKey(ssid)
		if err != nil {
			return nil, err
		}
		return []byte(key), nil
	}
	return nil, nil
}

// runMode drives one connect or disconnect session. Failures to bring the
// session up exit with 255; a session that ran exits with its own status.
func (a *app) runMode(mode adb.Mode, p adb.Params) error {
	cfg := a.cfg
	search := append(append([]string{}, cfg.ADB.SearchPaths...), adb.DefaultSearchPaths()...)
	path, err := adb.Locate(cfg.ADB.Command, search, a.fs)
	if err != nil {
		return a.failure(exitNotStart, err, "")
	}

	detector := prompt.NewDetector()
	for _, cp := range cfg.PromptDetection.CustomPatterns {
		if err := detector.AddPatternFromConfig(cp.Name, cp.Regex, cp.Type); err != nil {
			return &exitError{code: exitUsage, err: fmt.Errorf("prompt pattern %q: %w", cp.Name, err)}
		}
	}

	flags := process.DefaultFlags
	switch {
	case cfg.ADB.TTY:
		flags |= process.FlagPTY
	case !cfg.ADB.MergeStderr:
		flags |= process.FlagStderr
	}

	log := a.log.With(slog.String("adb", path))
	sessOpts := []session.Option{
		session.WithArgs(cfg.ADB.ShellArgs...),
		session.WithProcessOptions(process.Options{
			Flags:        flags,
			ReapAttempts: cfg.Process.ReapAttempts,
			ReapInterval: cfg.Process.ReapInterval,
		}),
		session.WithLogger(log),
	}
	if dir := cfg.Recording.Dir; dir != "" {
		rec, err := recording.NewRecorder(dir, string(mode), a.fs, realclock.New())
		if err != nil {
			log.Warn("recording disabled", slog.String("error", err.Error()))
		} else {
			defer rec.Close()
			log.Info("recording session", slog.String("path", rec.Path()))
			sessOpts = append(sessOpts, session.WithRecorder(rec))
		}
	}
	poller := reactor.New(reactor.Options{SingleThreaded: true, Logger: log})
	ctl := session.New(poller, path, sessOpts...)
	script := adb.NewScript(mode, p, adb.ScriptOptions{
		Timeouts: adb.Timeouts{
			FirstPrompt:  cfg.Timeouts.FirstPrompt,
			SecondPrompt: cfg.Timeouts.SecondPrompt,
			Launch:       cfg.Timeouts.Launch,
			Logcat:       cfg.Timeouts.Logcat,
		},
		Detector: detector,
		Logger:   log,
	})

	log.Info("starting", slog.Any("params", p))
	if err := ctl.Start(script); err != nil {
		return a.failure(exitNotStart, err, ctl.Output())
	}
	if err := ctl.AttachSignals(); err != nil && !errors.Is(err, session.ErrNotRunning) {
		log.Warn("signals not watched", slog.String("error", err.Error()))
	}

	code, err := ctl.Wait()
	if err != nil {
		return a.failure(code, fmt.Errorf("%s: %w", mode, err), ctl.Output())
	}
	log.Info("done", slog.String("mode", string(mode)))
	return nil
}

// failure wraps err with its exit status and the hints the session output
// supports.
func (a *app) failure(code int, err error, output string) error {
	if output != "" {
		a.log.Debug("session output", slog.String("tail", logging.Truncate(output, 512)))
	}
	return &exitError{
		code:  code,
		err:   err,
		hints: recovery.NewAnalyzer().Analyze(err, output),
	}
}
