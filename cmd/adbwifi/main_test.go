package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/acolita/adbwifi/internal/config"
	"github.com/acolita/adbwifi/internal/security"
	"github.com/acolita/adbwifi/internal/testing/fakes/fakedialog"
	"github.com/acolita/adbwifi/internal/testing/fakes/fakefs"
)

func TestRootCommandVersionFlag(t *testing.T) {
	originalVersion := Version
	defer func() { Version = originalVersion }()
	Version = "v0.1.0-test"

	var stdout, stderr bytes.Buffer
	code := run([]string{"--version"}, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "v0.1.0-test")
}

func TestRootCommandHelpListsSubcommands(t *testing.T) {
	var stdout bytes.Buffer
	code := run([]string{"--help"}, &stdout, &stdout)

	require.Equal(t, 0, code)
	for _, name := range []string{"connect", "disconnect", "forget", "--tty", "--adb"} {
		assert.Contains(t, stdout.String(), name)
	}
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, exitUsage, run([]string{"connect", "--bogus"}, &out, &out))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestConnectWithoutSSIDIsUsageError(t *testing.T) {
	cfg := writeConfig(t, "wifi:\n  ssid: \"\"\n")
	var out bytes.Buffer

	code := run([]string{"--config", cfg, "connect", "--key", ""}, &out, &out)

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, out.String(), "no network name")
}

func TestConnectBadTypeIsUsageError(t *testing.T) {
	cfg := writeConfig(t, "")
	var out bytes.Buffer

	code := run([]string{"--config", cfg, "connect", "--ssid", "x", "--key", "", "--type", "WSA"}, &out, &out)

	assert.Equal(t, exitUsage, code)
}

func TestConnectWithoutADBDoesNotStart(t *testing.T) {
	cfg := writeConfig(t, "")
	var out bytes.Buffer

	code := run([]string{"--config", cfg, "--adb", "/nonexistent/adb", "connect", "--ssid", "x", "--key", ""}, &out, &out)

	assert.Equal(t, exitNotStart, code)
	assert.Contains(t, out.String(), "error: adb executable not found")
	assert.Contains(t, out.String(), "hint: adb executable not found.")
}

// fakeADB answers the interactive shell with a prompt, acknowledges am start
// and prints the agent's completion line for the uniq tag it was given.
const fakeADB = `#!/bin/sh
case "$1" in
shell)
	shift
	if [ $# -eq 0 ]; then
		printf 'device:/ $ '
		while IFS= read -r line; do
			[ "$line" = "exit" ] && exit 0
			printf 'device:/ $ '
		done
		exit 0
	fi
	while [ $# -gt 0 ]; do
		if [ "$1" = "-e" ] && [ "$2" = "uniq" ]; then
			printf '%s' "$3" > "$FAKE_ADB_STATE"
		fi
		if [ "$1" = "-e" ] && [ "$2" = "mode" ]; then
			printf '%s' "$3" > "$FAKE_ADB_STATE.mode"
		fi
		shift
	done
	echo "Starting: Intent { cmp=com.steinwurf.adbjoinwifi/.MainActivity }"
	;;
logcat)
	echo "01-01 00:00:01.000   100   100 W adbjoinwifi: $(cat "$FAKE_ADB_STATE") Mode $(cat "$FAKE_ADB_STATE.mode") run completed"
	exec sleep 30
	;;
esac
exit 1
`

func installFakeADB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "adb")
	require.NoError(t, os.WriteFile(path, []byte(fakeADB), 0o755))
	t.Setenv("FAKE_ADB_STATE", filepath.Join(dir, "state"))
	return path
}

func TestConnectAndDisconnectAgainstFakeADB(t *testing.T) {
	keyring.MockInit()
	adbPath := installFakeADB(t)
	cfg := writeConfig(t, "timeouts:\n  logcat: 5s\n")
	casts := t.TempDir()
	t.Setenv("ADBWIFI_KEY", "")

	var out bytes.Buffer
	code := run([]string{
		"--config", cfg, "--adb", adbPath, "--tty=false", "--debug", "--record", casts,
		"connect", "--ssid", "office", "--key", "hunter2", "--save-key",
	}, &out, &out)
	require.Equal(t, 0, code, out.String())
	assert.NotContains(t, out.String(), "hunter2")

	recordings, err := filepath.Glob(filepath.Join(casts, "connect_*.cast"))
	require.NoError(t, err)
	require.Len(t, recordings, 1)
	cast, err := os.ReadFile(recordings[0])
	require.NoError(t, err)
	assert.Contains(t, string(cast), "Starting: Intent")
	assert.NotContains(t, string(cast), "hunter2")

	key, err := security.NewKeyringStore(nil).GetNetworkKey("office")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(key))

	out.Reset()
	code = run([]string{"--config", cfg, "--adb", adbPath, "--tty=false", "disconnect"}, &out, &out)
	assert.Equal(t, 0, code, out.String())
}

func TestForget(t *testing.T) {
	keyring.MockInit()
	cfg := writeConfig(t, "")
	require.NoError(t, security.NewKeyringStore(nil).StoreNetworkKey("office", []byte("pw")))

	var out bytes.Buffer
	require.Equal(t, 0, run([]string{"--config", cfg, "forget", "--ssid", "office"}, &out, &out), out.String())

	key, err := security.NewKeyringStore(nil).GetNetworkKey("office")
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name        string
		given       []byte
		env         string
		stored      string
		useKeyring  bool
		interactive bool
		dialogKey   string
		dialogErr   error
		want        string
		wantDialog  bool
		wantErr     bool
	}{
		{name: "flag wins", given: []byte("flag"), env: "env", stored: "ring", useKeyring: true, want: "flag"},
		{name: "explicit empty flag", given: []byte{}, env: "env", want: ""},
		{name: "environment", env: "env", stored: "ring", useKeyring: true, want: "env"},
		{name: "keyring", stored: "ring", useKeyring: true, interactive: true, want: "ring"},
		{name: "keyring disabled by config", stored: "ring", interactive: true, dialogKey: "typed", want: "typed", wantDialog: true},
		{name: "prompt", interactive: true, useKeyring: true, dialogKey: "typed", want: "typed", wantDialog: true},
		{name: "prompt aborted", interactive: true, dialogErr: errors.New("aborted"), wantDialog: true, wantErr: true},
		{name: "open network", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyring.MockInit()
			if tt.stored != "" {
				require.NoError(t, security.NewKeyringStore(nil).StoreNetworkKey("office", []byte(tt.stored)))
			}
			fs := fakefs.New("/home/dev")
			if tt.env != "" {
				fs.SetEnv("ADBWIFI_KEY", tt.env)
			}
			dialog := fakedialog.New()
			dialog.Key, dialog.Err = tt.dialogKey, tt.dialogErr

			a := newApp(&bytes.Buffer{})
			a.fs = fs
			a.dialog = dialog
			a.interactive = func() bool { return tt.interactive }
			a.cfg = config.DefaultConfig()
			a.cfg.WiFi.UseKeyring = tt.useKeyring

			got, err := a.resolveKey("office", tt.given)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, string(got))
			}
			assert.Equal(t, tt.wantDialog, dialog.Called)
			if tt.wantDialog {
				assert.Equal(t, "office", dialog.ReceivedSSID)
			}
		})
	}
}

func TestSetupAppliesOverrides(t *testing.T) {
	cfg := writeConfig(t, "adb:\n  tty: true\nlogging:\n  level: warn\n")
	a := newApp(&bytes.Buffer{})
	root := a.rootCommand()
	root.SetArgs([]string{"--config", cfg, "--adb", "/x/adb", "--debug", "--tty=false", "--log-format", "json", "forget", "--ssid", "none"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	keyring.MockInit()

	require.NoError(t, root.Execute())

	assert.Equal(t, "/x/adb", a.cfg.ADB.Command)
	assert.False(t, a.cfg.ADB.TTY)
	assert.Equal(t, "debug", a.cfg.Logging.Level)
	assert.Equal(t, "json", strings.ToLower(a.cfg.Logging.Format))
}

func TestConnectAgentMissingPrintsHint(t *testing.T) {
	dir := t.TempDir()
	adbPath := filepath.Join(dir, "adb")
	script := `#!/bin/sh
if [ "$1" = shell ] && [ $# -eq 1 ]; then
	printf 'device:/ $ '
	while IFS= read -r line; do
		[ "$line" = "exit" ] && exit 0
		printf 'device:/ $ '
	done
	exit 0
fi
printf 'Error type 3\nError: Activity class {com.steinwurf.adbjoinwifi/com.steinwurf.adbjoinwifi.MainActivity} does not exist.\n'
sleep 30
`
	require.NoError(t, os.WriteFile(adbPath, []byte(script), 0o755))
	cfg := writeConfig(t, "")

	var out bytes.Buffer
	code := run([]string{"--config", cfg, "--adb", adbPath, "--tty=false", "connect", "--ssid", "office", "--key", ""}, &out, &out)

	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "hint: WiFi agent app is not installed.")
}
