// Package adb scripts the WiFi join and leave runs against an Android device
// through the adb client.
package adb

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Companion agent installed on the device.
const (
	AgentPackage  = "com.steinwurf.adbjoinwifi"
	AgentActivity = ".MainActivity"
	AgentTag      = "adbjoinwifi"

	ConnectSignature    = "Mode connect run completed"
	DisconnectSignature = "Mode disconnect run completed"
)

// Intent extra names understood by the agent.
const (
	ExtraMode         = "mode"
	ExtraSSID         = "ssid"
	ExtraPassword     = "password"
	ExtraPasswordType = "password_type"
	ExtraUniq         = "uniq"
)

// Mode selects what the agent does.
type Mode string

const (
	ModeConnect    Mode = "connect"
	ModeDisconnect Mode = "disconnect"
)

// Signature returns the log text the agent prints when a run in mode is done.
func (m Mode) Signature() string {
	if m == ModeDisconnect {
		return DisconnectSignature
	}
	return ConnectSignature
}

// AuthType is the WiFi security scheme passed to the agent.
type AuthType string

const (
	AuthWEP AuthType = "WEP"
	AuthWPA AuthType = "WPA"
)

// ParseAuthType accepts WEP or WPA in any case.
func ParseAuthType(s string) (AuthType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(AuthWEP):
		return AuthWEP, nil
	case string(AuthWPA), "":
		return AuthWPA, nil
	default:
		return "", fmt.Errorf("unknown auth type %q (want WEP or WPA)", s)
	}
}

// Params are the values of one run.
type Params struct {
	SSID     string
	Password string
	AuthType AuthType
	// UniqTag marks the agent's completion line for this run only.
	UniqTag string
}

// NewUniqTag returns a fresh tag for Params.UniqTag.
func NewUniqTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

var errEmptySSID = errors.New("empty SSID")

// Validate checks that p is usable for mode.
func (p Params) Validate(mode Mode) error {
	if p.UniqTag == "" {
		return errors.New("missing uniq tag")
	}
	if mode == ModeConnect && strings.TrimSpace(p.SSID) == "" {
		return errEmptySSID
	}
	return nil
}

// LogValue keeps the key out of logs.
func (p Params) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("ssid", p.SSID),
		slog.String("security", string(p.AuthType)),
		slog.Bool("protected", p.Password != ""),
		slog.String("uniq", p.UniqTag),
	)
}

// Timeouts bound each step of a run.
type Timeouts struct {
	FirstPrompt  time.Duration
	SecondPrompt time.Duration
	Launch       time.Duration
	Logcat       time.Duration
}

// DefaultTimeouts returns the stock step deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		FirstPrompt:  10 * time.Second,
		SecondPrompt: 3 * time.Second,
		Launch:       10 * time.Second,
		Logcat:       30 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.FirstPrompt <= 0 {
		t.FirstPrompt = d.FirstPrompt
	}
	if t.SecondPrompt <= 0 {
		t.SecondPrompt = d.SecondPrompt
	}
	if t.Launch <= 0 {
		t.Launch = d.Launch
	}
	if t.Logcat <= 0 {
		t.Logcat = d.Logcat
	}
	return t
}

// IntentArgs returns the adb arguments that start the agent. adb joins its
// arguments into one remote shell command line, so values are quoted for the
// device shell.
func IntentArgs(mode Mode, p Params) []string {
	args := []string{
		"shell", "am", "start",
		"-n", AgentPackage + "/" + AgentActivity,
		"-e", ExtraMode, string(mode),
		"-e", ExtraUniq, shellEscape(p.UniqTag),
	}
	if mode != ModeConnect {
		return args
	}
	args = append(args, "-e", ExtraSSID, shellEscape(p.SSID))
	if p.Password != "" {
		auth := p.AuthType
		if auth == "" {
			auth = AuthWPA
		}
		args = append(args,
			"-e", ExtraPassword, shellEscape(p.Password),
			"-e", ExtraPasswordType, string(auth),
		)
	}
	return args
}

// LogcatArgs returns the adb arguments that follow the device log.
func LogcatArgs() []string {
	return []string{"logcat", "-v", "threadtime"}
}

// shellEscape quotes s for a POSIX shell when it contains anything beyond
// a conservative safe set.
func shellEscape(s string) string {
	if s == "" {
		return "''"
	}

	needsEscape := false
	for _, c := range s {
		if !isShellSafe(c) {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return s
	}

	// 'foo'\''bar' -> foo'bar
	var result strings.Builder
	result.WriteByte('\'')
	for _, c := range s {
		if c == '\'' {
			result.WriteString(`'\''`)
		} else {
			result.WriteRune(c)
		}
	}
	result.WriteByte('\'')
	return result.String()
}

func isShellSafe(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '/' || c == '@' || c == '+' || c == '='
}
