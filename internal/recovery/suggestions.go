// Package recovery suggests fixes for failed adb sessions.
package recovery

import (
	"errors"
	"regexp"
	"slices"

	"github.com/acolita/adbwifi/internal/adb"
	"github.com/acolita/adbwifi/internal/session"
)

// Suggestion represents a recovery suggestion for a failed run.
type Suggestion struct {
	Problem     string   // Description of the detected problem
	Category    string   // device, agent, setup or timing
	Commands    []string // Suggested commands
	Explanation string   // Why this might fix the issue
	Confidence  float64  // Confidence that this suggestion will help
}

// Analyzer matches a failure and the session output against known problems.
type Analyzer struct {
	rules []recoveryRule
}

// A rule fires when its pattern matches the output, or, for rules without
// a pattern, when the failure wraps cause.
type recoveryRule struct {
	name    string
	pattern *regexp.Regexp
	cause   error
	suggest func(matches []string) *Suggestion
}

// NewAnalyzer creates a new analyzer with the default rules.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		rules: defaultRules(),
	}
}

// Analyze returns suggestions for err given the recent session output, most
// confident first. A nil err yields none.
func (a *Analyzer) Analyze(err error, output string) []*Suggestion {
	if err == nil {
		return nil
	}

	var suggestions []*Suggestion
	for _, rule := range a.rules {
		var matches []string
		switch {
		case rule.pattern != nil:
			if matches = rule.pattern.FindStringSubmatch(output); matches == nil {
				continue
			}
		case rule.cause != nil:
			if !errors.Is(err, rule.cause) {
				continue
			}
		default:
			continue
		}
		if s := rule.suggest(matches); s != nil {
			suggestions = append(suggestions, s)
		}
	}

	slices.SortStableFunc(suggestions, func(x, y *Suggestion) int {
		switch {
		case x.Confidence > y.Confidence:
			return -1
		case x.Confidence < y.Confidence:
			return 1
		}
		return 0
	})
	return suggestions
}

func defaultRules() []recoveryRule {
	return []recoveryRule{
		{
			name:    "no_device",
			pattern: regexp.MustCompile(`(?i)no devices/emulators found|device '([^']*)' not found`),
			suggest: func(m []string) *Suggestion {
				s := &Suggestion{
					Problem:     "No device connected",
					Category:    "device",
					Commands:    []string{"adb devices -l"},
					Explanation: "Connect the device over USB and enable USB debugging in the developer options.",
					Confidence:  0.9,
				}
				if len(m) > 1 && m[1] != "" {
					s.Problem = "Device " + m[1] + " not found"
					s.Explanation = "Check ANDROID_SERIAL against the serials listed by adb."
				}
				return s
			},
		},
		{
			name:    "unauthorized",
			pattern: regexp.MustCompile(`(?i)device unauthorized`),
			suggest: func([]string) *Suggestion {
				return &Suggestion{
					Problem:     "Device not authorized",
					Category:    "device",
					Commands:    []string{"adb kill-server", "adb devices"},
					Explanation: "Accept the RSA key prompt on the device screen, then retry.",
					Confidence:  0.9,
				}
			},
		},
		{
			name:    "offline",
			pattern: regexp.MustCompile(`(?i)device offline`),
			suggest: func([]string) *Suggestion {
				return &Suggestion{
					Problem:     "Device offline",
					Category:    "device",
					Commands:    []string{"adb reconnect"},
					Explanation: "The adb connection to the device dropped.",
					Confidence:  0.8,
				}
			},
		},
		{
			name:    "multiple_devices",
			pattern: regexp.MustCompile(`(?i)more than one (device|emulator)`),
			suggest: func([]string) *Suggestion {
				return &Suggestion{
					Problem:     "More than one device connected",
					Category:    "device",
					Commands:    []string{"adb devices", "export ANDROID_SERIAL=<serial>"},
					Explanation: "adb needs to know which device to use.",
					Confidence:  0.9,
				}
			},
		},
		{
			name:    "agent_missing",
			pattern: regexp.MustCompile(`(?i)Activity class \{([^}]*)\} does not exist`),
			suggest: func([]string) *Suggestion {
				return &Suggestion{
					Problem:     "WiFi agent app is not installed",
					Category:    "agent",
					Commands:    []string{"adb install <adb-join-wifi.apk>"},
					Explanation: "The " + adb.AgentPackage + " app performs the join on the device.",
					Confidence:  0.95,
				}
			},
		},
		{
			name:    "permission_denial",
			pattern: regexp.MustCompile(`(?i)Permission Denial`),
			suggest: func([]string) *Suggestion {
				return &Suggestion{
					Problem:     "Activity start refused",
					Category:    "agent",
					Commands:    []string{"adb shell pm list packages " + adb.AgentPackage},
					Explanation: "The installed agent does not export the expected activity; reinstall a matching version.",
					Confidence:  0.7,
				}
			},
		},
		{
			name:  "adb_missing",
			cause: adb.ErrNotFound,
			suggest: func([]string) *Suggestion {
				return &Suggestion{
					Problem:     "adb executable not found",
					Category:    "setup",
					Commands:    []string{"adbwifi --adb /path/to/platform-tools/adb ..."},
					Explanation: "Install the Android platform-tools or set adb.command / adb.search_paths in the config.",
					Confidence:  0.9,
				}
			},
		},
		{
			name:  "timeout",
			cause: session.ErrTimeout,
			suggest: func([]string) *Suggestion {
				return &Suggestion{
					Problem:     "A step did not finish in time",
					Category:    "timing",
					Commands:    []string{"adb logcat -s " + adb.AgentTag},
					Explanation: "Check that the agent reports its result, or raise the timeouts in the config.",
					Confidence:  0.3,
				}
			},
		},
	}
}
