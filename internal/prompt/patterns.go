// Package prompt detects interactive shell prompts in child output.
package prompt

import "regexp"

// PromptType indicates the kind of prompt detected.
type PromptType string

const (
	PromptTypeShell PromptType = "shell"
	PromptTypeRoot  PromptType = "root"
)

// Pattern represents a prompt detection pattern.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
	Type  PromptType
}

// DefaultPatterns returns the built-in prompt patterns, most specific first.
func DefaultPatterns() []Pattern {
	return []Pattern{
		// adb shell: "walleye:/ $ ", "generic_x86_64:/data/local/tmp # "
		{
			Name:  "android_shell",
			Regex: regexp.MustCompile(`^[\w.-]+:\S*\s?\$\s*$`),
			Type:  PromptTypeShell,
		},
		{
			Name:  "android_root",
			Regex: regexp.MustCompile(`^[\w.-]+:\S*\s?#\s*$`),
			Type:  PromptTypeRoot,
		},

		// Older images and plain sh
		{
			Name:  "generic_shell",
			Regex: regexp.MustCompile(`\$\s*$`),
			Type:  PromptTypeShell,
		},
		{
			Name:  "generic_root",
			Regex: regexp.MustCompile(`#\s*$`),
			Type:  PromptTypeRoot,
		},
	}
}
