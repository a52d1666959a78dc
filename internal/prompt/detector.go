package prompt

import (
	"regexp"
	"strings"
	"sync"
)

// Detection represents a detected prompt.
type Detection struct {
	Pattern     Pattern
	MatchedText string
}

// Detector detects shell prompts at the end of terminal output.
type Detector struct {
	patterns       []Pattern
	customPatterns []Pattern
	mu             sync.RWMutex
}

// NewDetector creates a new prompt detector with default patterns.
func NewDetector() *Detector {
	return &Detector{
		patterns: DefaultPatterns(),
	}
}

// AddPattern adds a custom pattern to the detector.
func (d *Detector) AddPattern(p Pattern) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customPatterns = append(d.customPatterns, p)
}

// AddPatternFromConfig adds a pattern from configuration.
func (d *Detector) AddPatternFromConfig(name, regex, promptType string) error {
	re, err := regexp.Compile(regex)
	if err != nil {
		return err
	}

	pt := PromptTypeShell
	if promptType == string(PromptTypeRoot) {
		pt = PromptTypeRoot
	}

	d.AddPattern(Pattern{
		Name:  name,
		Regex: re,
		Type:  pt,
	})
	return nil
}

// Detect checks whether buffer ends with a prompt. Only the text after the
// last newline is considered: a prompt is never followed by a line break.
func (d *Detector) Detect(buffer string) *Detection {
	d.mu.RLock()
	defer d.mu.RUnlock()

	line := LastLine(buffer)
	if line == "" {
		return nil
	}

	// Check custom patterns first (higher priority)
	for _, p := range d.customPatterns {
		if match := matchPattern(line, p); match != nil {
			return match
		}
	}
	for _, p := range d.patterns {
		if match := matchPattern(line, p); match != nil {
			return match
		}
	}
	return nil
}

// LastLine returns the text after the last newline, without carriage returns
// or terminal escape sequences.
func LastLine(buffer string) string {
	if i := strings.LastIndexByte(buffer, '\n'); i >= 0 {
		buffer = buffer[i+1:]
	}
	buffer = ansiEscape.ReplaceAllString(buffer, "")
	if i := strings.LastIndexByte(buffer, '\r'); i >= 0 && i < len(buffer)-1 {
		buffer = buffer[i+1:]
	}
	return strings.TrimRight(buffer, "\r")
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\a]*\a`)

func matchPattern(line string, p Pattern) *Detection {
	loc := p.Regex.FindStringIndex(line)
	if loc == nil {
		return nil
	}
	return &Detection{
		Pattern:     p,
		MatchedText: line[loc[0]:loc[1]],
	}
}

// IsRoot reports whether the prompt belongs to a root shell.
func (det *Detection) IsRoot() bool {
	return det.Pattern.Type == PromptTypeRoot
}
