// Package recording writes the traffic of an adb session in asciicast v2
// format.
package recording

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/acolita/adbwifi/internal/ports"
)

// Asciicast event types.
const (
	EventOutput = "o"
	EventInput  = "i"
	EventMarker = "m"
)

// Recorder records terminal I/O in asciicast v2 format.
// See: https://docs.asciinema.org/manual/asciicast/v2/
type Recorder struct {
	mu        sync.Mutex
	file      ports.FileHandle
	startTime time.Time
	closed    bool
	clock     ports.Clock
}

// Header is the asciicast v2 header.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is an asciicast v2 event [time, type, data].
type Event struct {
	Time float64 `json:"-"`
	Type string  `json:"-"`
	Data string  `json:"-"`
}

// MarshalJSON implements custom JSON marshaling for Event.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Time, e.Type, e.Data})
}

// NewRecorder creates dir if needed and starts a recording named after title
// and the current time.
func NewRecorder(dir, title string, fs ports.FileSystem, clock ports.Clock) (*Recorder, error) {
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	now := clock.Now()
	name := fmt.Sprintf("%s_%s.cast", title, now.Format("20060102_150405.000"))
	file, err := fs.Create(filepath.Join(dir, name), 0o600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	header, err := json.Marshal(Header{
		Version:   2,
		Width:     80,
		Height:    24,
		Timestamp: now.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": "dumb"},
	})
	if err == nil {
		_, err = file.Write(append(header, '\n'))
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &Recorder{file: file, startTime: now, clock: clock}, nil
}

// RecordOutput records data read from the child.
func (r *Recorder) RecordOutput(data string) error {
	return r.record(EventOutput, data)
}

// RecordInput records data written to the child.
func (r *Recorder) RecordInput(data string) error {
	return r.record(EventInput, data)
}

// RecordMarker records a marker, such as the start of a new child.
func (r *Recorder) RecordMarker(label string) error {
	return r.record(EventMarker, label)
}

func (r *Recorder) record(eventType, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	event, err := json.Marshal(Event{
		Time: r.clock.Now().Sub(r.startTime).Seconds(),
		Type: eventType,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.file.Write(append(event, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close ends the recording. Further events are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Path returns the path to the recording file.
func (r *Recorder) Path() string {
	return r.file.Name()
}
