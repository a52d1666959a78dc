package session

import (
	"log/slog"

	"github.com/acolita/adbwifi/internal/task"
)

// tailSize bounds the output kept for diagnostics.
const tailSize = 4 << 10

// Recorder receives a copy of the session traffic.
type Recorder interface {
	RecordOutput(data string) error
	RecordInput(data string) error
	RecordMarker(label string) error
}

// transcript keeps the tail of the child output and mirrors the traffic to an
// optional Recorder. seen tracks how much of each stream buffer was already
// observed so retained bytes are not reported twice.
type transcript struct {
	seen [3]int
	tail []byte
	rec  Recorder
	log  *slog.Logger
}

func (t *transcript) output(s task.Stream, buffered []byte) {
	fresh := buffered[min(t.seen[s], len(buffered)):]
	t.seen[s] = len(buffered)
	if len(fresh) == 0 {
		return
	}
	t.tail = append(t.tail, fresh...)
	if over := len(t.tail) - tailSize; over > 0 {
		t.tail = append(t.tail[:0], t.tail[over:]...)
	}
	if t.rec != nil {
		t.check(t.rec.RecordOutput(string(fresh)))
	}
}

// retained records how many bytes of s remain buffered after the step ran.
func (t *transcript) retained(s task.Stream, n int) {
	t.seen[s] = n
}

// restart forgets buffer positions when a new child takes over the streams.
func (t *transcript) restart(label string) {
	t.seen = [3]int{}
	if t.rec != nil {
		t.check(t.rec.RecordMarker(label))
	}
}

func (t *transcript) input(p []byte) {
	if t.rec != nil && len(p) > 0 {
		t.check(t.rec.RecordInput(string(p)))
	}
}

// check drops a recorder that failed once.
func (t *transcript) check(err error) {
	if err != nil {
		t.log.Warn("recording stopped", slog.String("error", err.Error()))
		t.rec = nil
	}
}
