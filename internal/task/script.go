package task

// Script is a fixed, ordered sequence of steps.
type Script struct {
	name  string
	steps []Factory
	pos   int
	ctx   Context
}

// NewScript returns a script that instantiates steps in order.
func NewScript(name string, steps ...Factory) *Script {
	return &Script{name: name, steps: steps}
}

// Name returns the script name used in logs.
func (s *Script) Name() string { return s.name }

// Bind sets the context handed to every task the script creates.
func (s *Script) Bind(ctx Context) { s.ctx = ctx }

// Len returns the number of steps.
func (s *Script) Len() int { return len(s.steps) }

// Position returns how many tasks have been handed out since the last Reset.
func (s *Script) Position() int { return s.pos }

// HasNext reports whether another step remains.
func (s *Script) HasNext() bool { return s.pos < len(s.steps) }

// Next builds the next task, or returns nil when the script is exhausted.
func (s *Script) Next() Task {
	if !s.HasNext() {
		return nil
	}
	t := s.steps[s.pos](s.ctx)
	s.pos++
	return t
}

// Reset rewinds to the first step.
func (s *Script) Reset() { s.pos = 0 }
