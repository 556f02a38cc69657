// Package timing records how long the named phases of a startup take.
package timing

import (
	"time"

	"go.uber.org/zap"
)

// Timer tracks durations of named phases.
type Timer struct {
	now    func() time.Time
	start  time.Time
	last   time.Time
	phases []Phase
}

// Phase represents a timed phase with name and duration.
type Phase struct {
	Name     string
	Duration time.Duration
}

// New creates a new Timer starting from now.
func New() *Timer {
	return newTimer(time.Now)
}

func newTimer(now func() time.Time) *Timer {
	t := now()
	return &Timer{now: now, start: t, last: t}
}

// Mark records a named phase ending now. Its duration runs from the previous
// mark, or from the start for the first one.
func (t *Timer) Mark(name string) {
	now := t.now()
	t.phases = append(t.phases, Phase{Name: name, Duration: now.Sub(t.last)})
	t.last = now
}

// Total returns the elapsed time since timer creation.
func (t *Timer) Total() time.Duration {
	return t.now().Sub(t.start)
}

// Phases returns all recorded phases.
func (t *Timer) Phases() []Phase {
	return t.phases
}

// Fields renders the phases and the total as log fields.
func (t *Timer) Fields() []zap.Field {
	fields := make([]zap.Field, 0, len(t.phases)+1)
	for _, p := range t.phases {
		fields = append(fields, zap.Duration(p.Name, p.Duration))
	}
	return append(fields, zap.Duration("total", t.Total()))
}
