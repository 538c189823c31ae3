// Package timing records how long each VM setup step and the guest run take.
package timing

import (
	"fmt"
	"io"
	"time"
)

// RunPhase names the phase covering the guest run. Every other phase is a
// setup step.
const RunPhase = "run"

// Timer tracks durations of named phases.
type Timer struct {
	start  time.Time
	last   time.Time
	phases []Phase
}

// Phase is one timed step.
type Phase struct {
	Name     string
	Duration time.Duration
}

// New creates a new Timer starting from now.
func New() *Timer {
	now := time.Now()
	return &Timer{start: now, last: now}
}

// Mark records a named phase ending now. The duration is the time since the
// previous mark, or since the timer was created for the first mark.
// Mark on a nil Timer is a no-op.
func (t *Timer) Mark(name string) {
	if t == nil {
		return
	}
	now := time.Now()
	t.phases = append(t.phases, Phase{Name: name, Duration: now.Sub(t.last)})
	t.last = now
}

// Total returns the total elapsed time since timer creation.
func (t *Timer) Total() time.Duration {
	return time.Since(t.start)
}

// Phases returns all recorded phases.
func (t *Timer) Phases() []Phase {
	return t.phases
}

// Setup sums every phase except RunPhase.
func (t *Timer) Setup() time.Duration {
	var d time.Duration
	for _, p := range t.phases {
		if p.Name != RunPhase {
			d += p.Duration
		}
	}
	return d
}

// Run returns the RunPhase duration and whether the guest ran at all.
func (t *Timer) Run() (time.Duration, bool) {
	for _, p := range t.phases {
		if p.Name == RunPhase {
			return p.Duration, true
		}
	}
	return 0, false
}

// Report writes the setup steps with their subtotal, then the run and the
// total:
//
//	=== kvmboot timing ===
//	setup:
//	  prepare_memory:      120µs
//	  ...
//	  subtotal:            3ms
//	run:                   1ms
//	total:                 4ms
func (t *Timer) Report(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "=== kvmboot timing ===")
	fmt.Fprintln(w, "setup:")
	for _, p := range t.phases {
		if p.Name == RunPhase {
			continue
		}
		fmt.Fprintf(w, "  %-20s %s\n", p.Name+":", formatDuration(p.Duration))
	}
	fmt.Fprintf(w, "  %-20s %s\n", "subtotal:", formatDuration(t.Setup()))
	if d, ok := t.Run(); ok {
		fmt.Fprintf(w, "%-22s %s\n", RunPhase+":", formatDuration(d))
	} else {
		fmt.Fprintf(w, "%-22s %s\n", RunPhase+":", "not reached")
	}
	fmt.Fprintf(w, "%-22s %s\n", "total:", formatDuration(t.Total()))
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
