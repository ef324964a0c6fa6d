// Package lifecycle tracks which phase the process is in so /health can tell load balancers
// when to send traffic.
package lifecycle

import "sync/atomic"

// Phase is the process phase.
type Phase int32

const (
	// PhaseStarting lasts until main has validated the API key and the listener is up.
	PhaseStarting Phase = iota
	PhaseReady
	// PhaseDraining begins on SIGTERM/SIGINT. It is terminal.
	PhaseDraining
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseReady:
		return "ready"
	case PhaseDraining:
		return "draining"
	}
	return "unknown"
}

var phase atomic.Int32

// Current returns the process phase.
func Current() Phase {
	return Phase(phase.Load())
}

// MarkReady moves Starting to Ready. It never revives a draining process.
func MarkReady() bool {
	return phase.CompareAndSwap(int32(PhaseStarting), int32(PhaseReady))
}

// SetShuttingDown enters Draining. Passing false returns to Ready; tests use it to reset.
func SetShuttingDown(v bool) {
	if v {
		phase.Store(int32(PhaseDraining))
		return
	}
	phase.Store(int32(PhaseReady))
}

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return Current() == PhaseDraining
}

// IsReady reports whether startup has finished and shutdown has not begun.
func IsReady() bool {
	return Current() == PhaseReady
}

// Reset returns to Starting. For tests only.
func Reset() {
	phase.Store(int32(PhaseStarting))
}
