package batch

import (
	"context"
	"sync"
)

// Outcome is the terminal (or pending) state of one analyzed date.
type Outcome int

const (
	// OutcomeCompleted marks a successfully analyzed date.
	OutcomeCompleted Outcome = iota
	// OutcomeSelectionRequired marks a date parked for a human decision.
	OutcomeSelectionRequired
	// OutcomeFailed marks a date whose analysis request failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSelectionRequired:
		return "selection_required"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// UnitResult is the outcome of analyzing one date.
type UnitResult struct {
	Date    string
	Outcome Outcome
	Err     error
}

// Run is one invocation of the orchestrator over a fixed date list.  The date
// list is deduplicated at creation and never changes; progress and error state
// are mutated by exactly one active runner plus the selection gate.
type Run struct {
	ID       string
	Key      int32
	Dates    []string
	Progress *Progress

	mutex     *sync.RWMutex
	cancel    context.CancelFunc
	cancelled bool
	done      bool
	failures  map[string]string
}

// RunSnapshot is the externally visible state of a run.
type RunSnapshot struct {
	RunID     string            `json:"run_id"`
	Completed int               `json:"completed"`
	Total     int               `json:"total"`
	InFlight  []string          `json:"in_flight"`
	Errors    map[string]string `json:"errors,omitempty"`
	Cancelled bool              `json:"cancelled"`
	Done      bool              `json:"done"`
}

// NewRun creates a run over the supplied (already deduplicated) dates.
func NewRun(id string, key int32, dates []string, cancel context.CancelFunc) *Run {
	return &Run{
		ID:       id,
		Key:      key,
		Dates:    dates,
		Progress: NewProgress(len(dates)),
		mutex:    &sync.RWMutex{},
		cancel:   cancel,
		failures: map[string]string{},
	}
}

// RecordFailure notes a per-date failure.  Failures never halt the run, they are
// reported in the final summary.
func (r *Run) RecordFailure(date string, msg string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.failures[date] = msg
}

// Cancel requests cancellation.  The flag is set at most once and never cleared;
// repeated calls are no-ops.
func (r *Run) Cancel() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.cancelled {
		return
	}
	r.cancelled = true
	r.cancel()
}

// Cancelled reports whether cancellation has been requested.
func (r *Run) Cancelled() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.cancelled
}

// Finish marks the run inactive and reports whether this call made the
// transition, so finish-side effects fire exactly once.
func (r *Run) Finish() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.done {
		return false
	}
	r.done = true
	return true
}

// Done reports whether the run has finished servicing (by completion or by a
// drained cancellation).
func (r *Run) Done() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.done
}

// Snapshot returns the run state for display.
func (r *Run) Snapshot() RunSnapshot {
	progress := r.Progress.Snapshot()

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	failures := make(map[string]string, len(r.failures))
	for date, msg := range r.failures {
		failures[date] = msg
	}

	return RunSnapshot{
		RunID:     r.ID,
		Completed: progress.Completed,
		Total:     progress.Total,
		InFlight:  progress.InFlight,
		Errors:    failures,
		Cancelled: r.cancelled,
		Done:      r.done,
	}
}
