package batch

import (
	"sort"
	"sync"
)

// Progress tracks completion counts and the in-flight date set for one run.  It is
// a display read model: losing or duplicating an update must never push the
// completed count backwards or past the total, so every write clamps.
type Progress struct {
	mutex     *sync.RWMutex
	completed int
	total     int
	inFlight  map[string]bool
}

// ProgressSnapshot is the read model handed to callers.
type ProgressSnapshot struct {
	Completed int      `json:"completed"`
	Total     int      `json:"total"`
	InFlight  []string `json:"in_flight"`
}

// NewProgress creates a Progress for a run of the given size.
func NewProgress(total int) *Progress {
	return &Progress{
		mutex:    &sync.RWMutex{},
		total:    total,
		inFlight: map[string]bool{},
	}
}

// Update applies a server-reported completed count.  The count never regresses,
// duplicate or out-of-order reports collapse into a no-op.  When currentDate is
// non-empty it is removed from the in-flight set.
func (p *Progress) Update(completed int, currentDate string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if completed > p.completed {
		p.completed = completed
	}
	if p.completed > p.total {
		p.completed = p.total
	}
	if currentDate != "" {
		delete(p.inFlight, currentDate)
	}
}

// Advance bumps the completed count by n, clamped to the total.
func (p *Progress) Advance(n int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.completed += n
	if p.completed > p.total {
		p.completed = p.total
	}
}

// SetInFlight wholesale replaces the in-flight set with the authoritative list
// reported by the server.
func (p *Progress) SetInFlight(dates []string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.inFlight = map[string]bool{}
	for _, date := range dates {
		p.inFlight[date] = true
	}
}

// MarkInFlight adds dates to the in-flight set.
func (p *Progress) MarkInFlight(dates ...string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, date := range dates {
		p.inFlight[date] = true
	}
}

// Settle removes dates from the in-flight set and advances the completed count by
// counted.  Used by the wave runner, where the number counted can be smaller than
// the wave when members are parked for selection.
func (p *Progress) Settle(dates []string, counted int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, date := range dates {
		delete(p.inFlight, date)
	}
	p.completed += counted
	if p.completed > p.total {
		p.completed = p.total
	}
}

// ClearInFlight empties the in-flight set.
func (p *Progress) ClearInFlight() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.inFlight = map[string]bool{}
}

// Snapshot returns a copy of the current state with the in-flight dates sorted for
// stable display.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	inFlight := make([]string, 0, len(p.inFlight))
	for date := range p.inFlight {
		inFlight = append(inFlight, date)
	}
	sort.Strings(inFlight)

	return ProgressSnapshot{
		Completed: p.completed,
		Total:     p.total,
		InFlight:  inFlight,
	}
}

// Done indicates whether every date has been accounted for.
func (p *Progress) Done() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.completed >= p.total
}
