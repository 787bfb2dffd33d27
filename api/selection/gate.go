package selection

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/veridash/vd-analysis-queue/api/metrics"
	"github.com/veridash/vd-analysis-queue/api/queue"
	"github.com/veridash/vd-analysis-queue/api/worker"
	"github.com/vova616/xxhash"
	"go.uber.org/zap"
)

// Case is one pending human decision.  It belongs to at most one date per run;
// once resolved it is inert.
type Case struct {
	RunID    string               `json:"run_id,omitempty"`
	Date     string               `json:"date"`
	Data     worker.SelectionData `json:"data"`
	Resolved bool                 `json:"resolved"`
}

// ErrNoOpenCase is returned when a confirmation or skip names a date with no case
// awaiting a choice.
var ErrNoOpenCase = errors.New("no selection case open for date")

// ErrCaseOpen is returned when a second ambiguous result arrives for a date whose
// case has not resolved yet.  That is a protocol violation on the backend side
// and is reported rather than silently dropped.
var ErrCaseOpen = errors.New("selection case already open for date")

// ResolvedHandler is notified when a case reaches a terminal state.  confirmed is
// false when the case was skipped without a choice.
type ResolvedHandler func(c *Case, confirmed bool)

// Gate suspends completion of a date whose analysis came back ambiguous until a
// human picks an article.  One case is surfaced at a time; further ambiguous
// dates queue behind it in the backlog and are presented in arrival order.
type Gate struct {
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	worker  *worker.Client
	backlog queue.Backlog

	mutex      *sync.Mutex
	current    *Case
	open       map[string]bool
	confirming bool
	onResolved ResolvedHandler
}

// NewGate creates a gate draining the supplied backlog.  Cases already persisted
// in the backlog (from a previous process) are surfaced as soon as the gate is
// consulted.
func NewGate(logger *zap.SugaredLogger, m *metrics.Metrics, w *worker.Client, backlog queue.Backlog) *Gate {
	gate := &Gate{
		logger:  logger,
		metrics: m,
		worker:  w,
		backlog: backlog,
		mutex:   &sync.Mutex{},
		open:    map[string]bool{},
	}

	// rebuild the open-date set from whatever survived a restart
	if restored, err := backlog.GetAll(); err == nil {
		for _, entry := range restored {
			if c, ok := entry.(*Case); ok {
				gate.open[c.Date] = true
			}
		}
	}
	return gate
}

// SetOnResolved registers the handler invoked when a case resolves.
func (g *Gate) SetOnResolved(handler ResolvedHandler) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.onResolved = handler
}

func caseKey(date string) int {
	return int(xxhash.Checksum32([]byte(date)))
}

// Open registers a new case.  If no case is currently surfaced it becomes the
// current one; otherwise it queues.  A second open for the same unresolved date
// returns ErrCaseOpen.
func (g *Gate) Open(c *Case) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.open[c.Date] {
		return errors.Wrapf(ErrCaseOpen, "date %s", c.Date)
	}

	if g.current == nil {
		g.current = c
	} else {
		added, err := g.backlog.EnqueueHashed(caseKey(c.Date), c)
		if err != nil {
			return errors.Wrap(err, "failed to queue selection case")
		}
		if !added {
			return errors.Errorf("selection backlog full, dropping case for %s", c.Date)
		}
	}

	g.open[c.Date] = true
	g.metrics.MarkSelectionOpened()
	g.logger.Infof("selection required for %s (mode %s)", c.Date, c.Data.SelectionMode)
	return nil
}

// Current returns the case awaiting a choice, or nil when the gate is idle.  The
// returned case is a copy; callers can marshal or inspect it without holding the
// gate lock while a concurrent resolution mutates the live one.
func (g *Gate) Current() *Case {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.promote()
	if g.current == nil {
		return nil
	}
	c := *g.current
	return &c
}

// Depth returns the number of queued cases behind the current one.
func (g *Gate) Depth() int {
	return g.backlog.Size()
}

// Confirm submits the chosen article for the surfaced case.  On upstream failure
// the case stays open so the caller can retry or pick differently.  A response
// flagged aisDidntAgree still resolves the case - the backend has persisted the
// record for manual review, resolution is user-driven and never re-ambiguates.
func (g *Gate) Confirm(ctx context.Context, date string, articleID string) (*worker.ConfirmResponseData, error) {
	g.mutex.Lock()
	g.promote()
	if g.current == nil || g.current.Date != date {
		g.mutex.Unlock()
		return nil, errors.Wrapf(ErrNoOpenCase, "date %s", date)
	}
	if g.confirming {
		g.mutex.Unlock()
		return nil, errors.Errorf("confirmation already in progress for %s", g.current.Date)
	}
	g.confirming = true
	current := g.current
	g.mutex.Unlock()

	response, err := g.worker.ConfirmSelection(ctx, date, articleID, current.Data.SelectionMode)

	g.mutex.Lock()
	g.confirming = false
	if err != nil {
		// case remains open for retry
		g.mutex.Unlock()
		return nil, err
	}

	if response.AIsDidntAgree {
		g.logger.Warnf("models still disagree for %s, record kept for manual review", date)
	}

	handler, resolved := g.finish()
	g.mutex.Unlock()

	if handler != nil {
		handler(resolved, true)
	}
	return response, nil
}

// Skip resolves the surfaced case without a choice.  The date is treated as
// accounted for but unconfirmed; the owning run records it as skipped.
func (g *Gate) Skip(date string) error {
	g.mutex.Lock()
	g.promote()
	if g.current == nil || g.current.Date != date {
		g.mutex.Unlock()
		return errors.Wrapf(ErrNoOpenCase, "date %s", date)
	}
	if g.confirming {
		g.mutex.Unlock()
		return errors.Errorf("confirmation in progress for %s", date)
	}

	handler, resolved := g.finish()
	g.mutex.Unlock()

	g.logger.Infof("selection skipped for %s", date)
	if handler != nil {
		handler(resolved, false)
	}
	return nil
}

// DropRun discards every unresolved case belonging to the run.  The dates are
// left permanently unresolved for that run; this is the accepted terminal state
// for cancellation during a pending choice, not an error.
func (g *Gate) DropRun(runID string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.current != nil && g.current.RunID == runID && !g.confirming {
		delete(g.open, g.current.Date)
		g.current = nil
	}

	remaining, err := g.backlog.GetAll()
	if err != nil {
		g.logger.Errorf("failed to read selection backlog: %v", err)
		return
	}
	if err := g.backlog.Clear(); err != nil {
		g.logger.Errorf("failed to clear selection backlog: %v", err)
		return
	}
	for _, entry := range remaining {
		c, ok := entry.(*Case)
		if !ok {
			continue
		}
		if c.RunID == runID {
			delete(g.open, c.Date)
			continue
		}
		if _, err := g.backlog.EnqueueHashed(caseKey(c.Date), c); err != nil {
			g.logger.Errorf("failed to requeue selection case for %s: %v", c.Date, err)
		}
	}

	g.promote()
}

// finish marks the current case resolved and promotes the next queued one.  The
// caller invokes the returned handler outside the gate lock.
func (g *Gate) finish() (ResolvedHandler, *Case) {
	resolved := g.current
	resolved.Resolved = true
	delete(g.open, resolved.Date)
	g.current = nil
	g.metrics.MarkSelectionResolved()
	g.promote()
	return g.onResolved, resolved
}

// promote surfaces the next queued case when none is current.  Callers hold the
// gate mutex.
func (g *Gate) promote() {
	if g.current != nil || g.backlog.Size() == 0 {
		return
	}
	entry, err := g.backlog.Dequeue()
	if err != nil {
		g.logger.Errorf("failed to dequeue selection case: %v", err)
		return
	}
	if c, ok := entry.(*Case); ok {
		g.current = c
	}
}
