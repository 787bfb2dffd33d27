package batch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/veridash/vd-analysis-queue/api/metrics"
	"github.com/veridash/vd-analysis-queue/api/selection"
	"github.com/veridash/vd-analysis-queue/api/worker"
	"github.com/veridash/vd-analysis-queue/config"
	"github.com/vova616/xxhash"
)

// ErrNoDates is returned when a start request carries no analyzable dates.
var ErrNoDates = errors.New("no dates to analyze")

// ErrRunActive is returned when a start request duplicates the date list of a run
// still in progress.
var ErrRunActive = errors.New("a run for these dates is already active")

// ErrRunNotFound is returned for operations on unknown run ids.
var ErrRunNotFound = errors.New("run not found")

const dateLayout = "2006-01-02"

// retainedRuns bounds how many finished runs stay observable.  The dashboard
// polls a run until it sees done once, so old snapshots only need to survive a
// short observation window, not the life of the process.
const retainedRuns = 32

// Orchestrator owns batch run lifecycles.  It tries the streaming batch protocol
// first and transparently degrades to the per-date wave runner on transport
// failure; callers observe one continuous progress sequence either way.
type Orchestrator struct {
	config.Config
	worker  *worker.Client
	gate    *selection.Gate
	metrics *metrics.Metrics
	waves   *WaveRunner

	mutex *sync.RWMutex
	runs  map[string]*Run
	// run key (hash of the date list) -> run id, used to reject double submission
	active map[int32]string
	// finished run ids in completion order, oldest evicted past retainedRuns
	finished []string
}

// NewOrchestrator creates an orchestrator and hooks it up as the gate's
// resolution listener so resolved cases advance their owning runs.
func NewOrchestrator(cfg *config.Config, w *worker.Client, gate *selection.Gate, m *metrics.Metrics) *Orchestrator {
	o := &Orchestrator{
		Config: config.Config{
			Logger:      cfg.Logger,
			Environment: cfg.Environment,
		},
		worker:  w,
		gate:    gate,
		metrics: m,
		waves: NewWaveRunner(
			cfg.Logger,
			m,
			w,
			cfg.Environment.FallbackWaveSize,
			time.Duration(cfg.Environment.FallbackWaveDelayMs)*time.Millisecond,
		),
		mutex:  &sync.RWMutex{},
		runs:   map[string]*Run{},
		active: map[int32]string{},
	}

	gate.SetOnResolved(o.onSelectionResolved)
	return o
}

// Start opens a cancellable run over the supplied dates and begins servicing it
// in the background.  Empty lists and malformed dates are rejected synchronously,
// as is a duplicate of an active run's date list.
func (o *Orchestrator) Start(dates []string, concurrency int) (*Run, error) {
	deduped := dedupeDates(dates)
	if len(deduped) == 0 {
		return nil, ErrNoDates
	}
	for _, date := range deduped {
		if _, err := time.Parse(dateLayout, date); err != nil {
			return nil, errors.Errorf("invalid date %s", date)
		}
	}
	if concurrency <= 0 {
		concurrency = o.Environment.BatchConcurrency
	}

	key := int32(xxhash.Checksum32([]byte(strings.Join(deduped, ","))))

	o.mutex.Lock()
	if runID, ok := o.active[key]; ok {
		o.mutex.Unlock()
		return nil, errors.Wrapf(ErrRunActive, "run %s", runID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	run := NewRun(uuid.New().String(), key, deduped, cancel)
	o.runs[run.ID] = run
	o.active[key] = run.ID
	o.mutex.Unlock()

	o.metrics.RunStarted()
	o.Logger.Infof("starting batch %s over %d dates", run.ID, len(deduped))

	go o.execute(ctx, run, concurrency)
	return run, nil
}

// Cancel requests cancellation of a run.  Idempotent; unresolved selection cases
// belonging to the run are discarded and their dates left unresolved.
func (o *Orchestrator) Cancel(runID string) error {
	run := o.Get(runID)
	if run == nil {
		return errors.Wrapf(ErrRunNotFound, "run %s", runID)
	}

	run.Cancel()
	o.gate.DropRun(runID)
	o.finalize(run)
	return nil
}

// Get returns a run by id, or nil.
func (o *Orchestrator) Get(runID string) *Run {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.runs[runID]
}

// AnalyzeSingle runs the unit operation for one date outside of a batch.  An
// ambiguous result goes through the same selection gate as bulk runs, so both
// flows share identical resolution semantics.
func (o *Orchestrator) AnalyzeSingle(ctx context.Context, date string, force bool) (*worker.AnalyzeResponseData, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, errors.Errorf("invalid date %s", date)
	}

	response, err := o.worker.AnalyzeDate(ctx, date, force)
	if err != nil {
		o.metrics.MarkUnitFailure()
		return nil, err
	}

	if response.RequiresSelection {
		c := &selection.Case{Date: date, Data: response.SelectionData}
		if err := o.gate.Open(c); err != nil {
			return nil, err
		}
	} else {
		o.metrics.MarkDatesAnalyzed(1)
	}
	return response, nil
}

// RedoSummaries regenerates summaries for the dates sequentially, best effort.
// Failures are logged and counted, never fatal.
func (o *Orchestrator) RedoSummaries(ctx context.Context, dates []string) (int, int) {
	failed := 0
	for _, date := range dates {
		if err := o.worker.RedoSummary(ctx, date); err != nil {
			o.Logger.Warnf("failed to redo summary for %s: %v", date, err)
			failed++
		}
	}
	return len(dates), failed
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, concurrency int) {
	run.Progress.MarkInFlight(run.Dates...)

	err := o.runStreaming(ctx, run, concurrency)
	if err != nil && ctx.Err() == nil {
		o.Logger.Warnf("streaming batch failed, degrading to per-date requests: %v", err)
		o.metrics.MarkFallback()
		run.Progress.ClearInFlight()
		o.waves.Run(ctx, run, run.Dates, o.selectionHandler(run))
	}

	if ctx.Err() != nil {
		run.Progress.ClearInFlight()
	}
	o.finalize(run)
}

// runStreaming drives one attempt at the streaming protocol.  Any returned error
// is a transport failure; per-line decode errors are absorbed by the decoder.
func (o *Orchestrator) runStreaming(ctx context.Context, run *Run, concurrency int) error {
	body, err := o.worker.OpenBatchStream(ctx, run.Dates, concurrency)
	if err != nil {
		return err
	}

	decoder := NewStreamDecoder(o.Logger, o.metrics)
	last := 0
	return DecodeStream(ctx, body, decoder, func(event StreamEvent) {
		if event.Terminal {
			final := event.Results
			if final == 0 {
				final = last
			}
			if final > last {
				o.metrics.MarkDatesAnalyzed(final - last)
			}
			run.Progress.Update(final, "")
			run.Progress.ClearInFlight()
			return
		}

		if event.Completed > last {
			o.metrics.MarkDatesAnalyzed(event.Completed - last)
			last = event.Completed
		}
		run.Progress.Update(event.Completed, event.LastResultDate)
		if event.HasAnalyzingDates {
			run.Progress.SetInFlight(event.AnalyzingDates)
		}
	})
}

// selectionHandler parks ambiguous wave results in the gate on behalf of a run.
func (o *Orchestrator) selectionHandler(run *Run) SelectionHandler {
	return func(date string, payload *worker.AnalyzeResponseData) bool {
		c := &selection.Case{RunID: run.ID, Date: date, Data: payload.SelectionData}
		if err := o.gate.Open(c); err != nil {
			o.Logger.Errorf("could not open selection case for %s: %v", date, err)
			run.RecordFailure(date, err.Error())
			return false
		}
		return true
	}
}

// onSelectionResolved advances the owning run when the gate resolves a case.
func (o *Orchestrator) onSelectionResolved(c *selection.Case, confirmed bool) {
	if c.RunID == "" {
		o.metrics.MarkDatesAnalyzed(1)
		return
	}

	run := o.Get(c.RunID)
	if run == nil || run.Done() {
		return
	}

	if !confirmed {
		run.RecordFailure(c.Date, "selection skipped")
	}
	run.Progress.Settle([]string{c.Date}, 1)
	o.metrics.MarkDatesAnalyzed(1)
	o.finalize(run)
}

// finalize closes out a run once every date is accounted for or cancellation has
// drained.  Safe to call repeatedly; the completion side effects fire once.
func (o *Orchestrator) finalize(run *Run) {
	if !run.Cancelled() && !run.Progress.Done() {
		// still waiting on selection cases
		return
	}
	// release the run key before flipping done, so a caller observing completion
	// can immediately start the same date list again
	o.mutex.Lock()
	if o.active[run.Key] == run.ID {
		delete(o.active, run.Key)
	}
	o.mutex.Unlock()

	if !run.Finish() {
		return
	}

	o.mutex.Lock()
	o.finished = append(o.finished, run.ID)
	for len(o.finished) > retainedRuns {
		delete(o.runs, o.finished[0])
		o.finished = o.finished[1:]
	}
	o.mutex.Unlock()

	o.metrics.RunFinished()

	s := run.Snapshot()
	o.Logger.Infof("batch %s finished: %d/%d completed, %d errors, cancelled=%v",
		run.ID, s.Completed, s.Total, len(s.Errors), s.Cancelled)
}

// dedupeDates removes repeated dates while preserving the order of first
// appearance.
func dedupeDates(dates []string) []string {
	seen := map[string]bool{}
	deduped := make([]string, 0, len(dates))
	for _, date := range dates {
		if date == "" || seen[date] {
			continue
		}
		seen[date] = true
		deduped = append(deduped, date)
	}
	return deduped
}
