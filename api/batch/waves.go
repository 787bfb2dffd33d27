package batch

import (
	"context"
	"sync"
	"time"

	"github.com/veridash/vd-analysis-queue/api/metrics"
	"github.com/veridash/vd-analysis-queue/api/worker"
	"go.uber.org/zap"
)

// SelectionHandler receives the selection payload for a date the wave runner
// cannot finish on its own.  It reports whether the case was parked for a human
// decision: a parked date is not counted with its wave, it counts when the case
// resolves.  An unparked date is counted immediately like a failure.
type SelectionHandler func(date string, payload *worker.AnalyzeResponseData) bool

// WaveRunner is the non-streaming fallback: it issues per-date analysis requests
// in fixed-size waves.  The wave size stays small on purpose - past runs at higher
// concurrency corrupted each other's server-side working state, and the backend
// rate limits aggressively.
type WaveRunner struct {
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
	worker    *worker.Client
	waveSize  int
	waveDelay time.Duration
}

// NewWaveRunner creates a runner with the configured wave size and inter-wave
// delay.  Non-positive sizes fall back to a single request at a time.
func NewWaveRunner(logger *zap.SugaredLogger, m *metrics.Metrics, w *worker.Client, waveSize int, waveDelay time.Duration) *WaveRunner {
	if waveSize < 1 {
		waveSize = 1
	}
	return &WaveRunner{
		logger:    logger,
		metrics:   m,
		worker:    w,
		waveSize:  waveSize,
		waveDelay: waveDelay,
	}
}

// Run processes the dates in waves, settling every member of a wave (success or
// failure) before advancing.  A failed member is recorded against the run but
// still counts toward progress; the surrounding flow relies on the completed
// count reaching the total to end the run.  Returns the number of dates
// dispatched, which can be short of the list when cancelled mid-run.
func (w *WaveRunner) Run(ctx context.Context, run *Run, dates []string, onSelection SelectionHandler) int {
	processed := 0

	for start := 0; start < len(dates); start += w.waveSize {
		if ctx.Err() != nil {
			break
		}

		end := start + w.waveSize
		if end > len(dates) {
			end = len(dates)
		}
		wave := dates[start:end]

		run.Progress.MarkInFlight(wave...)

		results := make([]UnitResult, len(wave))
		payloads := make([]*worker.AnalyzeResponseData, len(wave))

		var wg sync.WaitGroup
		for i, date := range wave {
			wg.Add(1)
			go func(i int, date string) {
				defer wg.Done()
				response, err := w.worker.AnalyzeDate(ctx, date, false)
				switch {
				case err != nil:
					results[i] = UnitResult{Date: date, Outcome: OutcomeFailed, Err: err}
				case response.RequiresSelection:
					results[i] = UnitResult{Date: date, Outcome: OutcomeSelectionRequired}
					payloads[i] = response
				default:
					results[i] = UnitResult{Date: date, Outcome: OutcomeCompleted}
				}
			}(i, date)
		}
		wg.Wait()

		counted := 0
		for i, result := range results {
			switch result.Outcome {
			case OutcomeFailed:
				w.logger.Warnf("analysis failed for %s: %v", result.Date, result.Err)
				run.RecordFailure(result.Date, result.Err.Error())
				w.metrics.MarkUnitFailure()
				counted++
			case OutcomeSelectionRequired:
				parked := onSelection != nil && onSelection(result.Date, payloads[i])
				if !parked {
					counted++
				}
			default:
				counted++
			}
		}

		run.Progress.Settle(wave, counted)
		w.metrics.MarkDatesAnalyzed(counted)
		processed += len(wave)

		// smooth the request rate between waves
		if end < len(dates) && ctx.Err() == nil {
			time.Sleep(w.waveDelay)
		}
	}

	return processed
}
