package routes

import (
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/veridash/vd-analysis-queue/api/batch"
	"github.com/veridash/vd-analysis-queue/config"
)

// StartBatchData is the body accepted by the batch start endpoint.
type StartBatchData struct {
	Dates       []string `json:"dates"`
	Concurrency int      `json:"concurrency"`
}

// StartBatchResponse acknowledges an accepted run.
type StartBatchResponse struct {
	RunID string `json:"run_id"`
	Total int    `json:"total"`
}

// StartBatch opens a new batch run over the supplied dates.  An empty date list
// is a 400 ("nothing to do"), a duplicate of an active run's date list is a 409.
func StartBatch(cfg *config.Config, orchestrator *batch.Orchestrator) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := ioutil.ReadAll(r.Body)
		defer r.Body.Close()
		if err != nil {
			handleErrorType(w, errors.Wrap(err, "failed to read batch start body"), http.StatusBadRequest, cfg.Logger)
			return
		}

		var startMsg StartBatchData
		err = json.Unmarshal(body, &startMsg)
		if err != nil {
			handleErrorType(w, errors.Wrap(err, "failed to unmarshal batch start body"), http.StatusBadRequest, cfg.Logger)
			return
		}

		run, err := orchestrator.Start(startMsg.Dates, startMsg.Concurrency)
		if err != nil {
			switch errors.Cause(err) {
			case batch.ErrNoDates:
				handleErrorMessage(w, err, http.StatusBadRequest, cfg.Logger)
			case batch.ErrRunActive:
				handleErrorMessage(w, err, http.StatusConflict, cfg.Logger)
			default:
				handleErrorMessage(w, err, http.StatusBadRequest, cfg.Logger)
			}
			return
		}

		w.WriteHeader(http.StatusAccepted)
		if err := handleJSON(w, StartBatchResponse{RunID: run.ID, Total: len(run.Dates)}); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}

// BatchProgress returns the progress snapshot for a run.
func BatchProgress(cfg *config.Config, orchestrator *batch.Orchestrator) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")
		run := orchestrator.Get(runID)
		if run == nil {
			handleErrorMessage(w, errors.Errorf("run %s not found", runID), http.StatusNotFound, cfg.Logger)
			return
		}
		if err := handleJSON(w, run.Snapshot()); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}

// CancelBatch requests cancellation of a run.  Cancelling twice is a no-op.
func CancelBatch(cfg *config.Config, orchestrator *batch.Orchestrator) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")
		if err := orchestrator.Cancel(runID); err != nil {
			handleErrorMessage(w, err, http.StatusNotFound, cfg.Logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
