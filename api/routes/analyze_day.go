package routes

import (
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/veridash/vd-analysis-queue/api/batch"
	"github.com/veridash/vd-analysis-queue/api/selection"
	"github.com/veridash/vd-analysis-queue/config"
)

// AnalyzeDayData is the body accepted by the single-date analysis endpoint.
type AnalyzeDayData struct {
	ForceReanalysis bool `json:"forceReanalysis"`
}

// AnalyzeDay runs analysis for one date.  The response is the backend's analysis
// payload: either a completed record or a selection payload the dashboard should
// resolve through the selection endpoints.
func AnalyzeDay(cfg *config.Config, orchestrator *batch.Orchestrator) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		date := chi.URLParam(r, "date")

		var analyzeMsg AnalyzeDayData
		body, err := ioutil.ReadAll(r.Body)
		defer r.Body.Close()
		if err != nil {
			handleErrorType(w, errors.Wrap(err, "failed to read analyze request body"), http.StatusBadRequest, cfg.Logger)
			return
		}
		// an empty body means default options
		if len(body) > 0 {
			if err := json.Unmarshal(body, &analyzeMsg); err != nil {
				handleErrorType(w, errors.Wrap(err, "failed to unmarshal analyze request body"), http.StatusBadRequest, cfg.Logger)
				return
			}
		}

		response, err := orchestrator.AnalyzeSingle(r.Context(), date, analyzeMsg.ForceReanalysis)
		if err != nil {
			if errors.Cause(err) == selection.ErrCaseOpen {
				handleErrorMessage(w, err, http.StatusConflict, cfg.Logger)
				return
			}
			handleErrorMessage(w, err, http.StatusBadGateway, cfg.Logger)
			return
		}

		if err := handleJSON(w, response); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}

// RedoSummariesData is the body accepted by the bulk redo-summaries endpoint.
type RedoSummariesData struct {
	Dates []string `json:"dates"`
}

// RedoSummariesResponse reports how many regenerations were attempted and how
// many failed.
type RedoSummariesResponse struct {
	Requested int `json:"requested"`
	Failed    int `json:"failed"`
}

// RedoSummaries regenerates summaries for a list of dates, best effort.
func RedoSummaries(cfg *config.Config, orchestrator *batch.Orchestrator) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := ioutil.ReadAll(r.Body)
		defer r.Body.Close()
		if err != nil {
			handleErrorType(w, errors.Wrap(err, "failed to read redo-summaries body"), http.StatusBadRequest, cfg.Logger)
			return
		}

		var redoMsg RedoSummariesData
		if err := json.Unmarshal(body, &redoMsg); err != nil {
			handleErrorType(w, errors.Wrap(err, "failed to unmarshal redo-summaries body"), http.StatusBadRequest, cfg.Logger)
			return
		}
		if len(redoMsg.Dates) == 0 {
			handleErrorMessage(w, errors.New("no dates selected"), http.StatusBadRequest, cfg.Logger)
			return
		}

		requested, failed := orchestrator.RedoSummaries(r.Context(), redoMsg.Dates)
		if err := handleJSON(w, RedoSummariesResponse{Requested: requested, Failed: failed}); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}
