package routes

import (
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/veridash/vd-analysis-queue/api/selection"
	"github.com/veridash/vd-analysis-queue/config"
)

// SelectionResponse surfaces the case awaiting a choice plus the number queued
// behind it.
type SelectionResponse struct {
	Case    *selection.Case `json:"case"`
	Backlog int             `json:"backlog"`
}

// CurrentSelection returns the selection case currently awaiting a human choice.
// 404 when the gate is idle.
func CurrentSelection(cfg *config.Config, gate *selection.Gate) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		current := gate.Current()
		if current == nil {
			handleErrorMessage(w, errors.New("no selection pending"), http.StatusNotFound, cfg.Logger)
			return
		}
		if err := handleJSON(w, SelectionResponse{Case: current, Backlog: gate.Depth()}); err != nil {
			handleErrorType(w, errors.New("failed to generate response"), http.StatusInternalServerError, cfg.Logger)
		}
	}
}

// ConfirmSelectionData is the body accepted by the confirm endpoint.
type ConfirmSelectionData struct {
	ArticleID string `json:"articleId"`
}

// ConfirmSelection resolves the open case for a date with the chosen article.  On
// upstream failure the case stays open and the error is surfaced so the user can
// retry or pick differently.
func ConfirmSelection(cfg *config.Config, gate *selection.Gate) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		date := chi.URLParam(r, "date")

		body, err := ioutil.ReadAll(r.Body)
		defer r.Body.Close()
		if err != nil {
			handleErrorType(w, errors.Wrap(err, "failed to read confirm body"), http.StatusBadRequest, cfg.Logger)
			return
		}

		var confirmMsg ConfirmSelectionData
		if err := json.Unmarshal(body, &confirmMsg); err != nil {
			handleErrorType(w, errors.Wrap(err, "failed to unmarshal confirm body"), http.StatusBadRequest, cfg.Logger)
			return
		}
		if confirmMsg.ArticleID == "" {
			handleErrorMessage(w, errors.New("articleId missing"), http.StatusBadRequest, cfg.Logger)
			return
		}

		response, err := gate.Confirm(r.Context(), date, confirmMsg.ArticleID)
		if err != nil {
			if errors.Cause(err) == selection.ErrNoOpenCase {
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

// SkipSelection resolves the open case for a date without a choice, counting the
// date as skipped.  Mirrors the dashboard closing the selection dialog.
func SkipSelection(cfg *config.Config, gate *selection.Gate) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		date := chi.URLParam(r, "date")
		if err := gate.Skip(date); err != nil {
			handleErrorMessage(w, err, http.StatusConflict, cfg.Logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
