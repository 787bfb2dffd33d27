package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridash/vd-analysis-queue/api/batch"
	"github.com/veridash/vd-analysis-queue/api/metrics"
	"github.com/veridash/vd-analysis-queue/api/queue"
	"github.com/veridash/vd-analysis-queue/api/routes"
	"github.com/veridash/vd-analysis-queue/api/selection"
	"github.com/veridash/vd-analysis-queue/api/worker"
	"github.com/veridash/vd-analysis-queue/config"
	"go.uber.org/zap"
)

// fake analysis backend: the ambiguous date requires a selection, everything else
// completes, and the streaming endpoint is unavailable so batches use waves
func newFakeBackend(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/analysis/batch-analyze":
			http.Error(w, "stream unavailable", http.StatusInternalServerError)
		case "/api/analysis/date/2024-03-03":
			_ = json.NewEncoder(w).Encode(worker.AnalyzeResponseData{
				RequiresSelection: true,
				SelectionData: worker.SelectionData{
					SelectionMode: "orphan",
					TieredArticles: worker.TieredArticles{
						Bitcoin: []worker.Article{{ID: "abc", Title: "halving"}},
					},
					OpenAISuggestedID: "abc",
				},
			})
		case "/api/analysis/date/2024-03-03/confirm-selection":
			var request worker.ConfirmRequestData
			require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
			_ = json.NewEncoder(w).Encode(worker.ConfirmResponseData{VeriBadge: "gold"})
		default:
			_ = json.NewEncoder(w).Encode(worker.AnalyzeResponseData{VeriBadge: "silver"})
		}
	}))
}

func newTestAPI(t *testing.T, backendAddr string) *httptest.Server {
	cfg := config.Config{
		Logger: zap.NewNop().Sugar(),
		Environment: &config.Environment{
			Mode:                "dev",
			AnalysisAddr:        backendAddr,
			AnalysisTimeoutSec:  5,
			AIProvider:          "openai",
			NewsProvider:        "exa",
			BatchConcurrency:    2,
			FallbackWaveSize:    2,
			FallbackWaveDelayMs: 1,
			SelectionQueueSize:  10,
		},
	}

	m := metrics.New()
	workerClient := worker.NewClient(&cfg)
	gate := selection.NewGate(cfg.Logger, m, workerClient, queue.NewListBacklog(10))
	orchestrator := batch.NewOrchestrator(&cfg, workerClient, gate, m)

	router, err := NewRouter(cfg, orchestrator, gate, m)
	require.NoError(t, err)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(encoded))
	require.NoError(t, err)
	return resp
}

func TestStartBatchRejectsEmptyDates(t *testing.T) {
	backend := newFakeBackend(t)
	defer backend.Close()
	server := newTestAPI(t, backend.URL)

	resp := postJSON(t, server.URL+"/analysis/batch", routes.StartBatchData{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	backend := newFakeBackend(t)
	defer backend.Close()
	server := newTestAPI(t, backend.URL)

	resp := postJSON(t, server.URL+"/analysis/batch", routes.StartBatchData{
		Dates: []string{"2024-03-01", "2024-03-02"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started routes.StartBatchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	assert.Equal(t, 2, started.Total)

	require.Eventually(t, func() bool {
		progressResp, err := http.Get(server.URL + "/analysis/batch/" + started.RunID)
		if err != nil {
			return false
		}
		defer progressResp.Body.Close()
		if progressResp.StatusCode != http.StatusOK {
			return false
		}

		var snapshot batch.RunSnapshot
		if err := json.NewDecoder(progressResp.Body).Decode(&snapshot); err != nil {
			return false
		}
		return snapshot.Done && snapshot.Completed == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSelectionFlowOverHTTP(t *testing.T) {
	backend := newFakeBackend(t)
	defer backend.Close()
	server := newTestAPI(t, backend.URL)

	// nothing pending yet
	resp, err := http.Get(server.URL + "/analysis/selection")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// ambiguous single-date analysis opens a case
	resp = postJSON(t, server.URL+"/analysis/date/2024-03-03", routes.AnalyzeDayData{ForceReanalysis: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var analysis worker.AnalyzeResponseData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&analysis))
	resp.Body.Close()
	require.True(t, analysis.RequiresSelection)
	assert.Equal(t, "orphan", analysis.SelectionMode)

	resp, err = http.Get(server.URL + "/analysis/selection")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending routes.SelectionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pending))
	resp.Body.Close()
	assert.Equal(t, "2024-03-03", pending.Case.Date)

	// confirming resolves the case
	resp = postJSON(t, server.URL+"/analysis/selection/2024-03-03/confirm", routes.ConfirmSelectionData{ArticleID: "abc"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var confirmed worker.ConfirmResponseData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&confirmed))
	resp.Body.Close()
	assert.Equal(t, "gold", confirmed.VeriBadge)

	resp, err = http.Get(server.URL + "/analysis/selection")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelUnknownRun(t *testing.T) {
	backend := newFakeBackend(t)
	defer backend.Close()
	server := newTestAPI(t, backend.URL)

	resp := postJSON(t, server.URL+"/analysis/batch/nope/cancel", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	backend := newFakeBackend(t)
	defer backend.Close()
	server := newTestAPI(t, backend.URL)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
