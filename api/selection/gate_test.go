package selection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridash/vd-analysis-queue/api/queue"
	"github.com/veridash/vd-analysis-queue/api/worker"
	"github.com/veridash/vd-analysis-queue/config"
	"go.uber.org/zap"
)

func newTestGate(analysisAddr string) *Gate {
	cfg := &config.Config{
		Logger: zap.NewNop().Sugar(),
		Environment: &config.Environment{
			AnalysisAddr:       analysisAddr,
			AnalysisTimeoutSec: 5,
			AIProvider:         "openai",
			NewsProvider:       "exa",
		},
	}
	return NewGate(cfg.Logger, nil, worker.NewClient(cfg), queue.NewListBacklog(10))
}

func orphanCase(runID string, date string) *Case {
	return &Case{
		RunID: runID,
		Date:  date,
		Data: worker.SelectionData{
			SelectionMode: "orphan",
			TieredArticles: worker.TieredArticles{
				Bitcoin: []worker.Article{{ID: "abc"}},
			},
		},
	}
}

func TestGateConfirmRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/analysis/date/2024-03-03/confirm-selection", r.URL.Path)
		var request worker.ConfirmRequestData
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "abc", request.ArticleID)
		assert.Equal(t, "orphan", request.SelectionMode)
		_ = json.NewEncoder(w).Encode(worker.ConfirmResponseData{VeriBadge: "gold"})
	}))
	defer server.Close()

	gate := newTestGate(server.URL)

	var resolvedDate string
	var resolvedConfirmed bool
	gate.SetOnResolved(func(c *Case, confirmed bool) {
		resolvedDate = c.Date
		resolvedConfirmed = confirmed
	})

	require.NoError(t, gate.Open(orphanCase("", "2024-03-03")))
	require.NotNil(t, gate.Current())
	assert.Equal(t, "2024-03-03", gate.Current().Date)

	response, err := gate.Confirm(context.Background(), "2024-03-03", "abc")
	require.NoError(t, err)
	assert.Equal(t, "gold", response.VeriBadge)

	assert.Nil(t, gate.Current())
	assert.Equal(t, "2024-03-03", resolvedDate)
	assert.True(t, resolvedConfirmed)
}

func TestGateFailedConfirmationKeepsCaseOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "summarizer unavailable"})
	}))
	defer server.Close()

	gate := newTestGate(server.URL)

	resolutions := 0
	gate.SetOnResolved(func(c *Case, confirmed bool) { resolutions++ })

	require.NoError(t, gate.Open(orphanCase("", "2024-03-03")))

	_, err := gate.Confirm(context.Background(), "2024-03-03", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summarizer unavailable")

	// the case stays open for retry, nothing resolved
	require.NotNil(t, gate.Current())
	assert.Equal(t, "2024-03-03", gate.Current().Date)
	assert.Equal(t, 0, resolutions)
}

func TestGateConfirmWrongDate(t *testing.T) {
	gate := newTestGate("http://localhost:0")
	require.NoError(t, gate.Open(orphanCase("", "2024-03-03")))

	_, err := gate.Confirm(context.Background(), "2024-03-04", "abc")
	assert.Equal(t, ErrNoOpenCase, errors.Cause(err))
}

func TestGateSecondCaseQueues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(worker.ConfirmResponseData{VeriBadge: "gold"})
	}))
	defer server.Close()

	gate := newTestGate(server.URL)

	require.NoError(t, gate.Open(orphanCase("run-1", "2024-03-01")))
	require.NoError(t, gate.Open(orphanCase("run-1", "2024-03-02")))

	assert.Equal(t, "2024-03-01", gate.Current().Date)
	assert.Equal(t, 1, gate.Depth())

	_, err := gate.Confirm(context.Background(), "2024-03-01", "abc")
	require.NoError(t, err)

	// the queued case surfaces once the first resolves
	require.NotNil(t, gate.Current())
	assert.Equal(t, "2024-03-02", gate.Current().Date)
	assert.Equal(t, 0, gate.Depth())
}

func TestGateDuplicateDateIsProtocolError(t *testing.T) {
	gate := newTestGate("http://localhost:0")

	require.NoError(t, gate.Open(orphanCase("run-1", "2024-03-01")))
	err := gate.Open(orphanCase("run-1", "2024-03-01"))
	assert.Equal(t, ErrCaseOpen, errors.Cause(err))
}

func TestGateSkip(t *testing.T) {
	gate := newTestGate("http://localhost:0")

	var resolvedConfirmed bool
	resolutions := 0
	gate.SetOnResolved(func(c *Case, confirmed bool) {
		resolvedConfirmed = confirmed
		resolutions++
	})

	require.NoError(t, gate.Open(orphanCase("run-1", "2024-03-01")))
	require.NoError(t, gate.Skip("2024-03-01"))

	assert.Nil(t, gate.Current())
	assert.Equal(t, 1, resolutions)
	assert.False(t, resolvedConfirmed)

	assert.Equal(t, ErrNoOpenCase, errors.Cause(gate.Skip("2024-03-01")))
}

func TestGateCurrentIsACopy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(worker.ConfirmResponseData{VeriBadge: "gold"})
	}))
	defer server.Close()

	gate := newTestGate(server.URL)
	require.NoError(t, gate.Open(orphanCase("", "2024-03-03")))

	snapshot := gate.Current()
	require.NotNil(t, snapshot)

	// readers marshal their copy while the case resolves underneath them
	stop := make(chan bool)
	marshalled := make(chan bool)
	go func() {
		defer close(marshalled)
		for {
			select {
			case <-stop:
				return
			default:
				if current := gate.Current(); current != nil {
					_, err := json.Marshal(current)
					assert.NoError(t, err)
				}
			}
		}
	}()

	_, err := gate.Confirm(context.Background(), "2024-03-03", "abc")
	require.NoError(t, err)
	close(stop)
	<-marshalled

	// the copy handed out before resolution is untouched
	assert.False(t, snapshot.Resolved)
	assert.Equal(t, "2024-03-03", snapshot.Date)
}

func TestGateDropRun(t *testing.T) {
	gate := newTestGate("http://localhost:0")

	require.NoError(t, gate.Open(orphanCase("run-1", "2024-03-01")))
	require.NoError(t, gate.Open(orphanCase("run-1", "2024-03-02")))
	require.NoError(t, gate.Open(orphanCase("run-2", "2024-03-03")))

	gate.DropRun("run-1")

	// the other run's case survives and surfaces
	require.NotNil(t, gate.Current())
	assert.Equal(t, "2024-03-03", gate.Current().Date)
	assert.Equal(t, 0, gate.Depth())

	// dropped dates may open fresh cases afterwards
	require.NoError(t, gate.Open(orphanCase("run-3", "2024-03-01")))
}
