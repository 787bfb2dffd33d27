package batch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridash/vd-analysis-queue/api/worker"
)

func dateFromPath(r *http.Request) string {
	parts := strings.Split(r.URL.Path, "/")
	return parts[len(parts)-1]
}

func newWaveRunnerForTest(addr string, waveSize int) *WaveRunner {
	cfg := testConfig(addr)
	return NewWaveRunner(cfg.Logger, nil, worker.NewClient(cfg), waveSize, time.Millisecond)
}

func TestWaveRunnerSevenDates(t *testing.T) {
	var inFlight int32
	var maxInFlight int32
	var requests int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			observed := atomic.LoadInt32(&maxInFlight)
			if current <= observed || atomic.CompareAndSwapInt32(&maxInFlight, observed, current) {
				break
			}
		}
		atomic.AddInt32(&requests, 1)

		time.Sleep(5 * time.Millisecond)
		if dateFromPath(r) == "2024-03-04" {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(worker.AnalyzeResponseData{})
	}))
	defer server.Close()

	dates := []string{
		"2024-03-01", "2024-03-02", "2024-03-03", "2024-03-04",
		"2024-03-05", "2024-03-06", "2024-03-07",
	}
	run := NewRun("test", 0, dates, func() {})

	runner := newWaveRunnerForTest(server.URL, 2)
	processed := runner.Run(context.Background(), run, dates, nil)

	assert.Equal(t, 7, processed)
	assert.Equal(t, int32(7), atomic.LoadInt32(&requests))
	// waves of [2,2,2,1] never exceed the wave size
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))

	snapshot := run.Snapshot()
	// the failed date still counts toward progress, it is recorded not retried
	assert.Equal(t, 7, snapshot.Completed)
	require.Len(t, snapshot.Errors, 1)
	assert.Contains(t, snapshot.Errors, "2024-03-04")
	assert.Empty(t, snapshot.InFlight)
}

func TestWaveRunnerSelectionParked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := worker.AnalyzeResponseData{}
		if dateFromPath(r) == "2024-03-02" {
			response.RequiresSelection = true
			response.SelectionMode = "orphan"
		}
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	dates := []string{"2024-03-01", "2024-03-02"}
	run := NewRun("test", 0, dates, func() {})

	var mutex sync.Mutex
	var parked []string
	runner := newWaveRunnerForTest(server.URL, 2)
	processed := runner.Run(context.Background(), run, dates, func(date string, payload *worker.AnalyzeResponseData) bool {
		mutex.Lock()
		defer mutex.Unlock()
		parked = append(parked, date)
		return true
	})

	assert.Equal(t, 2, processed)
	assert.Equal(t, []string{"2024-03-02"}, parked)

	// the parked date is excluded from the wave's count until its case resolves
	snapshot := run.Snapshot()
	assert.Equal(t, 1, snapshot.Completed)
	assert.Empty(t, snapshot.InFlight)
}

func TestWaveRunnerCancelledBetweenWaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		cancel()
		_ = json.NewEncoder(w).Encode(worker.AnalyzeResponseData{})
	}))
	defer server.Close()

	dates := []string{"2024-03-01", "2024-03-02", "2024-03-03", "2024-03-04"}
	run := NewRun("test", 0, dates, cancel)

	runner := newWaveRunnerForTest(server.URL, 2)
	processed := runner.Run(ctx, run, dates, nil)

	// the first wave settles (its second member may abort with the shared
	// signal), later waves never start
	assert.Equal(t, 2, processed)
	assert.LessOrEqual(t, atomic.LoadInt32(&requests), int32(2))
	assert.Equal(t, 2, run.Snapshot().Completed)
}
