package batch

import (
	"github.com/veridash/vd-analysis-queue/api/queue"
	"github.com/veridash/vd-analysis-queue/api/selection"
	"github.com/veridash/vd-analysis-queue/api/worker"
	"github.com/veridash/vd-analysis-queue/config"
	"go.uber.org/zap"
)

func testConfig(analysisAddr string) *config.Config {
	return &config.Config{
		Logger: zap.NewNop().Sugar(),
		Environment: &config.Environment{
			Mode:                "dev",
			AnalysisAddr:        analysisAddr,
			AnalysisTimeoutSec:  5,
			AIProvider:          "openai",
			NewsProvider:        "exa",
			BatchConcurrency:    2,
			FallbackWaveSize:    2,
			FallbackWaveDelayMs: 1,
			SelectionQueueSize:  10,
		},
	}
}

func testOrchestrator(analysisAddr string) (*Orchestrator, *selection.Gate) {
	cfg := testConfig(analysisAddr)
	workerClient := worker.NewClient(cfg)
	gate := selection.NewGate(cfg.Logger, nil, workerClient, queue.NewListBacklog(10))
	return NewOrchestrator(cfg, workerClient, gate, nil), gate
}
