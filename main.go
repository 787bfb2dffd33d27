package main

import (
	"encoding/gob"
	"fmt"
	"log"
	"net/http"

	"github.com/veridash/vd-analysis-queue/api"
	"github.com/veridash/vd-analysis-queue/api/batch"
	"github.com/veridash/vd-analysis-queue/api/metrics"
	"github.com/veridash/vd-analysis-queue/api/queue"
	"github.com/veridash/vd-analysis-queue/api/selection"
	"github.com/veridash/vd-analysis-queue/api/worker"
	"github.com/veridash/vd-analysis-queue/config"
	"go.uber.org/zap"
)

const envFile = "vd.env"

var (
	// populated at compile time based on data injected by the makefile
	version   = "unset"
	timestamp = "unset"
)

func main() {
	// Load environment
	env, err := config.Load(envFile)
	if err != nil {
		log.Fatal(err)
	}

	// Setup logging
	var logger *zap.Logger
	switch env.Mode {
	case "dev":
		logger, err = zap.NewDevelopment()
	case "prod":
		logger, err = zap.NewProduction()

	default:
		err = fmt.Errorf("Invalid 'mode' flag: %s", env.Mode)
	}
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		_ = logger.Sync()
	}()
	sugar := logger.Sugar()

	cfg := config.Config{
		Logger:      sugar,
		Environment: env,
	}

	// Log version
	sugar.Infof("Version: %s Timestamp: %s", version, timestamp)

	// Log config
	sugar.Info(env)

	// Setup the selection backlog
	var backlog queue.Backlog
	if env.SelectionPersistedQueue {
		// The gob package that the persisted backlog uses for storing data requires a
		// one-time registration of any structures that it stores.
		gob.Register(&selection.Case{})
		backlog, err = queue.NewPersistedBacklog(env.SelectionQueueSize, env.SelectionQueueDir, env.SelectionQueueName)
		if err != nil {
			sugar.Fatal(err)
		}
		sugar.Infof("Loaded selection backlog with %d entries from %s%s", backlog.Size(), env.SelectionQueueDir, env.SelectionQueueName)
	} else {
		// in-memory backlog, pending selections do not survive a restart
		backlog = queue.NewListBacklog(env.SelectionQueueSize)
	}

	// Metrics, analysis backend client, selection gate, orchestrator
	m := metrics.New()
	workerClient := worker.NewClient(&cfg)
	gate := selection.NewGate(sugar, m, workerClient, backlog)
	orchestrator := batch.NewOrchestrator(&cfg, workerClient, gate, m)

	// Setup router
	r, err := api.NewRouter(cfg, orchestrator, gate, m)
	if err != nil {
		sugar.Fatal(err)
	}

	// Start listening
	sugar.Infof("Listening on %s", env.Addr)
	sugar.Fatal(http.ListenAndServe(env.Addr, r))
}
