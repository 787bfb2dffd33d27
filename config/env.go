package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Environment contains the imported environment variables.
type Environment struct {
	// Debug vs Deploy
	Mode string `default:"dev"`
	// Port to listen on
	Addr string `default:":4050"`
	// Analysis backend address including port
	AnalysisAddr string `default:"http://localhost:5000" split_words:"true"`
	// Analysis backend request timeout.  Single-date analysis can take minutes.
	AnalysisTimeoutSec int `default:"300" split_words:"true"`
	// Default AI provider forwarded to the analysis backend
	AIProvider string `default:"openai" split_words:"true"`
	// Default news provider forwarded to the analysis backend
	NewsProvider string `default:"exa" split_words:"true"`
	// Concurrency hint passed to the streaming batch endpoint.  Kept at 2: higher
	// values previously caused cross-date article bleeding on the backend.
	BatchConcurrency int `default:"2" split_words:"true"`
	// Number of per-date requests issued concurrently by the fallback runner
	FallbackWaveSize int `default:"2" split_words:"true"`
	// Delay between fallback waves in milliseconds
	FallbackWaveDelayMs int `default:"100" split_words:"true"`
	// Maximum number of selection cases held in the backlog
	SelectionQueueSize int `default:"100" split_words:"true"`
	// Use persisted queue or default (memory only) queue for pending selections.
	SelectionPersistedQueue bool `default:"true" split_words:"true"`
	// Directory to store the queue data in when persisted queue is used.
	SelectionQueueDir string `default:"./" split_words:"true"`
	// Name of queue when persisted queue is used.
	SelectionQueueName string `default:"selection_queue" split_words:"true"`
}

func (e Environment) String() string {
	settings, err := json.MarshalIndent(e, "", "    ")
	if err != nil {
		return fmt.Errorf("Failed to marshal env: %v", err).Error()
	}
	return fmt.Sprintf("Environment Settings:\n%s\n", string(settings))
}

// Load imports the environment variables and returns them in an Environment.
func Load(envFile string) (*Environment, error) {
	testEnv := os.Getenv("VD_MODE")
	// if no env var in existing environment, load environment file from the .env file,
	// otherwise (in production) just check existing host environment
	if "" == testEnv {
		err := godotenv.Load(envFile)
		if err != nil {
			return nil, errors.Wrapf(err, "Error loading %s file", envFile)
		}
	}

	var env Environment
	err := envconfig.Process("vd", &env)
	if err != nil {
		return nil, errors.Wrap(err, "Error processing environment config")
	}
	return &env, err
}
