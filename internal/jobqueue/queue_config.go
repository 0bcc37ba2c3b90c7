/*
Package jobqueue configuration - tunable parameters for the River queue.

## Quick Configuration Reference:

### Performance Tuning:
- Increase MaxWorkers for higher throughput (more concurrent call pipelines)
- Adjust MaxRetries for different reliability vs. speed tradeoffs
- Configure JobTimeout based on voice-provider and LLM response times

### Monitoring and Debugging:
- Job status can be monitored via River's built-in job tracking
- Failed jobs retain error information in the River jobs table
- Jobs that exhaust MaxRetries land in River's discarded set, which is
  the operational dead-letter record

### Database Requirements:
- PostgreSQL with River schema migrations applied
- Connection pool sized for MaxWorkers concurrent jobs
*/
package jobqueue

import (
	"os"
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue.
type QueueConfig struct {
	// Number of concurrent workers processing finished calls. Each worker
	// holds an LLM call open for most of its runtime, so keep this modest.
	MaxWorkers int

	// Maximum attempts per job before River discards it.
	MaxRetries int

	// Maximum time a single job can run. A job spans the conversation
	// fetch, the extraction call, and three memory-service writes.
	JobTimeout time.Duration
}

// DefaultQueueConfig returns the default configuration.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers: 5,
		MaxRetries: 10,
		JobTimeout: 2 * time.Minute,
	}
}

// ProductionQueueConfig returns a configuration for production use.
func ProductionQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()
	config.MaxWorkers = 10
	config.MaxRetries = 25
	config.JobTimeout = 5 * time.Minute
	return config
}

// DevelopmentQueueConfig fails fast for local iteration.
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()
	config.MaxWorkers = 2
	config.MaxRetries = 3
	config.JobTimeout = 1 * time.Minute
	return config
}

// GetQueueConfig returns the configuration for the current environment.
func GetQueueConfig() *QueueConfig {
	switch os.Getenv("STANDUPBOT_ENV") {
	case "production":
		return ProductionQueueConfig()
	case "development":
		return DevelopmentQueueConfig()
	default:
		return DefaultQueueConfig()
	}
}

// RiverQueueConfig converts our config to River's queue configuration format.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
