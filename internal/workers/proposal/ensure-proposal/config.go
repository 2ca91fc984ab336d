package ensureproposal

import (
	"time"

	"proposal-workers/internal/common/config"
)

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
}

func LoadConfig(app *config.Config) *Config {
	wc := config.GetWorkerConfig(app, TaskType)
	return &Config{
		Enabled:       wc.Enabled,
		MaxJobsActive: wc.MaxJobsActive,
		Timeout:       config.GetDuration(wc.Timeout),
	}
}
