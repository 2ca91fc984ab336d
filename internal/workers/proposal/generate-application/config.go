package generateapplication

import (
	"time"

	"proposal-workers/internal/common/config"
)

// defaultTimeout covers a full progressive run with retries.
const defaultTimeout = 15 * time.Minute

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
	// PublishProgress forwards run progress as generation-progress messages.
	PublishProgress bool
}

func LoadConfig(app *config.Config) *Config {
	wc := config.GetWorkerConfig(app, TaskType)
	c := &Config{
		Enabled:         wc.Enabled,
		MaxJobsActive:   wc.MaxJobsActive,
		Timeout:         config.GetDuration(wc.Timeout),
		PublishProgress: app.Generation.ProgressMessages,
	}
	if _, configured := app.Workers[TaskType]; !configured {
		c.Timeout = defaultTimeout
	}
	return c
}
