package notifygeneration

import (
	"time"

	"proposal-workers/internal/common/config"
)

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
	EmailEnabled  bool
	SMSEnabled    bool
	FromEmail     string
	SMSSenderID   string
	AWSRegion     string
}

func LoadConfig(app *config.Config) *Config {
	wc := config.GetWorkerConfig(app, TaskType)
	n := app.Notifications
	return &Config{
		Enabled:       wc.Enabled,
		MaxJobsActive: wc.MaxJobsActive,
		Timeout:       config.GetDuration(wc.Timeout),
		EmailEnabled:  n.Email.Enabled,
		SMSEnabled:    n.SMS.Enabled,
		FromEmail:     n.Email.FromEmail,
		SMSSenderID:   n.SMS.SenderID,
		AWSRegion:     n.AWS.Region,
	}
}
