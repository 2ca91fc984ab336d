// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	APIs          APIsConfig              `mapstructure:"apis"`
	Catalog       CatalogConfig           `mapstructure:"catalog"`
	Generation    GenerationConfig        `mapstructure:"generation"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Tracing       TracingConfig           `mapstructure:"tracing"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	HTTPAddress string `mapstructure:"http_address"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

// ServiceEndpoint describes one remote HTTP collaborator.
type ServiceEndpoint struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

// APIsConfig holds the remote services the pipeline talks to.
type APIsConfig struct {
	Generation ServiceEndpoint `mapstructure:"generation"`
	Content    ServiceEndpoint `mapstructure:"content"`
	Export     ServiceEndpoint `mapstructure:"export"`
}

// Catalog sources.
const (
	CatalogSourceElasticsearch  = "elasticsearch"
	CatalogSourceContentService = "content_service"
)

// CatalogConfig selects where section questions are loaded from.
type CatalogConfig struct {
	Source   string `mapstructure:"source"`
	Index    string `mapstructure:"index"`
	CacheTTL int    `mapstructure:"cache_ttl"` // milliseconds, 0 disables the redis cache
}

// GenerationConfig tunes the orchestrator and auto-save coordinator.
type GenerationConfig struct {
	DefaultMode       string `mapstructure:"default_mode"`
	RetryBackoff      []int  `mapstructure:"retry_backoff"` // milliseconds, one entry per extra attempt
	Debounce          int    `mapstructure:"debounce"`      // milliseconds
	ChargePartialRuns *bool  `mapstructure:"charge_partial_runs"`
	ProgressMessages  bool   `mapstructure:"progress_messages"`
}

// ChargesPartialRuns reports whether a completed run with errored questions
// consumes a credit. Defaults to true.
func (g GenerationConfig) ChargesPartialRuns() bool {
	return g.ChargePartialRuns == nil || *g.ChargePartialRuns
}

// NotificationConfig holds settings for the notify-generation worker.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TracingConfig controls the OTLP trace exporter.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}
