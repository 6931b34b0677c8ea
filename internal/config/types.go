package config

type Config struct {
	Server  ServerConfig  `json:"server"`
	Slack   SlackConfig   `json:"slack"`
	Send    SendConfig    `json:"send"`
	Archive ArchiveConfig `json:"archive,omitempty"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig controls the HTTP listener.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ServerConfig struct {
	Addr string `json:"addr"` // default: ":8080"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// RequestTimeout bounds each request end to end. Default "60s".
	RequestTimeout string `json:"request_timeout,omitempty"`

	// MaxImportBytes caps variable-file uploads. Default 1 MiB.
	MaxImportBytes int64 `json:"max_import_bytes,omitempty"`

	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// SlackConfig controls the Slack Web API clients built per request. User
// tokens arrive with requests and are never part of the config file.
type SlackConfig struct {
	RatePerSec int `json:"rate_per_sec"`
	RetryMax   int `json:"retry_max"`
	// RetryBase is the first retry backoff, a Go duration string. Default "1s".
	RetryBase string `json:"retry_base,omitempty"`
}

// SendConfig controls the bulk send engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - status_max: 200
//   - status_ttl: "24h"
type SendConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// StatusMax/StatusTTL bound the in-memory job status map.
	StatusMax int    `json:"status_max,omitempty"`
	StatusTTL string `json:"status_ttl,omitempty"`
}

// ArchiveConfig controls the optional sqlite audit log of finished jobs.
//
// Example:
//
//	"archive": { "enabled": true, "path": "./dmblast.db", "retention": "720h" }
type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
	// Retention is how long finished jobs are kept, a Go duration string.
	// Default "720h" (30 days); "0s" keeps them forever.
	Retention string `json:"retention,omitempty"`
	// PruneSchedule is a cron expression for the retention sweep.
	// Default "0 3 * * *" (daily at 03:00).
	PruneSchedule string `json:"prune_schedule,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
