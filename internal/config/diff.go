package config

import (
	"reflect"
	"sort"
	"strings"

	logx "dmblast/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Nothing secret ever lands in the attrs (the
// config carries no tokens, but keep it that way).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
			logx.String("server.request_timeout", strings.TrimSpace(newCfg.Server.RequestTimeout)),
			logx.Int64("server.max_import_bytes", newCfg.Server.MaxImportBytes),
			logx.Int("server.allowed_origins", len(newCfg.Server.AllowedOrigins)),
		)
	}

	if oldCfg.Slack != newCfg.Slack {
		changed = append(changed, "slack")
		attrs = append(attrs,
			logx.Int("slack.rate_per_sec", newCfg.Slack.RatePerSec),
			logx.Int("slack.retry_max", newCfg.Slack.RetryMax),
			logx.String("slack.retry_base", strings.TrimSpace(newCfg.Slack.RetryBase)),
		)
	}

	if oldCfg.Send != newCfg.Send {
		changed = append(changed, "send")
		attrs = append(attrs,
			logx.Int("send.workers", newCfg.Send.Workers),
			logx.Int("send.queue_size", newCfg.Send.QueueSize),
			logx.Int("send.status_max", newCfg.Send.StatusMax),
			logx.String("send.status_ttl", strings.TrimSpace(newCfg.Send.StatusTTL)),
		)
	}

	if oldCfg.Archive != newCfg.Archive {
		changed = append(changed, "archive")
		attrs = append(attrs,
			logx.Bool("archive.enabled", newCfg.Archive.Enabled),
			logx.Bool("archive.path_set", strings.TrimSpace(newCfg.Archive.Path) != ""),
			logx.String("archive.retention", strings.TrimSpace(newCfg.Archive.Retention)),
			logx.String("archive.prune_schedule", strings.TrimSpace(newCfg.Archive.PruneSchedule)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
