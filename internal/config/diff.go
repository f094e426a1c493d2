package config

import (
	"reflect"
	"strings"

	logx "admind/pkg/logx"
)

// Sections reloadable without a restart.
var liveSections = map[string]bool{"logging": true}

// SummarizeChange returns the changed top-level sections and safe log fields
// describing them. Secrets (API key, bot token) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	fields := make([]logx.Field, 0, 8)

	if oldCfg.Environment != newCfg.Environment ||
		oldCfg.Admin.APIKey != newCfg.Admin.APIKey ||
		strings.TrimSpace(oldCfg.Admin.BaseURL) != strings.TrimSpace(newCfg.Admin.BaseURL) {
		changed = append(changed, "admin")
		fields = append(fields,
			logx.String("environment", newCfg.Environment),
			logx.Bool("admin.api_key_changed", oldCfg.Admin.APIKey != newCfg.Admin.APIKey),
		)
	}
	if oldCfg.Scanner != newCfg.Scanner {
		changed = append(changed, "scanner")
		fields = append(fields, logx.String("scanner.path", newCfg.Scanner.Path))
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.String("scheduler.interval", newCfg.Scheduler.Interval),
			logx.Int("scheduler.cadence_hours", newCfg.Scheduler.CadenceHours),
		)
	}
	ol, nl := oldCfg.Logging, newCfg.Logging
	ol.Telegram.Token, nl.Telegram.Token = "", ""
	if ol != nl || oldCfg.Logging.Telegram.Token != newCfg.Logging.Telegram.Token {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	return changed, fields
}

// RestartRequired filters sections that only take effect after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if !liveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
