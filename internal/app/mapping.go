package app

import (
	"fmt"
	"strings"
	"time"

	"admind/internal/adminapi"
	"admind/internal/config"
	"admind/internal/observability"
	"admind/internal/scanner"
	"admind/internal/scheduler"
	"admind/internal/storage"
	logx "admind/pkg/logx"
)

func mapAdminConfig(cfg *config.Config) adminapi.Config {
	base := strings.TrimSpace(cfg.Admin.BaseURL)
	if base == "" {
		base = adminapi.ResolveBaseURL(cfg.Environment)
	}
	return adminapi.Config{BaseURL: base, APIKey: cfg.Admin.APIKey}
}

func mapScannerConfig(cfg *config.Config) (scanner.Config, error) {
	every, err := config.ParseDurationOrDefault("scanner.report_every", cfg.Scanner.ReportEvery, time.Hour)
	if err != nil {
		return scanner.Config{}, err
	}
	sc := scanner.Config{
		Dir:         strings.TrimSpace(cfg.Scanner.Path),
		Entry:       cfg.Scanner.Entry,
		Arg:         cfg.Scanner.Arg,
		Interpreter: cfg.Scanner.Interpreter,
		ReportEvery: every,
	}
	if sc.Entry == "" {
		sc.Entry = config.DefaultEntry
	}
	if sc.Arg == "" {
		sc.Arg = config.DefaultArg
	}
	if sc.Interpreter == "" {
		sc.Interpreter = config.DefaultInterpreter
	}
	return sc, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	raw := cfg.Scheduler.Interval
	if strings.TrimSpace(raw) == "" {
		raw = config.DefaultInterval
	}
	iv, err := scheduler.ParseInterval(raw)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.interval: %w", err)
	}
	return scheduler.Config{
		Interval:     iv,
		CadenceHours: int64(cfg.Scheduler.CadenceHours),
		Transfer:     cfg.Scheduler.TransferOn(),
		Scan:         cfg.Scheduler.ScannerOn(),
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, Keep: sc.Keep}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapServerConfig(cfg *config.Config) observability.ServerConfig {
	return observability.ServerConfig{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Pprof:   cfg.Metrics.Pprof,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
		Redact: []string{cfg.Admin.APIKey, cfg.Logging.Telegram.Token},
	}
}

// validateRuntime rejects configs whose derived settings cannot be built.
func validateRuntime(cfg *config.Config) error {
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapScannerConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
