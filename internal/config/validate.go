package config

import (
	"errors"
	"fmt"
	"strings"

	logx "admind/pkg/logx"
)

// ErrConfigMissing marks a startup failure caused by absent required values.
var ErrConfigMissing = errors.New("required configuration missing")

// MissingError lists every required key that was absent.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfigMissing, strings.Join(e.Keys, ", "))
}

func (e *MissingError) Unwrap() error { return ErrConfigMissing }

const (
	DefaultInterval     = "10m"
	DefaultCadenceHours = 12
	DefaultEntry        = "dist/index.js"
	DefaultArg          = "id-and-phone"
	DefaultInterpreter  = "node"
	DefaultReportEvery  = "1h"
	DefaultMetricsAddr  = "127.0.0.1:9464"
)

// Defaults returns a config with every optional value filled in.
func Defaults() *Config {
	return &Config{
		Scanner: ScannerConfig{
			Entry:       DefaultEntry,
			Arg:         DefaultArg,
			Interpreter: DefaultInterpreter,
			ReportEvery: DefaultReportEvery,
		},
		Scheduler: SchedulerConfig{
			Interval:     DefaultInterval,
			CadenceHours: DefaultCadenceHours,
		},
		Logging: LoggingConfig{
			Level:   "INFO",
			Console: true,
		},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
	}
}

// Validate checks required values first and returns a *MissingError naming
// all of them; structural problems are reported afterwards.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &MissingError{Keys: []string{EnvEnvironment, EnvAPIKey, EnvScannerPath}}
	}

	var missing []string
	if strings.TrimSpace(cfg.Environment) == "" {
		missing = append(missing, EnvEnvironment)
	}
	if strings.TrimSpace(cfg.Admin.APIKey) == "" {
		missing = append(missing, EnvAPIKey)
	}
	if cfg.Scheduler.ScannerOn() && strings.TrimSpace(cfg.Scanner.Path) == "" {
		missing = append(missing, EnvScannerPath)
	}
	if len(missing) > 0 {
		return &MissingError{Keys: missing}
	}

	if cfg.Scheduler.CadenceHours <= 0 {
		return fmt.Errorf("scheduler.cadence_hours must be > 0")
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if _, err := ParseDurationField("scanner.report_every", cfg.Scanner.ReportEvery); err != nil {
		return err
	}
	if t := cfg.Logging.Telegram; t.Enabled {
		if strings.TrimSpace(t.Token) == "" {
			return fmt.Errorf("logging.telegram.token is required when telegram logging is enabled")
		}
		if t.RatePerSec < 0 {
			return fmt.Errorf("logging.telegram.rate_per_sec must be >= 0")
		}
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(cfg.Storage.Path) == "" {
				return fmt.Errorf("storage.path is required when storage.driver=%s", cfg.Storage.Driver)
			}
		default:
			return fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
		if cfg.Storage.Keep < 0 {
			return fmt.Errorf("storage.keep must be >= 0")
		}
	}
	return nil
}
