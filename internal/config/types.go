package config

// Config is the full daemon configuration.
//
// Values come from (lowest to highest precedence): defaults, the optional
// config file (JSON or YAML), a .env file, then the process environment.
type Config struct {
	// Environment selects the admin service address: "dev" targets localhost,
	// anything else targets production.
	Environment string `json:"environment"`

	Admin     AdminConfig     `json:"admin"`
	Scanner   ScannerConfig   `json:"scanner"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type AdminConfig struct {
	// APIKey is sent as x-api-key. Never logged.
	APIKey string `json:"api_key"`
	// BaseURL overrides the environment-derived address (staging, tests).
	BaseURL string `json:"base_url,omitempty"`
}

type ScannerConfig struct {
	// Path is the scanner installation directory. Required while the scanner step is enabled.
	Path        string `json:"path"`
	Entry       string `json:"entry,omitempty"`       // default: dist/index.js
	Arg         string `json:"arg,omitempty"`         // default: id-and-phone
	Interpreter string `json:"interpreter,omitempty"` // default: node; "-" runs the entry directly
	// ReportEvery throttles "scanner still running" logs (Go duration, default 1h).
	ReportEvery string `json:"report_every,omitempty"`
}

// SchedulerConfig controls the base tick and the derived scanner cadence.
//
// Interval accepts "10m", "interval:600s", "@every 10m" or a cron expression.
// TransferEnabled and ScannerEnabled are pointers so an omitted key keeps the
// default (enabled) while an explicit false selects the delete-only variant.
type SchedulerConfig struct {
	Interval        string `json:"interval,omitempty"`
	CadenceHours    int    `json:"cadence_hours,omitempty"`
	TransferEnabled *bool  `json:"transfer_enabled,omitempty"`
	ScannerEnabled  *bool  `json:"scanner_enabled,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards WARN+ log lines to a Telegram chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"` // never logged
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// MetricsConfig controls the optional metrics/debug HTTP server.
// Disabled by default; when disabled the daemon opens no ports.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: 127.0.0.1:9464
	Pprof   bool   `json:"pprof,omitempty"`
}

// StorageConfig controls the optional outcome audit trail.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./admind.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Keep        int    `json:"keep,omitempty"`         // sqlite: newest rows to retain, 0 = all
}

// TransferOn reports the effective transfer step flag.
func (s SchedulerConfig) TransferOn() bool { return s.TransferEnabled == nil || *s.TransferEnabled }

// ScannerOn reports the effective scanner step flag.
func (s SchedulerConfig) ScannerOn() bool { return s.ScannerEnabled == nil || *s.ScannerEnabled }
