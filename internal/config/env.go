package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names. The first three are the required inputs.
const (
	EnvEnvironment = "ENVIRONMENT"
	EnvAPIKey      = "ADMIN_API_KEY"
	EnvScannerPath = "TRANSACTION_SCANNER_PATH"

	EnvBaseURL  = "ADMIN_BASE_URL"
	EnvLogLevel = "ADMIND_LOG_LEVEL"
	EnvInterval = "ADMIND_INTERVAL"
	EnvCadence  = "ADMIND_CADENCE_HOURS"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotenv loads the given .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return err
		}
	}
	return nil
}

// applyEnv overlays environment values on cfg. Empty values are ignored.
func applyEnv(cfg *Config, lookup LookupFunc) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvEnvironment); ok {
		cfg.Environment = v
	}
	if v, ok := get(EnvAPIKey); ok {
		cfg.Admin.APIKey = v
	}
	if v, ok := get(EnvScannerPath); ok {
		cfg.Scanner.Path = v
	}
	if v, ok := get(EnvBaseURL); ok {
		cfg.Admin.BaseURL = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get(EnvInterval); ok {
		cfg.Scheduler.Interval = v
	}
	if v, ok := get(EnvCadence); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			// Rejected by Validate.
			n = -1
		}
		cfg.Scheduler.CadenceHours = n
	}
}
