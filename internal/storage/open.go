package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	logx "admind/pkg/logx"
)

// Store is the audit trail API.
type Store interface {
	Append(ctx context.Context, r RunRecord) error
	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]RunRecord, error)
	Close() error
}

type opener func(Config, logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Drivers lists the accepted driver names.
func Drivers() []string {
	out := make([]string, 0, len(drivers))
	for k := range drivers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open returns (nil, nil) when storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	open, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q (want one of %s)", driver, strings.Join(Drivers(), ", "))
	}
	if cfg.Keep < 0 {
		return nil, fmt.Errorf("storage keep must be >= 0, got %d", cfg.Keep)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log)
}
