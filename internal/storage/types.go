package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file at <path without ext>.audit.jsonl
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Keep bounds the sqlite table to the newest Keep rows. 0 keeps everything.
	Keep int
}

// Record kinds.
const (
	KindAction  = "action"
	KindScanner = "scanner"
)

// RunRecord is one audited outcome. Keep it compact and schema-stable.
type RunRecord struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Action  string    `json:"action"`
	Outcome string    `json:"outcome"`
	Status  int       `json:"status,omitempty"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}
