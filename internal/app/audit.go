package app

import (
	"context"
	"fmt"
	"time"

	"admind/internal/adminapi"
	"admind/internal/scanner"
	"admind/internal/storage"
	logx "admind/pkg/logx"
)

// recorder appends outcomes to the audit trail. Write failures are logged at
// DEBUG and otherwise ignored.
type recorder struct {
	store storage.Store
	log   logx.Logger
}

func (r recorder) append(rec storage.RunRecord) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.store.Append(ctx, rec); err != nil {
		r.log.Debug("audit append failed", logx.String("kind", rec.Kind), logx.Err(err))
	}
}

func (r recorder) outcome(_ context.Context, o adminapi.Outcome) {
	rec := storage.RunRecord{
		At:      time.Now(),
		Kind:    storage.KindAction,
		Action:  string(o.Action),
		Outcome: o.Label(),
		Status:  o.Status,
		TookMS:  o.Took.Milliseconds(),
	}
	switch {
	case o.Err != nil:
		rec.Error = o.Err.Error()
	case o.ParseErr != nil:
		rec.Error = o.ParseErr.Error()
	}
	r.append(rec)
}

func (r recorder) launch(_ *scanner.Run, err error) {
	if err == nil {
		return
	}
	r.append(storage.RunRecord{
		At:      time.Now(),
		Kind:    storage.KindScanner,
		Action:  "launch",
		Outcome: "spawn_error",
		Error:   err.Error(),
	})
}

func (r recorder) exit(_ *scanner.Run, e scanner.Exit) {
	rec := storage.RunRecord{
		At:      time.Now(),
		Kind:    storage.KindScanner,
		Action:  "exit",
		Outcome: fmt.Sprintf("exit_%d", e.Code),
		Status:  e.Code,
		TookMS:  e.Took.Milliseconds(),
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	r.append(rec)
}
