package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"admind/internal/adminapi"
	"admind/internal/scanner"
	logx "admind/pkg/logx"
)

// Invoker performs one admin action. Implementations never fail; the outcome
// is informational only.
type Invoker interface {
	Invoke(ctx context.Context, action adminapi.Action) adminapi.Outcome
}

// Launcher starts the scanner and returns without waiting for it.
type Launcher interface {
	Launch() (*scanner.Run, error)
}

// activeReporter is implemented by *scanner.Launcher.
type activeReporter interface {
	ReportActive()
}

// Epoch is the schedule zero point in whole hours since the Unix epoch.
type Epoch int64

// HoursSince returns the whole hours between the Unix epoch and t.
func HoursSince(t time.Time) int64 { return t.Unix() / 3600 }

// EpochAt captures the epoch for a scheduler started at t.
func EpochAt(t time.Time) Epoch { return Epoch(HoursSince(t)) }

// Elapsed is the number of whole wall-clock hours from e to now. It is
// recomputed from the clock every time and may go backwards if the host
// clock does.
func (e Epoch) Elapsed(now time.Time) int64 { return HoursSince(now) - int64(e) }

// CadenceDue reports whether a cadence of length hours is due at elapsed.
// It is true at elapsed 0.
func CadenceDue(elapsed, length int64) bool {
	if length <= 0 {
		return false
	}
	return elapsed%length == 0
}

type Config struct {
	Interval     Interval
	CadenceHours int64
	// Transfer and Scan enable the optional tick steps. Delete always runs.
	Transfer bool
	Scan     bool
}

// TickReport describes one finished tick.
type TickReport struct {
	Seq      uint64
	Started  time.Time
	Elapsed  int64
	ScanDue  bool
	Launched bool
	Run      *scanner.Run
	ScanErr  error
	Took     time.Duration
}

type TickObserver func(TickReport)

type Option func(*Scheduler)

func WithTickObserver(fn TickObserver) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

// Scheduler drives all periodic work from one base tick.
type Scheduler struct {
	cfg      Config
	invoker  Invoker
	launcher Launcher
	clock    clock.Clock
	log      logx.Logger
	epoch    Epoch

	observers []TickObserver
	seq       atomic.Uint64
}

func New(cfg Config, invoker Invoker, launcher Launcher, clk clock.Clock, log logx.Logger, opts ...Option) (*Scheduler, error) {
	if invoker == nil {
		return nil, errors.New("scheduler: invoker is nil")
	}
	if cfg.Scan && launcher == nil {
		return nil, errors.New("scheduler: scanner enabled without a launcher")
	}
	if cfg.Interval.Schedule == nil {
		return nil, errors.New("scheduler: interval is not set")
	}
	if cfg.CadenceHours <= 0 {
		return nil, fmt.Errorf("scheduler: cadence must be > 0, got %d", cfg.CadenceHours)
	}
	if clk == nil {
		clk = clock.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg:      cfg,
		invoker:  invoker,
		launcher: launcher,
		clock:    clk,
		log:      log,
		epoch:    EpochAt(clk.Now()),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Scheduler) Epoch() Epoch { return s.epoch }

// ErrNoNextTick is returned by Run when the schedule yields no future time.
var ErrNoNextTick = errors.New("scheduler: schedule has no next tick")

// Run ticks immediately and then on every interval until ctx is canceled.
// The next deadline is taken from the tick start before the work runs, so an
// overrunning tick delays the following one and ticks are never batched.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		logx.Int64("epoch_hours", int64(s.epoch)),
		logx.Int64("cadence_hours", s.cfg.CadenceHours),
		logx.String("interval_source", s.cfg.Interval.Source),
		logx.Duration("interval", s.cfg.Interval.Every),
		logx.Bool("transfer", s.cfg.Transfer),
		logx.Bool("scan", s.cfg.Scan))

	for {
		if ctx.Err() != nil {
			return nil
		}
		start := s.clock.Now()
		next := s.cfg.Interval.Schedule.Next(start)
		if next.IsZero() || !next.After(start) {
			s.tick(ctx, start)
			s.log.Error("schedule has no future tick, stopping",
				logx.String("interval_source", s.cfg.Interval.Source),
				logx.Time("now", start),
				logx.Time("next", next))
			return ErrNoNextTick
		}
		timer := s.clock.Timer(next.Sub(start))

		s.tick(ctx, start)

		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Tick runs one tick synchronously.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	return s.tick(ctx, s.clock.Now())
}

func (s *Scheduler) tick(ctx context.Context, start time.Time) TickReport {
	rep := TickReport{Seq: s.seq.Add(1), Started: start}
	log := s.log.With(logx.Int64("tick", int64(rep.Seq)))
	log.Debug("tick")

	// Remote call context is detached from shutdown: in-flight calls finish.
	callCtx := context.WithoutCancel(ctx)

	for _, action := range adminapi.Actions() {
		if action == adminapi.ActionTransferFunds && !s.cfg.Transfer {
			continue
		}
		s.invoker.Invoke(callCtx, action)
	}

	rep.Elapsed = s.epoch.Elapsed(s.clock.Now())
	rep.ScanDue = CadenceDue(rep.Elapsed, s.cfg.CadenceHours)
	if s.cfg.Scan {
		if rep.ScanDue {
			log.Info("scanner due", logx.Int64("elapsed_hours", rep.Elapsed))
			if r, err := s.launcher.Launch(); err != nil {
				rep.ScanErr = err
				log.Error("error launching scanner", logx.Err(err))
			} else {
				rep.Launched = true
				rep.Run = r
			}
		} else if ar, ok := s.launcher.(activeReporter); ok {
			ar.ReportActive()
		}
	}

	rep.Took = s.clock.Since(start)
	for _, fn := range s.observers {
		fn(rep)
	}
	return rep
}
