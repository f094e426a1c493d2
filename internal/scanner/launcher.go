package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logx "admind/pkg/logx"
)

// ErrSpawn marks a launch that never produced a running process.
var ErrSpawn = errors.New("scanner spawn failed")

// execCommand is replaced in tests.
var execCommand = exec.Command

type Config struct {
	// Dir is the scanner installation directory.
	Dir   string
	Entry string
	Arg   string
	// Interpreter runs Entry. "-" or empty executes Entry directly.
	Interpreter string
	// ReportEvery throttles "still running" logs. Zero disables them.
	ReportEvery time.Duration
}

// Spawner owns the goroutines that wait on scanner children.
// *supervisor.Supervisor satisfies it.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// Hooks observe launches and exits. Both are optional and run synchronously
// on the launching or waiting goroutine.
type Hooks struct {
	OnLaunch func(r *Run, err error)
	OnExit   func(r *Run, e Exit)
}

// Exit is the terminal state of a scanner run.
type Exit struct {
	Code int
	Err  error
	Took time.Duration
}

func (e Exit) OK() bool { return e.Code == 0 && e.Err == nil }

// Run is a handle to one started scanner process. It carries nothing back to
// the caller except the exit notification.
type Run struct {
	ID      uint64
	PID     int
	Started time.Time

	done chan struct{}
	exit Exit
}

// Done is closed once the process has exited and Wait will not block.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the process exits.
func (r *Run) Wait() Exit {
	<-r.done
	return r.exit
}

// Launcher starts scanner processes without waiting for them.
type Launcher struct {
	cfg   Config
	log   logx.Logger
	spawn Spawner
	hooks Hooks

	seq    atomic.Uint64
	mu     sync.Mutex
	active map[uint64]*Run

	report rate.Sometimes
}

func New(cfg Config, spawn Spawner, log logx.Logger, hooks Hooks) (*Launcher, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("scanner dir is empty")
	}
	if spawn == nil {
		return nil, errors.New("scanner spawner is nil")
	}
	// The child runs inside Dir, so a relative Dir would resolve twice.
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("scanner dir: %w", err)
	}
	cfg.Dir = dir
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Launcher{
		cfg:    cfg,
		log:    log,
		spawn:  spawn,
		hooks:  hooks,
		active: make(map[uint64]*Run),
		report: rate.Sometimes{Interval: cfg.ReportEvery},
	}, nil
}

// EntryPath is the absolute path of the entry point.
func (l *Launcher) EntryPath() string {
	return filepath.Join(l.cfg.Dir, filepath.FromSlash(l.cfg.Entry))
}

func (l *Launcher) command() *exec.Cmd {
	entry := l.EntryPath()
	var args []string
	if l.cfg.Arg != "" {
		args = append(args, l.cfg.Arg)
	}
	interp := strings.TrimSpace(l.cfg.Interpreter)
	if interp == "" || interp == "-" {
		return execCommand(entry, args...)
	}
	return execCommand(interp, append([]string{entry}, args...)...)
}

// Launch starts the scanner and returns as soon as the process is running.
// The child inherits stdout and stderr and is not tied to any context: it is
// never killed by the daemon. Start failures wrap ErrSpawn.
func (l *Launcher) Launch() (*Run, error) {
	if n := l.Active(); n > 0 {
		l.log.Warn("scanner already running; starting another", logx.Int("active", n))
	}

	if _, err := os.Stat(l.EntryPath()); err != nil {
		err = fmt.Errorf("%w: entry point: %v", ErrSpawn, err)
		l.launched(nil, err)
		return nil, err
	}

	cmd := l.command()
	cmd.Dir = l.cfg.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("%w: %v", ErrSpawn, err)
		l.launched(nil, err)
		return nil, err
	}

	r := &Run{
		ID:      l.seq.Add(1),
		PID:     cmd.Process.Pid,
		Started: started,
		done:    make(chan struct{}),
	}
	l.mu.Lock()
	l.active[r.ID] = r
	l.mu.Unlock()

	l.log.Info("scanner started",
		logx.Int64("run", int64(r.ID)),
		logx.Int("pid", r.PID),
		logx.String("cmd", strings.Join(cmd.Args, " ")))
	l.launched(r, nil)

	l.spawn.Go(fmt.Sprintf("scanner.wait.%d", r.ID), func(context.Context) error {
		l.wait(cmd, r)
		return nil
	})
	return r, nil
}

func (l *Launcher) launched(r *Run, err error) {
	if l.hooks.OnLaunch != nil {
		l.hooks.OnLaunch(r, err)
	}
}

func (l *Launcher) wait(cmd *exec.Cmd, r *Run) {
	err := cmd.Wait()
	ex := Exit{Took: time.Since(r.Started), Code: 0}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			ex.Code = ee.ExitCode()
		} else {
			ex.Code = -1
			ex.Err = err
		}
	}

	l.mu.Lock()
	delete(l.active, r.ID)
	l.mu.Unlock()

	fields := []logx.Field{
		logx.Int64("run", int64(r.ID)),
		logx.Int("pid", r.PID),
		logx.Int("code", ex.Code),
		logx.Duration("took", ex.Took),
	}
	switch {
	case ex.Err != nil:
		l.log.Warn("scanner wait failed", append(fields, logx.Err(ex.Err))...)
	case ex.Code != 0:
		l.log.Warn("scanner exited with non-zero status", fields...)
	default:
		l.log.Info("scanner exited", fields...)
	}

	r.exit = ex
	if l.hooks.OnExit != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					l.log.Error("scanner exit hook panicked", logx.Any("panic", p))
				}
			}()
			l.hooks.OnExit(r, ex)
		}()
	}
	close(r.done)
}

// Active returns the number of children that have not exited yet.
func (l *Launcher) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// ReportActive logs the running children, at most once per ReportEvery.
func (l *Launcher) ReportActive() {
	if l.cfg.ReportEvery <= 0 {
		return
	}
	l.mu.Lock()
	runs := make([]*Run, 0, len(l.active))
	for _, r := range l.active {
		runs = append(runs, r)
	}
	l.mu.Unlock()
	if len(runs) == 0 {
		return
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })

	l.report.Do(func() {
		for _, r := range runs {
			l.log.Info("scanner still running",
				logx.Int64("run", int64(r.ID)),
				logx.Int("pid", r.PID),
				logx.Duration("running_for", time.Since(r.Started).Truncate(time.Second)))
		}
	})
}
