package logx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
	// Redact lists literal values scrubbed from every sink.
	Redact []string
}

type FileConfig struct {
	Enabled bool
	Path    string
}

type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./admind.log"

// Sender delivers a forwarded log line to a chat. Implemented by internal/transport/telegram.
type Sender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

// Service owns the live sinks. Loggers obtained from it follow Apply without
// being recreated.
type Service struct {
	mu   sync.Mutex
	file *os.File
	fwd  *forwarder

	root atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service with its root Logger. sender may be
// nil, in which case the Telegram sink stays silent.
func New(cfg Config, sender Sender) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{}
	if sender != nil {
		s.fwd = newForwarder(sender)
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Close stops the forwarder and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if s.fwd != nil {
		s.fwd.stop()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply swaps outputs and levels at runtime. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, newConsoleWriter(Stdout()))
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(Stderr(), "logx: %v\n", err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled {
		if cfg.Telegram.ChatID == 0 {
			fmt.Fprintln(Stderr(), "logx: telegram logging enabled but logging.telegram.chat_id is not set")
		}
		if s.fwd != nil {
			s.fwd.configure(cfg.Telegram)
			sinks = append(sinks, s.fwd)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, newConsoleWriter(Stdout()))
	}

	var out io.Writer = zerolog.MultiLevelWriter(sinks...)
	if r := newRedactor(out, cfg.Redact); r != nil {
		out = r
	}
	zl := zerolog.New(out).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.root.Store(&zl)
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

func newConsoleWriter(w io.Writer) io.Writer {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	cw.FormatCaller = func(i any) string {
		s, _ := i.(string)
		return s
	}
	return cw
}

// redactor replaces secret values before any sink sees the line.
type redactor struct {
	next    zerolog.LevelWriter
	replace *strings.Replacer
	secrets [][]byte
}

func newRedactor(next io.Writer, secrets []string) *redactor {
	var pairs []string
	var raw [][]byte
	for _, v := range secrets {
		// Very short values would mangle unrelated output.
		if len(strings.TrimSpace(v)) < 4 {
			continue
		}
		pairs = append(pairs, v, "[redacted]")
		raw = append(raw, []byte(v))
	}
	if len(pairs) == 0 {
		return nil
	}
	lw, ok := next.(zerolog.LevelWriter)
	if !ok {
		lw = zerolog.MultiLevelWriter(next)
	}
	return &redactor{next: lw, replace: strings.NewReplacer(pairs...), secrets: raw}
}

func (r *redactor) Write(p []byte) (int, error) {
	return r.WriteLevel(zerolog.NoLevel, p)
}

func (r *redactor) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if r.contains(p) {
		if _, err := r.next.WriteLevel(level, []byte(r.replace.Replace(string(p)))); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	return r.next.WriteLevel(level, p)
}

func (r *redactor) contains(p []byte) bool {
	for _, s := range r.secrets {
		if bytes.Contains(p, s) {
			return true
		}
	}
	return false
}

// Stdout returns the configured stdout sink.
func Stdout() io.Writer { return os.Stdout }

// Stderr returns the configured stderr sink.
func Stderr() io.Writer { return os.Stderr }
