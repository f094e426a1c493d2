package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	forwardQueue    = 256
	forwardMaxChars = 3500
	forwardMaxField = 600
)

type forwardItem struct {
	chatID   int64
	threadID int
	msg      string
}

// forwarder is the Telegram sink. Lines at or above the minimum level are
// rate limited, formatted and queued; a single goroutine sends them.
type forwarder struct {
	sender Sender
	queue  chan forwardItem

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newForwarder(sender Sender) *forwarder {
	return &forwarder{sender: sender, queue: make(chan forwardItem, forwardQueue)}
}

func (f *forwarder) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	f.mu.Lock()
	f.chatID = cfg.ChatID
	f.threadID = cfg.ThreadID
	f.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	f.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	f.mu.Unlock()

	f.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		f.mu.Lock()
		f.cancel = cancel
		f.mu.Unlock()
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.loop(ctx)
		}()
	})
}

func (f *forwarder) stop() {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
		f.wg.Wait()
	}
}

func (f *forwarder) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-f.queue:
			if err := f.sender.SendText(ctx, it.chatID, it.threadID, it.msg); err != nil {
				// Logging this through ourselves would loop.
				fmt.Fprintf(Stderr(), "logx: telegram forward failed: %v\n", err)
			}
		}
	}
}

func (f *forwarder) Write(p []byte) (int, error) {
	return f.WriteLevel(zerolog.InfoLevel, p)
}

// WriteLevel never blocks the caller; lines are dropped when the queue is full.
func (f *forwarder) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	f.mu.Lock()
	it := forwardItem{chatID: f.chatID, threadID: f.threadID}
	allowed := it.chatID != 0 && f.limiter != nil && level >= f.minLevel && f.limiter.Allow()
	f.mu.Unlock()
	if !allowed {
		return len(p), nil
	}

	if it.msg = formatForward(p); it.msg != "" {
		select {
		case f.queue <- it:
		default:
		}
	}
	return len(p), nil
}

// formatForward turns a zerolog JSON line into a compact chat message.
func formatForward(p []byte) string {
	line := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return truncate(line, forwardMaxChars)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "time" && k != "level" && k != "message" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), forwardMaxField))
	}
	return truncate(b.String(), forwardMaxChars)
}

func truncate(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return cutRunes(s, n)
	default:
		return cutRunes(s, n-3) + "..."
	}
}

// cutRunes returns at most n bytes of s without splitting a rune.
func cutRunes(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
