package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	logx "admind/pkg/logx"
)

// Observer receives every outcome after it has been logged.
type Observer func(ctx context.Context, o Outcome)

type Config struct {
	BaseURL string
	APIKey  string
}

// Client performs admin calls. One request per Invoke: no retries, no
// backoff, no timeout beyond the transport default.
type Client struct {
	http      *resty.Client
	log       logx.Logger
	observers []Observer
}

type Option func(*Client)

// WithObserver registers fn to see each outcome.
func WithObserver(fn Observer) Option {
	return func(c *Client) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// WithHTTPClient swaps the underlying transport (tests, custom TLS).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = resty.NewWithClient(hc) }
}

func New(cfg Config, log logx.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("admin base url is empty")
	}
	if u, err := url.Parse(strings.TrimSpace(cfg.BaseURL)); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("admin base url %q must be an absolute http(s) url", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("admin api key is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{http: resty.New(), log: log}
	for _, o := range opts {
		o(c)
	}
	c.http.
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetRetryCount(0).
		SetLogger(restyLogger{log: log})
	return c, nil
}

// Invoke performs action and classifies the result. It never returns an
// error and never panics; every outcome is logged here.
func (c *Client) Invoke(ctx context.Context, action Action) (out Outcome) {
	out.Action = action
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out.Category = CategoryTransportError
			out.Err = fmt.Errorf("panic during %s: %v", action, r)
		}
		out.Took = time.Since(start)
		c.report(ctx, out)
	}()

	def, ok := actions[action]
	if !ok {
		out.Category = CategoryTransportError
		out.Err = fmt.Errorf("unknown admin action %q", action)
		return out
	}

	resp, err := c.http.R().SetContext(ctx).Execute(def.endpoint.Method, def.endpoint.Path)
	if err != nil {
		out.Category = CategoryTransportError
		out.Err = err
		return out
	}

	out.Status = resp.StatusCode()
	out.Body = string(resp.Body())
	if out.Status == http.StatusOK {
		out.Category = CategorySuccess
	} else {
		out.Category = CategoryRemoteError
	}
	payload, perr := def.decode(resp.Body())
	if perr != nil {
		out.ParseErr = fmt.Errorf("%w: %v", ErrParse, perr)
	} else {
		out.Payload = payload
	}
	return out
}

func (c *Client) report(ctx context.Context, o Outcome) {
	summary := string(o.Action)
	if def, ok := actions[o.Action]; ok {
		summary = def.summary
	}
	fields := []logx.Field{
		logx.String("action", string(o.Action)),
		logx.String("outcome", o.Label()),
		logx.Duration("took", o.Took),
	}

	level, msg := logx.LevelInfo, "successfully triggered "+summary
	switch {
	case o.Category == CategoryTransportError:
		level, msg = logx.LevelError, "error triggering "+summary
		fields = append(fields, logx.Err(o.Err))
	case o.ParseErr != nil:
		level, msg = logx.LevelWarn, "error parsing response json"
		fields = append(fields,
			logx.Int("status", o.Status),
			logx.String("body", clip(o.Body, 2048)),
			logx.Err(o.ParseErr))
	default:
		if o.Category == CategoryRemoteError {
			level, msg = logx.LevelWarn, "error triggering "+summary
		}
		fields = append(fields,
			logx.Int("status", o.Status),
			logx.String("body", clip(o.Body, 2048)))
	}
	c.log.Log(level, msg, fields...)

	for _, fn := range c.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("outcome observer panicked", logx.Any("panic", r))
				}
			}()
			fn(ctx, o)
		}()
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}

// restyLogger routes resty's own diagnostics into logx.
type restyLogger struct{ log logx.Logger }

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.log.Debug("resty: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.log.Debug("resty: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.log.Trace("resty: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}
