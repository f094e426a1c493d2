package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Interval is a parsed base tick schedule.
//
// Supported forms:
//   - Go duration: "10m", "600s"
//   - HH:MM: "00:10"
//   - cron (robfig/cron): "*/10 * * * *", "@every 10m", "@hourly"
//
// "interval:"/"every:" force interval parsing, "cron:" forces cron parsing.
type Interval struct {
	Schedule cron.Schedule
	// Every is set for fixed intervals and zero for cron expressions.
	Every  time.Duration
	Source string // "duration" | "hhmm" | "cron"
}

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

func ParseInterval(raw string) (Interval, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Interval{}, fmt.Errorf("interval required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseEvery(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseEvery(strings.TrimSpace(s[len("every:"):]))
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	iv, err := parseEvery(s)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid interval %q (use a duration like '10m', HH:MM like '00:10', or cron like '*/10 * * * *')", raw)
	}
	return iv, nil
}

func parseCron(expr string) (Interval, error) {
	if expr == "" {
		return Interval{}, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	if sched.Next(time.Now()).IsZero() {
		return Interval{}, fmt.Errorf("cron %q never fires", expr)
	}
	iv := Interval{Schedule: sched, Source: "cron"}
	if cd, ok := sched.(cron.ConstantDelaySchedule); ok {
		iv.Every = cd.Delay
	}
	return iv, nil
}

func parseEvery(v string) (Interval, error) {
	if v == "" {
		return Interval{}, fmt.Errorf("interval required")
	}
	src := "duration"
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Interval{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		src = "hhmm"
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return Interval{}, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d < time.Second {
		return Interval{}, fmt.Errorf("interval must be >= 1s")
	}
	// cron.Every rounds down to whole seconds.
	return Interval{Schedule: cron.Every(d), Every: d.Truncate(time.Second), Source: src}, nil
}
