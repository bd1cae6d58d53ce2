package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts 5- and 6-field cron expressions and descriptors.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// PollSpec is a normalized poll schedule.
type PollSpec struct {
	// Cron is always usable with Parser; intervals become "@every <d>".
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParsePoll parses the daemon poll schedule.
//
// Supported forms:
//   - cron: "*/5 * * * *", "@hourly", "@every 1m" (optional "cron:" prefix)
//   - duration: "90s", "2m" (optional "every:" or "interval:" prefix)
//   - HH:MM interval: "00:05" is five minutes
func ParsePoll(raw string) (PollSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return PollSpec{}, fmt.Errorf("poll schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s)
	}

	spec, err := parseInterval(s)
	if err != nil {
		return PollSpec{}, fmt.Errorf(
			"invalid poll schedule %q (use cron like '*/5 * * * *', HH:MM like '00:05', or duration like '1m')",
			raw,
		)
	}
	return spec, nil
}

func parseCron(expr string) (PollSpec, error) {
	if expr == "" {
		return PollSpec{}, fmt.Errorf("cron expression required")
	}
	if _, err := Parser.Parse(expr); err != nil {
		return PollSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return PollSpec{Cron: expr, Source: "cron"}, nil
}

func parseInterval(v string) (PollSpec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return PollSpec{}, fmt.Errorf("interval required")
	}
	src := "duration"
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return PollSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		src = "hhmm"
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return PollSpec{}, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d <= 0 {
		return PollSpec{}, fmt.Errorf("interval must be > 0")
	}
	return PollSpec{Cron: "@every " + d.String(), Every: d, Source: src}, nil
}

// Due reports whether sched fires within the minute containing now.
// now must already be in the evaluation timezone.
func Due(sched cron.Schedule, now time.Time) bool {
	minute := now.Truncate(time.Minute)
	next := sched.Next(minute.Add(-time.Nanosecond))
	return !next.IsZero() && next.Before(minute.Add(time.Minute))
}

// LoadLocation resolves a timezone name; empty means local time.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
