// Package trigger turns mailbox messages into action invocations on a cron
// cadence.
//
// A trigger names a target logical path, a cron expression deciding when it
// is checked, the account whose mailbox is scanned and the sender/subject
// patterns a message must match. Sweep evaluates one pass; Service runs
// passes on a poll schedule in daemon mode.
package trigger

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"

	"actionrunner/internal/dispatch"
)

// Trigger is the configuration of one mailbox trigger.
type Trigger struct {
	Name     string
	Check    string
	Account  string
	From     string
	Subjects []string
	// RegisterPath, when set, is registered before the entry runs and its
	// alias is prefixed to Name.
	RegisterPath *dispatch.Alias
	Args         []any
}

type compiled struct {
	Trigger
	sched    cron.Schedule
	from     *regexp.Regexp
	subjects []*regexp.Regexp
}

// Compile validates triggers. All problems are reported together.
func Compile(ts []Trigger) error {
	_, err := compile(ts)
	return err
}

func compile(ts []Trigger) ([]compiled, error) {
	out := make([]compiled, 0, len(ts))
	var errs []error
	for i, t := range ts {
		c, err := compileOne(t)
		if err != nil {
			errs = append(errs, fmt.Errorf("actions[%d] (%s): %w", i, t.Name, err))
			continue
		}
		out = append(out, c)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func compileOne(t Trigger) (compiled, error) {
	if strings.TrimSpace(t.Name) == "" {
		return compiled{}, errors.New("name is required")
	}
	if strings.TrimSpace(t.Account) == "" {
		return compiled{}, errors.New("account is required")
	}
	sched, err := Parser.Parse(strings.TrimSpace(t.Check))
	if err != nil {
		return compiled{}, fmt.Errorf("check %q: %w", t.Check, err)
	}
	if _, ok := sched.(cron.ConstantDelaySchedule); ok {
		return compiled{}, fmt.Errorf("check %q: @every intervals are not supported, use a cron expression like \"*/5 * * * *\"", t.Check)
	}
	from, err := regexp.Compile("(?i)" + t.From)
	if err != nil {
		return compiled{}, fmt.Errorf("fromRegexp: %w", err)
	}
	if len(t.Subjects) == 0 {
		return compiled{}, errors.New("subjectRegexp is required")
	}
	subjects, err := CompileSubjects(t.Subjects...)
	if err != nil {
		return compiled{}, fmt.Errorf("subjectRegexp: %w", err)
	}
	c := compiled{Trigger: t, sched: sched, from: from, subjects: subjects}
	if a := t.RegisterPath; a != nil && (strings.TrimSpace(a.Alias) == "" || strings.TrimSpace(a.Path) == "") {
		return compiled{}, errors.New("registerPath needs alias and path")
	}
	return c, nil
}

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeSubject trims the subject and collapses whitespace runs to one space.
func NormalizeSubject(s string) string {
	return whitespace.ReplaceAllString(strings.TrimSpace(s), " ")
}

// MatchSubject tries patterns in order against the normalized subject and
// returns the capture groups (without the whole match) of the first hit.
func MatchSubject(subject string, patterns []*regexp.Regexp) ([]string, bool) {
	s := NormalizeSubject(subject)
	for _, re := range patterns {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1:], true
		}
	}
	return nil, false
}

// CompileSubjects compiles case-insensitive subject patterns.
func CompileSubjects(patterns ...string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}
