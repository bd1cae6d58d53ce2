package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"actionrunner/internal/dispatch"
	"actionrunner/internal/eventbus"
	"actionrunner/internal/mailbox"
	"actionrunner/pkg/logx"
)

// ScannerConfig is the hot-reloadable part of the scanner.
type ScannerConfig struct {
	Accounts map[string]mailbox.Account
	Triggers []Trigger
	Timezone string
}

// Scanner evaluates trigger passes against mailboxes.
type Scanner struct {
	log    logx.Logger
	bus    eventbus.Bus
	dialer mailbox.Dialer

	mu       sync.RWMutex
	accounts map[string]mailbox.Account
	triggers []compiled
	loc      *time.Location
}

func NewScanner(cfg ScannerConfig, dialer mailbox.Dialer, log logx.Logger, bus eventbus.Bus) (*Scanner, error) {
	s := &Scanner{
		log:    log.With(logx.String("comp", "trigger")),
		bus:    bus,
		dialer: dialer,
	}
	if err := s.Apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply swaps accounts, triggers and timezone. On error nothing changes.
func (s *Scanner) Apply(cfg ScannerConfig) error {
	ts, err := compile(cfg.Triggers)
	if err != nil {
		return err
	}
	loc, err := LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	accounts := make(map[string]mailbox.Account, len(cfg.Accounts))
	for k, v := range cfg.Accounts {
		accounts[k] = v
	}

	s.mu.Lock()
	s.accounts = accounts
	s.triggers = ts
	s.loc = loc
	s.mu.Unlock()
	return nil
}

// Len returns the number of configured triggers.
func (s *Scanner) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.triggers)
}

// Due returns the names of triggers due at now.
func (s *Scanner) Due(now time.Time) []string {
	s.mu.RLock()
	ts, loc := s.triggers, s.loc
	s.mu.RUnlock()

	var out []string
	for _, t := range ts {
		if Due(t.sched, now.In(loc)) {
			out = append(out, t.Name)
		}
	}
	return out
}

type accountGroup struct {
	name     string
	triggers []compiled
}

// Sweep runs one pass at now and returns the trigger entries it built.
//
// A mailbox that cannot be opened fails only its own account; the error is
// collected and the pass continues. Matched messages are flagged deleted and
// expunged when the account's mailbox is closed.
func (s *Scanner) Sweep(ctx context.Context, now time.Time) ([]dispatch.Invocation, error) {
	s.mu.RLock()
	ts, loc, accounts := s.triggers, s.loc, s.accounts
	s.mu.RUnlock()

	local := now.In(loc)
	var groups []*accountGroup
	index := map[string]*accountGroup{}
	for _, t := range ts {
		if !Due(t.sched, local) {
			continue
		}
		g, ok := index[t.Account]
		if !ok {
			g = &accountGroup{name: t.Account}
			index[t.Account] = g
			groups = append(groups, g)
		}
		g.triggers = append(g.triggers, t)
	}

	var (
		out  []dispatch.Invocation
		errs []error
	)
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		entries, err := s.sweepAccount(ctx, g, accounts)
		out = append(out, entries...)
		if err != nil {
			s.log.Error("account sweep failed", logx.String("account", g.name), logx.Err(err))
			s.publish(eventbus.AccountFailed, AccountEvent{Account: g.name, Error: err.Error()})
			errs = append(errs, err)
		}
	}

	s.log.Debug("trigger pass",
		logx.Int("due_accounts", len(groups)),
		logx.Int("entries", len(out)),
		logx.Int("errors", len(errs)),
	)
	s.publish(eventbus.TriggerPass, PassEvent{Time: now, Accounts: len(groups), Entries: len(out), Errors: len(errs)})
	return out, errors.Join(errs...)
}

func (s *Scanner) sweepAccount(ctx context.Context, g *accountGroup, accounts map[string]mailbox.Account) (out []dispatch.Invocation, err error) {
	acc, ok := accounts[g.name]
	if !ok {
		return nil, &mailbox.ConnectionError{Account: g.name, Err: errors.New("account is not configured")}
	}
	mb, err := s.dialer.Dial(ctx, g.name, acc)
	if err != nil {
		var ce *mailbox.ConnectionError
		if !errors.As(err, &ce) {
			err = &mailbox.ConnectionError{Account: g.name, Server: acc.Server, Err: err}
		}
		return nil, err
	}
	defer func() {
		if cerr := mb.Close(ctx, true); cerr != nil {
			err = errors.Join(err, fmt.Errorf("account %s: close: %w", g.name, cerr))
		}
	}()

	n, err := mb.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("account %s: count: %w", g.name, err)
	}
	if n == 0 {
		return nil, nil
	}
	unseen, err := mb.SearchUnseen(ctx)
	if err != nil {
		return nil, fmt.Errorf("account %s: search: %w", g.name, err)
	}

	overviews := map[uint32]mailbox.Overview{}
	deleted := map[uint32]bool{}
	for _, t := range g.triggers {
		for _, seq := range unseen {
			if deleted[seq] {
				continue
			}
			ov, ok := overviews[seq]
			if !ok {
				if ov, err = mb.Overview(ctx, seq); err != nil {
					return out, fmt.Errorf("account %s: overview %d: %w", g.name, seq, err)
				}
				overviews[seq] = ov
			}
			if !t.from.MatchString(ov.From) {
				continue
			}
			groups, ok := MatchSubject(ov.Subject, t.subjects)
			if !ok {
				continue
			}

			inv, err := s.entry(ctx, mb, t, ov, groups)
			if err != nil {
				return out, fmt.Errorf("account %s: message %d: %w", g.name, seq, err)
			}
			if err := mb.Delete(ctx, seq); err != nil {
				return out, fmt.Errorf("account %s: delete %d: %w", g.name, seq, err)
			}
			deleted[seq] = true
			out = append(out, inv)

			s.log.Info("trigger matched",
				logx.String("trigger", t.Name),
				logx.String("account", g.name),
				logx.String("subject", NormalizeSubject(ov.Subject)),
			)
			s.publish(eventbus.TriggerMatched, MatchEvent{Trigger: t.Name, Account: g.name, Seq: seq, Subject: ov.Subject})
		}
	}
	return out, nil
}

func (s *Scanner) entry(ctx context.Context, mb mailbox.Mailbox, t compiled, ov mailbox.Overview, groups []string) (dispatch.Invocation, error) {
	body, err := mb.Body(ctx, ov.Seq)
	if err != nil {
		return dispatch.Invocation{}, fmt.Errorf("body: %w", err)
	}
	st, err := mb.Structure(ctx, ov.Seq)
	if err != nil {
		return dispatch.Invocation{}, fmt.Errorf("structure: %w", err)
	}

	args := make([]any, 0, 4+len(t.Args))
	args = append(args, ov, body, st)
	if len(groups) > 0 {
		args = append(args, groups)
	}
	args = append(args, t.Args...)

	inv := dispatch.Invocation{Path: t.Name, Args: args}
	if t.RegisterPath != nil {
		a := *t.RegisterPath
		inv.RegisterPath = &a
	}
	return inv, nil
}

type PassEvent struct {
	Time     time.Time `json:"time"`
	Accounts int       `json:"accounts"`
	Entries  int       `json:"entries"`
	Errors   int       `json:"errors"`
}

type MatchEvent struct {
	Trigger string `json:"trigger"`
	Account string `json:"account"`
	Seq     uint32 `json:"seq"`
	Subject string `json:"subject"`
}

type AccountEvent struct {
	Account string `json:"account"`
	Error   string `json:"error"`
}

func (s *Scanner) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
