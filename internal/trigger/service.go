package trigger

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"actionrunner/internal/dispatch"
	"actionrunner/pkg/logx"
)

// Runner runs the entries of one pass.
type Runner interface {
	RunTriggers(ctx context.Context, entries []dispatch.Invocation, extra []any, w io.Writer) error
}

type Config struct {
	Enabled bool
	// Poll is parsed by ParsePoll. Empty means "@every 1m".
	Poll     string
	Timezone string
	// PassTimeout bounds one sweep plus dispatch. Zero means 5m.
	PassTimeout time.Duration
}

const (
	DefaultPoll        = "@every 1m"
	DefaultPassTimeout = 5 * time.Minute
)

// Service runs trigger passes on a cron cadence. Passes never overlap.
type Service struct {
	log     logx.Logger
	scanner *Scanner
	runner  Runner
	out     io.Writer
	now     func() time.Time

	mu     sync.Mutex
	cfg    Config
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	passes int
}

func NewService(cfg Config, scanner *Scanner, runner Runner, out io.Writer, log logx.Logger) *Service {
	if out == nil {
		out = io.Discard
	}
	return &Service{
		log:     log.With(logx.String("comp", "trigger-service")),
		scanner: scanner,
		runner:  runner,
		out:     out,
		now:     time.Now,
		cfg:     cfg,
	}
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start begins polling. It is a no-op when already started or disabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(ctx)
	}
	if !s.cfg.Enabled {
		s.log.Info("service disabled")
		return nil
	}
	return s.startLocked()
}

func (s *Service) startLocked() error {
	cur := s.cfg
	poll := strings.TrimSpace(cur.Poll)
	if poll == "" {
		poll = DefaultPoll
	}
	spec, err := ParsePoll(poll)
	if err != nil {
		return err
	}
	loc, err := LoadLocation(cur.Timezone)
	if err != nil {
		return err
	}

	c := cron.New(
		cron.WithParser(Parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	if _, err := c.AddFunc(spec.Cron, s.pass); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("service started",
		logx.String("poll", spec.Cron),
		logx.String("tz", loc.String()),
		logx.Int("triggers", s.scanner.Len()),
	)
	return nil
}

// Stop halts polling and waits for a running pass or ctx.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		defer cancel()
	}
	if c == nil {
		return
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Apply swaps the config and restarts polling when the schedule changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	c := s.c
	changed := old.Poll != cfg.Poll || old.Timezone != cfg.Timezone || old.Enabled != cfg.Enabled
	if c == nil || !changed {
		var err error
		if c == nil && cfg.Enabled && s.ctx != nil {
			err = s.startLocked()
		}
		s.mu.Unlock()
		return err
	}
	s.c = nil
	s.mu.Unlock()

	<-c.Stop().Done()
	if !cfg.Enabled {
		s.log.Info("service disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	return s.startLocked()
}

// Passes returns how many passes have completed.
func (s *Service) Passes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}

func (s *Service) pass() {
	s.mu.Lock()
	parent := s.ctx
	timeout := s.cfg.PassTimeout
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultPassTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	s.RunPass(ctx)

	s.mu.Lock()
	s.passes++
	s.mu.Unlock()
}

// RunPass sweeps once and runs the resulting entries.
func (s *Service) RunPass(ctx context.Context) {
	now := s.now()
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("trigger pass start", logx.Strings("due", s.scanner.Due(now)))
	}
	entries, err := s.scanner.Sweep(ctx, now)
	if err != nil {
		s.log.Warn("trigger pass incomplete", logx.Int("entries", len(entries)), logx.Err(err))
	}
	if len(entries) == 0 {
		return
	}
	if err := s.runner.RunTriggers(ctx, entries, nil, s.out); err != nil {
		fields := []logx.Field{logx.Int("entries", len(entries)), logx.Err(err)}
		var be *dispatch.BatchError
		if errors.As(err, &be) {
			// Their messages are already expunged.
			fields = append(fields, logx.Int("dispatched", be.Done), logx.Int("lost", be.Skipped()))
		}
		s.log.Error("trigger entries failed", fields...)
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
