// Package web serves direct requests over HTTP.
//
//	GET|POST /      ?action=Utils/Echo&hello
//	GET|POST /run   same as /
//	GET /healthz    liveness and runtime snapshot
//	GET /records    recent execution records (debug mode only)
//
// The response body of a request is the stringified result. Failures return
// only the error message.
package web

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"actionrunner/internal/action"
	"actionrunner/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8080"

// Runner runs one raw direct-request query and writes the result.
type Runner interface {
	RunQuery(ctx context.Context, raw string, w io.Writer) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, raw string, w io.Writer) error

func (f RunnerFunc) RunQuery(ctx context.Context, raw string, w io.Writer) error {
	return f(ctx, raw, w)
}

// Records exposes recent execution records, newest first.
type Records interface {
	Records(ctx context.Context, n int) ([]action.Record, error)
}

type Config struct {
	Enabled      bool
	Addr         string
	RatePerSec   float64
	Burst        int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Deps are the collaborators a server needs. Debug and Health may be nil.
type Deps struct {
	Runner  Runner
	Records Records
	Debug   func() bool
	Health  func() any
}

type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	deps Deps

	ln       net.Listener
	srv      *http.Server
	stopDone chan struct{}
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{cfg: cfg, deps: deps, log: log}
}

func (s *Server) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr returns the bound address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Apply stores cfg and starts, stops or restarts the listener as needed.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
		return nil
	case !running:
		return s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		return s.Start(ctx)
	}
	return nil
}

func (s *Server) Start(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.srv != nil {
			s.mu.Unlock()
			return nil
		}
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		cur := s.cfg
		s.mu.Unlock()

		if !cur.Enabled {
			return nil
		}
		addr := strings.TrimSpace(cur.Addr)
		if addr == "" {
			addr = DefaultAddr
		}
		if !isLoopbackAddr(addr) {
			s.log.Warn("http channel bound to non-loopback addr without auth", logx.String("addr", addr))
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}

		limiter := newClientLimiter(cur.RatePerSec, cur.Burst)
		srv := &http.Server{
			Handler:      s.handler(limiter),
			ReadTimeout:  cur.ReadTimeout,
			WriteTimeout: cur.WriteTimeout,
		}

		s.mu.Lock()
		s.ln = ln
		s.srv = srv
		s.mu.Unlock()

		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("http server stopped with error", logx.Err(err))
			}
		}()
		go s.sweepLimiter(srv, limiter)

		s.log.Info("http channel started", logx.String("addr", ln.Addr().String()))
		return nil
	}
}

func (s *Server) sweepLimiter(srv *http.Server, l *clientLimiter) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for now := range t.C {
		s.mu.Lock()
		stale := s.srv != srv
		s.mu.Unlock()
		if stale {
			return
		}
		l.sweep(now)
	}
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.srv == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	go func() {
		defer close(done)
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
		s.mu.Lock()
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("http channel stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// handler builds the gin engine. A nil limiter disables rate limiting.
func (s *Server) handler(limiter *clientLimiter) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.health)

	run := r.Group("/", rateLimit(limiter))
	run.GET("/", s.run)
	run.POST("/", s.run)
	run.GET("/run", s.run)
	run.POST("/run", s.run)
	run.GET("/records", s.records)
	return r
}

func (s *Server) run(c *gin.Context) {
	if s.deps.Runner == nil {
		c.String(http.StatusServiceUnavailable, "no runner")
		return
	}
	var buf bytes.Buffer
	err := s.deps.Runner.RunQuery(c.Request.Context(), c.Request.URL.RawQuery, &buf)
	if err != nil {
		s.log.Debug("direct request failed", logx.String("query", c.Request.URL.RawQuery), logx.Err(err))
		c.String(statusFor(err), err.Error())
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.deps.Health != nil {
		body["runtime"] = s.deps.Health()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) records(c *gin.Context) {
	if s.deps.Records == nil || s.deps.Debug == nil || !s.deps.Debug() {
		c.String(http.StatusNotFound, "records are only kept in debug mode")
		return
	}
	n, _ := strconv.Atoi(c.Query("n"))
	recs, err := s.deps.Records.Records(c.Request.Context(), n)
	if err != nil {
		s.log.Warn("records read failed", logx.Err(err))
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, recs)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, action.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, action.ErrNotStreamable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
