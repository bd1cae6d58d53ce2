// Package stream exposes a streamable action's result as an io.Reader.
//
// An action URL has the form "action://<alias>/<rest>?<query>". The logical
// path is host+path and the query is parsed like a direct request. The action
// runs once, on the first Read, in direct-request mode.
package stream

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"actionrunner/internal/action"
	"actionrunner/internal/dispatch"
	"actionrunner/pkg/logx"
)

// Scheme is the URL scheme served by Transport.
const Scheme = "action"

// Reader is a single-shot reader over one action result.
type Reader struct {
	ctx  context.Context
	log  logx.Logger
	desc *action.Descriptor
	path string
	args []any

	once sync.Once
	buf  *strings.Reader
	err  error
}

// Open resolves the action behind rawURL. It fails when the URL is invalid,
// the path does not resolve or the handler is not streamable.
func Open(ctx context.Context, reg *action.Registry, rawURL string, log logx.Logger) (*Reader, error) {
	log = log.With(logx.String("comp", "stream"))

	path, args, err := Parse(rawURL)
	if err != nil {
		log.Warn("invalid action url", logx.String("url", rawURL), logx.Err(err))
		return nil, err
	}
	desc, err := reg.Resolve(path)
	if err != nil {
		log.Warn("action open failed", logx.String("path", path), logx.Err(err))
		return nil, err
	}
	if !desc.Streamable() {
		err := action.NotStreamable(path)
		log.Warn("action open failed", logx.String("path", path), logx.Err(err))
		return nil, err
	}
	return &Reader{ctx: ctx, log: log, desc: desc, path: path, args: args}, nil
}

// Parse splits an action URL into a logical path and direct-request args.
func Parse(rawURL string) (path string, args []any, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, err
	}
	if u.Host == "" && u.Path == "" {
		return "", nil, fmt.Errorf("%s: empty action path", rawURL)
	}
	path = strings.TrimSuffix(u.Host+u.Path, "/")
	_, args = dispatch.ParseQuery(u.RawQuery)
	return path, args, nil
}

func (r *Reader) fill() {
	x := r.desc.NewExecution()
	if err := x.InvokeAsDirectRequest(r.ctx, r.args...); err != nil {
		r.log.Warn("action run failed", logx.String("path", r.path), logx.Err(err))
		r.err = err
		r.buf = strings.NewReader("")
		return
	}
	res := x.Result()
	s, ok := action.Text(res)
	if !ok && res != nil {
		r.log.Warn("action result is not text", logx.String("path", r.path), logx.String("type", fmt.Sprintf("%T", res)))
	}
	r.buf = strings.NewReader(s)
}

// Read runs the action on first use and then drains its result.
func (r *Reader) Read(p []byte) (int, error) {
	r.once.Do(r.fill)
	if r.err != nil {
		err := r.err
		r.err = nil
		return 0, err
	}
	return r.buf.Read(p)
}

// EOF reports whether the result has been fully read.
func (r *Reader) EOF() bool {
	return r.buf != nil && r.buf.Len() == 0
}

func (r *Reader) Close() error { return nil }

// ReadString returns the whole result of rawURL, or "" on any failure.
func ReadString(ctx context.Context, reg *action.Registry, rawURL string, log logx.Logger) string {
	r, err := Open(ctx, reg, rawURL, log)
	if err != nil {
		return ""
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	return string(b)
}
