package stream

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"actionrunner/internal/action"
	"actionrunner/pkg/logx"
)

// Transport serves action:// URLs to an http.Client.
//
//	t := &http.Transport{}
//	t.RegisterProtocol(stream.Scheme, stream.NewTransport(reg, log))
type Transport struct {
	reg *action.Registry
	log logx.Logger
}

func NewTransport(reg *action.Registry, log logx.Logger) *Transport {
	return &Transport{reg: reg, log: log}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
	r, err := Open(req.Context(), t.reg, req.URL.String(), t.log)
	if err != nil {
		return response(req, statusFor(err), err.Error()), nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return response(req, http.StatusInternalServerError, err.Error()), nil
	}
	return response(req, http.StatusOK, string(b)), nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, action.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, action.ErrNotStreamable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func response(req *http.Request, code int, body string) *http.Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        strconv.Itoa(code) + " " + http.StatusText(code),
		StatusCode:    code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewBufferString(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
