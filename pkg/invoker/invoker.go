// Package invoker is the boundary between a processor and the external
// collaborator it calls. A call never fails with a Go error because the
// collaborator misbehaved: transport errors, timeouts and non-2xx statuses are
// all returned as a non-success Response carrying the raw diagnostic text.
// Errors are reserved for requests that could not be built.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/stagehand/pkg/env"
)

// ServiceName is the environment service key an Invoker is registered under.
const ServiceName = "invoker"

type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	// Body is sent as is when it is a []byte or string, JSON encoded otherwise.
	Body interface{}
	// Timeout of zero means no per-call timeout.
	Timeout        time.Duration
	AllowRedirects bool
}

type Response struct {
	Success    bool
	StatusCode int
	// StatusText is the raw response body on failure, or the transport error.
	StatusText string
	Headers    map[string]string
	Body       []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.Wrap(err, "decode response body")
	}
	return nil
}

type Invoker interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

type InvokerFunc func(ctx context.Context, req *Request) (*Response, error)

func (f InvokerFunc) Invoke(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

type HTTPInvoker struct {
	client *http.Client
}

var _ Invoker = (*HTTPInvoker)(nil)

type HTTPOption func(*HTTPInvoker)

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(h *HTTPInvoker) {
		h.client = client
	}
}

func NewHTTPInvoker(options ...HTTPOption) *HTTPInvoker {
	ret := &HTTPInvoker{client: &http.Client{}}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (h *HTTPInvoker) Invoke(ctx context.Context, req *Request) (*Response, error) {
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, req.URL)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	// copy so the shared client is not modified
	client := *h.client
	if !req.AllowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		log.Debug().Err(err).Str("method", method).Str("url", req.URL).Msg("External call failed")
		return &Response{StatusText: err.Error()}, nil
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Response{StatusCode: resp.StatusCode, StatusText: err.Error()}, nil
	}

	ret := &Response{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       respBody,
	}
	if ret.Success {
		ret.StatusText = resp.Status
	} else {
		ret.StatusText = string(respBody)
		if ret.StatusText == "" {
			ret.StatusText = resp.Status
		}
	}

	log.Debug().
		Str("method", method).
		Str("url", req.URL).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("External call")
	return ret, nil
}

func encodeBody(body interface{}) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case string:
		return bytes.NewBufferString(b), "", nil
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, "", errors.Wrap(err, "encode request body")
		}
		return bytes.NewReader(encoded), "application/json", nil
	}
}

func flattenHeaders(h http.Header) map[string]string {
	ret := make(map[string]string, len(h))
	for k := range h {
		ret[k] = h.Get(k)
	}
	return ret
}

// FromEnvironment returns the invoker registered in e, or a plain HTTPInvoker.
func FromEnvironment(e *env.Environment) Invoker {
	svc, err := e.Service(ServiceName)
	if err != nil {
		return NewHTTPInvoker()
	}
	if i, ok := svc.(Invoker); ok {
		return i
	}
	log.Warn().Type("service", svc).Msg("Environment invoker service does not implement Invoker, using HTTP")
	return NewHTTPInvoker()
}
