// Package httptest runs YAML described request scenarios against hooked handlers and asserts which
// hooks fired for each request.
//
// A suite declares hooks the same way the config package does, minus the callback: every hook
// records its own name into a Recorder keyed by request ID. Cases run in-process against a handler
// (the echo mux by default) or, with WithURL, against a remote endpoint such as an Envoy proxy
// calling the ext_proc service.
package httptest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	nethttptest "net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"text/template"
	"time"

	"github.com/getyourguide/reshook/config"
	"github.com/getyourguide/reshook/hook"
	"github.com/getyourguide/reshook/httptest/echo"
	"github.com/getyourguide/reshook/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

const requestIDHeader = "x-request-id"

type Suite struct {
	Hooks []config.Hook `json:"hooks"`
	Tests TestCases     `json:"tests"`
}

type TestCases []Case

type Case struct {
	Name   string `json:"name"`
	Input  Input  `json:"input"`
	Expect Expect `json:"expect"`
}

type Input struct {
	Method  string  `json:"method"`
	Path    string  `json:"path"`
	Headers Headers `json:"headers"`
	// Abort cancels the request context before the handler runs, as if the client went away.
	Abort bool `json:"abort"`
}

type Headers []HeaderValue

type HeaderValue struct {
	Key   string `json:"name"`
	Value string `json:"value"`
}

type Expect struct {
	Status          int           `json:"status"`
	ResponseHeaders []HeaderMatch `json:"responseHeaders"`
	ResponseBody    *StringMatch  `json:"responseBody"`
	// Fired lists the hooks expected to fire, in firing order.
	Fired    []string `json:"fired"`
	NotFired []string `json:"notFired"`
}

type Actual struct {
	Status          int
	ResponseHeaders http.Header
	Body            string
}

// Recorder collects the names of fired hooks per request ID. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	fired map[string][]string
}

func NewRecorder() *Recorder {
	return &Recorder{fired: make(map[string][]string)}
}

// Callback returns a callback recording name for every request it fires on.
func (r *Recorder) Callback(name string) hook.Callback {
	return func(_ context.Context, req *hook.RequestContext) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.fired[req.RequestID()] = append(r.fired[req.RequestID()], name)
	}
}

func (r *Recorder) Fired(requestID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.fired[requestID])
}

// Build returns the suite hooks wired to a new Recorder.
func (s Suite) Build(t *testing.T) ([]*hook.Hook, *Recorder) {
	t.Helper()
	rec := NewRecorder()
	callbacks := config.Callbacks{}
	decls := make([]config.Hook, 0, len(s.Hooks))
	for _, decl := range s.Hooks {
		require.NotEmpty(t, decl.Name, "suite hooks must be named")
		require.NotContains(t, callbacks, decl.Name, "duplicate hook name %q", decl.Name)
		callbacks[decl.Name] = rec.Callback(decl.Name)
		decl.Callback = decl.Name
		decls = append(decls, decl)
	}
	hooks, err := config.Configuration{Hooks: decls}.Build(callbacks)
	require.NoError(t, err)
	return hooks, rec
}

type runner struct {
	handler  http.Handler
	url      string
	recorder *Recorder
	timeout  time.Duration
}

type Option interface {
	apply(*runner)
}

type optionFunc func(*runner)

func (f optionFunc) apply(r *runner) {
	f(r)
}

// WithHandler runs the cases in-process against handler instead of the echo mux.
func WithHandler(h http.Handler) Option {
	return optionFunc(func(r *runner) {
		r.handler = h
	})
}

// WithURL sends the cases to a remote endpoint. The hooks must already be installed there and feed
// recorder, see Suite.Build.
func WithURL(url string, recorder *Recorder) Option {
	return optionFunc(func(r *runner) {
		r.url = url
		r.recorder = recorder
	})
}

// WithTimeout bounds how long a remote case waits for its hooks.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(r *runner) {
		r.timeout = d
	})
}

func (s Suite) Run(t *testing.T, opts ...Option) {
	r := &runner{
		handler: echo.NewServeMux(),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt.apply(r)
	}

	if r.url != "" {
		if testing.Short() {
			t.Skip("remote cases do not run in short mode")
		}
		for _, tc := range s.Tests {
			tc.runRemote(t, r)
		}
		return
	}

	hooks, rec := s.Build(t)
	r.recorder = rec
	hooked := middleware.New().Handle(hooks...)(r.handler)
	for _, tc := range s.Tests {
		tc.runInProcess(t, r, hooked)
	}
}

func (c Case) runInProcess(t *testing.T, r *runner, hooked http.Handler) {
	t.Run(c.Name, func(t *testing.T) {
		requestID := uuid.NewString()

		plain := serve(t, r.handler, c.newRequest(t, "", requestID))
		got := serve(t, hooked, c.newRequest(t, "", requestID))

		require.Equal(t, plain.Status, got.Status, "hooks changed the status code")
		require.Equal(t, plain.ResponseHeaders, got.ResponseHeaders, "hooks changed the response headers")
		require.Equal(t, plain.Body, got.Body, "hooks changed the response body")

		require.NoError(t, c.Expect.Assert(got))
		require.NoError(t, c.Expect.AssertFired(r.recorder.Fired(requestID)))
	})
}

func (c Case) runRemote(t *testing.T, r *runner) {
	t.Run(c.Name, func(t *testing.T) {
		if c.Input.Abort {
			t.Skip("aborted requests are only simulated in-process")
		}
		requestID := uuid.NewString()
		got := httpCall(t, c.newRequest(t, r.url, requestID))
		require.NoError(t, c.Expect.Assert(got))

		require.EventuallyWithT(t, func(collect *assert.CollectT) {
			assert.NoError(collect, c.Expect.AssertFired(r.recorder.Fired(requestID)))
		}, r.timeout, 50*time.Millisecond, "hooks did not fire as expected")
	})
}

func (c Case) newRequest(t *testing.T, baseURL, requestID string) *http.Request {
	method := c.Input.Method
	if method == "" {
		method = http.MethodGet
	}
	path := c.Input.Path
	if path == "" {
		path = "/headers"
	}

	var req *http.Request
	if baseURL == "" {
		req = nethttptest.NewRequest(method, path, nil)
	} else {
		var err error
		req, err = http.NewRequest(method, baseURL+path, nil)
		require.NoError(t, err)
	}
	for _, header := range c.Input.Headers {
		if strings.EqualFold(header.Key, "host") {
			req.Host = header.Value
			continue
		}
		req.Header.Add(header.Key, header.Value)
	}
	req.Header.Set(requestIDHeader, requestID)

	if c.Input.Abort {
		ctx, cancel := context.WithCancel(req.Context())
		cancel()
		req = req.WithContext(ctx)
	}
	return req
}

// serve runs a request in-process. A handler aborting with http.ErrAbortHandler is reported with
// whatever it wrote before giving up.
func serve(t *testing.T, h http.Handler, req *http.Request) Actual {
	rr := nethttptest.NewRecorder()
	func() {
		defer func() {
			if rec := recover(); rec != nil && rec != http.ErrAbortHandler {
				panic(rec)
			}
		}()
		h.ServeHTTP(rr, req)
	}()
	res := rr.Result()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return Actual{
		Status:          res.StatusCode,
		ResponseHeaders: res.Header,
		Body:            string(body),
	}
}

func httpCall(t *testing.T, req *http.Request) Actual {
	httpClient := &http.Client{
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	defer httpClient.CloseIdleConnections()

	res, err := httpClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return Actual{
		Status:          res.StatusCode,
		ResponseHeaders: res.Header,
		Body:            string(body),
	}
}

func (e Expect) Assert(actual Actual) error {
	if e.Status != 0 && e.Status != actual.Status {
		return fmt.Errorf("status should be %d and it is %d", e.Status, actual.Status)
	}
	for _, h := range e.ResponseHeaders {
		if !h.Assert(actual.ResponseHeaders) {
			return fmt.Errorf("header match fail: %s and its values are %q", h, actual.ResponseHeaders.Values(h.Name))
		}
	}
	if e.ResponseBody != nil && !e.ResponseBody.Assert(actual.Body) {
		return fmt.Errorf("response body should match %q=%q and its content is \n%q", e.ResponseBody.MatchType(), e.ResponseBody.MatchValue(), actual.Body)
	}
	return nil
}

func (e Expect) AssertFired(fired []string) error {
	if e.Fired != nil && !slices.Equal(e.Fired, fired) {
		return fmt.Errorf("fired hooks should be %v and they are %v", e.Fired, fired)
	}
	for _, name := range e.NotFired {
		if slices.Contains(fired, name) {
			return fmt.Errorf("hook %q should not fire, fired hooks are %v", name, fired)
		}
	}
	return nil
}

// Load reads a suite from testdata. Documents separated by --- are merged into one suite.
func Load(t *testing.T, path string) Suite {
	return testData(t, nil, path)
}

// LoadTemplate renders the suite file with text/template before parsing it.
func LoadTemplate(t *testing.T, path string, templateData any) Suite {
	return testData(t, templateData, path)
}

func testData(t *testing.T, templateData any, files ...string) Suite {
	t.Helper()
	var suite Suite
	for _, fileName := range files {
		if !strings.Contains(fileName, "testdata/") {
			fileName = fmt.Sprintf("testdata/%s", fileName)
		}

		tmpl, err := template.ParseFiles(fileName)
		require.NoError(t, err)
		b := bytes.NewBuffer([]byte{})
		err = tmpl.Execute(b, templateData)
		require.NoError(t, err)

		for _, doc := range bytes.Split(b.Bytes(), []byte("\n---")) {
			if len(bytes.TrimSpace(doc)) == 0 {
				continue
			}
			var part Suite
			err = yaml.UnmarshalStrict(doc, &part)
			require.NoError(t, err, "file %s", fileName)
			suite.Hooks = append(suite.Hooks, part.Hooks...)
			suite.Tests = append(suite.Tests, part.Tests...)
		}
	}
	return suite
}
