package hook

import (
	"cmp"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	extproc "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RequestPhase represents the different phases of the request
type RequestPhase string

const (
	RequestPhaseUnknown          RequestPhase = "RequestPhaseUnknown"
	RequestPhaseRequestHeaders   RequestPhase = "RequestPhaseRequestHeaders"
	RequestPhaseRequestBody      RequestPhase = "RequestPhaseRequestBody"
	RequestPhaseRequestTrailers  RequestPhase = "RequestPhaseRequestTrailers"
	RequestPhaseResponseHeaders  RequestPhase = "RequestPhaseResponseHeaders"
	RequestPhaseResponseBody     RequestPhase = "RequestPhaseResponseBody"
	RequestPhaseResponseTrailers RequestPhase = "RequestPhaseResponseTrailers"
	RequestPhaseCompleted        RequestPhase = "RequestPhaseCompleted"
)

// RequestContext is the request/response pair a hook observes. It is populated while the request is
// served, either from a net/http request (FromHTTPRequest) or from the messages of an Envoy external
// processing stream (Process), and it is finalized exactly once when the response is complete.
// After finalization the status code and response headers no longer change.
// Note that the request context is not thread-safe and should not be shared between goroutines.
type RequestContext struct {
	scheme          string
	authority       string
	method          string
	url             *url.URL
	requestID       string
	status          int
	bytesWritten    int
	requestHeaders  http.Header
	responseHeaders http.Header
	cookies         []*http.Cookie
	setCookies      []*http.Cookie
	metadata        *Metadata
	phase           RequestPhase
	startTime       time.Time
	endTime         time.Time
	endOfStream     bool
	finalized       bool
	aborted         bool
}

// NewRequestContext returns an empty request context. The start time is set on creation.
func NewRequestContext() *RequestContext {
	return &RequestContext{
		requestHeaders:  make(http.Header),
		responseHeaders: make(http.Header),
		metadata:        &Metadata{},
		phase:           RequestPhaseUnknown,
		startTime:       time.Now(),
	}
}

// FromHTTPRequest builds a request context from an incoming net/http request. The request id is
// taken from the X-Request-Id header, then from chi's request id middleware, and generated otherwise.
func FromHTTPRequest(r *http.Request) *RequestContext {
	req := NewRequestContext()
	req.phase = RequestPhaseRequestHeaders
	req.method = r.Method
	req.authority = r.Host
	req.scheme = "http"
	if r.TLS != nil {
		req.scheme = "https"
	}
	if r.URL != nil {
		u := *r.URL
		req.url = &u
	}
	req.requestHeaders = r.Header.Clone()
	if req.requestHeaders == nil {
		req.requestHeaders = make(http.Header)
	}
	req.cookies = r.Cookies()
	req.requestID = cmp.Or(r.Header.Get("x-request-id"), chimw.GetReqID(r.Context()))
	if req.requestID == "" {
		req.requestID = uuid.NewString()
	}
	return req
}

// RequestHeader gets the first value associated with the given key.
// If there are no values associated with the key, RequestHeader returns "". It is case insensitive;
// [textproto.CanonicalMIMEHeaderKey] is used to canonicalize the provided key.
func (r *RequestContext) RequestHeader(key string) string {
	return r.requestHeaders.Get(key)
}

// RequestHeaderValues returns all values associated with the given key.
// The returned slice is not a copy.
func (r *RequestContext) RequestHeaderValues(key string) []string {
	return r.requestHeaders.Values(key)
}

// ResponseHeader gets the first value associated with the given key in the response headers.
func (r *RequestContext) ResponseHeader(key string) string {
	return r.responseHeaders.Get(key)
}

// ResponseHeaderValues returns all values associated with the given key in the response headers.
// The returned slice is not a copy.
func (r *RequestContext) ResponseHeaderValues(key string) []string {
	return r.responseHeaders.Values(key)
}

// Scheme returns the scheme of the request (http or https)
func (r *RequestContext) Scheme() string {
	return r.scheme
}

// Authority returns the authority of the request
func (r *RequestContext) Authority() string {
	return r.authority
}

// Method returns the method of the request (GET, POST, PUT, etc)
func (r *RequestContext) Method() string {
	return r.method
}

// URL returns the URL of the request
func (r *RequestContext) URL() *url.URL {
	if r.url == nil {
		return &url.URL{
			User: &url.Userinfo{},
		}
	}
	return r.url
}

// RequestID returns the request ID of the request
func (r *RequestContext) RequestID() string {
	return r.requestID
}

// Status returns the status code of the response
func (r *RequestContext) Status() int {
	return r.status
}

// StatusClass returns the class of the status of the response (2xx, 3xx, 4xx, 5xx)
func (r *RequestContext) StatusClass() string {
	return fmt.Sprintf("%dxx", r.status/100)
}

// BytesWritten returns the number of response body bytes observed.
func (r *RequestContext) BytesWritten() int {
	return r.bytesWritten
}

// Cookies returns a copy of the cookies of the request
func (r *RequestContext) Cookies() []http.Cookie {
	cookies := make([]http.Cookie, len(r.cookies))
	for i, c := range r.cookies {
		cookies[i] = *c
	}
	return cookies
}

// GetCookie returns the cookie with the given name and a boolean indicating if the cookie was found
func (r *RequestContext) GetCookie(name string) (http.Cookie, bool) {
	for _, cookie := range r.Cookies() {
		if cookie.Name == name {
			return cookie, true
		}
	}
	return http.Cookie{}, false
}

// SetCookies returns a copy of the cookies from set-cookie response headers
func (r *RequestContext) SetCookies() []http.Cookie {
	cookies := make([]http.Cookie, len(r.setCookies))
	for i, c := range r.setCookies {
		cookies[i] = *c
	}
	return cookies
}

// Metadata returns the metadata of the request, it can be used to exchange information between hooks
func (r *RequestContext) Metadata() *Metadata {
	if r.metadata == nil {
		r.metadata = &Metadata{}
	}
	return r.metadata
}

// RequestPhase returns the current phase of the request
func (r *RequestContext) RequestPhase() RequestPhase {
	return r.phase
}

// RequestDuration returns the time since the request started, or the total duration once finalized.
func (r *RequestContext) RequestDuration() time.Duration {
	if r.startTime.IsZero() {
		return time.Duration(0)
	}
	if r.finalized {
		return r.endTime.Sub(r.startTime)
	}
	return time.Since(r.startTime)
}

// Aborted reports whether the client went away before the response was complete.
func (r *RequestContext) Aborted() bool {
	return r.aborted
}

// Finalized reports whether the response is complete.
func (r *RequestContext) Finalized() bool {
	return r.finalized
}

// EndOfStream reports whether the last response message seen carried the end of stream flag.
func (r *RequestContext) EndOfStream() bool {
	return r.endOfStream
}

// Abort sets the abort flag. It has no effect once the request context is finalized.
func (r *RequestContext) Abort() {
	if r.finalized {
		return
	}
	r.aborted = true
}

// Complete records the final status code, response headers and body size and finalizes the request
// context. Only the first call has an effect.
func (r *RequestContext) Complete(status int, header http.Header, bytesWritten int) {
	if r.finalized {
		return
	}
	r.status = status
	r.bytesWritten = bytesWritten
	if header != nil {
		r.responseHeaders = header.Clone()
		r.parseSetCookies()
	}
	r.Finalize()
}

// Finalize marks the response as complete with whatever state was observed so far.
// Only the first call has an effect.
func (r *RequestContext) Finalize() {
	if r.finalized {
		return
	}
	r.finalized = true
	r.endTime = time.Now()
	r.phase = RequestPhaseCompleted
}

// Process processes the given ext_proc message and updates the request context accordingly.
// It should be called on every message received from Envoy. Messages received after finalization
// are ignored.
func (r *RequestContext) Process(message any) {
	if r.finalized {
		return
	}
	if r.startTime.IsZero() {
		r.startTime = time.Now()
	}
	if r.requestHeaders == nil {
		r.requestHeaders = make(http.Header)
	}
	if r.responseHeaders == nil {
		r.responseHeaders = make(http.Header)
	}
	switch msg := message.(type) {
	case *extproc.ProcessingRequest_RequestHeaders:
		r.phase = RequestPhaseRequestHeaders
		for _, header := range msg.RequestHeaders.GetHeaders().GetHeaders() {
			r.requestHeaders.Add(header.Key, cmp.Or(string(header.GetRawValue()), header.GetValue()))
		}
		if r.scheme == "" {
			r.scheme = r.RequestHeader(":scheme")
		}
		if r.authority == "" {
			r.authority = r.RequestHeader(":authority")
		}
		if r.method == "" {
			r.method = r.RequestHeader(":method")
		}
		if r.requestID == "" {
			r.requestID = r.RequestHeader("x-request-id")
		}
		if r.url == nil {
			r.url, _ = url.Parse(r.RequestHeader(":path"))
			if r.url == nil {
				r.url = &url.URL{
					Path:    strings.Split(r.RequestHeader(":path"), "?")[0],
					RawPath: r.RequestHeader(":path"),
					User:    &url.Userinfo{},
				}
			}
		}
		if r.cookies == nil && r.RequestHeader("cookie") != "" {
			httpreq := http.Request{Header: r.requestHeaders}
			r.cookies = httpreq.Cookies()
		}
	case *extproc.ProcessingRequest_RequestBody:
		r.phase = RequestPhaseRequestBody
	case *extproc.ProcessingRequest_RequestTrailers:
		r.phase = RequestPhaseRequestTrailers
	case *extproc.ProcessingRequest_ResponseHeaders:
		r.phase = RequestPhaseResponseHeaders
		for _, header := range msg.ResponseHeaders.GetHeaders().GetHeaders() {
			r.responseHeaders.Add(header.Key, cmp.Or(string(header.GetRawValue()), header.GetValue()))
		}
		status, _ := strconv.Atoi(r.ResponseHeader(":status"))
		r.status = status
		r.parseSetCookies()
		r.endOfStream = msg.ResponseHeaders.GetEndOfStream()
	case *extproc.ProcessingRequest_ResponseBody:
		r.phase = RequestPhaseResponseBody
		r.bytesWritten += len(msg.ResponseBody.GetBody())
		r.endOfStream = msg.ResponseBody.GetEndOfStream()
	case *extproc.ProcessingRequest_ResponseTrailers:
		r.phase = RequestPhaseResponseTrailers
		r.endOfStream = true
	}
}

func (r *RequestContext) parseSetCookies() {
	if r.setCookies == nil && r.ResponseHeader("set-cookie") != "" {
		httpresp := http.Response{Header: r.responseHeaders}
		r.setCookies = httpresp.Cookies()
	}
}

// Metadata is a key/value bag attached to a single request.
type Metadata struct {
	m map[any]any
}

// Set sets the value associated with key in the metadata.
func (m *Metadata) Set(key any, value any) {
	if m.m == nil {
		m.m = make(map[any]any)
	}
	m.m[key] = value
}

// Get returns the value associated with key in the metadata.
func (m *Metadata) Get(key any) any {
	if m.m == nil {
		return nil
	}
	return m.m[key]
}
