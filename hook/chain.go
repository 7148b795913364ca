package hook

import (
	"context"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	TracerName       = "github.com/getyourguide/reshook"
	CallbackSpanName = "hook.callback"
)

// Chain holds the hooks installed on a single response. Hooks fire in the reverse order they were
// added, and a chain fires at most once.
// Note that a chain is owned by one request and is not thread-safe.
type Chain struct {
	hooks  []*Hook
	fired  bool
	log    logr.Logger
	tracer trace.Tracer
}

type Option interface {
	apply(c *Chain)
}

type optionFunc func(*Chain)

func (o optionFunc) apply(c *Chain) {
	o(c)
}

// WithLogger configures the chain with a logger
func WithLogger(log logr.Logger) Option {
	return optionFunc(func(c *Chain) {
		c.log = log
	})
}

func WithTracer(tracer trace.Tracer) Option {
	return optionFunc(func(c *Chain) {
		c.tracer = tracer
	})
}

func NewChain(options ...Option) *Chain {
	c := &Chain{
		log: logr.Discard(),
	}
	for _, opt := range options {
		opt.apply(c)
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer(TracerName)
	}
	return c
}

// Add installs hooks on the chain. Nil hooks are ignored. Hooks added after the chain fired never run.
func (c *Chain) Add(hooks ...*Hook) {
	for _, h := range hooks {
		if h == nil {
			continue
		}
		c.hooks = append(c.hooks, h)
	}
}

// Len returns the number of installed hooks.
func (c *Chain) Len() int {
	return len(c.hooks)
}

// Fired reports whether Fire already ran.
func (c *Chain) Fired() bool {
	return c.fired
}

// Fire finalizes req, evaluates every predicate once and runs the matching callbacks, last installed
// first. It returns the number of callbacks that ran. Calls after the first are no-ops.
func (c *Chain) Fire(ctx context.Context, req *RequestContext) int {
	if c.fired {
		return 0
	}
	c.fired = true
	req.Finalize()

	ctx = logr.NewContext(ctx, c.log)
	fired := 0
	for i := len(c.hooks) - 1; i >= 0; i-- {
		if c.fire(ctx, c.hooks[i], req) {
			fired++
		}
	}
	return fired
}

func (c *Chain) fire(ctx context.Context, h *Hook, req *RequestContext) bool {
	if !h.Match(req) {
		return false
	}
	ctx, span := c.tracer.Start(ctx, CallbackSpanName, trace.WithAttributes(
		attribute.String("hook.name", h.Name()),
		attribute.String("http.request.method", req.Method()),
		attribute.Int("http.response.status_code", req.Status()),
		attribute.Bool("http.request.aborted", req.Aborted()),
	))
	defer span.End()

	c.log.V(1).Info("firing hook", "hook", h.Name(), "request_id", req.RequestID(), "method", req.Method(), "status", req.Status(), "aborted", req.Aborted())
	h.callback(ctx, req)
	return true
}
