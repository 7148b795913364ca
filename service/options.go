package service

import (
	extproc "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/getyourguide/reshook/hook"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"
)

type Option interface {
	apply(c *ExtProcessor)
}

type optionFunc func(*ExtProcessor)

func (o optionFunc) apply(f *ExtProcessor) {
	o(f)
}

// WithLogger configures the service with a logger
func WithLogger(log logr.Logger) Option {
	return optionFunc(func(svc *ExtProcessor) {
		svc.log = log
	})
}

// WithHooks installs hooks on every stream. Hooks fire in the reverse order they are given.
func WithHooks(hooks ...*hook.Hook) Option {
	return optionFunc(func(svc *ExtProcessor) {
		svc.hooks = append(svc.hooks, hooks...)
	})
}

// WithOnStreamEndFn registers a function called when the stream ends, after the hooks fired.
// msg is the last message received, nil if none was.
func WithOnStreamEndFn(fn func(req *hook.RequestContext, msg *extproc.ProcessingRequest)) Option {
	return optionFunc(func(svc *ExtProcessor) {
		svc.onStreamEndFn = fn
	})
}

func WithTracer(tracer trace.Tracer) Option {
	return optionFunc(func(svc *ExtProcessor) {
		svc.tracer = tracer
	})
}
