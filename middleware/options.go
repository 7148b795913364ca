package middleware

import (
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"
)

type Option interface {
	apply(i *Interceptor)
}

type optionFunc func(*Interceptor)

func (o optionFunc) apply(i *Interceptor) {
	o(i)
}

// WithLogger configures the interceptor with a logger
func WithLogger(log logr.Logger) Option {
	return optionFunc(func(i *Interceptor) {
		i.log = log
	})
}

func WithTracer(tracer trace.Tracer) Option {
	return optionFunc(func(i *Interceptor) {
		i.tracer = tracer
	})
}
