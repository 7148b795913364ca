// Package middleware runs hooks after a net/http handler has produced its response.
//
// The first hook middleware a request passes through wraps the response writer and owns the
// finalization. Hook middlewares further down the same request add their hooks to the owner's chain
// instead of wrapping the writer again. Once the downstream handler returns, the owner records the
// final status code and fires every hook, last installed first. The writer wrapper only observes
// writes, so the bytes sent to the client are the same with or without hooks.
package middleware

import (
	"context"
	"net/http"

	"github.com/getyourguide/reshook/hook"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Middleware has the signature used by chi and most net/http routers.
type Middleware = func(http.Handler) http.Handler

type Interceptor struct {
	log    logr.Logger
	tracer trace.Tracer
}

func New(options ...Option) *Interceptor {
	i := &Interceptor{
		log: logr.Discard(),
	}
	for _, opt := range options {
		opt.apply(i)
	}
	if i.tracer == nil {
		i.tracer = noop.NewTracerProvider().Tracer(hook.TracerName)
	}
	return i
}

// Handle returns a middleware installing hooks on every request it serves. The request is handed to
// next right away; hooks run after the response is final.
func (i *Interceptor) Handle(hooks ...*hook.Hook) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if res, ok := responseFromContext(r.Context()); ok {
				res.chain.Add(hooks...)
				next.ServeHTTP(w, r)
				return
			}

			res := &response{
				writer: chimw.NewWrapResponseWriter(w, r.ProtoMajor),
				req:    hook.FromHTTPRequest(r),
				chain:  hook.NewChain(hook.WithLogger(i.log), hook.WithTracer(i.tracer)),
			}
			res.chain.Add(hooks...)
			ctx := r.Context()

			defer func() {
				if rec := recover(); rec != nil {
					// The handler gave up on the response: the client sees a broken connection.
					if rec == http.ErrAbortHandler && !res.chain.Fired() {
						res.req.Abort()
						res.finalize(ctx)
					}
					panic(rec)
				}
			}()

			next.ServeHTTP(res.writer, r.WithContext(context.WithValue(ctx, responseKey{}, res)))
			res.finalize(ctx)
		})
	}
}
