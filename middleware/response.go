package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/getyourguide/reshook/hook"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type responseKey struct{}

// response is the interception state of one request. It is created by the outermost hook middleware,
// which owns the finalization, and found in the request context by the hook middlewares below it.
type response struct {
	writer chimw.WrapResponseWriter
	req    *hook.RequestContext
	chain  *hook.Chain
}

func responseFromContext(ctx context.Context) (*response, bool) {
	res, ok := ctx.Value(responseKey{}).(*response)
	if !ok || res.chain.Fired() {
		return nil, false
	}
	return res, true
}

// finalize completes the request context with what the handler wrote and fires the chain.
// Callbacks get a context that is no longer canceled with the request.
func (res *response) finalize(ctx context.Context) {
	if errors.Is(ctx.Err(), context.Canceled) {
		res.req.Abort()
	}
	status := res.writer.Status()
	if status == 0 {
		status = http.StatusOK
	}
	res.req.Complete(status, res.writer.Header(), res.writer.BytesWritten())
	res.chain.Fire(context.WithoutCancel(ctx), res.req)
}
