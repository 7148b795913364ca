package middleware

import (
	"github.com/getyourguide/reshook/hook"
)

// Custom runs cb after every response.
func (i *Interceptor) Custom(cb hook.Callback) (Middleware, error) {
	return i.build(hook.Custom(cb))
}

// OnSuccess runs cb after responses with a status code below 400.
func (i *Interceptor) OnSuccess(cb hook.Callback) (Middleware, error) {
	return i.build(hook.OnSuccess(cb))
}

// OnError runs cb after responses with a status code of 400 or above.
func (i *Interceptor) OnError(cb hook.Callback) (Middleware, error) {
	return i.build(hook.OnError(cb))
}

// OnGet runs cb after GET requests.
func (i *Interceptor) OnGet(cb hook.Callback) (Middleware, error) {
	return i.build(hook.OnGet(cb))
}

// OnPost runs cb after POST requests.
func (i *Interceptor) OnPost(cb hook.Callback) (Middleware, error) {
	return i.build(hook.OnPost(cb))
}

// OnPut runs cb after PUT requests.
func (i *Interceptor) OnPut(cb hook.Callback) (Middleware, error) {
	return i.build(hook.OnPut(cb))
}

// OnDelete runs cb after DELETE requests.
func (i *Interceptor) OnDelete(cb hook.Callback) (Middleware, error) {
	return i.build(hook.OnDelete(cb))
}

// OnPatch runs cb after PATCH requests.
func (i *Interceptor) OnPatch(cb hook.Callback) (Middleware, error) {
	return i.build(hook.OnPatch(cb))
}

// OnHead runs cb after HEAD requests.
func (i *Interceptor) OnHead(cb hook.Callback) (Middleware, error) {
	return i.build(hook.OnHead(cb))
}

// OnMethod runs cb when the request method is one of methods.
func (i *Interceptor) OnMethod(methods []string, cb hook.Callback) (Middleware, error) {
	return i.build(hook.OnMethod(methods, cb))
}

// OnStatus runs cb when the final status code is one of codes.
func (i *Interceptor) OnStatus(codes []int, cb hook.Callback) (Middleware, error) {
	return i.build(hook.OnStatus(codes, cb))
}

// OnStatusRange runs cb when the final status code is within the inclusive "min-max" range.
func (i *Interceptor) OnStatusRange(expr string, cb hook.Callback) (Middleware, error) {
	return i.build(hook.OnStatusRange(expr, cb))
}

// OnAborted runs cb when the client went away before the response was complete.
func (i *Interceptor) OnAborted(cb hook.Callback) (Middleware, error) {
	return i.build(hook.OnAborted(cb))
}

func (i *Interceptor) build(h *hook.Hook, err error) (Middleware, error) {
	if err != nil {
		return nil, err
	}
	return i.Handle(h), nil
}
