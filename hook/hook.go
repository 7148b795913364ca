package hook

import (
	"context"
)

// Predicate decides, once the response is final, whether a hook callback runs.
type Predicate func(req *RequestContext) bool

// Callback is invoked after the response is final when its predicate holds. It runs synchronously on
// the goroutine serving the request; panics are not recovered.
type Callback func(ctx context.Context, req *RequestContext)

// Hook pairs a callback with an optional predicate. Hooks are immutable once built and can be shared
// between requests.
type Hook struct {
	name      string
	callback  Callback
	predicate Predicate
}

// New validates the callback and returns a hook. A nil predicate means the callback always runs.
func New(cb Callback, pred Predicate) (*Hook, error) {
	if cb == nil {
		return nil, invalidArgument("callback", nil, "must be a non-nil function")
	}
	return &Hook{
		name:      "custom",
		callback:  cb,
		predicate: pred,
	}, nil
}

// Must is a helper that wraps a call to a hook constructor and panics if the error is non-nil.
// It is intended for package level hooks initialized at startup.
func Must(h *Hook, err error) *Hook {
	if err != nil {
		panic(err)
	}
	return h
}

// Name returns the name used in logs and spans.
func (h *Hook) Name() string {
	return h.name
}

// WithName returns a copy of the hook with the given name.
func (h *Hook) WithName(name string) *Hook {
	c := *h
	c.name = name
	return &c
}

// Match evaluates the predicate against the request context.
func (h *Hook) Match(req *RequestContext) bool {
	if h.predicate == nil {
		return true
	}
	return h.predicate(req)
}

// Fire runs the callback if the predicate holds and reports whether it did.
func (h *Hook) Fire(ctx context.Context, req *RequestContext) bool {
	if !h.Match(req) {
		return false
	}
	h.callback(ctx, req)
	return true
}

func newHook(name string, cb Callback, pred Predicate) (*Hook, error) {
	h, err := New(cb, pred)
	if err != nil {
		return nil, err
	}
	h.name = name
	return h, nil
}
