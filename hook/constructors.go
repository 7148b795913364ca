package hook

import (
	"fmt"
	"net/http"
	"strings"
)

// Custom fires for every response.
func Custom(cb Callback) (*Hook, error) {
	return newHook("custom", cb, nil)
}

// OnSuccess fires when the status code is below 400.
func OnSuccess(cb Callback) (*Hook, error) {
	return newHook("success", cb, Success)
}

// OnError fires when the status code is 400 or above.
func OnError(cb Callback) (*Hook, error) {
	return newHook("error", cb, Error)
}

// OnAborted fires when the client went away before the response was complete.
func OnAborted(cb Callback) (*Hook, error) {
	return newHook("aborted", cb, Aborted)
}

// OnGet fires for GET requests. The method comparison is case-sensitive.
func OnGet(cb Callback) (*Hook, error) {
	return onVerb(http.MethodGet, cb)
}

// OnPost fires for POST requests.
func OnPost(cb Callback) (*Hook, error) {
	return onVerb(http.MethodPost, cb)
}

// OnPut fires for PUT requests.
func OnPut(cb Callback) (*Hook, error) {
	return onVerb(http.MethodPut, cb)
}

// OnDelete fires for DELETE requests.
func OnDelete(cb Callback) (*Hook, error) {
	return onVerb(http.MethodDelete, cb)
}

// OnPatch fires for PATCH requests.
func OnPatch(cb Callback) (*Hook, error) {
	return onVerb(http.MethodPatch, cb)
}

// OnHead fires for HEAD requests.
func OnHead(cb Callback) (*Hook, error) {
	return onVerb(http.MethodHead, cb)
}

// OnMethod fires when the request method is one of methods.
func OnMethod(methods []string, cb Callback) (*Hook, error) {
	if cb == nil {
		return nil, invalidArgument("callback", nil, "must be a non-nil function")
	}
	pred, err := Methods(methods...)
	if err != nil {
		return nil, err
	}
	return newHook("method "+strings.ToUpper(strings.Join(methods, ",")), cb, pred)
}

// OnStatus fires when the status code is one of codes.
func OnStatus(codes []int, cb Callback) (*Hook, error) {
	if cb == nil {
		return nil, invalidArgument("callback", nil, "must be a non-nil function")
	}
	pred, err := Status(codes...)
	if err != nil {
		return nil, err
	}
	return newHook(fmt.Sprintf("status %v", codes), cb, pred)
}

// OnStatusRange fires when the status code is within the inclusive "min-max" range.
func OnStatusRange(expr string, cb Callback) (*Hook, error) {
	if cb == nil {
		return nil, invalidArgument("callback", nil, "must be a non-nil function")
	}
	pred, err := StatusRange(expr)
	if err != nil {
		return nil, err
	}
	return newHook("status range "+expr, cb, pred)
}

func onVerb(verb string, cb Callback) (*Hook, error) {
	return newHook(strings.ToLower(verb), cb, Method(verb))
}
