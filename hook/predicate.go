package hook

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

const (
	minStatusCode = 100
	maxStatusCode = 599
)

// allowedMethods is the set accepted by Methods.
var allowedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
	http.MethodOptions,
	http.MethodHead,
}

// Success holds for status codes below 400.
func Success(req *RequestContext) bool {
	return req.Status() < http.StatusBadRequest
}

// Error holds for status codes of 400 and above.
func Error(req *RequestContext) bool {
	return req.Status() >= http.StatusBadRequest
}

// Aborted holds when the client went away before the response was complete.
func Aborted(req *RequestContext) bool {
	return req.Aborted()
}

// Method returns a predicate comparing the request method with verb. The comparison is case sensitive.
func Method(verb string) Predicate {
	return func(req *RequestContext) bool {
		return req.Method() == verb
	}
}

// Methods returns a predicate matching any of the given methods. Methods are upper-cased and must be
// one of GET, POST, PUT, DELETE, PATCH, OPTIONS or HEAD.
func Methods(methods ...string) (Predicate, error) {
	if len(methods) == 0 {
		return nil, invalidArgument("methods", nil, "must be a non-empty list")
	}
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		upper := strings.ToUpper(m)
		if !slices.Contains(allowedMethods, upper) {
			return nil, invalidArgument("method", strconv.Quote(m), fmt.Sprintf("must be one of %s", strings.Join(allowedMethods, ", ")))
		}
		set[upper] = struct{}{}
	}
	return func(req *RequestContext) bool {
		_, ok := set[strings.ToUpper(req.Method())]
		return ok
	}, nil
}

// Status returns a predicate matching any of the given status codes. Each code must be in [100, 599].
func Status(codes ...int) (Predicate, error) {
	if len(codes) == 0 {
		return nil, invalidArgument("status codes", nil, "must be a non-empty list")
	}
	set := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		if err := validateStatusCode("status code", code); err != nil {
			return nil, err
		}
		set[code] = struct{}{}
	}
	return func(req *RequestContext) bool {
		_, ok := set[req.Status()]
		return ok
	}, nil
}

// StatusRange returns a predicate matching status codes within an inclusive "min-max" range, e.g.
// "200-299". Both bounds must be in [100, 599] and min must be strictly lower than max.
func StatusRange(expr string) (Predicate, error) {
	lo, hi, err := parseStatusRange(expr)
	if err != nil {
		return nil, err
	}
	return func(req *RequestContext) bool {
		return req.Status() >= lo && req.Status() <= hi
	}, nil
}

func validateStatusCode(arg string, code int) error {
	if code < minStatusCode || code > maxStatusCode {
		return invalidArgument(arg, code, fmt.Sprintf("must be between %d and %d", minStatusCode, maxStatusCode))
	}
	return nil
}

func parseStatusRange(expr string) (int, int, error) {
	rawMin, rawMax, ok := strings.Cut(expr, "-")
	if !ok {
		return 0, 0, invalidArgument("status range", strconv.Quote(expr), `must have the form "min-max"`)
	}
	lo, err := strconv.Atoi(strings.TrimSpace(rawMin))
	if err != nil {
		return 0, 0, invalidArgument("status range", strconv.Quote(expr), "min is not a number")
	}
	hi, err := strconv.Atoi(strings.TrimSpace(rawMax))
	if err != nil {
		return 0, 0, invalidArgument("status range", strconv.Quote(expr), "max is not a number")
	}
	if err := validateStatusCode("status range min", lo); err != nil {
		return 0, 0, err
	}
	if err := validateStatusCode("status range max", hi); err != nil {
		return 0, 0, err
	}
	if lo >= hi {
		return 0, 0, invalidArgument("status range", strconv.Quote(expr), "min must be lower than max")
	}
	return lo, hi, nil
}
