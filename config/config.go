// Package config builds hooks from a YAML declaration. Callbacks are code, so the declaration refers
// to them by name and the application supplies the implementations:
//
//	hooks:
//	  - name: server-errors
//	    when: statusRange
//	    range: "500-599"
//	    callback: alert
//	  - when: method
//	    methods: [GET, HEAD]
//	    callback: audit
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/getyourguide/reshook/hook"
	"sigs.k8s.io/yaml"
)

// Kind selects the predicate of a declared hook.
type Kind string

const (
	KindCustom      Kind = "custom"
	KindSuccess     Kind = "success"
	KindError       Kind = "error"
	KindGet         Kind = "get"
	KindPost        Kind = "post"
	KindPut         Kind = "put"
	KindDelete      Kind = "delete"
	KindPatch       Kind = "patch"
	KindHead        Kind = "head"
	KindMethod      Kind = "method"
	KindStatus      Kind = "status"
	KindStatusRange Kind = "statusRange"
	KindAborted     Kind = "aborted"
)

// Callbacks maps the callback names used in a declaration to their implementation.
type Callbacks map[string]hook.Callback

type Configuration struct {
	Hooks []Hook `json:"hooks"`
}

// Hook declares one hook. The kind lives under "when" since YAML 1.1 reads an unquoted on key as true.
type Hook struct {
	Name     string      `json:"name"`
	When     Kind        `json:"when"`
	Methods  []string    `json:"methods"`
	Status   StatusCodes `json:"status"`
	Range    string      `json:"range"`
	Callback string      `json:"callback"`
}

// StatusCodes accepts either a single status code or a list of them.
type StatusCodes []int

func (s *StatusCodes) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] != '[' && !bytes.Equal(b, []byte("null")) {
		var code int
		if err := json.Unmarshal(b, &code); err != nil {
			return fmt.Errorf("status code: %w", err)
		}
		*s = StatusCodes{code}
		return nil
	}
	var codes []int
	if err := json.Unmarshal(b, &codes); err != nil {
		return fmt.Errorf("status codes: %w", err)
	}
	*s = codes
	return nil
}

// New parses a YAML declaration and builds its hooks.
func New(config []byte, callbacks Callbacks) ([]*hook.Hook, error) {
	var cfg Configuration
	err := yaml.UnmarshalStrict(config, &cfg)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal file: %w", err)
	}
	return cfg.Build(callbacks)
}

func NewFromFile(file string, callbacks Callbacks) ([]*hook.Hook, error) {
	f, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("could not read file: %w", err)
	}
	return New(f, callbacks)
}

// Build validates every declared hook. The first invalid declaration fails the whole configuration.
func (c Configuration) Build(callbacks Callbacks) ([]*hook.Hook, error) {
	hooks := make([]*hook.Hook, 0, len(c.Hooks))
	for i, decl := range c.Hooks {
		h, err := decl.Build(callbacks)
		if err != nil {
			return nil, fmt.Errorf("hook %d: %w", i, err)
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}

func (d Hook) Build(callbacks Callbacks) (*hook.Hook, error) {
	cb, ok := callbacks[d.Callback]
	if !ok {
		return nil, fmt.Errorf("unknown callback %q: %w", d.Callback, hook.ErrInvalidArgument)
	}

	var h *hook.Hook
	var err error
	switch d.When {
	case KindCustom:
		h, err = hook.Custom(cb)
	case KindSuccess:
		h, err = hook.OnSuccess(cb)
	case KindError:
		h, err = hook.OnError(cb)
	case KindGet:
		h, err = hook.OnGet(cb)
	case KindPost:
		h, err = hook.OnPost(cb)
	case KindPut:
		h, err = hook.OnPut(cb)
	case KindDelete:
		h, err = hook.OnDelete(cb)
	case KindPatch:
		h, err = hook.OnPatch(cb)
	case KindHead:
		h, err = hook.OnHead(cb)
	case KindMethod:
		h, err = hook.OnMethod(d.Methods, cb)
	case KindStatus:
		h, err = hook.OnStatus(d.Status, cb)
	case KindStatusRange:
		h, err = hook.OnStatusRange(d.Range, cb)
	case KindAborted:
		h, err = hook.OnAborted(cb)
	default:
		return nil, fmt.Errorf("unknown kind %q: %w", d.When, hook.ErrInvalidArgument)
	}
	if err != nil {
		return nil, err
	}
	if d.Name != "" {
		h = h.WithName(d.Name)
	}
	return h, nil
}
