package httptest

import (
	"fmt"
	"net/http"
	"regexp"
)

type MatchAction string

const (
	MatchActionFirst MatchAction = "FIRST"
	MatchActionAny   MatchAction = "ANY"
	MatchActionAll   MatchAction = "ALL"
)

// StringMatch matches one or more values. Exactly one of Exact, Absent or Regex should be set.
type StringMatch struct {
	Exact       *string     `json:"exact"`
	Absent      *bool       `json:"absent"`
	Regex       *string     `json:"regex"`
	MatchAction MatchAction `json:"matchAction"`
}

func (sm StringMatch) Assert(values ...string) bool {
	switch sm.MatchAction {
	case "", MatchActionFirst:
		var value string
		if len(values) > 0 {
			value = values[0]
		}
		return sm.match(value)
	case MatchActionAny:
		for _, value := range values {
			if sm.match(value) {
				return true
			}
		}
		return false
	case MatchActionAll:
		if len(values) == 0 {
			return false
		}
		for _, value := range values {
			if !sm.match(value) {
				return false
			}
		}
		return true
	}
	return false
}

func (sm *StringMatch) MatchType() string {
	switch {
	case sm.Exact != nil:
		return "exact"
	case sm.Absent != nil:
		return "absent"
	case sm.Regex != nil:
		return "regex"
	}
	return ""
}

func (sm *StringMatch) MatchValue() string {
	switch {
	case sm.Exact != nil:
		return *sm.Exact
	case sm.Absent != nil:
		return fmt.Sprintf("%t", *sm.Absent)
	case sm.Regex != nil:
		return *sm.Regex
	}
	return ""
}

func (sm *StringMatch) match(value string) bool {
	switch {
	case sm.Absent != nil:
		if *sm.Absent {
			return value == ""
		}
		return value != ""
	case sm.Exact != nil:
		return value == *sm.Exact
	case sm.Regex != nil:
		r := regexp.MustCompile(*sm.Regex)
		return r.MatchString(value)
	}
	return false
}

// HeaderMatch matches the values of one header.
type HeaderMatch struct {
	Name string `json:"name"`
	StringMatch
}

func (hm HeaderMatch) Assert(headers http.Header) bool {
	return hm.StringMatch.Assert(headers.Values(hm.Name)...)
}

func (hm HeaderMatch) String() string {
	action := hm.MatchAction
	if action == "" {
		action = MatchActionFirst
	}
	return fmt.Sprintf("header %q should match %q header values with %q=%q", hm.Name, action, hm.MatchType(), hm.MatchValue())
}
