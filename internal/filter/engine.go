// Package filter implements the per-alert item matching engine.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"stockwatch/internal/model"
)

// ConfigError reports a filter that can never be evaluated, such as a
// pattern that does not compile. It is raised when the filter is registered.
type ConfigError struct {
	Kind  model.FilterKind
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s filter %q: %v", e.Kind, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Validate checks a filter before it is stored.
func Validate(f model.Filter) error {
	if strings.TrimSpace(f.Value) == "" {
		return &ConfigError{Kind: f.Kind, Value: f.Value, Err: fmt.Errorf("empty value")}
	}
	switch f.Target {
	case "", model.TargetTitle, model.TargetID:
	default:
		return &ConfigError{Kind: f.Kind, Value: f.Value, Err: fmt.Errorf("unknown target %q", f.Target)}
	}
	switch f.Kind {
	case model.FilterText:
		return nil
	case model.FilterPattern:
		if _, err := regexp.Compile(f.Value); err != nil {
			return &ConfigError{Kind: f.Kind, Value: f.Value, Err: err}
		}
		return nil
	default:
		return &ConfigError{Kind: f.Kind, Value: f.Value, Err: fmt.Errorf("unknown kind")}
	}
}

type rule struct {
	filter model.Filter
	re     *regexp.Regexp
}

func (r rule) matches(item model.Item) bool {
	text := item.Title
	if r.filter.Target == model.TargetID {
		text = item.ItemID
	}
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.filter.Value)
}

// Set is the compiled filter list of one alert.
type Set struct {
	whitelist []rule
	blacklist []rule
}

// Compile validates and compiles the filters of an alert.
func Compile(filters []model.Filter) (*Set, error) {
	rules := make([]rule, 0, len(filters))
	for _, f := range filters {
		if err := Validate(f); err != nil {
			return nil, err
		}
		r := rule{filter: f}
		if f.Kind == model.FilterPattern {
			r.re = regexp.MustCompile(f.Value)
		}
		rules = append(rules, r)
	}
	black, white := lo.FilterReject(rules, func(r rule, _ int) bool {
		return r.filter.Inverse
	})
	return &Set{whitelist: white, blacklist: black}, nil
}

// Accept decides whether an item passes the alert's filters.
// Any blacklist hit rejects the item and every matching blacklist filter
// is reported. When whitelist filters exist at
// least one must match. Without filters every item passes.
// The IDs of the filters that matched are returned for hit counting.
func (s *Set) Accept(item model.Item) (bool, []int64) {
	var hits []int64
	for _, r := range s.blacklist {
		if r.matches(item) {
			hits = append(hits, r.filter.ID)
		}
	}
	if len(hits) > 0 {
		return false, hits
	}
	if len(s.whitelist) == 0 {
		return true, hits
	}
	accepted := false
	for _, r := range s.whitelist {
		if r.matches(item) {
			hits = append(hits, r.filter.ID)
			accepted = true
		}
	}
	return accepted, hits
}

// Len returns the number of compiled filters.
func (s *Set) Len() int {
	return len(s.whitelist) + len(s.blacklist)
}
