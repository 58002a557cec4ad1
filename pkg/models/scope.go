package models

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// ScopeParams gates delivery of findings. Exclude wins over include; a
// finding passes when no exclude matcher matches and, if include is present,
// at least one include matcher matches.
type ScopeParams struct {
	Include []ScopeMatcher `koanf:"include" yaml:"include" json:"include,omitempty"`
	Exclude []ScopeMatcher `koanf:"exclude" yaml:"exclude" json:"exclude,omitempty"`
}

// ScopeMatcher is an AND over attribute predicates. Keys are the fixed
// attribute names; values are regex patterns (full match), except for
// "labels"/"annotations" where the value is a "k1=v1,k2!=v2" expression.
type ScopeMatcher map[string]MatchExpr

// MatchExpr is one or more patterns for a single attribute. A scalar YAML
// value decodes to a single-element expression.
type MatchExpr []string

// UnmarshalYAML accepts either a scalar or a sequence of patterns.
func (m *MatchExpr) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*m = MatchExpr{single}
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return err
	}
	*m = MatchExpr(many)
	return nil
}

// scopeAttributes is the fixed attribute vocabulary for matchers.
var scopeAttributes = map[string]struct{}{
	"name": {}, "namespace": {}, "node": {}, "kind": {}, "title": {},
	"type": {}, "severity": {}, "source": {}, "labels": {}, "annotations": {},
	"attributes": {}, "namespace_labels": {},
}

// Empty reports whether neither include nor exclude is configured.
func (s *ScopeParams) Empty() bool {
	return s == nil || (len(s.Include) == 0 && len(s.Exclude) == 0)
}

// Validate checks attribute names and regex syntax. Scopes with unknown
// attributes or invalid patterns are rejected at load time.
func (s *ScopeParams) Validate() error {
	if s == nil {
		return nil
	}
	if len(s.Include) == 0 && len(s.Exclude) == 0 {
		return fmt.Errorf("scope requires at least one of include/exclude")
	}
	for _, group := range [][]ScopeMatcher{s.Include, s.Exclude} {
		for _, matcher := range group {
			for attr, patterns := range matcher {
				if _, ok := scopeAttributes[attr]; !ok {
					return fmt.Errorf("unknown scope attribute %q", attr)
				}
				if attr == "labels" || attr == "annotations" || attr == "namespace_labels" {
					continue
				}
				for _, p := range patterns {
					if _, err := compilePattern(p); err != nil {
						return fmt.Errorf("scope attribute %q: invalid pattern %q: %w", attr, p, err)
					}
				}
			}
		}
	}
	return nil
}

// Matches evaluates the scope against a finding. Pure: the finding is never
// mutated.
func (s *ScopeParams) Matches(f *Finding) bool {
	if s.Empty() {
		return true
	}
	for _, m := range s.Exclude {
		if matcherMatches(f, m) {
			return false
		}
	}
	if len(s.Include) == 0 {
		return true
	}
	for _, m := range s.Include {
		if matcherMatches(f, m) {
			return true
		}
	}
	return false
}

// matcherMatches is AND over the matcher's attribute predicates. Unknown
// attributes fail the matcher.
func matcherMatches(f *Finding, m ScopeMatcher) bool {
	for attr, patterns := range m {
		switch attr {
		case "labels":
			if !allLabelExprsMatch(patterns, f.Subject.Labels) {
				return false
			}
		case "annotations":
			if !allLabelExprsMatch(patterns, f.Subject.Annotations) {
				return false
			}
		case "attributes":
			if !anyMapValueMatches(patterns, f.Attributes) {
				return false
			}
		case "namespace_labels":
			if !allLabelExprsMatch(patterns, f.Subject.NamespaceLabels) {
				return false
			}
		default:
			if _, known := scopeAttributes[attr]; !known {
				slog.Warn("unknown scope attribute fails the matcher", "attribute", attr)
				return false
			}
			value, ok := f.AttributeValue(attr)
			if !ok {
				return false
			}
			if !anyPatternMatches(patterns, value) {
				return false
			}
		}
	}
	return true
}

func anyPatternMatches(patterns MatchExpr, value string) bool {
	for _, p := range patterns {
		re, err := compilePattern(p)
		if err != nil {
			continue
		}
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

func anyMapValueMatches(patterns MatchExpr, values map[string]string) bool {
	for _, v := range values {
		if anyPatternMatches(patterns, v) {
			return true
		}
	}
	return false
}

func allLabelExprsMatch(exprs MatchExpr, labels map[string]string) bool {
	for _, expr := range exprs {
		if !LabelsMatch(expr, labels) {
			return false
		}
	}
	return true
}

// LabelsMatch evaluates a "k1=v1,k2!=v2" expression against a label map.
// Every comma-separated clause must hold: "=" means the key exists and its
// value full-matches the regex, "!=" means the key exists and its value does
// not match.
func LabelsMatch(expr string, labels map[string]string) bool {
	for _, clause := range strings.Split(expr, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		var key, pattern string
		var negate bool
		if idx := strings.Index(clause, "!="); idx >= 0 {
			key, pattern, negate = clause[:idx], clause[idx+2:], true
		} else if idx := strings.Index(clause, "="); idx >= 0 {
			key, pattern = clause[:idx], clause[idx+1:]
		} else {
			return false
		}
		key = strings.TrimSpace(key)
		pattern = strings.TrimSpace(pattern)
		value, ok := labels[key]
		if !ok {
			return false
		}
		re, err := compilePattern(pattern)
		if err != nil {
			return false
		}
		if re.MatchString(value) == negate {
			return false
		}
	}
	return true
}

// compiledPatterns caches anchored regexes; scope evaluation happens on every
// finding so recompilation would dominate.
var compiledPatterns sync.Map // string -> *regexp.Regexp

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := compiledPatterns.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, err
	}
	compiledPatterns.Store(pattern, re)
	return re, nil
}
