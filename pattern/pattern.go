// Package pattern implements subscription pattern matching over dot-separated
// event type names.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled subscription filter over event type names.
//
// Supported forms:
//
//	"invoice.paid"  → exact match
//	"invoice.*"     → prefix wildcard
//	"*"             → matches everything
//
// Wildcards are expanded to ".*" and anchored at both ends, so they are
// greedy rather than segment-aware: "user.*" matches "user.created.extra"
// as well as "user.created". This is intentional and relied upon by
// subscribers that want whole subtrees of the type namespace.
type Pattern struct {
	raw string
	re  *regexp.Regexp // nil for "*" and exact patterns
}

// Compile parses and validates a subscription pattern. Malformed patterns
// are rejected here, at subscription time, never at dispatch time.
func Compile(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("pattern: empty pattern")
	}
	if strings.ContainsAny(raw, " \t\n") {
		return nil, fmt.Errorf("pattern: %q contains whitespace", raw)
	}

	p := &Pattern{raw: raw}
	if raw == "*" || !strings.Contains(raw, "*") {
		return p, nil
	}

	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(raw), `\*`, ".*") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("pattern: compile %q: %w", raw, err)
	}
	p.re = re
	return p, nil
}

// MustCompile is like Compile but panics on error. Use for hardcoded patterns.
func MustCompile(raw string) *Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the original pattern text.
func (p *Pattern) String() string { return p.raw }

// Matches reports whether the pattern matches the given event type name.
func (p *Pattern) Matches(eventType string) bool {
	if p.raw == "*" {
		return true
	}
	if p.re == nil {
		return p.raw == eventType
	}
	return p.re.MatchString(eventType)
}

// Match reports whether a raw pattern matches an event type name.
// Invalid patterns never match.
func Match(raw, eventType string) bool {
	p, err := Compile(raw)
	if err != nil {
		return false
	}
	return p.Matches(eventType)
}
