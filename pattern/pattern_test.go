package pattern_test

import (
	"testing"

	"github.com/castellanhq/herald/pattern"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		// Exact matches.
		{"invoice.paid", "invoice.paid", true},
		{"invoice.paid", "invoice.created", false},
		{"invoice.paid", "invoice.paid.extra", false},

		// Global wildcard.
		{"*", "anything", true},
		{"*", "user.created", true},
		{"*", "a.b.c.d", true},

		// Prefix wildcard.
		{"user.*", "user.created", true},
		{"user.*", "user.deleted", true},
		{"user.*", "account.created", false},

		// Wildcards are greedy, not segment-aware.
		{"user.*", "user.created.extra", true},
		{"*.completed", "project.completed", true},
		{"*.completed", "project.task.completed", true},

		// Embedded wildcard.
		{"project.*.done", "project.alpha.done", true},
		{"project.*.done", "project.done", false},

		// Literal dots must not act as regex metacharacters.
		{"user.x", "userax", false},
		{"a.b", "aab", false},
	}

	for _, tt := range tests {
		if got := pattern.Match(tt.pattern, tt.eventType); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.eventType, got, tt.want)
		}
	}
}

func TestCompileRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "user .created", "user\t*", "a\nb"} {
		if _, err := pattern.Compile(raw); err == nil {
			t.Errorf("Compile(%q) expected error, got nil", raw)
		}
	}
}

func TestCompileMatches(t *testing.T) {
	p, err := pattern.Compile("invoice.*")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Matches("invoice.paid") {
		t.Error("compiled pattern should match invoice.paid")
	}
	if p.Matches("project.completed") {
		t.Error("compiled pattern should not match project.completed")
	}
	if p.String() != "invoice.*" {
		t.Errorf("String() = %q, want %q", p.String(), "invoice.*")
	}
}
