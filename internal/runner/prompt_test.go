package runner

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/hochfrequenz/claude-automations/internal/trigger"
)

func TestResolvePrompt(t *testing.T) {
	logger := slog.Default()

	tests := []struct {
		name   string
		prompt string
		ctx    trigger.Context
		want   string
	}{
		{
			name:   "simple substitution",
			prompt: "Review PR {{pr.title}} now",
			ctx:    trigger.Context{"pr.title": "Fix the parser"},
			want:   "Review PR Fix the parser now",
		},
		{
			name:   "unknown key resolves empty",
			prompt: "Value: {{pr.missing}}.",
			ctx:    trigger.Context{},
			want:   "Value: .",
		},
		{
			name:   "multiple placeholders",
			prompt: "{{event.kind}} on {{pr.branch}}",
			ctx:    trigger.Context{"event.kind": "merged", "pr.branch": "main"},
			want:   "merged on main",
		},
		{
			name:   "no placeholders untouched",
			prompt: "static prompt with {braces} and {{malformed",
			ctx:    trigger.Context{},
			want:   "static prompt with {braces} and {{malformed",
		},
		{
			name:   "newlines in value collapse to spaces",
			prompt: "Title: {{pr.title}}",
			ctx:    trigger.Context{"pr.title": "line one\nline two\r\nthree"},
			want:   "Title: line one line two  three",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolvePrompt(tt.prompt, tt.ctx, logger)
			if got != tt.want {
				t.Errorf("ResolvePrompt() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeValue(t *testing.T) {
	tests := []struct {
		name  string
		val   string
		field string
		want  string
	}{
		{"newline to space", "a\nb", "title", "a b"},
		{"tab to space", "a\tb", "title", "a b"},
		{"control chars stripped", "a\x00\x1bb", "title", "ab"},
		{"plain passes", "normal value", "title", "normal value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeValue(tt.val, tt.field); got != tt.want {
				t.Errorf("SanitizeValue(%q) = %q, want %q", tt.val, got, tt.want)
			}
		})
	}
}

func TestSanitizeValue_Caps(t *testing.T) {
	long := strings.Repeat("x", 5000)

	if got := SanitizeValue(long, "id"); len(got) != 256 {
		t.Errorf("identifier cap = %d, want 256", len(got))
	}
	if got := SanitizeValue(long, "title"); len(got) != 512 {
		t.Errorf("title cap = %d, want 512", len(got))
	}
	if got := SanitizeValue(long, "body"); len(got) != 2048 {
		t.Errorf("body cap = %d, want 2048", len(got))
	}
	// Unknown field falls back to the identifier cap
	if got := SanitizeValue(long, "whatever"); len(got) != 256 {
		t.Errorf("default cap = %d, want 256", len(got))
	}
}

func TestSanitizeValue_RuneBoundary(t *testing.T) {
	// 2-byte runes positioned so a naive byte cut at 256 would split one
	long := strings.Repeat("é", 300)
	got := SanitizeValue(long, "id")
	if len(got) > 256 {
		t.Errorf("len = %d, want <= 256", len(got))
	}
	for _, r := range got {
		if r != 'é' {
			t.Fatalf("truncation corrupted a rune: %q", r)
		}
	}
}
