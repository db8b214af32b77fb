package runner

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hochfrequenz/claude-automations/internal/trigger"
)

var placeholderRe = regexp.MustCompile(`\{\{([a-zA-Z]+)\.([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)

// Per-field caps applied after sanitization, keyed by the key part of the
// placeholder. Unknown keys get the default cap.
const (
	capIdentifier = 256
	capTitle      = 512
	capBody       = 2048
)

var fieldCaps = map[string]int{
	"id":     capIdentifier,
	"scope":  capIdentifier,
	"branch": capIdentifier,
	"author": capIdentifier,
	"kind":   capIdentifier,
	"count":  capIdentifier,
	"title":  capTitle,
	"name":   capTitle,
	"url":    capBody,
	"body":   capBody,
}

// enumFields carry values produced by this program, never by external
// input, and skip sanitization
var enumFields = map[string]struct{}{
	"event.kind": {},
}

// ResolvePrompt substitutes {{namespace.key}} placeholders in the
// automation prompt with values from the trigger context. Unknown keys
// resolve to the empty string with a warning; all substituted values are
// sanitized first.
func ResolvePrompt(prompt string, ctx trigger.Context, logger *slog.Logger) string {
	return placeholderRe.ReplaceAllStringFunc(prompt, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		key := groups[1] + "." + groups[2]
		val, ok := ctx[key]
		if !ok {
			logger.Warn("unknown prompt placeholder", "placeholder", key)
			return ""
		}
		if _, enum := enumFields[key]; enum {
			return val
		}
		return SanitizeValue(val, groups[2])
	})
}

// SanitizeValue makes an externally sourced value safe to embed in a
// prompt: newlines and tabs collapse to spaces, control and non-printable
// runes are stripped, and the result is capped per field kind.
func SanitizeValue(val, field string) string {
	var b strings.Builder
	b.Grow(len(val))
	for _, r := range val {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case unicode.IsControl(r) || !unicode.IsPrint(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()

	limit, ok := fieldCaps[field]
	if !ok {
		limit = capIdentifier
	}
	if len(out) > limit {
		// back up to a rune boundary so truncation never splits UTF-8
		for limit > 0 && !utf8.RuneStart(out[limit]) {
			limit--
		}
		out = out[:limit]
	}
	return out
}
