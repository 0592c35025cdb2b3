package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeLLMJSON unmarshals a model reply into target. Replies wrapped in a
// markdown fence or surrounded by prose are retried with the outermost JSON
// object or array.
func DecodeLLMJSON(content string, target any) error {
	raw := strings.TrimSpace(content)
	if raw == "" {
		return errors.New("empty payload")
	}
	firstErr := json.Unmarshal([]byte(raw), target)
	if firstErr == nil {
		return nil
	}
	for _, alt := range []string{unfence(raw), outermostJSON(unfence(raw))} {
		if alt == "" || alt == raw {
			continue
		}
		if json.Unmarshal([]byte(alt), target) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w (payload snippet: %s)", firstErr, snippet(raw))
}

// unfence strips a ``` or ```json wrapper.
func unfence(s string) string {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "```")
	if !ok {
		return strings.TrimSpace(s)
	}
	rest = strings.TrimLeft(rest, " \t\r\n")
	if len(rest) >= 4 && strings.EqualFold(rest[:4], "json") {
		rest = rest[4:]
	}
	if i := strings.LastIndex(rest, "```"); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

func outermostJSON(s string) string {
	if s == "" || s[0] == '{' || s[0] == '[' {
		return s
	}
	for _, delims := range []string{"{}", "[]"} {
		open := strings.IndexByte(s, delims[0])
		closing := strings.LastIndexByte(s, delims[1])
		if open >= 0 && closing > open {
			return strings.TrimSpace(s[open : closing+1])
		}
	}
	return s
}

// snippet collapses whitespace and caps s for error messages.
func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "<empty>"
	}
	if r := []rune(s); len(r) > 160 {
		return string(r[:160]) + "..."
	}
	return s
}
