package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders one line per record:
//
//	2026-01-02T15:04:05Z INFO reanalysis [proj-1 job=3f2a…]: step started step=hook
//
// The component and the project/job subject are lifted out of the attribute
// list so they lead the line.
type consoleHandler struct {
	out    *syncWriter
	level  slog.Leveler
	source bool
	bound  []field // flattened WithAttrs attributes
	groups []string
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) write(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, p)
	return err
}

type field struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, level slog.Leveler, source bool) slog.Handler {
	return &consoleHandler{out: &syncWriter{w: w}, level: level, source: source}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.bound = append([]field(nil), h.bound...)
	for _, a := range attrs {
		next.bound = appendField(next.bound, h.groups, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := append(make([]field, 0, len(h.bound)+r.NumAttrs()), h.bound...)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendField(fields, h.groups, a)
		return true
	})

	var component, project, job string
	extra := fields[:0]
	for _, f := range fields {
		switch {
		case f.key == FieldComponent && component == "":
			component = render(f.value)
		case f.key == FieldComponent:
		case f.key == FieldProjectID:
			project = render(f.value)
		case f.key == FieldJobID:
			job = render(f.value)
		case f.key != "":
			extra = append(extra, f)
		}
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString(ts.UTC().Format(time.RFC3339))
	b.WriteString(" " + levelLabel(r.Level) + " ")

	lead := component
	if subject := subjectLabel(project, job); subject != "" {
		lead = strings.TrimSpace(lead + " " + subject)
	}
	if lead != "" {
		b.WriteString(lead + ": ")
	}

	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "(no message)"
	}
	b.WriteString(msg)

	if h.source {
		if src := r.Source(); src != nil {
			fmt.Fprintf(&b, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range extra {
		b.WriteString(" " + f.key + "=" + render(f.value))
	}
	b.WriteByte('\n')
	return h.out.write(b.String())
}

func subjectLabel(project, job string) string {
	if job != "" {
		job = "job=" + shortID(job)
	}
	inner := strings.TrimSpace(project + " " + job)
	if inner == "" {
		return ""
	}
	return "[" + inner + "]"
}

func shortID(id string) string {
	return id[:min(len(id), 8)]
}

// appendField flattens groups into dotted keys.
func appendField(dst []field, groups []string, a slog.Attr) []field {
	if a.Equal(slog.Attr{}) {
		return dst
	}
	v := a.Value.Resolve()
	if v.Kind() != slog.KindGroup {
		key := a.Key
		if len(groups) > 0 {
			key = strings.Join(groups, ".") + "." + key
		}
		return append(dst, field{key: key, value: v})
	}
	inner := groups
	if a.Key != "" {
		inner = append(append([]string(nil), groups...), a.Key)
	}
	for _, child := range v.Group() {
		dst = appendField(dst, inner, child)
	}
	return dst
}

func render(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	}
	// String formats KindAny values, errors included, with fmt.Sprint.
	s := v.String()
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
