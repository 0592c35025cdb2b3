package logs

import (
	"encoding/json"
	"strings"

	"reelforge/internal/logging"
)

// Filter selects log lines. The zero value matches everything.
type Filter struct {
	ProjectID string
	// MinLevel is one of debug, info, warn, or error.
	MinLevel string
}

func (f Filter) empty() bool {
	return strings.TrimSpace(f.ProjectID) == "" && strings.TrimSpace(f.MinLevel) == ""
}

// Match reports whether line passes the filter. Lines that cannot be parsed
// only match an empty filter.
func (f Filter) Match(line string) bool {
	if f.empty() {
		return true
	}
	level, project, ok := parseLine(line)
	if !ok {
		return false
	}
	if floor := strings.TrimSpace(f.MinLevel); floor != "" && levelRank(level) < levelRank(floor) {
		return false
	}
	if want := strings.TrimSpace(f.ProjectID); want != "" && project != want {
		return false
	}
	return true
}

func parseLine(line string) (level, project string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var record map[string]any
		if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
			return "", "", false
		}
		level, _ = record["level"].(string)
		project, _ = record[logging.FieldProjectID].(string)
		return strings.ToLower(level), project, level != ""
	}

	// <timestamp> <LEVEL> [component] [[project job=...]]: message
	fields := strings.SplitN(trimmed, " ", 3)
	if len(fields) < 2 {
		return "", "", false
	}
	level = strings.ToLower(fields[1])
	if levelRank(level) < 0 {
		return "", "", false
	}
	if len(fields) == 3 {
		head, _, found := strings.Cut(fields[2], ": ")
		if found {
			if start := strings.Index(head, "["); start >= 0 {
				if end := strings.Index(head[start:], "]"); end > 0 {
					subject := head[start+1 : start+end]
					subject, _, _ = strings.Cut(subject, " job=")
					if !strings.HasPrefix(subject, "job=") {
						project = subject
					}
				}
			}
		}
	}
	return level, project, true
}

func levelRank(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn", "warning":
		return 2
	case "error":
		return 3
	default:
		return -1
	}
}
