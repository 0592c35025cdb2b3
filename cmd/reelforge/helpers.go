package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"reelforge/internal/api"
	"reelforge/internal/script"
)

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a positive integer", what, raw)
	}
	return id, nil
}

func parseIDList(values []string, what string) ([]int64, error) {
	ids := make([]int64, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id, err := parseID(part, what)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// readScenes loads a scene snapshot from a JSON file. Both a bare array and
// an object with a "scenes" key are accepted.
func readScenes(path string) (script.Scenes, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	var scenes script.Scenes
	if err := json.Unmarshal(data, &scenes); err != nil {
		var wrapped struct {
			Scenes script.Scenes `json:"scenes"`
		}
		if werr := json.Unmarshal(data, &wrapped); werr != nil {
			return nil, fmt.Errorf("parse scenes %s: %w", path, err)
		}
		scenes = wrapped.Scenes
	}
	if err := scenes.Validate(); err != nil {
		return nil, fmt.Errorf("scenes %s: %w", path, err)
	}
	return scenes, nil
}

func readAnalysis(path string) (*script.Analysis, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	var analysis script.Analysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return nil, fmt.Errorf("parse analysis %s: %w", path, err)
	}
	return &analysis, nil
}

func readRecommendations(path string) ([]script.Recommendation, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	var recs []script.Recommendation
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse recommendations %s: %w", path, err)
	}
	return recs, nil
}

func readInput(path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("input file required")
	}
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func formatScore(score *int) string {
	if score == nil {
		return "-"
	}
	return strconv.Itoa(*score)
}

func formatDelta(delta *int) string {
	if delta == nil {
		return "-"
	}
	return fmt.Sprintf("%+d", *delta)
}

func versionRole(v api.Version) string {
	switch {
	case v.IsCurrent:
		return "current"
	case v.IsCandidate:
		return "candidate"
	default:
		return "history"
	}
}

func shortTime(value string) string {
	if len(value) >= 19 {
		return strings.Replace(value[:19], "T", " ", 1)
	}
	return value
}
