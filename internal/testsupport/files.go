package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"reelforge/internal/script"
)

// Scenes builds a snapshot numbered from 1 in argument order.
func Scenes(texts ...string) script.Scenes {
	scenes := make(script.Scenes, 0, len(texts))
	for i, text := range texts {
		scenes = append(scenes, script.Scene{SceneNumber: i + 1, Text: text, DurationSeconds: 4})
	}
	return scenes
}

// ThreeSceneScript is the fixture most tests start from.
func ThreeSceneScript() script.Scenes {
	return Scenes(
		"Stop scrolling: you have been making coffee wrong your whole life.",
		"Most people pour boiling water straight onto the grounds, which burns them.",
		"Let it cool for thirty seconds first. Follow for more kitchen fixes!",
	)
}

// WriteScenesFile writes scenes as JSON to path, creating parent directories.
func WriteScenesFile(t testing.TB, path string, scenes script.Scenes) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data, err := json.MarshalIndent(scenes, "", "  ")
	if err != nil {
		t.Fatalf("marshal scenes: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
