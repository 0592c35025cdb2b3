package preflight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reelforge/internal/config"
	"reelforge/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func healthServer(t *testing.T, reply string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(status)
		payload := map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": reply}}}}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckLLM_OK(t *testing.T) {
	srv := healthServer(t, `{"ok":true}`, http.StatusOK)

	result := CheckLLM(context.Background(), "LLM", config.LLMConfig{APIKey: "good-key", BaseURL: srv.URL, Model: "test-model"})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckLLM_BadKey(t *testing.T) {
	srv := healthServer(t, `{"ok":true}`, http.StatusOK)

	result := CheckLLM(context.Background(), "LLM", config.LLMConfig{APIKey: "bad-key", BaseURL: srv.URL})
	if result.Passed {
		t.Fatal("expected failure for bad key")
	}
}

func TestCheckLLM_UnexpectedReply(t *testing.T) {
	srv := healthServer(t, `{"ok":false}`, http.StatusOK)

	result := CheckLLM(context.Background(), "LLM", config.LLMConfig{APIKey: "good-key", BaseURL: srv.URL})
	if result.Passed {
		t.Fatal("expected failure when the model does not answer ok")
	}
}

func TestCheckLLM_MissingKey(t *testing.T) {
	result := CheckLLM(context.Background(), "LLM", config.LLMConfig{BaseURL: "http://localhost"})
	if result.Passed || result.Detail != "API key missing" {
		t.Fatalf("expected missing key failure, got %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_HeuristicSkipsLLM(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	if len(results) != 4 {
		t.Fatalf("expected directory and database results, got %d", len(results))
	}
	if Failed(results) {
		t.Fatalf("expected all checks to pass: %+v", results)
	}
}

func TestRunAll_IncludesLLMWhenConfigured(t *testing.T) {
	srv := healthServer(t, `{"ok":true}`, http.StatusOK)
	cfg := testsupport.NewConfig(t, testsupport.WithLLM(srv.URL, "good-key"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	found := false
	for _, r := range results {
		if r.Name == "Scoring LLM" {
			found = true
			if !r.Passed {
				t.Errorf("LLM check failed: %s", r.Detail)
			}
		}
	}
	if !found {
		t.Fatal("expected LLM check in results")
	}
}

func TestFailedReportsMissingDirectory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if !Failed(RunAll(context.Background(), cfg)) {
		t.Fatal("expected failure before directories exist")
	}
}

func TestCheckDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	missing := CheckDatabase(context.Background(), "Database", cfg.DatabasePath())
	if !missing.Passed {
		t.Fatalf("missing database should pass: %s", missing.Detail)
	}

	testsupport.MustOpenStore(t, cfg)
	present := CheckDatabase(context.Background(), "Database", cfg.DatabasePath())
	if !present.Passed {
		t.Fatalf("existing database should pass: %s", present.Detail)
	}

	garbage := filepath.Join(t.TempDir(), "broken.db")
	if err := os.WriteFile(garbage, []byte(strings.Repeat("not a database ", 128)), 0o644); err != nil {
		t.Fatal(err)
	}
	if CheckDatabase(context.Background(), "Database", garbage).Passed {
		t.Fatal("corrupt database should fail")
	}
}

func TestHumanBytes(t *testing.T) {
	cases := map[uint64]string{
		512:        "512 B",
		2048:       "2.0 KiB",
		5 << 30:    "5.0 GiB",
		1536 << 20: "1.5 GiB",
	}
	for in, want := range cases {
		if got := humanBytes(in); got != want {
			t.Errorf("humanBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
