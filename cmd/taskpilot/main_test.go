package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nugget/taskpilot/internal/config"
)

func runCmd(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), strings.NewReader(stdin), &stdout, &stderr, args)
	return stdout.String(), stderr.String(), err
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		out, _, err := runCmd(t, "", args...)
		if err != nil {
			t.Fatalf("run(%v): %v", args, err)
		}
		if !strings.Contains(out, "Usage: taskpilot") {
			t.Errorf("run(%v) output = %q", args, out)
		}
	}
}

func TestRun_Version(t *testing.T) {
	out, _, err := runCmd(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "go_version:") {
		t.Errorf("text version = %q", out)
	}

	out, _, err = runCmd(t, "", "-o", "json", "version")
	if err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("json version: %v\n%s", err, out)
	}
	if info["version"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"bogus"}, "unknown command"},
		{[]string{"--frobnicate"}, "unknown flag"},
		{[]string{"-o", "yaml", "version"}, "unknown output format"},
		{[]string{"ask"}, "usage: taskpilot ask"},
		{[]string{"-config", "/nonexistent/config.yaml", "facts"}, "config file not found"},
	}
	for _, tt := range tests {
		_, _, err := runCmd(t, "", tt.args...)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("run(%v) error = %v, want %q", tt.args, err, tt.want)
		}
	}
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	if err := runInit(&out, dir); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(filepath.Join(dir, "db")); err != nil {
		t.Errorf("db dir missing: %v", err)
	}
	if !strings.Contains(out.String(), "created") {
		t.Errorf("output = %q", out.String())
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("starter config does not load: %v", err)
	}
	if cfg.LLM.Provider != "ollama" || cfg.Listen.Port != 8080 {
		t.Errorf("cfg = %+v", cfg.LLM)
	}

	if err := os.WriteFile(path, []byte("custom: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := runInit(&out, dir); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "custom: true\n" {
		t.Error("init overwrote an existing config")
	}
	if !strings.Contains(out.String(), "kept existing") {
		t.Errorf("output = %q", out.String())
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"text", "json", "console"} {
		var buf bytes.Buffer
		logger, closeFn, err := newLogger(&buf, config.LevelTrace, format, "")
		if err != nil {
			t.Fatal(err)
		}
		logger.Log(context.Background(), config.LevelTrace, "wire payload", "k", "v")
		closeFn()
		if !strings.Contains(buf.String(), "wire payload") {
			t.Errorf("%s logger output = %q", format, buf.String())
		}
	}
}

func TestNewLogger_FileFanout(t *testing.T) {
	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "taskpilot.log")
	logger, closeFn, err := newLogger(&buf, 0, "text", logFile)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello file", "n", 1)
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("log file is not JSON: %v\n%s", err, data)
	}
	if rec["msg"] != "hello file" {
		t.Errorf("record = %v", rec)
	}
	if !strings.Contains(buf.String(), "hello file") {
		t.Errorf("console output = %q", buf.String())
	}
}

// fakeOllama answers every chat request with reply.
func fakeOllama(t *testing.T, reply string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model":             "test-model",
			"message":           map[string]string{"role": "assistant", "content": reply},
			"done":              true,
			"prompt_eval_count": 120,
			"eval_count":        12,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeTestConfig(t *testing.T, llmURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "data_dir: " + filepath.Join(dir, "db") + "\n" +
		"log_level: error\n" +
		"llm:\n" +
		"  provider: ollama\n" +
		"  model: test-model\n" +
		"  base_url: " + llmURL + "\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAsk_EndToEnd(t *testing.T) {
	srv, calls := fakeOllama(t, "THOUGHT: simple greeting\nFINAL_ANSWER: Hello! How can I help?")
	cfgPath := writeTestConfig(t, srv.URL)

	out, _, err := runCmd(t, "", "-config", cfgPath, "-user", "alice", "ask", "hi", "there")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if strings.TrimSpace(out) != "Hello! How can I help?" {
		t.Errorf("ask output = %q", out)
	}
	if calls.Load() != 1 {
		t.Errorf("model calls = %d, want 1", calls.Load())
	}

	out, _, err = runCmd(t, "", "-config", cfgPath, "history")
	if err != nil {
		t.Fatal(err)
	}
	convID := strings.TrimSpace(out)
	if convID == "" || strings.Contains(convID, "\n") {
		t.Fatalf("history list = %q", out)
	}

	out, _, err = runCmd(t, "", "-config", cfgPath, "history", convID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "hi there") || !strings.Contains(out, "Hello! How can I help?") {
		t.Errorf("transcript = %q", out)
	}
}

func TestChat_ReadsUntilExit(t *testing.T) {
	srv, calls := fakeOllama(t, "FINAL_ANSWER: noted")
	cfgPath := writeTestConfig(t, srv.URL)

	out, _, err := runCmd(t, "first\n\nsecond\nexit\nthird\n", "-config", cfgPath, "chat")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if strings.Count(out, "noted") != 2 {
		t.Errorf("chat output = %q", out)
	}
	if calls.Load() != 2 {
		t.Errorf("model calls = %d, want 2", calls.Load())
	}
}

func TestFactsCommands(t *testing.T) {
	cfgPath := writeTestConfig(t, "http://127.0.0.1:1")

	out, _, err := runCmd(t, "", "-config", cfgPath, "facts")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No facts stored.") {
		t.Errorf("empty list = %q", out)
	}

	out, _, err = runCmd(t, "", "-config", cfgPath, "facts", "add", "Prefers", "tea")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Stored fact 1.\n" {
		t.Errorf("add = %q", out)
	}

	out, _, _ = runCmd(t, "", "-config", cfgPath, "facts", "list", "tea")
	if !strings.Contains(out, "Prefers tea") {
		t.Errorf("list = %q", out)
	}

	out, _, err = runCmd(t, "", "-config", cfgPath, "-o", "json", "facts")
	if err != nil {
		t.Fatal(err)
	}
	var list []map[string]any
	if err := json.Unmarshal([]byte(out), &list); err != nil || len(list) != 1 {
		t.Errorf("json list = %q (%v)", out, err)
	}

	if _, _, err := runCmd(t, "", "-config", cfgPath, "facts", "delete", "1"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCmd(t, "", "-config", cfgPath, "facts", "delete", "1"); err == nil {
		t.Error("deleting a missing fact should fail")
	}
	if _, _, err := runCmd(t, "", "-config", cfgPath, "facts", "delete", "x"); err == nil {
		t.Error("non-numeric id should fail")
	}
}

func TestGuidelinesCommands(t *testing.T) {
	cfgPath := writeTestConfig(t, "http://127.0.0.1:1")

	out, _, err := runCmd(t, "", "-config", cfgPath, "guidelines")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Version 1") || !strings.Contains(out, "## Patterns Learned") {
		t.Errorf("show = %q", out)
	}

	out, _, err = runCmd(t, "", "-config", cfgPath, "guidelines", "history")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Version 1") {
		t.Errorf("history = %q", out)
	}

	if _, _, err := runCmd(t, "", "-config", cfgPath, "guidelines", "rewrite"); err == nil {
		t.Error("unknown subcommand should fail")
	}
}
