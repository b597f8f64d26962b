package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newRemote(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/data/version.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version": 1.0, "questions_url": "questions-v1.json"}`))
	})
	mux.HandleFunc("/data/questions-v1.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": 1, "question": "¿Quién pintó el Guernica?", "answer": "Picasso", "category": "Arte", "difficulty": "Facil", "language": "es"},
			{"id": 2, "question": "¿Año de la caída de Constantinopla?", "answer": "1453", "category": "Historia", "difficulty": "Dificil", "language": "es"}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, dataDir, versionURL string, args ...string) (int, string) {
	t.Helper()
	t.Setenv("MENTATON_CONFIG", "")
	base := []string{"--data-dir", dataDir, "--version-url", versionURL, "--log-level", "error"}
	var stdout, stderr bytes.Buffer
	code := run(append(base, args...), strings.NewReader("\n"), &stdout, &stderr)
	return code, stdout.String()
}

func TestRunAskAfterSync(t *testing.T) {
	srv := newRemote(t)
	dir := t.TempDir()

	code, out := runCLI(t, dir, srv.URL+"/data/version.json", "sync")
	if code != 0 {
		t.Fatalf("sync exited with %d", code)
	}
	if !strings.Contains(out, "updated: version 1") {
		t.Errorf("sync output = %q, want an update to version 1", out)
	}

	code, out = runCLI(t, dir, srv.URL+"/data/version.json", "--category", "ARTE", "--difficulty", "facil", "ask")
	if code != 0 {
		t.Fatalf("ask exited with %d", code)
	}
	if !strings.Contains(out, "Guernica") || !strings.Contains(out, "Answer: Picasso") {
		t.Errorf("ask output = %q", out)
	}
}

func TestRunOfflineBootstrap(t *testing.T) {
	dir := t.TempDir()

	code, out := runCLI(t, dir, "http://127.0.0.1:1/version.json", "--timeout", "1s", "status")
	if code != 0 {
		t.Fatalf("status exited with %d", code)
	}
	if !strings.Contains(out, "version:   0.1") || !strings.Contains(out, "questions: 0") {
		t.Errorf("status output = %q, want placeholder version and no questions", out)
	}

	code, out = runCLI(t, dir, "http://127.0.0.1:1/version.json", "--timeout", "1s", "--reveal", "ask")
	if code != 0 {
		t.Fatalf("ask exited with %d", code)
	}
	if !strings.Contains(out, "No question available") {
		t.Errorf("ask output = %q", out)
	}
}

func TestRunUsage(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{name: "no command", args: nil},
		{name: "unknown command", args: []string{"quiz"}},
		{name: "two commands", args: []string{"ask", "sync"}},
		{name: "bad flag", args: []string{"--nope", "ask"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tc.args, strings.NewReader(""), &stdout, &stderr); code != 2 {
				t.Errorf("run(%v) = %d, want 2", tc.args, code)
			}
		})
	}
}

func TestRunInvalidConfig(t *testing.T) {
	t.Setenv("MENTATON_CONFIG", "")
	var stdout, stderr bytes.Buffer
	code := run([]string{"--data-dir", t.TempDir(), "--log-format", "xml", "status"}, strings.NewReader(""), &stdout, &stderr)
	if code != 2 {
		t.Errorf("run() = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "invalid config") {
		t.Errorf("stderr = %q, want a validation error", stderr.String())
	}
}
