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
	"testing"
	"time"
)

const contactForm = `<html><body><form>
<input type="email" name="email">
<textarea name="inquiry"></textarea>
</form></body></html>`

// decodeOutput parses one runOutput document from JSON.
func decodeOutput(t *testing.T, b []byte) runOutput {
	t.Helper()
	var out runOutput
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("output is not valid json: %v; out=%s", err, b)
	}
	return out
}

// fieldKeys extracts the mapped logical keys from a run output.
func fieldKeys(out runOutput) map[string]bool {
	keys := make(map[string]bool, len(out.Fields))
	for _, f := range out.Fields {
		keys[f.Key] = true
	}
	return keys
}

// TestRun_StdinMapsForm verifies the "stdin in, JSON out" happy path.
//
// We test via run() (not main()) so the test is fast, deterministic,
// and does not require an OS-level subprocess.
func TestRun_StdinMapsForm(t *testing.T) {
	t.Parallel()

	stdin := bytes.NewBufferString(contactForm)
	var stdout, stderr bytes.Buffer

	code := run(
		context.Background(),
		[]string{"-quiet"},
		stdin,
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}

	out := decodeOutput(t, stdout.Bytes())
	if out.Source != "stdin" {
		t.Fatalf("source=%q, want stdin", out.Source)
	}
	if out.ElementsTotal != 2 {
		t.Fatalf("elements_total=%d, want 2", out.ElementsTotal)
	}

	keys := fieldKeys(out)
	if !keys["メールアドレス"] || !keys["本文"] {
		t.Fatalf("mapped keys=%v, want email and message fields", keys)
	}
}

// TestRun_URLMode verifies -url fetches the page and records it as the source.
//
// We use httptest so the test does not hit real network.
func TestRun_URLMode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(contactForm))
	}))
	t.Cleanup(srv.Close)

	var stdout, stderr bytes.Buffer
	client := &http.Client{Timeout: 2 * time.Second}

	code := run(
		context.Background(),
		[]string{"-quiet", "-url", srv.URL},
		bytes.NewBuffer(nil),
		&stdout,
		&stderr,
		client,
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}

	out := decodeOutput(t, stdout.Bytes())
	if out.Source != srv.URL {
		t.Fatalf("source=%q, want %q", out.Source, srv.URL)
	}
	if out.FieldsMapped < 2 {
		t.Fatalf("fields_mapped=%d, want >= 2", out.FieldsMapped)
	}
}

// TestRun_URLFetchFailure verifies a failed fetch is an operational error (1),
// not a usage error (2).
func TestRun_URLFetchFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-quiet", "-url", srv.URL},
		bytes.NewBuffer(nil),
		&stdout,
		&stderr,
		&http.Client{Timeout: 2 * time.Second},
	)
	if code != 1 {
		t.Fatalf("run returned %d, want 1; stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "load html") {
		t.Fatalf("stderr=%q, want load error", stderr.String())
	}
}

// TestRun_BadSettings verifies settings problems are usage errors (exit 2).
//
// Edge cases:
//   - Unreadable/garbage settings file.
//   - Unknown flag.
func TestRun_BadSettings(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	settingsPath := filepath.Join(tmp, "settings.json")
	if err := os.WriteFile(settingsPath, []byte(`{not json`), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-settings", settingsPath},
		bytes.NewBufferString(contactForm),
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 2 {
		t.Fatalf("run returned %d, want 2; stderr=%s", code, stderr.String())
	}

	stderr.Reset()
	code = run(
		context.Background(),
		[]string{"-no-such-flag"},
		bytes.NewBuffer(nil),
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 2 {
		t.Fatalf("run returned %d for unknown flag, want 2", code)
	}
}

// TestRun_DirMode verifies directory mode emits one JSON object per page.
func TestRun_DirMode(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	for _, name := range []string{"a.html", "b.htm"} {
		if err := os.WriteFile(filepath.Join(tmp, name), []byte(contactForm), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	// Non-HTML files are ignored.
	if err := os.WriteFile(filepath.Join(tmp, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-quiet", "-dir", tmp},
		bytes.NewBuffer(nil),
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}

	dec := json.NewDecoder(bytes.NewReader(stdout.Bytes()))
	var sources []string
	for dec.More() {
		var out runOutput
		if err := dec.Decode(&out); err != nil {
			t.Fatalf("decode output object: %v", err)
		}
		sources = append(sources, filepath.Base(out.Source))
	}
	if len(sources) != 2 {
		t.Fatalf("got %d output objects (%v), want 2", len(sources), sources)
	}
	// Deterministic ordering: files are processed sorted by name.
	if sources[0] != "a.html" || sources[1] != "b.htm" {
		t.Fatalf("sources=%v, want [a.html b.htm]", sources)
	}
}

// TestRun_DirModeMissingDir verifies an unreadable directory fails the run.
func TestRun_DirModeMissingDir(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-quiet", "-dir", filepath.Join(t.TempDir(), "nope")},
		bytes.NewBuffer(nil),
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 1 {
		t.Fatalf("run returned %d, want 1; stderr=%s", code, stderr.String())
	}
}

// TestRun_UnknownStore verifies an unregistered storage kind is a usage error.
func TestRun_UnknownStore(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-quiet", "-store", "oracle"},
		bytes.NewBufferString(contactForm),
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 2 {
		t.Fatalf("run returned %d, want 2; stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "storage") {
		t.Fatalf("stderr=%q, want storage error", stderr.String())
	}
}
