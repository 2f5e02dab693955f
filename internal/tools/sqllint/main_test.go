package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestRunAcceptsMarkedQueries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "q.go", "package q\n\nconst QOne = `--sql 0b0f1c3e-6c1a-4a8e-9d59-3a3cf0e1a001\nSELECT 1`\n\nconst Label = \"not sql at all\"\n")

	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 0 {
		t.Fatalf("run = %d, want 0 (%s)", code, stderr.String())
	}
}

func TestRunReportsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package q\n\nconst QA = `--sql 0b0f1c3e-6c1a-4a8e-9d59-3a3cf0e1a002\nSELECT 1`\n")
	writeFile(t, dir, "b.go", "package q\n\nconst (\n\tQB = `--sql 0b0f1c3e-6c1a-4a8e-9d59-3a3cf0e1a002\nDELETE FROM t`\n\tQC = \"SELECT 2\"\n)\n")

	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 1 {
		t.Fatalf("run = %d, want 1", code)
	}
	out := stderr.String()
	if !strings.Contains(out, "marker already used by QA (QB)") {
		t.Fatalf("duplicate not reported: %s", out)
	}
	if !strings.Contains(out, "missing or invalid --sql <uuid> marker (QC)") {
		t.Fatalf("missing marker not reported: %s", out)
	}
}

func TestRunSkipsTestFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x_test.go", "package q\n\nconst q = \"SELECT 1\"\n")

	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 0 {
		t.Fatalf("run = %d, want 0 (%s)", code, stderr.String())
	}
}

func TestRunMissingTarget(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{filepath.Join(t.TempDir(), "nope")}, &stderr); code != 1 {
		t.Fatalf("run = %d, want 1", code)
	}
}

func TestRepositoryQueriesAreMarked(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{filepath.Join("..", "..", "sqlinline")}, &stderr); code != 0 {
		t.Fatalf("sqlinline violations:\n%s", stderr.String())
	}
}
