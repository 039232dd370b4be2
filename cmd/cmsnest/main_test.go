package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_ComposeFile(t *testing.T) {
	// WHAT: -file/-base composes a local page against a live origin and
	// writes Markdown to -out, storing the run in -db.
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<div data-cms-nest="target-1"><h2>Shared</h2></div>`)
	}))
	defer origin.Close()

	dir := t.TempDir()
	page := filepath.Join(dir, "page.html")
	html := `<div data-cms-nest="item"><a data-cms-nest="link" href="/shared">s</a><div data-cms-nest="dropzone-1">old</div></div>`
	if err := os.WriteFile(page, []byte(html), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out.md")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := run(context.Background(), logger, options{
		file:   page,
		base:   origin.URL + "/page",
		format: "markdown",
		out:    out,
		dbPath: filepath.Join(dir, "nest.db"),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "## Shared") {
		t.Errorf("output: %s", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "nest.db")); err != nil {
		t.Errorf("store not created: %v", err)
	}
}

func TestRun_FileRequiresBase(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := run(context.Background(), logger, options{file: "page.html", format: "html"})
	if err == nil || !strings.Contains(err.Error(), "-base") {
		t.Fatalf("expected -base error, got %v", err)
	}
}

func TestRun_NoMode(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := run(context.Background(), logger, options{}); err == nil {
		t.Fatal("expected error")
	}
}
