package plan

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/infrarun/contemplate/internal/engine"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func newTestPlan(t *testing.T, ops ...*TemplateOperation) (*Plan, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	p := New(logr.Discard(), ops...)
	var stdout, stderr bytes.Buffer
	p.SetStreams(strings.NewReader(""), &stdout, &stderr)
	return p, &stdout, &stderr
}

func TestExecuteWritesRenderedOutput(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "app.conf.tmpl", "host={{ .host }}\n")
	dst := filepath.Join(dir, "app.conf")

	p, _, _ := newTestPlan(t, NewOperation(NewTemplateSource(src), NewTemplateDestination(dst)))
	changed, err := p.TryExecute(engine.New(), map[string]any{"host": "db"}, false, false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(changed) != 1 {
		t.Fatalf("changed = %d ops, want 1", len(changed))
	}
	if got := readFile(t, dst); got != "host=db\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "app.conf.tmpl", "static content\n")
	dst := filepath.Join(dir, "app.conf")

	eng := engine.New()
	p, _, _ := newTestPlan(t, NewOperation(NewTemplateSource(src), NewTemplateDestination(dst)))
	if _, err := p.TryExecute(eng, nil, false, false); err != nil {
		t.Fatalf("first execute: %v", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	firstWrite := info.ModTime()

	time.Sleep(20 * time.Millisecond)
	changed, err := p.TryExecute(eng, nil, false, false)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("changed = %d ops, want 0 on identical content", len(changed))
	}
	info, err = os.Stat(dst)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.ModTime().Equal(firstWrite) {
		t.Fatal("unchanged destination was rewritten")
	}
}

func TestTrailingNewlineRestored(t *testing.T) {
	dir := t.TempDir()
	// The template text ends in a newline, but the trim marker strips it
	// from the rendered output. The write path puts it back.
	src := writeFile(t, dir, "t.tmpl", "value={{ .v -}}\n")
	dst := filepath.Join(dir, "out")

	p, _, _ := newTestPlan(t, NewOperation(NewTemplateSource(src), NewTemplateDestination(dst)))
	if _, err := p.TryExecute(engine.New(), map[string]any{"v": "x"}, false, false); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := readFile(t, dst); !strings.HasSuffix(got, "\n") {
		t.Fatalf("output %q lost the trailing newline", got)
	}
}

func TestNoTrailingNewlineNotAdded(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "t.tmpl", "value={{ .v }}")
	dst := filepath.Join(dir, "out")

	p, _, _ := newTestPlan(t, NewOperation(NewTemplateSource(src), NewTemplateDestination(dst)))
	if _, err := p.TryExecute(engine.New(), map[string]any{"v": "x"}, false, false); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := readFile(t, dst); got != "value=x" {
		t.Fatalf("output = %q", got)
	}
}

func TestStdoutDestination(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "t.tmpl", "to stdout\n")

	p, stdout, _ := newTestPlan(t, NewOperation(NewTemplateSource(src), NewTemplateDestination(StdioName)))
	changed, err := p.TryExecute(engine.New(), nil, false, false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if stdout.String() != "to stdout\n" {
		t.Fatalf("stdout = %q", stdout.String())
	}
	// Stdout cannot be compared against previous content, so it always
	// counts as changed.
	if len(changed) != 1 {
		t.Fatalf("changed = %d ops, want 1", len(changed))
	}
}

func TestStdinSource(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out")

	p := New(logr.Discard(), NewOperation(NewTemplateSource(StdioName), NewTemplateDestination(dst)))
	var stdout, stderr bytes.Buffer
	p.SetStreams(strings.NewReader("from stdin: {{ .v }}\n"), &stdout, &stderr)

	if _, err := p.TryExecute(engine.New(), map[string]any{"v": 1}, false, false); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := readFile(t, dst); got != "from stdin: 1\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestDryRunReportsChangeWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "t.tmpl", "new content\n")
	dst := writeFile(t, dir, "out", "old content\n")

	p, _, _ := newTestPlan(t, NewOperation(NewTemplateSource(src), NewTemplateDestination(dst)))
	changed, err := p.TryExecute(engine.New(), nil, true, false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(changed) != 1 {
		t.Fatalf("changed = %d ops, want 1", len(changed))
	}
	if got := readFile(t, dst); got != "old content\n" {
		t.Fatalf("dry run modified the destination: %q", got)
	}
}

func TestDryRunReportsNoChange(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "t.tmpl", "same\n")
	dst := writeFile(t, dir, "out", "same\n")

	p, _, _ := newTestPlan(t, NewOperation(NewTemplateSource(src), NewTemplateDestination(dst)))
	changed, err := p.TryExecute(engine.New(), nil, true, false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("changed = %d ops, want 0", len(changed))
	}
}

func TestInPlaceWithBackup(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.conf", "port={{ .port }}\n")

	p, _, _ := newTestPlan(t, NewInPlace(path, "bak"))
	if _, err := p.TryExecute(engine.New(), map[string]any{"port": 8080}, false, false); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := readFile(t, path); got != "port=8080\n" {
		t.Fatalf("rendered = %q", got)
	}
	if got := readFile(t, path+".bak"); got != "port={{ .port }}\n" {
		t.Fatalf("backup = %q", got)
	}
}

func TestBackupCollisionLeavesFilesUntouched(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.conf", "port={{ .port }}\n")
	backup := writeFile(t, dir, "app.conf.bak", "something else entirely\n")

	p, _, _ := newTestPlan(t, NewInPlace(path, "bak"))
	_, err := p.TryExecute(engine.New(), map[string]any{"port": 8080}, false, false)
	var collision *BackupCollisionError
	if !errors.As(err, &collision) {
		t.Fatalf("err = %v, want *BackupCollisionError", err)
	}
	if got := readFile(t, path); got != "port={{ .port }}\n" {
		t.Fatalf("source was modified despite the collision: %q", got)
	}
	if got := readFile(t, backup); got != "something else entirely\n" {
		t.Fatalf("backup was clobbered: %q", got)
	}
}

func TestMatchingBackupIsReused(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.conf", "port={{ .port }}\n")
	writeFile(t, dir, "app.conf.bak", "port={{ .port }}\n")

	p, _, _ := newTestPlan(t, NewInPlace(path, "bak"))
	if _, err := p.TryExecute(engine.New(), map[string]any{"port": 8080}, false, false); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := readFile(t, path); got != "port=8080\n" {
		t.Fatalf("rendered = %q", got)
	}
}

func TestTryExecuteAbortsOnFirstFailure(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.tmpl", "fine\n")
	bad := filepath.Join(dir, "missing.tmpl")
	tail := writeFile(t, dir, "tail.tmpl", "never rendered\n")
	tailDst := filepath.Join(dir, "tail.out")

	p, _, _ := newTestPlan(t,
		NewOperation(NewTemplateSource(good), NewTemplateDestination(filepath.Join(dir, "good.out"))),
		NewOperation(NewTemplateSource(bad), NewTemplateDestination(filepath.Join(dir, "bad.out"))),
		NewOperation(NewTemplateSource(tail), NewTemplateDestination(tailDst)),
	)
	changed, err := p.TryExecute(engine.New(), nil, false, false)
	if err == nil {
		t.Fatal("expected the missing template to fail the run")
	}
	if len(changed) != 1 {
		t.Fatalf("changed = %d ops, want only the one before the failure", len(changed))
	}
	if _, statErr := os.Stat(tailDst); !os.IsNotExist(statErr) {
		t.Fatal("operations after the failure were still applied")
	}
}

func TestExecuteSkipsFailures(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "missing.tmpl")
	good := writeFile(t, dir, "good.tmpl", "fine\n")
	goodDst := filepath.Join(dir, "good.out")

	p, _, _ := newTestPlan(t,
		NewOperation(NewTemplateSource(bad), NewTemplateDestination(filepath.Join(dir, "bad.out"))),
		NewOperation(NewTemplateSource(good), NewTemplateDestination(goodDst)),
	)
	changed := p.Execute(engine.New(), nil, false, false)
	if len(changed) != 1 {
		t.Fatalf("changed = %d ops, want the healthy one", len(changed))
	}
	if got := readFile(t, goodDst); got != "fine\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestDiffWrittenOnChange(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "t.tmpl", "new line\n")
	dst := writeFile(t, dir, "out", "old line\n")

	p, _, stderr := newTestPlan(t, NewOperation(NewTemplateSource(src), NewTemplateDestination(dst)))
	if _, err := p.TryExecute(engine.New(), nil, false, true); err != nil {
		t.Fatalf("execute: %v", err)
	}
	diff := stderr.String()
	if !strings.Contains(diff, "-old line") || !strings.Contains(diff, "+new line") {
		t.Fatalf("diff = %q", diff)
	}
}
