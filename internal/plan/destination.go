package plan

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"
)

// TemplateDestination identifies where rendered output goes: a filesystem
// path or standard output. Stdout is defined as always changed and does
// not participate in watch mode.
type TemplateDestination struct {
	path   string
	stdout bool
}

// NewTemplateDestination builds a destination from a path; "-" writes to
// standard output.
func NewTemplateDestination(path string) *TemplateDestination {
	return &TemplateDestination{path: path, stdout: path == StdioName}
}

// Path returns the destination path, "-" for stdout.
func (d *TemplateDestination) Path() string { return d.path }

// IsStdout reports whether the destination is standard output.
func (d *TemplateDestination) IsStdout() bool { return d.stdout }

// SupportsWatch reports whether the destination may take part in
// watch-triggered reconciliation. Stdout cannot: it is unconditionally
// "changed" and would re-fire the reload action on every cycle.
func (d *TemplateDestination) SupportsWatch() bool { return !d.stdout }

// WouldChange reports whether writing rendered would alter the
// destination, without touching it.
func (d *TemplateDestination) WouldChange(rendered string) (bool, error) {
	if d.stdout {
		return true, nil
	}
	existing, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("read %q: %w", d.path, err)
	}
	return !bytes.Equal(existing, []byte(rendered)), nil
}

// Write writes rendered to the destination if it differs from the current
// content, and reports whether anything changed. When logDiff is set a
// unified diff goes to errW before the file is rewritten.
func (d *TemplateDestination) Write(rendered string, logDiff bool, stdout, errW io.Writer) (bool, error) {
	if d.stdout {
		if _, err := io.WriteString(stdout, rendered); err != nil {
			return false, fmt.Errorf("write to stdout: %w", err)
		}
		return true, nil
	}

	f, err := os.OpenFile(d.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return false, fmt.Errorf("open %q: %w", d.path, err)
	}
	defer f.Close()

	existing, err := io.ReadAll(f)
	if err != nil {
		return false, fmt.Errorf("read %q: %w", d.path, err)
	}
	if bytes.Equal(existing, []byte(rendered)) {
		return false, nil
	}

	if logDiff {
		modified := time.Now()
		if info, statErr := f.Stat(); statErr == nil {
			modified = info.ModTime()
		}
		writeUnifiedDiff(errW, d.path, string(existing), rendered, modified)
	}

	if err := f.Truncate(0); err != nil {
		return false, fmt.Errorf("truncate %q: %w", d.path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("rewind %q: %w", d.path, err)
	}
	if _, err := f.WriteString(rendered); err != nil {
		return false, fmt.Errorf("write %q: %w", d.path, err)
	}
	return true, nil
}
