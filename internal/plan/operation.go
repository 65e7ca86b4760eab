package plan

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/infrarun/contemplate/internal/engine"
)

// TemplateOperation renders one source into one destination, optionally
// backing up the source file first.
type TemplateOperation struct {
	Source *TemplateSource
	Dest   *TemplateDestination

	// BackupExtension, when non-empty, makes a sibling copy of the source
	// file named <filename>.<extension> before the destination is written.
	BackupExtension string
}

// NewOperation builds an operation from a source and destination.
func NewOperation(src *TemplateSource, dst *TemplateDestination) *TemplateOperation {
	return &TemplateOperation{Source: src, Dest: dst}
}

// NewInPlace builds an operation that overwrites its own source file,
// optionally keeping a backup with the given extension.
func NewInPlace(path, backupExtension string) *TemplateOperation {
	op := NewOperation(NewTemplateSource(path), NewTemplateDestination(path))
	op.BackupExtension = backupExtension
	return op
}

// Stdio builds the default operation: template stdin to stdout.
func Stdio() *TemplateOperation {
	return NewOperation(NewTemplateSource(StdioName), NewTemplateDestination(StdioName))
}

func (op *TemplateOperation) String() string {
	return fmt.Sprintf("%s -> %s", op.Source, op.Dest.Path())
}

// BackupCollisionError reports an existing backup file whose content
// disagrees with the file about to be backed up. The operation refuses to
// clobber it.
type BackupCollisionError struct {
	Path string
}

func (e *BackupCollisionError) Error() string {
	return fmt.Sprintf("cowardly refusing to overwrite the existing backup at %q", e.Path)
}

// backup copies the source file to its sibling backup path. A pre-existing
// backup is tolerated only when it is byte-identical to the current source.
func (op *TemplateOperation) backup() error {
	if op.BackupExtension == "" {
		return nil
	}
	srcPath, ok := op.Source.Path()
	if !ok {
		return nil
	}
	backupPath := filepath.Join(filepath.Dir(srcPath), filepath.Base(srcPath)+"."+op.BackupExtension)

	current, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read %q for backup: %w", srcPath, err)
	}
	if prior, err := os.ReadFile(backupPath); err == nil {
		if !bytes.Equal(prior, current) {
			return &BackupCollisionError{Path: backupPath}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read existing backup %q: %w", backupPath, err)
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat %q: %w", srcPath, err)
	}
	if err := os.WriteFile(backupPath, current, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write backup %q: %w", backupPath, err)
	}
	return nil
}

// apply runs the full operation: ensure compiled, render, restore trailing
// newline, back up, and write. Returns whether the destination changed.
// Rendering still happens in dry-run mode so template errors surface
// early; backups do not.
func (op *TemplateOperation) apply(eng *engine.Engine, ctx map[string]any, run runtime) (bool, error) {
	if err := op.Source.EnsureCached(eng, run.stdin); err != nil {
		return false, err
	}

	rendered, err := eng.Render(op.Source.Name(), ctx)
	if err != nil {
		return false, err
	}
	if op.Source.TrailingNewline() && !strings.HasSuffix(rendered, "\n") {
		rendered += "\n"
	}

	if run.dryRun {
		return op.Dest.WouldChange(rendered)
	}

	if err := op.backup(); err != nil {
		return false, err
	}
	return op.Dest.Write(rendered, run.logDiff, run.stdout, run.stderr)
}

// runtime bundles the per-execution knobs and streams an operation needs.
type runtime struct {
	dryRun  bool
	logDiff bool
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}
