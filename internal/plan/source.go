// Package plan holds the execution plan: template operations that compile
// once, render against a configuration snapshot, and write destinations
// only when the content actually changes.
package plan

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/infrarun/contemplate/internal/engine"
)

// StdioName is the path token for standard input/output.
const StdioName = "-"

// TemplateSource identifies where a template's text comes from. It moves
// from uncompiled to compiled exactly once; the compiled state is terminal
// and records whether the raw text ended in a newline.
type TemplateSource struct {
	name            string
	stdin           bool
	cached          bool
	trailingNewline bool
}

// NewTemplateSource builds a source from a path; "-" reads standard input.
func NewTemplateSource(path string) *TemplateSource {
	return &TemplateSource{name: path, stdin: path == StdioName}
}

// Name returns the cache name: the file path, or "-" for stdin.
func (s *TemplateSource) Name() string { return s.name }

// Path returns the backing file path, or false for stdin sources.
func (s *TemplateSource) Path() (string, bool) {
	if s.stdin {
		return "", false
	}
	return s.name, true
}

// TrailingNewline reports whether the compiled source text ended in a
// newline. Only meaningful once EnsureCached has run.
func (s *TemplateSource) TrailingNewline() bool { return s.trailingNewline }

// EnsureCached reads the template text (from the file or from stdin) and
// compiles it into the engine. Idempotent: an already-compiled source is
// left alone, so stdin is consumed at most once.
func (s *TemplateSource) EnsureCached(eng *engine.Engine, stdin io.Reader) error {
	if s.cached {
		return nil
	}

	var text string
	if s.stdin {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read template from stdin: %w", err)
		}
		text = string(data)
	} else {
		data, err := os.ReadFile(s.name)
		if err != nil {
			return fmt.Errorf("read template %q: %w", s.name, err)
		}
		text = string(data)
	}

	if err := eng.Compile(s.name, text); err != nil {
		return err
	}
	s.trailingNewline = strings.HasSuffix(text, "\n")
	s.cached = true
	return nil
}

func (s *TemplateSource) String() string {
	if s.stdin {
		return "stdin"
	}
	return s.name
}
