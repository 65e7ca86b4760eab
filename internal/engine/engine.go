// Package engine wraps text/template behind a compile-once cache. The
// templating language itself is consumed as a black box: callers compile
// named templates and render them against a configuration tree.
package engine

import (
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Engine caches compiled templates by name. Compilation happens at most
// once per name; recompiling an existing name is a no-op.
type Engine struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{cache: map[string]*template.Template{}}
}

// Compile parses text into the cache under the given name. Returns a
// TemplateError when parsing fails.
func (e *Engine) Compile(name, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.cache[name]; ok {
		return nil
	}
	tmpl, err := template.New(name).
		Option("missingkey=zero").
		Funcs(sprig.TxtFuncMap()).
		Funcs(filterFuncs()).
		Parse(text)
	if err != nil {
		return &TemplateError{Name: name, Err: err}
	}
	e.cache[name] = tmpl
	return nil
}

// Compiled reports whether a template with the given name is cached.
func (e *Engine) Compiled(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.cache[name]
	return ok
}

// Render executes the named cached template against ctx.
func (e *Engine) Render(name string, ctx map[string]any) (string, error) {
	e.mu.Lock()
	tmpl, ok := e.cache[name]
	e.mu.Unlock()
	if !ok {
		return "", &TemplateError{Name: name, Err: fmt.Errorf("template is not compiled")}
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, ctx); err != nil {
		return "", &TemplateError{Name: name, Err: err}
	}
	return b.String(), nil
}

// TemplateError wraps a compile or render failure for one template.
type TemplateError struct {
	Name string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q: %v", e.Name, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }
