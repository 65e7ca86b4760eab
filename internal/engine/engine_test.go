package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestCompileAndRender(t *testing.T) {
	eng := New()
	if err := eng.Compile("greeting", "hello {{ .name }}"); err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := eng.Render("greeting", map[string]any{"name": "world"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "hello world" {
		t.Fatalf("out = %q", out)
	}
}

func TestCompileIsIdempotent(t *testing.T) {
	eng := New()
	if err := eng.Compile("t", "first"); err != nil {
		t.Fatalf("compile: %v", err)
	}
	// Recompiling an existing name keeps the original template.
	if err := eng.Compile("t", "second"); err != nil {
		t.Fatalf("recompile: %v", err)
	}
	out, err := eng.Render("t", nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "first" {
		t.Fatalf("out = %q, want the originally compiled text", out)
	}
}

func TestCompiled(t *testing.T) {
	eng := New()
	if eng.Compiled("t") {
		t.Fatal("empty engine reports a cached template")
	}
	if err := eng.Compile("t", "x"); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !eng.Compiled("t") {
		t.Fatal("compiled template is not reported cached")
	}
}

func TestCompileErrorCarriesTemplateName(t *testing.T) {
	eng := New()
	err := eng.Compile("broken.tmpl", "{{ .unclosed ")
	if err == nil {
		t.Fatal("expected a parse error")
	}
	var terr *TemplateError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %T, want *TemplateError", err)
	}
	if terr.Name != "broken.tmpl" {
		t.Fatalf("name = %q", terr.Name)
	}
	if !strings.Contains(err.Error(), "broken.tmpl") {
		t.Fatalf("message %q does not name the template", err.Error())
	}
}

func TestRenderUncompiledTemplate(t *testing.T) {
	eng := New()
	if _, err := eng.Render("ghost", nil); err == nil {
		t.Fatal("expected an error for an uncompiled template")
	}
}

func TestRenderMissingKeyYieldsZero(t *testing.T) {
	eng := New()
	if err := eng.Compile("t", "[{{ .absent }}]"); err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := eng.Render("t", map[string]any{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "[<no value>]" {
		t.Fatalf("out = %q", out)
	}
}

func TestRenderNestedContext(t *testing.T) {
	eng := New()
	if err := eng.Compile("t", "{{ .database.host }}:{{ .database.port }}"); err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := eng.Render("t", map[string]any{
		"database": map[string]any{"host": "db.internal", "port": 5432},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "db.internal:5432" {
		t.Fatalf("out = %q", out)
	}
}

func TestSprigFunctionsAvailable(t *testing.T) {
	eng := New()
	if err := eng.Compile("t", `{{ upper .name }} {{ default "fallback" .missing }}`); err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := eng.Render("t", map[string]any{"name": "ops"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "OPS fallback" {
		t.Fatalf("out = %q", out)
	}
}
