package templates

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// Renderer compiles the short operator-facing message templates attached to
// actions. Sprig helpers are available except those that read the process
// environment or filesystem.
type Renderer struct {
	funcs template.FuncMap
}

// Template represents a compiled template ready for execution. Templates are
// safe for concurrent use.
type Template struct {
	name string
	tmpl *template.Template
}

// restrictedFuncs are removed from every sprig func map handed to templates.
var restrictedFuncs = []string{
	"env",
	"expandenv",
	"readDir",
	"mustReadDir",
	"readFile",
	"mustReadFile",
	"glob",
}

// restrict removes restrictedFuncs and swaps sprig's byte-based trunc for
// Truncate.
func restrict[M ~map[string]any](funcs M) M {
	for _, name := range restrictedFuncs {
		delete(funcs, name)
	}
	funcs["trunc"] = Truncate
	return funcs
}

// Truncate keeps the first limit characters of s, or the last -limit when
// limit is negative. It never splits a multi-byte character.
func Truncate(limit int, s string) string {
	runes := []rune(s)
	switch {
	case limit < 0 && len(runes)+limit > 0:
		return string(runes[len(runes)+limit:])
	case limit >= 0 && len(runes) > limit:
		return string(runes[:limit])
	}
	return s
}

// NewRenderer constructs a renderer with the restricted sprig func map.
func NewRenderer() *Renderer {
	return &Renderer{funcs: restrict(sprig.TxtFuncMap())}
}

// CompileInline parses an inline template source. Empty or whitespace-only
// sources return nil without error to simplify optional configuration fields.
func (r *Renderer) CompileInline(name, source string) (*Template, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, nil
	}
	if name == "" {
		name = "inline"
	}
	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("templates: compile %q: %w", name, err)
	}
	return &Template{name: name, tmpl: tmpl}, nil
}

// Render executes the compiled template with the supplied data returning the
// rendered string. Errors are propagated for callers to surface or log.
func (t *Template) Render(data any) (string, error) {
	if t == nil {
		return "", errors.New("templates: nil template")
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute %q: %w", t.name, err)
	}
	return buf.String(), nil
}

// Name exposes the logical template name which callers may embed in logs.
func (t *Template) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}
