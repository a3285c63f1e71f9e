package templates

import (
	"embed"
	"fmt"
	htmltemplate "html/template"
	"io"
	"sync/atomic"

	sprig "github.com/Masterminds/sprig/v3"
)

//go:embed pages/*.html
var embeddedPages embed.FS

// Page names rendered by the panel.
const (
	PageDashboard   = "dashboard.html"
	PageOutcome     = "outcome.html"
	PageDiagnostics = "diagnostics.html"
)

// PageNames lists every page an override folder may replace.
var PageNames = []string{PageDashboard, PageOutcome, PageDiagnostics}

// Pages holds the compiled HTML page set. Reload swaps the set atomically so
// in-flight renders keep the previous version.
type Pages struct {
	sandbox *Sandbox
	current atomic.Pointer[htmltemplate.Template]
}

// NewPages compiles the embedded pages, replacing any that the sandbox
// overrides. A nil sandbox serves the embedded pages only.
func NewPages(sandbox *Sandbox) (*Pages, error) {
	p := &Pages{sandbox: sandbox}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload recompiles the page set. On error the previous set stays active.
func (p *Pages) Reload() error {
	root := htmltemplate.New("pages").Funcs(restrict(sprig.HtmlFuncMap())).Option("missingkey=zero")
	for _, name := range PageNames {
		source, err := p.source(name)
		if err != nil {
			return err
		}
		if _, err := root.New(name).Parse(source); err != nil {
			return fmt.Errorf("templates: compile page %q: %w", name, err)
		}
	}
	p.current.Store(root)
	return nil
}

// Execute renders the named page into w.
func (p *Pages) Execute(w io.Writer, name string, data any) error {
	set := p.current.Load()
	if set == nil {
		return fmt.Errorf("templates: pages not loaded")
	}
	if err := set.ExecuteTemplate(w, name, data); err != nil {
		return fmt.Errorf("templates: execute page %q: %w", name, err)
	}
	return nil
}

// Sandbox exposes the override root, nil when overrides are disabled.
func (p *Pages) Sandbox() *Sandbox { return p.sandbox }

func (p *Pages) source(name string) (string, error) {
	if p.sandbox != nil {
		contents, ok, err := p.sandbox.ReadOverride(name)
		if err != nil {
			return "", err
		}
		if ok {
			return contents, nil
		}
	}
	contents, err := embeddedPages.ReadFile("pages/" + name)
	if err != nil {
		return "", fmt.Errorf("templates: embedded page %q: %w", name, err)
	}
	return string(contents), nil
}
