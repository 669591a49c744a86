package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/rpupo63/blog-backend/errs"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer executes the embedded html templates, addressed by file name
// without extension ("create-post").
type Renderer struct {
	templates *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("").Option("missingkey=zero").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}
	return &Renderer{templates: tmpl}, nil
}

func (r *Renderer) Render(name string, data map[string]any) (string, error) {
	tmpl := r.templates.Lookup(name + ".html")
	if tmpl == nil {
		return "", fmt.Errorf("%w: %s", errs.ErrTemplateMissing, name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}
