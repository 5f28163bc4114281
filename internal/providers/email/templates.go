package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	TemplateWarning        = "warning"
	TemplateBlocked        = "blocked"
	TemplateAdminBlocked   = "admin_blocked"
	TemplateUnblocked      = "unblocked"
	TemplateAdminUnblocked = "admin_unblocked"
	TemplateSweepSummary   = "sweep_summary"
)

var subjects = map[string]string{
	TemplateWarning:        "Usage warning: you are approaching your limit",
	TemplateBlocked:        "Access blocked: usage limit exceeded",
	TemplateAdminBlocked:   "Access blocked by an administrator",
	TemplateUnblocked:      "Access restored",
	TemplateAdminUnblocked: "Access restored by an administrator",
	TemplateSweepSummary:   "Quota reset summary",
}

// Renderer renders the embedded notification templates.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("email").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render returns the subject and HTML body for templateName.
func (r *Renderer) Render(templateName string, data any) (string, string, error) {
	subject, ok := subjects[templateName]
	if !ok || r.tmpl.Lookup(templateName+".html") == nil {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, templateName)
	}
	var body bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&body, templateName+".html", data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", templateName, err)
	}
	return subject, body.String(), nil
}
