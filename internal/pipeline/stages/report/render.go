package report

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	texttemplate "text/template"

	"github.com/jmylchreest/digwatch/internal/assets"
)

// errTemplateMissing marks a template id with no embedded file behind it.
var errTemplateMissing = errors.New("report template not found")

// readTemplate loads one embedded template file by name.
func readTemplate(name string) (string, error) {
	tfs, err := assets.TemplatesFS()
	if err != nil {
		return "", fmt.Errorf("opening embedded templates: %w", err)
	}
	src, err := fs.ReadFile(tfs, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", errTemplateMissing, name)
	}
	return string(src), nil
}

// renderMarkdown executes the `<id>.md.tmpl` template over the view model.
func renderMarkdown(templateID string, data *reportData) ([]byte, error) {
	src, err := readTemplate(templateID + ".md.tmpl")
	if err != nil {
		return nil, err
	}

	tmpl, err := texttemplate.New(templateID).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing report template %s: %w", templateID, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering report template %s: %w", templateID, err)
	}
	return buf.Bytes(), nil
}

// renderHTML executes the `<id>.html.tmpl` template over the view model.
// html/template escaping keeps the chart documents safe inside the iframe
// srcdoc attributes, so the charts are carried as plain strings.
func renderHTML(templateID string, data *reportData) ([]byte, error) {
	src, err := readTemplate(templateID + ".html.tmpl")
	if err != nil {
		return nil, err
	}

	tmpl, err := htmltemplate.New(templateID).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML report template %s: %w", templateID, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering HTML report template %s: %w", templateID, err)
	}
	return buf.Bytes(), nil
}
