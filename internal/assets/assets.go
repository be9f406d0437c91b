// Package assets provides embedded default assets for the digwatch application:
// prompt definitions for the vision and text models, and report templates.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed prompts
var promptFiles embed.FS

//go:embed templates
var templateFiles embed.FS

// PromptsFS returns a sub-filesystem rooted at the embedded prompt definitions.
// Each file is a TOML document describing one prompt and its named templates.
func PromptsFS() (fs.FS, error) {
	return fs.Sub(promptFiles, "prompts")
}

// TemplatesFS returns a sub-filesystem rooted at the embedded report templates.
// Templates are named <id>.md.tmpl and <id>.html.tmpl.
func TemplatesFS() (fs.FS, error) {
	return fs.Sub(templateFiles, "templates")
}

// ListPrompts returns the embedded prompt file names.
func ListPrompts() ([]string, error) {
	sub, err := PromptsFS()
	if err != nil {
		return nil, err
	}
	return listFiles(sub)
}

// ListTemplates returns the embedded report template file names.
func ListTemplates() ([]string, error) {
	sub, err := TemplatesFS()
	if err != nil {
		return nil, err
	}
	return listFiles(sub)
}

func listFiles(fsys fs.FS) ([]string, error) {
	var names []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			names = append(names, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}
