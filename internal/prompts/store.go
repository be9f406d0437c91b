// Package prompts loads and renders the prompt templates used for vision and
// text model calls.
//
// Each prompt is a TOML document with a [metadata] table and a [templates]
// table of named Go text templates. Defaults are embedded via internal/assets;
// a prompt directory can override or extend them file by file, keyed by the
// file stem.
package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/pelletier/go-toml/v2"

	"github.com/jmylchreest/digwatch/internal/assets"
)

// Prompt ids shipped with the embedded defaults.
const (
	PromptClassifier = "classifier"
	PromptNarrative  = "narrative"
)

// Template names used by the pipeline stages.
const (
	TemplateSystem = "system"
	TemplateUser   = "user"
	TemplateRefine = "refine"
)

var (
	// ErrPromptNotFound indicates no prompt with the requested id is loaded.
	ErrPromptNotFound = errors.New("prompt not found")

	// ErrTemplateNotFound indicates the prompt defines no template with the
	// requested name.
	ErrTemplateNotFound = errors.New("prompt template not found")
)

type promptFile struct {
	Metadata  promptMetadata    `toml:"metadata"`
	Templates map[string]string `toml:"templates"`
}

type promptMetadata struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Version     string `toml:"version"`
}

// Prompt is a loaded prompt definition with its parsed templates.
type Prompt struct {
	ID          string
	Name        string
	Description string
	Version     string
	Origin      string

	raw       map[string]string
	templates map[string]*template.Template
}

// Render executes the named template with data.
func (p *Prompt) Render(name string, data any) (string, error) {
	tmpl, ok := p.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrTemplateNotFound, p.ID, name)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering prompt %s/%s: %w", p.ID, name, err)
	}
	return sb.String(), nil
}

// Text returns the raw template text for the named template.
func (p *Prompt) Text(name string) (string, error) {
	raw, ok := p.raw[name]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrTemplateNotFound, p.ID, name)
	}
	return raw, nil
}

// Names returns the template names defined by this prompt, sorted.
func (p *Prompt) Names() []string {
	names := make([]string, 0, len(p.raw))
	for name := range p.raw {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store holds all loaded prompts keyed by id.
type Store struct {
	prompts map[string]*Prompt
}

// NewStore loads the embedded prompt definitions. When overrideDir is
// non-empty its *.toml files override or extend the embedded set.
func NewStore(overrideDir string) (*Store, error) {
	sub, err := assets.PromptsFS()
	if err != nil {
		return nil, fmt.Errorf("opening embedded prompts: %w", err)
	}

	s := &Store{prompts: make(map[string]*Prompt)}
	if err := s.loadFS(sub, "embedded"); err != nil {
		return nil, err
	}
	if overrideDir != "" {
		if err := s.loadDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Get returns the prompt with the given id.
func (s *Store) Get(id string) (*Prompt, error) {
	p, ok := s.prompts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, id)
	}
	return p, nil
}

// List returns all loaded prompts sorted by id.
func (s *Store) List() []*Prompt {
	out := make([]*Prompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) loadFS(fsys fs.FS, origin string) error {
	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".toml") {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("reading prompt %s: %w", path, err)
		}
		id := strings.TrimSuffix(filepath.Base(path), ".toml")
		p, err := parsePrompt(id, data, origin)
		if err != nil {
			return err
		}
		s.prompts[id] = p
		return nil
	})
}

func (s *Store) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading prompt directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading prompt %s: %w", path, err)
		}
		id := strings.TrimSuffix(entry.Name(), ".toml")
		p, err := parsePrompt(id, data, path)
		if err != nil {
			return err
		}
		s.prompts[id] = p
	}
	return nil
}

func parsePrompt(id string, data []byte, origin string) (*Prompt, error) {
	var pf promptFile
	if err := toml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing prompt %s: %w", id, err)
	}
	if len(pf.Templates) == 0 {
		return nil, fmt.Errorf("prompt %s defines no templates", id)
	}

	p := &Prompt{
		ID:          id,
		Name:        pf.Metadata.Name,
		Description: pf.Metadata.Description,
		Version:     pf.Metadata.Version,
		Origin:      origin,
		raw:         pf.Templates,
		templates:   make(map[string]*template.Template, len(pf.Templates)),
	}
	for name, text := range pf.Templates {
		tmpl, err := template.New(id + "/" + name).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing prompt template %s/%s: %w", id, name, err)
		}
		p.templates[name] = tmpl
	}
	return p, nil
}
