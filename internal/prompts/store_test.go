package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_EmbeddedDefaults(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	classifier, err := store.Get(PromptClassifier)
	require.NoError(t, err)
	assert.Equal(t, "embedded", classifier.Origin)
	assert.Equal(t, []string{TemplateRefine, TemplateSystem, TemplateUser}, classifier.Names())

	narrative, err := store.Get(PromptNarrative)
	require.NoError(t, err)
	assert.Equal(t, []string{TemplateSystem, TemplateUser}, narrative.Names())
}

func TestStore_Get_NotFound(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	_, err = store.Get("does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPromptNotFound)
}

func TestPrompt_Render(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	classifier, err := store.Get(PromptClassifier)
	require.NoError(t, err)

	out, err := classifier.Render(TemplateUser, map[string]any{
		"FrameNumber": 12,
		"Timestamp":   "00:04",
		"PrevLabel":   "digging",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Frame 12 at 00:04")
	assert.Contains(t, out, "Previous activity: digging")
}

func TestPrompt_Render_FirstFrame(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	classifier, err := store.Get(PromptClassifier)
	require.NoError(t, err)

	out, err := classifier.Render(TemplateUser, map[string]any{
		"FrameNumber": 1,
		"Timestamp":   "00:00",
		"PrevLabel":   "(none)",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Previous activity: (none)")
}

func TestPrompt_Render_UnknownTemplate(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	classifier, err := store.Get(PromptClassifier)
	require.NoError(t, err)

	_, err = classifier.Render("missing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestPrompt_Text(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	classifier, err := store.Get(PromptClassifier)
	require.NoError(t, err)

	text, err := classifier.Text(TemplateSystem)
	require.NoError(t, err)
	assert.Contains(t, text, "swing_to_dig")
	assert.Contains(t, text, `{"label"`)
}

func TestNewStore_OverrideDir(t *testing.T) {
	dir := t.TempDir()
	override := `[metadata]
name = "Custom classifier"
description = "site-specific wording"

[templates]
system = "only dig and idle matter here"
user = "frame {{ .FrameNumber }}"
refine = "look again"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "classifier.toml"), []byte(override), 0o644))

	extra := `[metadata]
name = "Extra"
description = "an additional prompt"

[templates]
user = "hello {{ .Name }}"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.toml"), []byte(extra), 0o644))

	store, err := NewStore(dir)
	require.NoError(t, err)

	classifier, err := store.Get(PromptClassifier)
	require.NoError(t, err)
	assert.Equal(t, "Custom classifier", classifier.Name)
	assert.Equal(t, filepath.Join(dir, "classifier.toml"), classifier.Origin)

	text, err := classifier.Text(TemplateSystem)
	require.NoError(t, err)
	assert.Equal(t, "only dig and idle matter here", text)

	// Embedded prompts not overridden are still present.
	narrative, err := store.Get(PromptNarrative)
	require.NoError(t, err)
	assert.Equal(t, "embedded", narrative.Origin)

	extraPrompt, err := store.Get("extra")
	require.NoError(t, err)
	out, err := extraPrompt.Render(TemplateUser, map[string]any{"Name": "operator"})
	require.NoError(t, err)
	assert.Equal(t, "hello operator", out)
}

func TestNewStore_MissingOverrideDir(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestNewStore_MalformedTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.toml"), []byte("[metadata\nname ="), 0o644))

	_, err := NewStore(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestNewStore_BadTemplateSyntax(t *testing.T) {
	dir := t.TempDir()
	bad := `[metadata]
name = "Bad"

[templates]
user = "unclosed {{ .Field"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.toml"), []byte(bad), 0o644))

	_, err := NewStore(dir)
	require.Error(t, err)
}

func TestNewStore_NoTemplates(t *testing.T) {
	dir := t.TempDir()
	empty := `[metadata]
name = "Empty"
description = "no templates table"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.toml"), []byte(empty), 0o644))

	_, err := NewStore(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no templates")
}

func TestStore_List(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	prompts := store.List()
	require.Len(t, prompts, 2)
	assert.Equal(t, PromptClassifier, prompts[0].ID)
	assert.Equal(t, PromptNarrative, prompts[1].ID)
}
