// Package prompt renders file-based prompt templates for steps that call
// out to an LLM provider, using the standard library's text/template —
// the corpus's own ai.SystemPrompt is a hand-built Go string, but for
// user-authored prompts on disk text/template is the idiomatic choice.
package prompt

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
)

// Template wraps a parsed text/template loaded from disk.
type Template struct {
	name string
	tmpl *template.Template
}

// LoadFile parses the file at path as a named prompt template.
func LoadFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompt: read %s: %w", path, err)
	}
	tmpl, err := template.New(path).Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("prompt: parse %s: %w", path, err)
	}
	return &Template{name: path, tmpl: tmpl}, nil
}

// Render executes the template against data and returns the resulting
// text.
func (t *Template) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt: render %s: %w", t.name, err)
	}
	return buf.String(), nil
}

// Name returns the template's source path.
func (t *Template) Name() string { return t.name }
