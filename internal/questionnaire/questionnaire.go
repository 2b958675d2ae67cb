// Package questionnaire supplies the assessment template copied into every
// project created by a bulk import.
package questionnaire

import (
	"context"
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/normalize"
)

//go:embed template.yaml
var defaultTemplate []byte

// Provider returns a fresh questionnaire template. Callers own the returned
// map and may mutate it.
type Provider interface {
	Template(ctx context.Context) (map[string]any, error)
}

// Static serves one parsed template, deep-copied on every call.
type Static struct {
	template map[string]any
}

// Default returns the embedded template.
func Default() (*Static, error) {
	return Parse(defaultTemplate)
}

// Load reads a template from a YAML file.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "questionnaire: read template %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML document with a top-level "questionnaire" key.
func Parse(data []byte) (*Static, error) {
	var wrapper struct {
		Questionnaire map[string]any `yaml:"questionnaire"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "questionnaire: parse template")
	}
	if len(wrapper.Questionnaire) == 0 {
		return nil, eris.New("questionnaire: template is empty")
	}
	return &Static{template: wrapper.Questionnaire}, nil
}

// Template implements Provider.
func (s *Static) Template(_ context.Context) (map[string]any, error) {
	return normalize.CopyMap(s.template), nil
}
