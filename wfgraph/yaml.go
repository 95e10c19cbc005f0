package wfgraph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTemplateYAML reads a WorkflowTemplate from a YAML file, for CLI and
// demo ergonomics alongside the wire-format JSON WorkflowTemplate. It
// validates the result with ValidateTemplate so a malformed or cyclic
// template is rejected before admission.
func LoadTemplateYAML(path string) (WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkflowTemplate{}, fmt.Errorf("wfgraph: read template %s: %w", path, err)
	}
	var tmpl WorkflowTemplate
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return WorkflowTemplate{}, fmt.Errorf("wfgraph: parse template %s: %w", path, err)
	}
	if _, err := ValidateTemplate(tmpl); err != nil {
		return WorkflowTemplate{}, fmt.Errorf("wfgraph: invalid template %s: %w", path, err)
	}
	return tmpl, nil
}
