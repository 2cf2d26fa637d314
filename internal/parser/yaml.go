package parser

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/harrison/aegis/internal/models"
)

// YAMLParser parses batches of the form
//
//	name: launch
//	tasks:
//	  - type: content_create_post
//	    priority: high
//	    payload: {topic: launch}
type YAMLParser struct{}

type yamlBatch struct {
	Name  string            `yaml:"name"`
	Tasks []models.TaskSpec `yaml:"tasks"`
}

// NewYAMLParser creates a YAML batch parser
func NewYAMLParser() *YAMLParser {
	return &YAMLParser{}
}

// Parse implements Parser
func (p *YAMLParser) Parse(r io.Reader) (*Batch, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	var doc yamlBatch
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateSpecs(doc.Tasks); err != nil {
		return nil, err
	}
	return &Batch{Name: doc.Name, Tasks: doc.Tasks}, nil
}
