// Package parser reads task batch files. A batch is a list of tasks to
// submit in one run, written in YAML or Markdown.
package parser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/aegis/internal/models"
)

// Format represents the format of a batch file
type Format int

const (
	// FormatUnknown represents an unknown or unsupported file format
	FormatUnknown Format = iota
	// FormatMarkdown represents a Markdown (.md, .markdown) batch file
	FormatMarkdown
	// FormatYAML represents a YAML (.yaml, .yml) batch file
	FormatYAML
)

// String returns the string representation of the Format
func (f Format) String() string {
	switch f {
	case FormatMarkdown:
		return "markdown"
	case FormatYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// Batch is a parsed batch file
type Batch struct {
	Name     string
	Tasks    []models.TaskSpec
	FilePath string
}

// Parser is the interface that all batch parsers must implement
type Parser interface {
	// Parse reads from an io.Reader and returns a parsed Batch
	Parse(r io.Reader) (*Batch, error)
}

// DetectFormat detects the batch format based on file extension
// Supported extensions:
//   - .md, .markdown -> FormatMarkdown
//   - .yaml, .yml -> FormatYAML
//   - all others -> FormatUnknown
func DetectFormat(filename string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatUnknown
	}
}

// NewParser creates a new parser instance for the specified format
func NewParser(format Format) (Parser, error) {
	switch format {
	case FormatMarkdown:
		return NewMarkdownParser(), nil
	case FormatYAML:
		return NewYAMLParser(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %v", format)
	}
}

// ParseFile detects the format of path, parses it and records the absolute
// path in batch.FilePath. A batch without a name is named after the file.
func ParseFile(path string) (*Batch, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unknown file format: %s (supported: .md, .markdown, .yaml, .yml)", path)
	}

	parser, err := NewParser(format)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	batch, err := parser.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	batch.FilePath = absPath
	if batch.Name == "" {
		batch.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return batch, nil
}

// validateSpecs applies submit defaults and rejects an empty batch
func validateSpecs(specs []models.TaskSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("batch contains no tasks")
	}
	for i := range specs {
		if err := specs[i].Validate(); err != nil {
			return fmt.Errorf("task %d: %w", i+1, err)
		}
	}
	return nil
}
