package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/harrison/aegis/internal/models"
)

var (
	taskHeadingRegex = regexp.MustCompile(`^Task:\s*(\S+)\s*$`)
	priorityRegex    = regexp.MustCompile(`(?i)^Priority:\s*(\w+)\s*$`)
)

// MarkdownParser parses batches written as one level-2 heading per task:
//
//	## Task: payment_process
//	**Priority**: HIGH
//
//	```yaml
//	amount: 120
//	```
//
// The payload is the first fenced yaml or json block of the section.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

// batchFrontmatter is the optional YAML frontmatter of a Markdown batch
type batchFrontmatter struct {
	Name string `yaml:"name"`
}

// NewMarkdownParser creates a Markdown batch parser
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{
		markdown: goldmark.New(),
	}
}

// Parse implements Parser
func (p *MarkdownParser) Parse(r io.Reader) (*Batch, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	batch := &Batch{}
	content, frontmatter := extractFrontmatter(content)
	if frontmatter != nil {
		var fm batchFrontmatter
		if err := yaml.Unmarshal(frontmatter, &fm); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
		batch.Name = fm.Name
	}

	doc := p.markdown.Parser().Parse(text.NewReader(content))
	tasks, err := extractTasks(doc, content)
	if err != nil {
		return nil, fmt.Errorf("failed to extract tasks: %w", err)
	}
	if err := validateSpecs(tasks); err != nil {
		return nil, err
	}
	batch.Tasks = tasks
	return batch, nil
}

// extractTasks walks the top-level blocks. A level-2 "Task:" heading opens a
// task section; any other level-1 or level-2 heading closes it.
func extractTasks(doc ast.Node, source []byte) ([]models.TaskSpec, error) {
	var tasks []models.TaskSpec
	var current *models.TaskSpec
	var hasPayload bool

	flush := func() {
		if current != nil {
			tasks = append(tasks, *current)
		}
		current = nil
		hasPayload = false
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			if node.Level > 2 {
				continue
			}
			flush()
			if node.Level != 2 {
				continue
			}
			if m := taskHeadingRegex.FindStringSubmatch(extractText(node, source)); m != nil {
				current = &models.TaskSpec{Type: m[1]}
			}

		case *ast.Paragraph:
			if current == nil {
				continue
			}
			for _, line := range strings.Split(extractText(node, source), "\n") {
				m := priorityRegex.FindStringSubmatch(strings.TrimSpace(line))
				if m == nil {
					continue
				}
				priority, err := models.ParsePriority(m[1])
				if err != nil {
					return nil, fmt.Errorf("task %s: %w", current.Type, err)
				}
				current.Priority = priority
			}

		case *ast.FencedCodeBlock:
			if current == nil || hasPayload {
				continue
			}
			lang := strings.ToLower(string(node.Language(source)))
			if lang != "yaml" && lang != "yml" && lang != "json" {
				continue
			}
			payload, err := decodePayload(lang, codeBlockContent(node, source))
			if err != nil {
				return nil, fmt.Errorf("task %s: %w", current.Type, err)
			}
			current.Payload = payload
			hasPayload = true
		}
	}
	flush()
	return tasks, nil
}

func decodePayload(lang string, raw []byte) (models.Payload, error) {
	var payload models.Payload
	if lang == "json" {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("invalid json payload: %w", err)
		}
		return payload, nil
	}
	if err := yaml.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid yaml payload: %w", err)
	}
	return payload, nil
}

func codeBlockContent(node *ast.FencedCodeBlock, source []byte) []byte {
	var buf bytes.Buffer
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.Bytes()
}

// extractText concatenates the text of n's descendants, dropping emphasis
// and code span markers
func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(t.Value)
		default:
			buf.WriteString(extractText(c, source))
		}
	}
	return buf.String()
}

// extractFrontmatter extracts YAML frontmatter from markdown content
// Returns the content without frontmatter and the frontmatter bytes
func extractFrontmatter(content []byte) ([]byte, []byte) {
	lines := bytes.Split(content, []byte("\n"))

	if len(lines) < 3 || !bytes.Equal(bytes.TrimSpace(lines[0]), []byte("---")) {
		return content, nil
	}

	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte("---")) {
			frontmatter := bytes.Join(lines[1:i], []byte("\n"))
			body := bytes.Join(lines[i+1:], []byte("\n"))
			return body, frontmatter
		}
	}

	return content, nil
}
