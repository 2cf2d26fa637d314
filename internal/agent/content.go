package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/harrison/aegis/internal/models"
)

var postingWindows = map[string]string{
	"facebook":  "13:00-16:00",
	"twitter":   "12:00-15:00",
	"instagram": "11:00-14:00",
	"linkedin":  "09:00-11:00",
}

const defaultPostingWindow = "12:00-15:00"

// PostingWindow returns the recommended posting window for platform
func PostingWindow(platform string) string {
	if w, ok := postingWindows[strings.ToLower(platform)]; ok {
		return w
	}
	return defaultPostingWindow
}

var dimensionsPattern = regexp.MustCompile(`^\d+x\d+$`)

// ContentHandler prepares content briefs. Generation itself is delegated to
// an external provider and is not performed here.
type ContentHandler struct {
	defaultTone string
}

// Initialize reads the default tone
func (h *ContentHandler) Initialize(ctx context.Context, cfg Config) ([]string, error) {
	h.defaultTone = cfg.String("tone", "professional")
	return []string{
		"generate_text_content",
		"create_images",
		"edit_videos",
		"produce_audio_content",
		"design_graphics",
	}, nil
}

// Handle dispatches content_* sub-types
func (h *ContentHandler) Handle(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
	switch task.Type {
	case "content_create_post":
		if err := requireFields(task, "topic"); err != nil {
			return nil, err
		}
		platform := payloadString(task, "platform", "general")
		tone := payloadString(task, "tone", h.defaultTone)
		return map[string]interface{}{
			"platform":              platform,
			"topic":                 task.Payload["topic"],
			"tone":                  tone,
			"prompt":                fmt.Sprintf("Create a %s social media post for %s about %s. Include relevant hashtags.", tone, platform, task.Payload["topic"]),
			"recommended_post_time": PostingWindow(platform),
		}, nil

	case "content_generate_image":
		if err := requireFields(task, "description"); err != nil {
			return nil, err
		}
		dims := payloadString(task, "dimensions", "1024x1024")
		if !dimensionsPattern.MatchString(dims) {
			return nil, InvalidPayload(task.Type, "dimensions must be WIDTHxHEIGHT, got %q", dims)
		}
		style := payloadString(task, "style", "realistic")
		return map[string]interface{}{
			"prompt":     fmt.Sprintf("%s in %s style, high quality, HD", task.Payload["description"], style),
			"dimensions": dims,
			"style":      style,
		}, nil

	case "content_produce_video", "content_write_article":
		if err := requireFields(task, "topic"); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"topic":  task.Payload["topic"],
			"format": strings.TrimPrefix(task.Type, "content_"),
			"tone":   payloadString(task, "tone", h.defaultTone),
			"status": "brief_ready",
		}, nil
	}
	return nil, Unsupported(task.Type)
}
