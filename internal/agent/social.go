package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/aegis/internal/models"
)

// Platforms a post can target; "all" fans out to every one of them
var socialPlatforms = []string{"facebook", "instagram", "linkedin", "twitter"}

const tweetLimit = 280

// ScheduledPost is a post waiting for its publish time
type ScheduledPost struct {
	ID          string     `json:"schedule_id"`
	Platform    string     `json:"platform"`
	Text        string     `json:"text"`
	PostTime    time.Time  `json:"post_time"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// SocialHandler publishes and schedules posts. A background loop publishes
// scheduled posts once they are due.
type SocialHandler struct {
	logger   Logger
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	scheduled map[string]*ScheduledPost

	started  bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSocialHandler creates a social handler
func NewSocialHandler() *SocialHandler {
	return &SocialHandler{
		logger:    nopLogger{},
		interval:  time.Minute,
		now:       time.Now,
		scheduled: make(map[string]*ScheduledPost),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetLogger implements LoggerAware
func (h *SocialHandler) SetLogger(l Logger) { h.logger = l }

// Initialize starts the publish loop. "schedule_interval" overrides its cadence.
func (h *SocialHandler) Initialize(ctx context.Context, cfg Config) ([]string, error) {
	if s := cfg.String("schedule_interval", ""); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid schedule_interval %q", s)
		}
		h.interval = d
	}
	h.started = true
	go h.publishLoop()
	return []string{
		"post_to_facebook",
		"post_to_twitter",
		"post_to_instagram",
		"post_to_linkedin",
		"post_to_pinterest",
		"schedule_posts",
		"analyze_post_performance",
	}, nil
}

func (h *SocialHandler) publishLoop() {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if n := h.PublishDue(h.now()); n > 0 {
				h.logger.LogInfo(fmt.Sprintf("social_poster: published %d scheduled post(s)", n))
			}
		}
	}
}

// PublishDue marks every scheduled post due at or before now as published
func (h *SocialHandler) PublishDue(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, p := range h.scheduled {
		if p.PublishedAt == nil && !p.PostTime.After(now) {
			at := now
			p.PublishedAt = &at
			n++
		}
	}
	return n
}

// Scheduled returns every scheduled post ordered by post time
func (h *SocialHandler) Scheduled() []ScheduledPost {
	h.mu.Lock()
	out := make([]ScheduledPost, 0, len(h.scheduled))
	for _, p := range h.scheduled {
		out = append(out, *p)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PostTime.Before(out[j].PostTime) })
	return out
}

// Handle dispatches social_* sub-types
func (h *SocialHandler) Handle(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
	switch task.Type {
	case "social_post":
		return h.post(task)
	case "social_schedule":
		return h.schedule(task)
	case "social_analyze":
		if err := requireFields(task, "post_id"); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"post_id": task.Payload["post_id"],
			"status":  "metrics_requested",
		}, nil
	}
	return nil, Unsupported(task.Type)
}

func (h *SocialHandler) post(task models.TaskEnvelope) (interface{}, error) {
	if err := requireFields(task, "text"); err != nil {
		return nil, err
	}
	text := payloadString(task, "text", "")
	platforms, err := targetPlatforms(task)
	if err != nil {
		return nil, err
	}

	results := make(map[string]interface{}, len(platforms))
	for _, p := range platforms {
		entry := map[string]interface{}{"status": "queued"}
		if p == "twitter" {
			entry["thread_parts"] = len(splitThread(text, tweetLimit))
		}
		results[p] = entry
	}
	return map[string]interface{}{"results": results}, nil
}

func (h *SocialHandler) schedule(task models.TaskEnvelope) (interface{}, error) {
	if err := requireFields(task, "text", "post_time"); err != nil {
		return nil, err
	}
	postTime, err := time.Parse(time.RFC3339, payloadString(task, "post_time", ""))
	if err != nil {
		return nil, InvalidPayload(task.Type, "post_time must be RFC3339: %v", err)
	}
	platforms, err := targetPlatforms(task)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(platforms))
	h.mu.Lock()
	for _, p := range platforms {
		id := "sched_" + uuid.NewString()[:8]
		h.scheduled[id] = &ScheduledPost{ID: id, Platform: p, Text: payloadString(task, "text", ""), PostTime: postTime.UTC()}
		ids = append(ids, id)
	}
	h.mu.Unlock()

	return map[string]interface{}{
		"schedule_ids": ids,
		"post_time":    postTime.UTC().Format(time.RFC3339),
	}, nil
}

func targetPlatforms(task models.TaskEnvelope) ([]string, error) {
	platform := payloadString(task, "platform", "all")
	if platform == "all" {
		return socialPlatforms, nil
	}
	for _, p := range socialPlatforms {
		if p == platform {
			return []string{p}, nil
		}
	}
	return nil, InvalidPayload(task.Type, "unsupported platform %q", platform)
}

// splitThread cuts text into chunks of at most limit runes
func splitThread(text string, limit int) []string {
	runes := []rune(text)
	var parts []string
	for len(runes) > limit {
		parts = append(parts, string(runes[:limit]))
		runes = runes[limit:]
	}
	return append(parts, string(runes))
}

// Close stops the publish loop
func (h *SocialHandler) Close() error {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	if h.started {
		<-h.done
	}
	return nil
}
