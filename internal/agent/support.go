package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harrison/aegis/internal/models"
)

// faqMatchThreshold is the minimum word-overlap similarity of an FAQ match
const faqMatchThreshold = 0.7

const fallbackAnswer = "I'm sorry, I couldn't find an answer to that question. Please contact our support team for assistance."

// FAQ is one question/answer pair of the support knowledge base
type FAQ struct {
	Question string
	Answer   string
}

// SupportHandler answers FAQs, opens tickets and collects feedback
type SupportHandler struct {
	now func() time.Time

	mu            sync.Mutex
	name          string
	faqs          []FAQ
	conversations map[string]int
	tickets       int
}

// NewSupportHandler creates a support handler
func NewSupportHandler() *SupportHandler {
	return &SupportHandler{
		now:           time.Now,
		conversations: make(map[string]int),
	}
}

// Initialize loads the FAQ list from cfg["faqs"]
func (h *SupportHandler) Initialize(ctx context.Context, cfg Config) ([]string, error) {
	h.name = cfg.String("agent_name", "Robyn")
	if raw, ok := cfg["faqs"]; ok {
		list, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("faqs must be a list")
		}
		for i, item := range list {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("faqs[%d] must be a mapping", i)
			}
			q, _ := m["question"].(string)
			a, _ := m["answer"].(string)
			if q == "" || a == "" {
				return nil, fmt.Errorf("faqs[%d] needs a question and an answer", i)
			}
			h.faqs = append(h.faqs, FAQ{Question: q, Answer: a})
		}
	}
	return []string{
		"answer_questions",
		"troubleshoot_issues",
		"provide_product_info",
		"handle_complaints",
		"process_returns",
		"escalate_issues",
		"collect_feedback",
	}, nil
}

// Handle dispatches support_* sub-types
func (h *SupportHandler) Handle(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
	switch task.Type {
	case "support_chat":
		if err := requireFields(task, "message"); err != nil {
			return nil, err
		}
		convID := payloadString(task, "conversation_id", "default")
		h.mu.Lock()
		h.conversations[convID]++
		turns := h.conversations[convID]
		h.mu.Unlock()

		answer, confidence := h.matchFAQ(payloadString(task, "message", ""))
		return map[string]interface{}{
			"conversation_id": convID,
			"agent_name":      h.name,
			"turn":            turns,
			"response":        answer,
			"escalated":       confidence == 0,
		}, nil

	case "support_faq":
		if err := requireFields(task, "question"); err != nil {
			return nil, err
		}
		question := payloadString(task, "question", "")
		answer, confidence := h.matchFAQ(question)
		source := "faq"
		if confidence == 0 {
			source = "fallback"
		}
		return map[string]interface{}{
			"question":   question,
			"answer":     answer,
			"confidence": confidence,
			"source":     source,
		}, nil

	case "support_ticket":
		if err := requireFields(task, "issue"); err != nil {
			return nil, err
		}
		priority := payloadString(task, "priority", "medium")
		h.mu.Lock()
		h.tickets++
		id := fmt.Sprintf("TKT%s%d", h.now().Format("20060102"), h.tickets)
		h.mu.Unlock()
		return map[string]interface{}{
			"ticket_id": id,
			"user_id":   payloadString(task, "user_id", "anonymous"),
			"status":    "created",
			"message":   fmt.Sprintf("Support ticket %s has been created with %s priority", id, priority),
		}, nil

	case "support_feedback":
		rating, ok := payloadFloat(task, "rating")
		if !ok {
			return nil, InvalidPayload(task.Type, "missing required field(s): rating")
		}
		if rating < 0 || rating > 5 {
			return nil, InvalidPayload(task.Type, "rating must be between 0 and 5, got %v", rating)
		}
		return map[string]interface{}{
			"feedback_id": "FB" + h.now().Format("20060102150405"),
			"rating":      rating,
			"response":    feedbackResponse(rating),
		}, nil
	}
	return nil, Unsupported(task.Type)
}

// matchFAQ returns the best FAQ answer scoring above the threshold, or the
// fallback answer with zero confidence
func (h *SupportHandler) matchFAQ(question string) (string, float64) {
	var best *FAQ
	bestScore := 0.0
	for i := range h.faqs {
		if score := Similarity(question, h.faqs[i].Question); score > bestScore {
			best, bestScore = &h.faqs[i], score
		}
	}
	if best != nil && bestScore > faqMatchThreshold {
		return best.Answer, bestScore
	}
	return fallbackAnswer, 0
}

func feedbackResponse(rating float64) string {
	switch {
	case rating >= 4:
		return "Thank you for your positive feedback! We're glad we could help."
	case rating >= 2:
		return "Thank you for your feedback. We'll use it to improve our service."
	}
	return "We're sorry to hear about your experience. We'll address this issue."
}

// Similarity is the Jaccard index of the lower-cased word sets of a and b
func Similarity(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}
