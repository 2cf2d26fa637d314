package agent

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harrison/aegis/internal/models"
)

// Default detection thresholds, overridable through cfg["thresholds"]
var defaultSecurityThresholds = map[string]int{
	"failed_login_attempts":  5,
	"suspicious_activity":    3,
	"data_access_violations": 1,
}

// SecurityEvent is one observation fed to the monitor
type SecurityEvent struct {
	Type     string    `json:"type"`
	Source   string    `json:"source"`
	Resource string    `json:"resource,omitempty"`
	At       time.Time `json:"at"`
}

// Threat is a detection raised when events cross a threshold
type Threat struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Source   string `json:"source"`
	Count    int    `json:"count"`
}

// SecurityHandler encrypts payload data, ingests security events and
// audits them on a background ticker.
type SecurityHandler struct {
	logger     Logger
	now        func() time.Time
	interval   time.Duration
	level      string
	thresholds map[string]int
	aead       cipher.AEAD

	mu      sync.Mutex
	events  []SecurityEvent
	handled []Threat
	audits  int

	started  bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSecurityHandler creates a security handler
func NewSecurityHandler() *SecurityHandler {
	return &SecurityHandler{
		logger:   nopLogger{},
		now:      time.Now,
		interval: 5 * time.Minute,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetLogger implements LoggerAware
func (h *SecurityHandler) SetLogger(l Logger) { h.logger = l }

// Initialize sets up the cipher and thresholds and starts the audit loop.
// cfg["encryption_key"] is a hex AES-256 key; a random key is generated otherwise.
func (h *SecurityHandler) Initialize(ctx context.Context, cfg Config) ([]string, error) {
	h.level = cfg.String("security_level", "military")

	key := make([]byte, 32)
	if s := cfg.String("encryption_key", ""); s != "" {
		k, err := hex.DecodeString(s)
		if err != nil || len(k) != 32 {
			return nil, fmt.Errorf("encryption_key must be 64 hex characters")
		}
		key = k
	} else if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if h.aead, err = cipher.NewGCM(block); err != nil {
		return nil, err
	}

	h.thresholds = make(map[string]int, len(defaultSecurityThresholds))
	for k, v := range defaultSecurityThresholds {
		h.thresholds[k] = v
	}
	if raw, ok := cfg["thresholds"]; ok {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("thresholds must be a mapping")
		}
		for k, v := range m {
			f, ok := toFloat(v)
			if !ok || f < 1 {
				return nil, fmt.Errorf("threshold %s must be a positive number", k)
			}
			h.thresholds[k] = int(f)
		}
	}

	if s := cfg.String("monitor_interval", ""); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid monitor_interval %q", s)
		}
		h.interval = d
	}

	h.started = true
	go h.monitorLoop()

	return []string{
		"encrypt_data",
		"decrypt_data",
		"detect_intrusions",
		"monitor_logs",
		"manage_access",
		"secure_comms",
		"perform_audits",
		"handle_threats",
	}, nil
}

func (h *SecurityHandler) monitorLoop() {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if threats := h.Audit(); len(threats) > 0 {
				h.logger.LogWarn(fmt.Sprintf("security_monitor: %d threat(s) detected", len(threats)))
			}
		}
	}
}

// Handle dispatches security_* sub-types
func (h *SecurityHandler) Handle(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
	switch task.Type {
	case "security_encrypt":
		if err := requireFields(task, "data"); err != nil {
			return nil, err
		}
		nonce := make([]byte, h.aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return nil, err
		}
		sealed := h.aead.Seal(nonce, nonce, []byte(payloadString(task, "data", "")), nil)
		return map[string]interface{}{
			"encrypted_data":  base64.StdEncoding.EncodeToString(sealed),
			"encryption_type": "aes256-gcm",
		}, nil

	case "security_decrypt":
		if err := requireFields(task, "encrypted_data"); err != nil {
			return nil, err
		}
		sealed, err := base64.StdEncoding.DecodeString(payloadString(task, "encrypted_data", ""))
		if err != nil || len(sealed) < h.aead.NonceSize() {
			return nil, InvalidPayload(task.Type, "encrypted_data is not valid base64 ciphertext")
		}
		n := h.aead.NonceSize()
		plain, err := h.aead.Open(nil, sealed[:n], sealed[n:], nil)
		if err != nil {
			return nil, InvalidPayload(task.Type, "decryption failed: %v", err)
		}
		return map[string]interface{}{"data": string(plain)}, nil

	case "security_monitor":
		events, err := payloadRows(task, "events")
		if err != nil {
			return nil, err
		}
		now := h.now()
		h.mu.Lock()
		for i, e := range events {
			typ, _ := e["type"].(string)
			if typ == "" {
				h.mu.Unlock()
				return nil, InvalidPayload(task.Type, "events[%d] has no type", i)
			}
			src, _ := e["source"].(string)
			res, _ := e["resource"].(string)
			h.events = append(h.events, SecurityEvent{Type: typ, Source: src, Resource: res, At: now})
		}
		h.mu.Unlock()

		threats := h.DetectThreats()
		return map[string]interface{}{
			"events_ingested":  len(events),
			"threats_detected": threats,
			"security_level":   h.level,
			"health":           healthScore(len(threats)),
		}, nil

	case "security_audit":
		threats := h.Audit()
		h.mu.Lock()
		total := len(h.events)
		h.mu.Unlock()
		return map[string]interface{}{
			"events_reviewed": total,
			"threats":         threats,
			"health":          healthScore(len(threats)),
		}, nil

	case "security_threat":
		threats, err := payloadRows(task, "threats")
		if err != nil {
			return nil, err
		}
		actions := make([]map[string]interface{}, 0, len(threats))
		h.mu.Lock()
		for _, t := range threats {
			th := Threat{}
			th.Type, _ = t["type"].(string)
			th.Severity, _ = t["severity"].(string)
			th.Source, _ = t["source"].(string)
			h.handled = append(h.handled, th)
			actions = append(actions, map[string]interface{}{"threat": th, "action": threatAction(th.Severity)})
		}
		h.mu.Unlock()
		return map[string]interface{}{"threats_handled": len(threats), "actions_taken": actions}, nil
	}
	return nil, Unsupported(task.Type)
}

// DetectThreats groups ingested events by type and source and reports every
// group at or above its threshold
func (h *SecurityHandler) DetectThreats() []Threat {
	h.mu.Lock()
	defer h.mu.Unlock()

	type key struct{ typ, src string }
	counts := make(map[key]int)
	for _, e := range h.events {
		counts[key{e.Type, e.Source}]++
	}

	var threats []Threat
	for k, n := range counts {
		var limit int
		var threatType, severity string
		switch k.typ {
		case "failed_login":
			limit, threatType, severity = h.thresholds["failed_login_attempts"], "failed_login_attempts", "high"
		case "suspicious_access":
			limit, threatType, severity = h.thresholds["suspicious_activity"], "suspicious_access_pattern", "medium"
		case "access_violation":
			limit, threatType, severity = h.thresholds["data_access_violations"], "data_access_violation", "high"
		default:
			continue
		}
		if n >= limit {
			threats = append(threats, Threat{Type: threatType, Severity: severity, Source: k.src, Count: n})
		}
	}
	sort.Slice(threats, func(i, j int) bool {
		if threats[i].Type != threats[j].Type {
			return threats[i].Type < threats[j].Type
		}
		return threats[i].Source < threats[j].Source
	})
	return threats
}

// Audit runs threat detection and counts the audit
func (h *SecurityHandler) Audit() []Threat {
	threats := h.DetectThreats()
	h.mu.Lock()
	h.audits++
	h.mu.Unlock()
	return threats
}

// Audits returns how many audits have run
func (h *SecurityHandler) Audits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.audits
}

func healthScore(threats int) map[string]interface{} {
	score := max(0, min(100, 95-threats*5))
	status := "secure"
	if score < 80 {
		status = "vulnerable"
	}
	return map[string]interface{}{"score": score, "status": status}
}

func threatAction(severity string) string {
	switch severity {
	case "high", "critical":
		return "source_blocked"
	case "medium":
		return "flagged_for_review"
	}
	return "logged"
}

// Close stops the audit loop
func (h *SecurityHandler) Close() error {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	if h.started {
		<-h.done
	}
	return nil
}
