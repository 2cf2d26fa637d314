package agent

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/aegis/internal/models"
)

// Revenue shares applied by payment_distribute
var distributionShares = []struct {
	Account string
	Share   float64
}{
	{"owner", 0.6},
	{"ai_fund", 0.2},
	{"reserve", 0.2},
}

// Transaction is one payment recorded by the processor
type Transaction struct {
	ID          string    `json:"payment_id"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Method      string    `json:"payment_method"`
	Refunded    float64   `json:"refunded"`
	ProcessedAt time.Time `json:"processed_at"`
}

// PaymentHandler validates payment requests and keeps an in-memory ledger of
// the payments it accepted. Settlement with a payment provider is external.
type PaymentHandler struct {
	now      func() time.Time
	currency string
	methods  []string

	mu     sync.Mutex
	ledger map[string]*Transaction
	order  []string
}

// Initialize reads the default currency and accepted payment methods
func (h *PaymentHandler) Initialize(ctx context.Context, cfg Config) ([]string, error) {
	if h.now == nil {
		h.now = time.Now
	}
	h.ledger = make(map[string]*Transaction)
	h.currency = strings.ToLower(cfg.String("currency", "zar"))
	h.methods = []string{"card", "bank_transfer"}
	if raw, ok := cfg["payment_methods"]; ok {
		list, ok := raw.([]interface{})
		if !ok || len(list) == 0 {
			return nil, fmt.Errorf("payment_methods must be a non-empty list")
		}
		h.methods = h.methods[:0]
		for _, m := range list {
			s, ok := m.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("payment_methods entries must be strings")
			}
			h.methods = append(h.methods, s)
		}
	}
	return []string{
		"process_payments",
		"generate_invoices",
		"manage_subscriptions",
		"handle_refunds",
		"currency_conversion",
		"distribute_funds",
		"generate_financial_reports",
	}, nil
}

// Handle dispatches payment_* sub-types
func (h *PaymentHandler) Handle(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
	switch task.Type {
	case "payment_process":
		return h.process(task)
	case "payment_invoice":
		return h.invoice(task)
	case "payment_subscription":
		return h.subscription(task)
	case "payment_refund":
		return h.refund(task)
	case "payment_distribute":
		return h.distribute(), nil
	case "payment_convert":
		if err := requireFields(task, "amount", "to_currency"); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"original_amount":    task.Payload["amount"],
			"original_currency":  strings.ToUpper(payloadString(task, "from_currency", h.currency)),
			"converted_currency": strings.ToUpper(payloadString(task, "to_currency", "")),
			"status":             "rate_requested",
		}, nil
	case "payment_report":
		return h.report(task)
	}
	return nil, Unsupported(task.Type)
}

func (h *PaymentHandler) amount(task models.TaskEnvelope) (float64, error) {
	amount, ok := payloadFloat(task, "amount")
	if !ok {
		return 0, InvalidPayload(task.Type, "missing required field(s): amount")
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, InvalidPayload(task.Type, "amount must be positive, got %v", amount)
	}
	return amount, nil
}

func (h *PaymentHandler) process(task models.TaskEnvelope) (interface{}, error) {
	amount, err := h.amount(task)
	if err != nil {
		return nil, err
	}
	method := payloadString(task, "payment_method", "card")
	if !h.acceptsMethod(method) {
		return nil, InvalidPayload(task.Type, "unsupported payment method %q, supported: %s", method, strings.Join(h.methods, ", "))
	}

	tx := &Transaction{
		ID:          "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Amount:      amount,
		Currency:    strings.ToLower(payloadString(task, "currency", h.currency)),
		Method:      method,
		ProcessedAt: h.now().UTC(),
	}
	h.mu.Lock()
	h.ledger[tx.ID] = tx
	h.order = append(h.order, tx.ID)
	h.mu.Unlock()

	return map[string]interface{}{
		"payment_id":      tx.ID,
		"amount":          tx.Amount,
		"amount_in_cents": int64(math.Round(tx.Amount * 100)),
		"currency":        tx.Currency,
		"payment_method":  tx.Method,
		"status":          "requires_confirmation",
	}, nil
}

func (h *PaymentHandler) acceptsMethod(method string) bool {
	for _, m := range h.methods {
		if m == method {
			return true
		}
	}
	return false
}

func (h *PaymentHandler) invoice(task models.TaskEnvelope) (interface{}, error) {
	if err := requireFields(task, "customer_email"); err != nil {
		return nil, err
	}
	items, err := payloadRows(task, "items")
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, InvalidPayload(task.Type, "invoice needs at least one item")
	}
	var total float64
	for _, it := range items {
		qty := 1.0
		if q, ok := toFloat(it["quantity"]); ok {
			qty = q
		}
		total += num(it["amount"]) * qty
	}

	now := h.now()
	id := "INV" + now.Format("20060102150405")
	return map[string]interface{}{
		"invoice_id":   id,
		"amount":       round(total, 2),
		"currency":     strings.ToLower(payloadString(task, "currency", h.currency)),
		"due_date":     payloadString(task, "due_date", now.AddDate(0, 0, 30).Format("2006-01-02")),
		"payment_link": "https://pay.example.com/invoice/" + id,
		"status":       "generated",
	}, nil
}

func (h *PaymentHandler) subscription(task models.TaskEnvelope) (interface{}, error) {
	action := payloadString(task, "action", "create")
	switch action {
	case "create":
		if err := requireFields(task, "customer_id", "plan_id"); err != nil {
			return nil, err
		}
		now := h.now()
		return map[string]interface{}{
			"subscription_id":   "SUB" + now.Format("20060102150405"),
			"customer_id":       task.Payload["customer_id"],
			"plan_id":           task.Payload["plan_id"],
			"interval":          payloadString(task, "interval", "month"),
			"status":            "active",
			"next_billing_date": now.AddDate(0, 0, 30).Format("2006-01-02"),
		}, nil
	case "cancel":
		if err := requireFields(task, "subscription_id"); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"subscription_id": task.Payload["subscription_id"],
			"status":          "canceled",
		}, nil
	}
	return nil, InvalidPayload(task.Type, "unsupported subscription action %q", action)
}

func (h *PaymentHandler) refund(task models.TaskEnvelope) (interface{}, error) {
	if err := requireFields(task, "payment_id"); err != nil {
		return nil, err
	}
	id := payloadString(task, "payment_id", "")

	h.mu.Lock()
	defer h.mu.Unlock()
	tx, ok := h.ledger[id]
	if !ok {
		return nil, InvalidPayload(task.Type, "unknown payment %s", id)
	}
	amount := tx.Amount - tx.Refunded
	if a, ok := payloadFloat(task, "amount"); ok {
		amount = a
	}
	if amount <= 0 || amount > tx.Amount-tx.Refunded {
		return nil, InvalidPayload(task.Type, "refund amount %v exceeds refundable %v", amount, tx.Amount-tx.Refunded)
	}
	tx.Refunded += amount
	return map[string]interface{}{
		"payment_id": id,
		"amount":     amount,
		"currency":   tx.Currency,
		"reason":     payloadString(task, "reason", "requested_by_customer"),
		"status":     "refunded",
	}, nil
}

// net revenue per currency over the ledger since the cutoff
func (h *PaymentHandler) revenueSince(cutoff time.Time) map[string]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]float64)
	for _, id := range h.order {
		tx := h.ledger[id]
		if tx.ProcessedAt.Before(cutoff) {
			continue
		}
		out[tx.Currency] += tx.Amount - tx.Refunded
	}
	return out
}

func (h *PaymentHandler) distribute() interface{} {
	revenue := h.revenueSince(h.now().AddDate(0, 0, -7))
	total := revenue[h.currency]
	distribution := make(map[string]float64, len(distributionShares))
	for _, s := range distributionShares {
		distribution[s.Account] = round(total*s.Share, 2)
	}
	return map[string]interface{}{
		"currency":      h.currency,
		"period_days":   7,
		"total_revenue": round(total, 2),
		"distribution":  distribution,
	}
}

var reportPeriods = map[string]int{"week": 7, "month": 30, "quarter": 90, "year": 365}

func (h *PaymentHandler) report(task models.TaskEnvelope) (interface{}, error) {
	reportType := payloadString(task, "report_type", "revenue")
	if reportType != "revenue" {
		return nil, InvalidPayload(task.Type, "unsupported report type %q", reportType)
	}
	period := payloadString(task, "period", "month")
	days, ok := reportPeriods[period]
	if !ok {
		days = 30
	}
	return map[string]interface{}{
		"report_type":         reportType,
		"period":              period,
		"revenue_by_currency": h.revenueSince(h.now().AddDate(0, 0, -days)),
	}, nil
}
