package agent

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/harrison/aegis/internal/models"
)

// Industry benchmarks campaign metrics are compared against
var campaignBenchmarks = map[string]float64{
	"roas":            4.0,
	"cpa":             50.0,
	"ctr":             0.02,
	"conversion_rate": 0.05,
}

// Channel ROAS used when a budget request carries no channel performance
var defaultChannelROAS = map[string]float64{
	"facebook":  4.2,
	"google":    3.8,
	"instagram": 5.1,
	"email":     7.5,
}

var defaultAllocation = map[string]float64{
	"facebook":  40,
	"google":    30,
	"instagram": 20,
	"email":     10,
}

// budgetChangeThreshold is the allocation delta, in percentage points, that
// warrants a recommendation
const budgetChangeThreshold = 5.0

// AnalystHandler computes campaign metrics and budget allocations from the
// data carried in the payload.
type AnalystHandler struct{}

// Initialize declares the analyst capabilities
func (h *AnalystHandler) Initialize(ctx context.Context, cfg Config) ([]string, error) {
	return []string{
		"analyze_campaign_performance",
		"predict_roi",
		"identify_trends",
		"segment_audience",
		"optimize_budget",
		"generate_reports",
	}, nil
}

// Handle dispatches analysis_* sub-types
func (h *AnalystHandler) Handle(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
	switch task.Type {
	case "analysis_campaign":
		return h.campaign(task)
	case "analysis_roi":
		return h.roi(task)
	case "analysis_trends":
		return h.trends(task)
	case "analysis_audience":
		return h.audience(task)
	case "analysis_budget":
		return h.budget(task)
	case "analysis_report":
		budget, err := h.budget(task)
		if err != nil {
			return nil, err
		}
		report := map[string]interface{}{"budget": budget}
		if _, ok := task.Payload["rows"]; ok {
			campaign, err := h.campaign(task)
			if err != nil {
				return nil, err
			}
			report["performance"] = campaign
		}
		return report, nil
	}
	return nil, Unsupported(task.Type)
}

// CampaignMetrics are the aggregates of a campaign's raw rows
type CampaignMetrics struct {
	TotalSpend       float64 `json:"total_spend"`
	TotalRevenue     float64 `json:"total_revenue"`
	TotalConversions float64 `json:"total_conversions"`
	TotalClicks      float64 `json:"total_clicks"`
	TotalImpressions float64 `json:"total_impressions"`
	ROAS             float64 `json:"roas"`
	CPA              float64 `json:"cpa"`
	CTR              float64 `json:"ctr"`
	ConversionRate   float64 `json:"conversion_rate"`
}

func (m CampaignMetrics) value(key string) float64 {
	switch key {
	case "roas":
		return m.ROAS
	case "cpa":
		return m.CPA
	case "ctr":
		return m.CTR
	case "conversion_rate":
		return m.ConversionRate
	}
	return 0
}

// CalculateMetrics sums rows of spend, revenue, conversions, clicks and
// impressions and derives the ratio metrics
func CalculateMetrics(rows []map[string]interface{}) CampaignMetrics {
	var m CampaignMetrics
	for _, row := range rows {
		m.TotalSpend += num(row["spend"])
		m.TotalRevenue += num(row["revenue"])
		m.TotalConversions += num(row["conversions"])
		m.TotalClicks += num(row["clicks"])
		m.TotalImpressions += num(row["impressions"])
	}
	m.ROAS = round(ratio(m.TotalRevenue, m.TotalSpend), 2)
	m.CPA = round(ratio(m.TotalSpend, m.TotalConversions), 2)
	m.CTR = round(ratio(m.TotalClicks, m.TotalImpressions), 4)
	m.ConversionRate = round(ratio(m.TotalConversions, m.TotalClicks), 4)
	m.TotalSpend = round(m.TotalSpend, 2)
	m.TotalRevenue = round(m.TotalRevenue, 2)
	return m
}

// PerformanceScore starts at 75 and moves 5 points per metric above or
// below its benchmark, clamped to 0..100
func PerformanceScore(m CampaignMetrics) int {
	score := 75
	for key, benchmark := range campaignBenchmarks {
		if m.value(key) > benchmark {
			score += 5
		} else {
			score -= 5
		}
	}
	return max(0, min(100, score))
}

func (h *AnalystHandler) campaign(task models.TaskEnvelope) (interface{}, error) {
	rows, err := payloadRows(task, "rows")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, InvalidPayload(task.Type, "no data for campaign %s", payloadString(task, "campaign_id", "all"))
	}

	m := CalculateMetrics(rows)
	comparison := make(map[string]interface{}, len(campaignBenchmarks))
	for key, benchmark := range campaignBenchmarks {
		diff := m.value(key) - benchmark
		status := "below"
		if diff > 0 {
			status = "above"
		}
		comparison[key] = map[string]interface{}{
			"value":           m.value(key),
			"benchmark":       benchmark,
			"difference":      round(diff, 2),
			"percentage_diff": round(diff/benchmark*100, 2),
			"status":          status,
		}
	}

	score := PerformanceScore(m)
	return map[string]interface{}{
		"campaign_id":          payloadString(task, "campaign_id", "all"),
		"time_range":           payloadString(task, "time_range", "30d"),
		"metrics":              m,
		"benchmark_comparison": comparison,
		"insights":             campaignInsights(m),
		"score":                score,
		"recommendations":      campaignRecommendations(score),
	}, nil
}

func campaignInsights(m CampaignMetrics) []string {
	var insights []string
	switch {
	case m.ROAS > campaignBenchmarks["roas"]*1.2:
		insights = append(insights, "Excellent ROAS - significantly above industry average")
	case m.ROAS < campaignBenchmarks["roas"]*0.8:
		insights = append(insights, "Low ROAS - consider optimizing targeting or creatives")
	}
	switch {
	case m.CPA < campaignBenchmarks["cpa"]*0.8:
		insights = append(insights, "Great CPA - acquiring customers at below average cost")
	case m.CPA > campaignBenchmarks["cpa"]*1.2:
		insights = append(insights, "High CPA - customer acquisition costs are above average")
	}
	if m.CTR < campaignBenchmarks["ctr"]*0.7 {
		insights = append(insights, "Low CTR - consider improving ad creatives or targeting")
	}
	if m.ConversionRate < campaignBenchmarks["conversion_rate"]*0.7 {
		insights = append(insights, "Low conversion rate - review landing page and offer")
	}
	return insights
}

func campaignRecommendations(score int) []string {
	var recs []string
	if score < 70 {
		recs = append(recs,
			"Consider A/B testing ad creatives to improve CTR",
			"Review targeting parameters to ensure reaching the right audience",
			"Optimize landing pages for higher conversion rates",
		)
	}
	if score >= 85 {
		recs = append(recs,
			"Scale successful campaigns to maximize ROI",
			"Explore lookalike audiences based on your best converters",
		)
	}
	return append(recs, "Regularly review and update your keyword strategy")
}

func (h *AnalystHandler) roi(task models.TaskEnvelope) (interface{}, error) {
	budget := 1000.0
	if b, ok := payloadFloat(task, "budget"); ok {
		budget = b
	}
	if budget <= 0 {
		return nil, InvalidPayload(task.Type, "budget must be positive")
	}
	channel := payloadString(task, "channel", "facebook")
	roas, ok := defaultChannelROAS[channel]
	if !ok {
		return nil, InvalidPayload(task.Type, "no performance data for channel %q", channel)
	}
	revenue := budget * roas
	return map[string]interface{}{
		"channel":           channel,
		"budget":            budget,
		"predicted_revenue": round(revenue, 2),
		"predicted_roi":     round((revenue-budget)/budget*100, 1),
	}, nil
}

func (h *AnalystHandler) trends(task models.TaskEnvelope) (interface{}, error) {
	raw, ok := task.Payload["values"].([]interface{})
	if !ok || len(raw) < 2 {
		return nil, InvalidPayload(task.Type, "values must list at least two numbers")
	}
	values := make([]float64, len(raw))
	for i, v := range raw {
		f, ok := toFloat(v)
		if !ok {
			return nil, InvalidPayload(task.Type, "values[%d] is not a number", i)
		}
		values[i] = f
	}

	first, last := values[0], values[len(values)-1]
	direction := "flat"
	switch {
	case last > first:
		direction = "up"
	case last < first:
		direction = "down"
	}
	return map[string]interface{}{
		"metric":         payloadString(task, "metric", "revenue"),
		"direction":      direction,
		"change_percent": round(ratio(last-first, first)*100, 1),
		"points":         len(values),
	}, nil
}

func (h *AnalystHandler) audience(task models.TaskEnvelope) (interface{}, error) {
	customers, err := payloadRows(task, "customers")
	if err != nil {
		return nil, err
	}
	if len(customers) == 0 {
		return nil, InvalidPayload(task.Type, "no customers to segment")
	}
	segments := map[string]int{"high_value": 0, "medium_value": 0, "low_value": 0}
	for _, c := range customers {
		switch spend := num(c["spend"]); {
		case spend >= 1000:
			segments["high_value"]++
		case spend >= 100:
			segments["medium_value"]++
		default:
			segments["low_value"]++
		}
	}
	return map[string]interface{}{"segments": segments, "total": len(customers)}, nil
}

// BudgetPlan is the result of a budget optimization
type BudgetPlan struct {
	CurrentAllocation   map[string]float64 `json:"current_allocation"`
	OptimalAllocation   map[string]float64 `json:"optimal_allocation"`
	ChannelPerformance  map[string]float64 `json:"channel_performance"`
	ExpectedImprovement float64            `json:"expected_improvement"`
	RecommendedChanges  []string           `json:"recommended_changes"`
}

// OptimizeBudget shares the budget in proportion to each channel's ROAS and
// recommends changes larger than five percentage points
func OptimizeBudget(current, performance map[string]float64) BudgetPlan {
	var totalROAS float64
	for _, roas := range performance {
		totalROAS += roas
	}

	optimal := make(map[string]float64, len(performance))
	for ch, roas := range performance {
		optimal[ch] = round(ratio(roas, totalROAS)*100, 1)
	}

	var currentROI, optimalROI float64
	for ch, pct := range current {
		currentROI += pct * performance[ch] / 100
	}
	for ch, pct := range optimal {
		optimalROI += pct * performance[ch] / 100
	}

	channels := make([]string, 0, len(current))
	for ch := range current {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	var changes []string
	for _, ch := range channels {
		delta := optimal[ch] - current[ch]
		switch {
		case delta > budgetChangeThreshold:
			changes = append(changes, fmt.Sprintf("Increase %s budget by %.1f%%", ch, delta))
		case delta < -budgetChangeThreshold:
			changes = append(changes, fmt.Sprintf("Decrease %s budget by %.1f%%", ch, -delta))
		}
	}

	return BudgetPlan{
		CurrentAllocation:   current,
		OptimalAllocation:   optimal,
		ChannelPerformance:  performance,
		ExpectedImprovement: round(ratio(optimalROI-currentROI, currentROI)*100, 1),
		RecommendedChanges:  changes,
	}
}

func (h *AnalystHandler) budget(task models.TaskEnvelope) (BudgetPlan, error) {
	current, err := payloadShares(task, "current_allocation", defaultAllocation)
	if err != nil {
		return BudgetPlan{}, err
	}
	performance, err := payloadShares(task, "channel_performance", defaultChannelROAS)
	if err != nil {
		return BudgetPlan{}, err
	}
	return OptimizeBudget(current, performance), nil
}

func payloadShares(task models.TaskEnvelope, key string, def map[string]float64) (map[string]float64, error) {
	raw, ok := task.Payload[key]
	if !ok {
		out := make(map[string]float64, len(def))
		for k, v := range def {
			out[k] = v
		}
		return out, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, InvalidPayload(task.Type, "%s must be a mapping of channel to number", key)
	}
	out := make(map[string]float64, len(m))
	for ch, v := range m {
		f, ok := toFloat(v)
		if !ok {
			return nil, InvalidPayload(task.Type, "%s.%s is not a number", key, ch)
		}
		out[ch] = f
	}
	return out, nil
}

func payloadRows(task models.TaskEnvelope, key string) ([]map[string]interface{}, error) {
	raw, ok := task.Payload[key]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, InvalidPayload(task.Type, "%s must be a list", key)
	}
	rows := make([]map[string]interface{}, 0, len(list))
	for i, item := range list {
		row, ok := item.(map[string]interface{})
		if !ok {
			return nil, InvalidPayload(task.Type, "%s[%d] must be a mapping", key, i)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func num(v interface{}) float64 {
	f, _ := toFloat(v)
	return f
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
