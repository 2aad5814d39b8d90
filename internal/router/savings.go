package router

import (
	"fmt"
	"sync"
)

// Pricer resolves a model's blended cost per million tokens.
type Pricer interface {
	CostPerMillion(model string) float64
}

type staticPricer map[string]float64

func (p staticPricer) CostPerMillion(model string) float64 { return p[model] }

// DefaultPricer returns ballpark blended prices for the default tier tables,
// in USD per million tokens. A model catalog can replace this with live data.
func DefaultPricer() Pricer {
	return staticPricer{
		"gemini-2.5-flash":      0.60,
		"grok-code-fast-1":      0.85,
		"gemini-2.5-pro":        7.50,
		"grok-4-fast-reasoning": 1.20,
	}
}

// SavingsStats is a snapshot of estimated cost savings from tiered routing.
type SavingsStats struct {
	TotalRequests  int64          `json:"totalRequests"`
	RequestsByTier map[Tier]int64 `json:"requestsByTier"`
	EstimatedCost  float64        `json:"estimatedCost"`  // actual estimated cost with routing
	BaselineCost   float64        `json:"baselineCost"`   // cost if everything used the baseline model
	SavedUSD       float64        `json:"savedUsd"`       // baseline - estimated
	SavingsPercent float64        `json:"savingsPercent"` // (saved / baseline) * 100
	AvgTokens      float64        `json:"avgTokens"`      // running average tokens per request
}

// CostSavings accumulates per-tier request counts and compares routed cost
// against a baseline where every request hits the most expensive tier's
// primary model.
type CostSavings struct {
	pricer        Pricer
	baselineModel string

	mu             sync.Mutex
	totalRequests  int64
	requestsByTier map[Tier]int64
	totalTokens    int64
	estimatedCost  float64
	baselineCost   float64
}

// NewCostSavings creates a tracker. baselineModel is typically the COMPLEX
// tier's primary.
func NewCostSavings(pricer Pricer, baselineModel string) *CostSavings {
	if pricer == nil {
		pricer = DefaultPricer()
	}
	return &CostSavings{
		pricer:         pricer,
		baselineModel:  baselineModel,
		requestsByTier: make(map[Tier]int64, 4),
	}
}

// Track records one routed request.
func (cs *CostSavings) Track(tier Tier, model string, tokens int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.totalRequests++
	cs.requestsByTier[tier]++
	cs.totalTokens += int64(tokens)

	t := float64(tokens)
	cs.estimatedCost += t * cs.pricer.CostPerMillion(model) / 1_000_000
	cs.baselineCost += t * cs.pricer.CostPerMillion(cs.baselineModel) / 1_000_000
}

// Snapshot returns a copy of the current totals.
func (cs *CostSavings) Snapshot() SavingsStats {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	tiers := make(map[Tier]int64, len(cs.requestsByTier))
	for k, v := range cs.requestsByTier {
		tiers[k] = v
	}
	s := SavingsStats{
		TotalRequests:  cs.totalRequests,
		RequestsByTier: tiers,
		EstimatedCost:  cs.estimatedCost,
		BaselineCost:   cs.baselineCost,
		SavedUSD:       cs.baselineCost - cs.estimatedCost,
	}
	if cs.baselineCost > 0 {
		s.SavingsPercent = s.SavedUSD / cs.baselineCost * 100
	}
	if cs.totalRequests > 0 {
		s.AvgTokens = float64(cs.totalTokens) / float64(cs.totalRequests)
	}
	return s
}

// Report renders a human-readable cost report for the CLI and TUI.
func (cs *CostSavings) Report(tiers map[Tier]TierModels) string {
	s := cs.Snapshot()

	report := "=== Router Cost Report ===\n"
	report += fmt.Sprintf("Total Requests:    %d\n", s.TotalRequests)
	report += fmt.Sprintf("Baseline Cost:     $%.4f (all %s)\n", s.BaselineCost, cs.baselineModel)
	report += fmt.Sprintf("Routed Cost:       $%.4f\n", s.EstimatedCost)
	report += fmt.Sprintf("Saved:             $%.4f (%.1f%%)\n", s.SavedUSD, s.SavingsPercent)
	report += fmt.Sprintf("Avg Tokens/Req:    %.0f\n", s.AvgTokens)
	report += "\nTier Distribution:\n"
	for _, tier := range AllTiers() {
		count := s.RequestsByTier[tier]
		pct := 0.0
		if s.TotalRequests > 0 {
			pct = float64(count) / float64(s.TotalRequests) * 100
		}
		report += fmt.Sprintf("  %-10s %5d (%5.1f%%)  -> %s\n", tier, count, pct, tiers[tier].Primary)
	}
	return report
}
