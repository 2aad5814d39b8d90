package router

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	defaultAdjustmentInterval = 10
	defaultMinAdjustment      = 0.8
	defaultMaxAdjustment      = 1.2
	adjustMinSamples          = 5
	recentFeedbackCap         = 100
	emaAlpha                  = 0.3
)

// signalDimensions resolves a feedback signal prefix back to the dimension
// that emitted it.
var signalDimensions = map[string]string{
	"token":      DimTokenCount,
	"code":       DimCodePresence,
	"reasoning":  DimReasoningMarkers,
	"technical":  DimTechnicalTerms,
	"creative":   DimCreativeMarkers,
	"simple":     DimSimpleIndicators,
	"multi-step": DimMultiStepPatterns,
	"question":   DimQuestionComplexity,
	"imperative": DimImperativeVerbs,
	"constraint": DimConstraintCount,
	"output":     DimOutputFormat,
	"reference":  DimReferenceComplexity,
	"negation":   DimNegationComplexity,
	"domain":     DimDomainSpecificity,
	"agentic":    DimAgenticTask,
}

// DimensionPerformance accumulates per-dimension outcome statistics and the
// multiplicative weight adjustment derived from them.
type DimensionPerformance struct {
	Name               string  `json:"name"`
	TotalRequests      int64   `json:"totalRequests"`
	SuccessfulRequests int64   `json:"successfulRequests"`
	TotalLatencyMs     int64   `json:"totalLatencyMs"`
	TotalCost          float64 `json:"totalCost"`
	SuccessRate        float64 `json:"successRate"`
	AvgLatencyMs       float64 `json:"avgLatencyMs"`
	AvgCost            float64 `json:"avgCost"`
	BaseWeight         float64 `json:"baseWeight"`
	AdjustmentFactor   float64 `json:"adjustmentFactor"`
	CurrentWeight      float64 `json:"currentWeight"`
}

// TierPerformance tracks EMA outcome statistics per tier.
type TierPerformance struct {
	Tier         Tier      `json:"tier"`
	Requests     int64     `json:"requests"`
	SuccessRate  float64   `json:"successRate"`
	AvgLatencyMs float64   `json:"avgLatencyMs"`
	AvgCost      float64   `json:"avgCost"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Feedback is one observed upstream outcome mapped back onto the routing
// decision that produced it.
type Feedback struct {
	DimensionSignals []string  `json:"dimensionSignals"`
	Tier             Tier      `json:"tier"`
	LatencyMs        int64     `json:"latencyMs"`
	Cost             float64   `json:"cost"`
	Success          bool      `json:"success"`
	ErrorKind        string    `json:"errorKind,omitempty"`
	InputTokens      int       `json:"inputTokens"`
	OutputTokens     int       `json:"outputTokens"`
	Timestamp        time.Time `json:"timestamp"`
}

// AdaptiveConfig tunes the weight manager.
type AdaptiveConfig struct {
	AdjustmentInterval int     `json:"adjustmentInterval"` // feedbacks between adjustments
	MinAdjustment      float64 `json:"minAdjustment"`
	MaxAdjustment      float64 `json:"maxAdjustment"`
}

// DefaultAdaptiveConfig returns the defaults (interval 10, factor 0.8..1.2).
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		AdjustmentInterval: defaultAdjustmentInterval,
		MinAdjustment:      defaultMinAdjustment,
		MaxAdjustment:      defaultMaxAdjustment,
	}
}

// AdaptiveWeights records post-hoc feedback per dimension and tier, and
// periodically re-tunes the dimension weight factors inside
// [MinAdjustment, MaxAdjustment]. The engine applies the mean of all current
// weights as a scalar modulation of the raw score; the factor range keeps the
// modulation gentle by construction.
type AdaptiveWeights struct {
	cfg    AdaptiveConfig
	logger *slog.Logger

	mu            sync.RWMutex
	dims          map[string]*DimensionPerformance
	tiers         map[Tier]*TierPerformance
	recent        []Feedback
	feedbackCount int64
}

// NewAdaptiveWeights builds a manager with every dimension at factor 1.0.
func NewAdaptiveWeights(cfg AdaptiveConfig, logger *slog.Logger) *AdaptiveWeights {
	if cfg.AdjustmentInterval <= 0 {
		cfg.AdjustmentInterval = defaultAdjustmentInterval
	}
	if cfg.MinAdjustment <= 0 {
		cfg.MinAdjustment = defaultMinAdjustment
	}
	if cfg.MaxAdjustment <= cfg.MinAdjustment {
		cfg.MaxAdjustment = defaultMaxAdjustment
	}
	if logger == nil {
		logger = slog.Default()
	}
	aw := &AdaptiveWeights{
		cfg:    cfg,
		logger: logger.With("component", "adaptive-weights"),
		dims:   make(map[string]*DimensionPerformance, len(AllDimensions)),
		tiers:  make(map[Tier]*TierPerformance, 4),
	}
	for _, name := range AllDimensions {
		aw.dims[name] = newDimensionPerformance(name)
	}
	return aw
}

func newDimensionPerformance(name string) *DimensionPerformance {
	return &DimensionPerformance{
		Name:             name,
		BaseWeight:       1.0,
		AdjustmentFactor: 1.0,
		CurrentWeight:    1.0,
	}
}

// RecordFeedback attributes the outcome to every dimension that signalled on
// the original classification, updates the tier EMAs, and triggers an
// adjustment pass every AdjustmentInterval feedbacks.
func (aw *AdaptiveWeights) RecordFeedback(fb Feedback) {
	if fb.Timestamp.IsZero() {
		fb.Timestamp = time.Now()
	}

	aw.mu.Lock()
	defer aw.mu.Unlock()

	for _, signal := range fb.DimensionSignals {
		name, ok := resolveSignal(signal)
		if !ok {
			continue
		}
		d := aw.dims[name]
		if d == nil {
			d = newDimensionPerformance(name)
			aw.dims[name] = d
		}
		d.TotalRequests++
		if fb.Success {
			d.SuccessfulRequests++
		}
		d.TotalLatencyMs += fb.LatencyMs
		d.TotalCost += fb.Cost
		d.SuccessRate = float64(d.SuccessfulRequests) / float64(d.TotalRequests)
		d.AvgLatencyMs = float64(d.TotalLatencyMs) / float64(d.TotalRequests)
		d.AvgCost = d.TotalCost / float64(d.TotalRequests)
	}

	aw.updateTierLocked(fb)

	aw.recent = append(aw.recent, fb)
	if len(aw.recent) > recentFeedbackCap {
		aw.recent = aw.recent[len(aw.recent)-recentFeedbackCap:]
	}

	aw.feedbackCount++
	if aw.feedbackCount%int64(aw.cfg.AdjustmentInterval) == 0 {
		aw.adjustLocked()
	}
}

func (aw *AdaptiveWeights) updateTierLocked(fb Feedback) {
	tp, ok := aw.tiers[fb.Tier]
	success := 0.0
	if fb.Success {
		success = 1.0
	}
	if !ok {
		aw.tiers[fb.Tier] = &TierPerformance{
			Tier:         fb.Tier,
			Requests:     1,
			SuccessRate:  success,
			AvgLatencyMs: float64(fb.LatencyMs),
			AvgCost:      fb.Cost,
			LastUpdated:  fb.Timestamp,
		}
		return
	}
	tp.Requests++
	tp.SuccessRate = (1-emaAlpha)*tp.SuccessRate + emaAlpha*success
	tp.AvgLatencyMs = (1-emaAlpha)*tp.AvgLatencyMs + emaAlpha*float64(fb.LatencyMs)
	tp.AvgCost = (1-emaAlpha)*tp.AvgCost + emaAlpha*fb.Cost
	tp.LastUpdated = fb.Timestamp
}

// adjustLocked recomputes adjustment factors from normalised performance:
// p = 0.3*latency + 0.3*cost + 0.4*success, mapped into the factor range and
// smoothed 70/30 against the previous factor.
func (aw *AdaptiveWeights) adjustLocked() {
	for _, d := range aw.dims {
		if d.TotalRequests < adjustMinSamples {
			continue
		}
		l := maxf(0, 1-d.AvgLatencyMs/10000)
		c := maxf(0, 1-d.AvgCost/0.1)
		s := d.SuccessRate
		p := 0.3*l + 0.3*c + 0.4*s

		target := aw.cfg.MinAdjustment + p*(aw.cfg.MaxAdjustment-aw.cfg.MinAdjustment)
		factor := 0.7*d.AdjustmentFactor + 0.3*target
		if factor < aw.cfg.MinAdjustment {
			factor = aw.cfg.MinAdjustment
		}
		if factor > aw.cfg.MaxAdjustment {
			factor = aw.cfg.MaxAdjustment
		}
		d.AdjustmentFactor = factor
		d.CurrentWeight = d.BaseWeight * factor
	}
	aw.logger.Debug("adjusted dimension weights", "feedbacks", aw.feedbackCount)
}

func resolveSignal(signal string) (string, bool) {
	for prefix, name := range signalDimensions {
		if strings.HasPrefix(signal, prefix) {
			return name, true
		}
	}
	return "", false
}

// AllWeights returns the current weight for every dimension.
func (aw *AdaptiveWeights) AllWeights() map[string]float64 {
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	out := make(map[string]float64, len(aw.dims))
	for name, d := range aw.dims {
		out[name] = d.CurrentWeight
	}
	return out
}

// MeanWeight is the scalar the engine multiplies into the raw weighted score.
func (aw *AdaptiveWeights) MeanWeight() float64 {
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	if len(aw.dims) == 0 {
		return 1.0
	}
	var sum float64
	for _, d := range aw.dims {
		sum += d.CurrentWeight
	}
	return sum / float64(len(aw.dims))
}

// AdaptiveStats is a read-only snapshot for dashboards.
type AdaptiveStats struct {
	FeedbackCount int64                           `json:"feedbackCount"`
	MeanWeight    float64                         `json:"meanWeight"`
	Dimensions    map[string]DimensionPerformance `json:"dimensions"`
	Tiers         map[string]TierPerformance      `json:"tiers"`
}

// Stats returns a deep-copied snapshot.
func (aw *AdaptiveWeights) Stats() AdaptiveStats {
	aw.mu.RLock()
	defer aw.mu.RUnlock()

	s := AdaptiveStats{
		FeedbackCount: aw.feedbackCount,
		Dimensions:    make(map[string]DimensionPerformance, len(aw.dims)),
		Tiers:         make(map[string]TierPerformance, len(aw.tiers)),
	}
	var sum float64
	for name, d := range aw.dims {
		s.Dimensions[name] = *d
		sum += d.CurrentWeight
	}
	if len(aw.dims) > 0 {
		s.MeanWeight = sum / float64(len(aw.dims))
	}
	for tier, tp := range aw.tiers {
		s.Tiers[tier.String()] = *tp
	}
	return s
}

// RecentFeedback returns a copy of the bounded recent feedback buffer.
func (aw *AdaptiveWeights) RecentFeedback() []Feedback {
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	out := make([]Feedback, len(aw.recent))
	copy(out, aw.recent)
	return out
}

// Reset restores every dimension to factor 1.0 and clears all counters.
func (aw *AdaptiveWeights) Reset() {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	aw.dims = make(map[string]*DimensionPerformance, len(AllDimensions))
	for _, name := range AllDimensions {
		aw.dims[name] = newDimensionPerformance(name)
	}
	aw.tiers = make(map[Tier]*TierPerformance, 4)
	aw.recent = nil
	aw.feedbackCount = 0
}
