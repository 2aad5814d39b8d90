package router

import (
	"testing"
)

func goodFeedback(signals []string) Feedback {
	return Feedback{
		DimensionSignals: signals,
		Tier:             TierMedium,
		LatencyMs:        100,
		Cost:             0.001,
		Success:          true,
	}
}

func badFeedback(signals []string) Feedback {
	return Feedback{
		DimensionSignals: signals,
		Tier:             TierMedium,
		LatencyMs:        20000,
		Cost:             1.0,
		Success:          false,
		ErrorKind:        ErrKindTimeout,
	}
}

func TestAdaptiveWeightsStartNeutral(t *testing.T) {
	aw := NewAdaptiveWeights(DefaultAdaptiveConfig(), newTestLogger())

	for name, w := range aw.AllWeights() {
		if w != 1.0 {
			t.Errorf("dimension %s: expected initial weight 1.0, got %.3f", name, w)
		}
	}
	if aw.MeanWeight() != 1.0 {
		t.Errorf("expected initial mean weight 1.0, got %.3f", aw.MeanWeight())
	}
}

func TestAdaptiveWeightsRewardGoodOutcomes(t *testing.T) {
	aw := NewAdaptiveWeights(DefaultAdaptiveConfig(), newTestLogger())

	for i := 0; i < 20; i++ {
		aw.RecordFeedback(goodFeedback([]string{"code (function)"}))
	}

	w := aw.AllWeights()[DimCodePresence]
	if w <= 1.0 {
		t.Errorf("expected code weight above 1.0 after good outcomes, got %.3f", w)
	}
	if w > defaultMaxAdjustment {
		t.Errorf("weight exceeded max adjustment: %.3f", w)
	}
}

func TestAdaptiveWeightsPunishBadOutcomes(t *testing.T) {
	aw := NewAdaptiveWeights(DefaultAdaptiveConfig(), newTestLogger())

	for i := 0; i < 20; i++ {
		aw.RecordFeedback(badFeedback([]string{"reasoning (prove)"}))
	}

	w := aw.AllWeights()[DimReasoningMarkers]
	if w >= 1.0 {
		t.Errorf("expected reasoning weight below 1.0 after bad outcomes, got %.3f", w)
	}
	if w < defaultMinAdjustment {
		t.Errorf("weight fell below min adjustment: %.3f", w)
	}
}

func TestAdaptiveWeightsBounded(t *testing.T) {
	aw := NewAdaptiveWeights(DefaultAdaptiveConfig(), newTestLogger())

	// Hammer one dimension with extreme outcomes in both directions; factors
	// must stay inside [0.8, 1.2] throughout.
	for i := 0; i < 200; i++ {
		aw.RecordFeedback(goodFeedback([]string{"technical (database)"}))
	}
	for i := 0; i < 200; i++ {
		aw.RecordFeedback(badFeedback([]string{"technical (database)"}))
	}

	for name, w := range aw.AllWeights() {
		if w < defaultMinAdjustment || w > defaultMaxAdjustment {
			t.Errorf("dimension %s: weight %.3f outside [%.1f, %.1f]",
				name, w, defaultMinAdjustment, defaultMaxAdjustment)
		}
	}
	mean := aw.MeanWeight()
	if mean < defaultMinAdjustment || mean > defaultMaxAdjustment {
		t.Errorf("mean weight %.3f outside bounds", mean)
	}
}

func TestAdaptiveWeightsIgnoreFewSamples(t *testing.T) {
	cfg := DefaultAdaptiveConfig()
	cfg.AdjustmentInterval = 2
	aw := NewAdaptiveWeights(cfg, newTestLogger())

	// Two samples are below the minimum for adjustment; the weight must not
	// move yet.
	aw.RecordFeedback(badFeedback([]string{"domain (quantum)"}))
	aw.RecordFeedback(badFeedback([]string{"domain (quantum)"}))

	if w := aw.AllWeights()[DimDomainSpecificity]; w != 1.0 {
		t.Errorf("expected weight unchanged below sample minimum, got %.3f", w)
	}
}

func TestResolveSignal(t *testing.T) {
	tests := []struct {
		signal string
		dim    string
	}{
		{"code (function, class)", DimCodePresence},
		{"reasoning (prove)", DimReasoningMarkers},
		{"reference (based on)", DimReferenceComplexity},
		{"token (short)", DimTokenCount},
		{"multi-step (pattern)", DimMultiStepPatterns},
		{"agentic (deploy)", DimAgenticTask},
	}
	for _, tt := range tests {
		name, ok := resolveSignal(tt.signal)
		if !ok || name != tt.dim {
			t.Errorf("resolveSignal(%q) = %q, want %q", tt.signal, name, tt.dim)
		}
	}
	if _, ok := resolveSignal("unknown signal"); ok {
		t.Error("expected unknown signal to resolve to nothing")
	}
}

func TestAdaptiveTierPerformance(t *testing.T) {
	aw := NewAdaptiveWeights(DefaultAdaptiveConfig(), newTestLogger())

	aw.RecordFeedback(goodFeedback(nil))
	aw.RecordFeedback(badFeedback(nil))

	stats := aw.Stats()
	tp, ok := stats.Tiers[TierMedium.String()]
	if !ok {
		t.Fatal("expected MEDIUM tier performance tracked")
	}
	if tp.Requests != 2 {
		t.Errorf("expected 2 requests, got %d", tp.Requests)
	}
	if tp.SuccessRate >= 1.0 || tp.SuccessRate <= 0.0 {
		t.Errorf("expected EMA success rate strictly between 0 and 1, got %.3f", tp.SuccessRate)
	}
}

func TestAdaptiveRecentFeedbackBounded(t *testing.T) {
	aw := NewAdaptiveWeights(DefaultAdaptiveConfig(), newTestLogger())
	for i := 0; i < recentFeedbackCap+50; i++ {
		aw.RecordFeedback(goodFeedback(nil))
	}
	if n := len(aw.RecentFeedback()); n != recentFeedbackCap {
		t.Errorf("expected recent buffer capped at %d, got %d", recentFeedbackCap, n)
	}
}

func TestAdaptiveReset(t *testing.T) {
	aw := NewAdaptiveWeights(DefaultAdaptiveConfig(), newTestLogger())
	for i := 0; i < 20; i++ {
		aw.RecordFeedback(goodFeedback([]string{"code (function)"}))
	}
	aw.Reset()

	if w := aw.AllWeights()[DimCodePresence]; w != 1.0 {
		t.Errorf("expected weight reset to 1.0, got %.3f", w)
	}
	if aw.Stats().FeedbackCount != 0 {
		t.Error("expected feedback count reset")
	}
}
