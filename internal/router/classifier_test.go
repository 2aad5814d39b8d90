package router

import (
	"log/slog"
	"os"
	"strings"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(DefaultScoringConfig(), newTestLogger())
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return c
}

func classify(c *Classifier, prompt, system string) ScoringResult {
	return c.Classify(prompt, system, estimateTokens(prompt, system), Fingerprint(prompt, system))
}

func TestNewClassifierRejectsBadConfig(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.TierBoundaries = [3]float64{0.4, 0.18, 0.0}
	if _, err := NewClassifier(cfg, newTestLogger()); err == nil {
		t.Fatal("expected error for non-increasing boundaries")
	}

	cfg = DefaultScoringConfig()
	cfg.DimensionWeights = map[string]float64{DimCodePresence: -1}
	if _, err := NewClassifier(cfg, newTestLogger()); err == nil {
		t.Fatal("expected error for non-positive weight sum")
	}
}

func TestClassifySimpleGreeting(t *testing.T) {
	c := newTestClassifier(t)

	result := classify(c, "hello", "")
	if result.Tier != TierSimple {
		t.Errorf("expected SIMPLE for greeting, got %s (score=%.3f)", result.Tier, result.WeightedScore)
	}
	if result.Ambiguous {
		t.Errorf("expected unambiguous greeting, confidence=%.3f", result.Confidence)
	}
}

func TestClassifySimpleFactual(t *testing.T) {
	c := newTestClassifier(t)

	result := classify(c, "What is the capital of France?", "")
	if result.Tier != TierSimple {
		t.Errorf("expected SIMPLE, got %s (score=%.3f)", result.Tier, result.WeightedScore)
	}
}

func TestClassifyReasoningOverride(t *testing.T) {
	c := newTestClassifier(t)

	// Two distinct reasoning keywords force REASONING regardless of the
	// weighted score.
	result := classify(c, "Prove by induction that the sum of the first n odd numbers is n squared.", "")
	if result.Tier != TierReasoning {
		t.Fatalf("expected REASONING, got %s (score=%.3f)", result.Tier, result.WeightedScore)
	}
	if result.Confidence < 0.85 {
		t.Errorf("expected confidence >= 0.85 on reasoning override, got %.3f", result.Confidence)
	}
	if result.Ambiguous {
		t.Error("reasoning override must not be ambiguous")
	}
}

func TestClassifyReasoningIgnoresSystemPrompt(t *testing.T) {
	c := newTestClassifier(t)

	// Reasoning markers in the system prompt alone must not force REASONING
	// on a trivial question.
	result := classify(c, "hello", "Think step by step and prove your answer rigorously.")
	if result.Tier == TierReasoning {
		t.Errorf("system-prompt reasoning markers must not force REASONING, got %s", result.Tier)
	}
}

func TestClassifyComplexPrompt(t *testing.T) {
	c := newTestClassifier(t)

	prompt := "Refactor this Python function to use the new caching algorithm across the request path. " +
		"First profile the hot path, then optimize the database queries for lower latency. " +
		"1. Measure baseline latency 2. Apply the cache. Must keep the p95 stable during rollout."
	result := classify(c, prompt, "")
	if result.Tier != TierComplex {
		t.Errorf("expected COMPLEX, got %s (score=%.3f)", result.Tier, result.WeightedScore)
		for _, d := range result.Dimensions {
			if d.Score != 0 {
				t.Logf("  %s: %.2f (%s)", d.Name, d.Score, d.Signal)
			}
		}
	}
	if result.Ambiguous {
		t.Errorf("expected confident COMPLEX, confidence=%.3f", result.Confidence)
	}
}

func TestClassifyShortCodePromptNotPenalized(t *testing.T) {
	c := newTestClassifier(t)

	// Under 50 estimated tokens, but dense with code and technical terms: the
	// short-prompt penalty must stay out and the tier must reach COMPLEX.
	prompt := "Build a React component that virtualizes a 10k-row table with keyboard navigation and accessible labels."
	result := classify(c, prompt, "")
	for _, d := range result.Dimensions {
		if d.Name == DimTokenCount && d.Score != 0 {
			t.Errorf("expected no token penalty, got %.2f (%s)", d.Score, d.Signal)
		}
	}
	if result.Tier != TierComplex {
		t.Errorf("expected COMPLEX, got %s (score=%.3f)", result.Tier, result.WeightedScore)
	}
	if result.Ambiguous {
		t.Errorf("expected confident result, confidence=%.3f", result.Confidence)
	}

	// A short code prompt without technical depth keeps the penalty.
	result = classify(c, "Debug this Python function and refactor the algorithm.", "")
	found := false
	for _, d := range result.Dimensions {
		if d.Name == DimTokenCount && d.Score == -1 {
			found = true
		}
	}
	if !found {
		t.Error("expected short-prompt penalty for plain code prompt")
	}
}

func TestClassifyAmbiguous(t *testing.T) {
	c := newTestClassifier(t)

	// A bare greeting with a structured-output system prompt scores close to
	// the simple-medium boundary.
	result := classify(c, "hi", "Respond with a valid JSON schema.")
	if !result.Ambiguous {
		t.Errorf("expected ambiguous result, got confidence %.3f (score=%.3f)",
			result.Confidence, result.WeightedScore)
	}
}

func TestClassifySignals(t *testing.T) {
	c := newTestClassifier(t)

	result := classify(c, "Debug this Python function and refactor the algorithm.", "")
	found := false
	for _, s := range result.Signals {
		if strings.HasPrefix(s, "code") {
			found = true
			if !strings.Contains(s, "(") {
				t.Errorf("expected matched keywords in signal, got %q", s)
			}
		}
	}
	if !found {
		t.Errorf("expected a code signal, got %v", result.Signals)
	}
}

func TestClassifyAgenticScore(t *testing.T) {
	c := newTestClassifier(t)

	result := classify(c, "Fetch the page, download the assets, install the package, then deploy and monitor the service.", "")
	if result.AgenticScore < 1.0 {
		t.Errorf("expected agentic score 1.0 for four or more agentic markers, got %.2f", result.AgenticScore)
	}

	result = classify(c, "hello", "")
	if result.AgenticScore != 0 {
		t.Errorf("expected zero agentic score for greeting, got %.2f", result.AgenticScore)
	}
}

func TestClassifyTokenCountDimension(t *testing.T) {
	c := newTestClassifier(t)

	// A long but lexically empty prompt gains only the token dimension.
	long := strings.Repeat("lorem ipsum dolor sit amet ", 100)
	result := classify(c, long, "")
	var tokenScore float64
	for _, d := range result.Dimensions {
		if d.Name == DimTokenCount {
			tokenScore = d.Score
		}
	}
	if tokenScore != 1 {
		t.Errorf("expected token score 1 for long prompt, got %.2f", tokenScore)
	}
}

func TestHysteresisKeepsTierInFuzzyRegion(t *testing.T) {
	c := newTestClassifier(t)

	fp := "TEST|digest|"
	c.remember(fp, TierComplex, 0.19)

	// 0.16 is naturally MEDIUM but within fuzzyWidth of the 0.18 boundary:
	// the prior COMPLEX survives.
	tier, _, kept := c.applyHysteresis(fp, 0.16)
	if tier != TierComplex || !kept {
		t.Errorf("expected COMPLEX kept in fuzzy region, got %s (kept=%v)", tier, kept)
	}

	// 0.10 clears the boundary by more than fuzzyWidth: transition.
	tier, _, kept = c.applyHysteresis(fp, 0.10)
	if tier != TierMedium || kept {
		t.Errorf("expected transition to MEDIUM, got %s (kept=%v)", tier, kept)
	}
}

func TestHysteresisRequiresClearCrossing(t *testing.T) {
	c := newTestClassifier(t)

	fp := "TEST|digest|"
	c.remember(fp, TierMedium, 0.15)

	// 0.21 is naturally COMPLEX but does not clear 0.18 by fuzzyWidth.
	tier, _, kept := c.applyHysteresis(fp, 0.21)
	if tier != TierMedium || !kept {
		t.Errorf("expected MEDIUM held below crossing margin, got %s (kept=%v)", tier, kept)
	}

	// 0.24 clears it.
	tier, _, _ = c.applyHysteresis(fp, 0.24)
	if tier != TierComplex {
		t.Errorf("expected COMPLEX after clear crossing, got %s", tier)
	}
}

func TestHysteresisNotAmbiguous(t *testing.T) {
	c := newTestClassifier(t)

	// Classify the same fingerprint twice with the prompt sitting right at a
	// boundary; the second result must be held by hysteresis without being
	// flagged ambiguous.
	prompt := "hi"
	system := "Respond with a valid JSON schema."
	fp := Fingerprint(prompt, system)

	first := c.Classify(prompt, system, estimateTokens(prompt, system), fp)
	second := c.Classify(prompt, system, estimateTokens(prompt, system), fp)
	if second.Tier != first.Tier {
		t.Errorf("expected stable tier across identical calls, got %s then %s", first.Tier, second.Tier)
	}
}

func TestClassifierHistoryBounded(t *testing.T) {
	c := newTestClassifier(t)

	for i := 0; i < historyMaxEntries+200; i++ {
		c.remember(Fingerprint(strings.Repeat("x", i%97)+string(rune('a'+i%26)), ""), TierSimple, 0)
	}
	if size := c.HistorySize(); size > historyMaxEntries {
		t.Errorf("history exceeded cap: %d > %d", size, historyMaxEntries)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := newTestClassifier(t)

	prompt := "Summarize the architecture document and list the open questions."
	a := classify(c, prompt, "")
	b := classify(c, prompt, "")
	if a.WeightedScore != b.WeightedScore || a.Tier != b.Tier {
		t.Errorf("classification not deterministic: %+v vs %+v", a, b)
	}
}

func BenchmarkClassify(b *testing.B) {
	c, err := NewClassifier(DefaultScoringConfig(), newTestLogger())
	if err != nil {
		b.Fatal(err)
	}
	prompt := "Design a caching layer for the API gateway. Must handle 10k requests per second. " +
		"First measure the baseline, then implement the LRU eviction and report p95 latency."
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Classify(prompt, "", 60, "")
	}
}
