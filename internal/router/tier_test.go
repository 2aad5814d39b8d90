package router

import (
	"encoding/json"
	"testing"
)

func TestNaturalTier(t *testing.T) {
	boundaries := [3]float64{0.0, 0.18, 0.40}

	tests := []struct {
		score float64
		want  Tier
	}{
		{-0.5, TierSimple},
		{-0.001, TierSimple},
		{0.0, TierMedium}, // boundaries are half-open: [b0, b1)
		{0.17, TierMedium},
		{0.18, TierComplex},
		{0.39, TierComplex},
		{0.40, TierReasoning},
		{1.5, TierReasoning},
	}
	for _, tt := range tests {
		if got := naturalTier(tt.score, boundaries); got != tt.want {
			t.Errorf("naturalTier(%.3f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestNearestBoundary(t *testing.T) {
	boundaries := [3]float64{0.0, 0.18, 0.40}

	d, name := nearestBoundary(0.20, boundaries)
	if name != "medium-complex" {
		t.Errorf("expected medium-complex, got %s", name)
	}
	if d < 0.019 || d > 0.021 {
		t.Errorf("expected distance 0.02, got %.4f", d)
	}

	d, name = nearestBoundary(-0.3, boundaries)
	if name != "simple-medium" {
		t.Errorf("expected simple-medium, got %s", name)
	}
	if d < 0.29 || d > 0.31 {
		t.Errorf("expected distance 0.3, got %.4f", d)
	}
}

func TestParseTier(t *testing.T) {
	if ParseTier("REASONING") != TierReasoning {
		t.Error("expected REASONING to parse")
	}
	if ParseTier("simple") != TierSimple {
		t.Error("expected lowercase simple to parse")
	}
	// Unknown names land in the middle, never at an extreme.
	if ParseTier("bogus") != TierMedium {
		t.Error("expected unknown tier name to map to MEDIUM")
	}
}

func TestTierJSON(t *testing.T) {
	data, err := json.Marshal(TierComplex)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"COMPLEX"` {
		t.Errorf("expected \"COMPLEX\", got %s", data)
	}

	var tier Tier
	if err := json.Unmarshal([]byte(`"REASONING"`), &tier); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tier != TierReasoning {
		t.Errorf("expected TierReasoning, got %s", tier)
	}

	// Legacy integer form still decodes.
	if err := json.Unmarshal([]byte(`2`), &tier); err != nil {
		t.Fatalf("unmarshal int: %v", err)
	}
	if tier != TierComplex {
		t.Errorf("expected TierComplex from 2, got %s", tier)
	}
}

func TestTierOrdering(t *testing.T) {
	tiers := AllTiers()
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Rank() <= tiers[i-1].Rank() {
			t.Fatalf("tiers out of order: %s before %s", tiers[i-1], tiers[i])
		}
	}
}
