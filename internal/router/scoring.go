package router

import (
	"fmt"
	"math"
)

// Dimension names — keys for weight config, adaptive adjustment, and signals.
const (
	DimTokenCount          = "tokenCount"
	DimCodePresence        = "codePresence"
	DimReasoningMarkers    = "reasoningMarkers"
	DimTechnicalTerms      = "technicalTerms"
	DimCreativeMarkers     = "creativeMarkers"
	DimSimpleIndicators    = "simpleIndicators"
	DimMultiStepPatterns   = "multiStepPatterns"
	DimQuestionComplexity  = "questionComplexity"
	DimImperativeVerbs     = "imperativeVerbs"
	DimConstraintCount     = "constraintCount"
	DimOutputFormat        = "outputFormat"
	DimReferenceComplexity = "referenceComplexity"
	DimNegationComplexity  = "negationComplexity"
	DimDomainSpecificity   = "domainSpecificity"
	DimAgenticTask         = "agenticTask"
)

// AllDimensions lists every dimension name in scoring order.
var AllDimensions = []string{
	DimTokenCount, DimCodePresence, DimReasoningMarkers, DimTechnicalTerms,
	DimCreativeMarkers, DimSimpleIndicators, DimMultiStepPatterns,
	DimQuestionComplexity, DimImperativeVerbs, DimConstraintCount,
	DimOutputFormat, DimReferenceComplexity, DimNegationComplexity,
	DimDomainSpecificity, DimAgenticTask,
}

// ScoringConfig drives the rule classifier.
type ScoringConfig struct {
	// DimensionWeights maps dimension name to weight. Weights should sum to
	// roughly 1.0; dimensions absent from the map contribute nothing.
	DimensionWeights map[string]float64 `json:"dimensionWeights"`

	// TierBoundaries are the (simple-medium, medium-complex,
	// complex-reasoning) score boundaries, strictly increasing.
	TierBoundaries [3]float64 `json:"tierBoundaries"`

	// TokenCountThresholds holds the (simple, complex) estimated-token
	// thresholds for the tokenCount dimension.
	TokenCountThresholds [2]int `json:"tokenCountThresholds"`

	// ConfidenceSteepness is the sigmoid steepness for confidence
	// calibration.
	ConfidenceSteepness float64 `json:"confidenceSteepness"`

	// ConfidenceThreshold is the minimum confidence below which a
	// classification is reported as ambiguous.
	ConfidenceThreshold float64 `json:"confidenceThreshold"`

	// Keywords holds the per-dimension keyword lists. Nil means the embedded
	// defaults.
	Keywords *KeywordSet `json:"-"`
}

// DefaultScoringConfig returns the tuned default scoring configuration.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		DimensionWeights: map[string]float64{
			DimTokenCount:          0.08,
			DimCodePresence:        0.15,
			DimReasoningMarkers:    0.18,
			DimTechnicalTerms:      0.10,
			DimCreativeMarkers:     0.05,
			DimSimpleIndicators:    0.02,
			DimMultiStepPatterns:   0.12,
			DimQuestionComplexity:  0.05,
			DimImperativeVerbs:     0.03,
			DimConstraintCount:     0.04,
			DimOutputFormat:        0.03,
			DimReferenceComplexity: 0.02,
			DimNegationComplexity:  0.01,
			DimDomainSpecificity:   0.02,
			DimAgenticTask:         0.04,
		},
		TierBoundaries:       [3]float64{0.0, 0.18, 0.40},
		TokenCountThresholds: [2]int{50, 500},
		ConfidenceSteepness:  12,
		ConfidenceThreshold:  0.7,
	}
}

// Validate rejects configurations that would make classification meaningless.
func (c *ScoringConfig) Validate() error {
	var sum float64
	for name, w := range c.DimensionWeights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("router: dimensionWeights[%s]: weight must be finite", name)
		}
		sum += w
	}
	if sum <= 0 {
		return fmt.Errorf("router: dimensionWeights: weights must sum to a positive number, got %.4f", sum)
	}
	if !(c.TierBoundaries[0] < c.TierBoundaries[1] && c.TierBoundaries[1] < c.TierBoundaries[2]) {
		return fmt.Errorf("router: tierBoundaries: must be strictly increasing, got %v", c.TierBoundaries)
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold >= 1 {
		return fmt.Errorf("router: confidenceThreshold: must be in (0, 1), got %.4f", c.ConfidenceThreshold)
	}
	if c.ConfidenceSteepness <= 0 {
		return fmt.Errorf("router: confidenceSteepness: must be positive, got %.4f", c.ConfidenceSteepness)
	}
	return nil
}

// keywords returns the configured keyword set, falling back to the embedded
// defaults.
func (c *ScoringConfig) keywords() *KeywordSet {
	if c.Keywords != nil {
		return c.Keywords
	}
	return DefaultKeywords()
}

// DimensionScore holds a single dimension's result.
type DimensionScore struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`            // in [-1, 1]
	Signal string  `json:"signal,omitempty"` // short human-readable evidence
}

// ScoringResult is the full classifier output.
type ScoringResult struct {
	WeightedScore float64          `json:"weightedScore"`
	Tier          Tier             `json:"tier"`
	Ambiguous     bool             `json:"ambiguous"` // confidence below threshold; tier is advisory
	Confidence    float64          `json:"confidence"`
	Signals       []string         `json:"signals"`
	AgenticScore  float64          `json:"agenticScore"` // one of 0, 0.2, 0.6, 1.0
	Dimensions    []DimensionScore `json:"dimensions,omitempty"`
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
