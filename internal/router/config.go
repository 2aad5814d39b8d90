package router

import (
	"fmt"
	"time"
)

// TierModels holds a tier's primary model and ordered fallbacks.
type TierModels struct {
	Primary   string   `json:"primary"`
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// Candidates returns primary plus fallbacks in selection order.
func (tm TierModels) Candidates() []string {
	out := make([]string, 0, 1+len(tm.Fallbacks))
	out = append(out, tm.Primary)
	out = append(out, tm.Fallbacks...)
	return out
}

// OverridesConfig holds the orchestrator's tier override knobs.
type OverridesConfig struct {
	// AmbiguousDefaultTier is substituted when classification confidence is
	// below threshold and no cached tier applies.
	AmbiguousDefaultTier Tier `json:"ambiguousDefaultTier"`

	// StructuredOutputMinTier is the floor applied when the system prompt
	// requests structured output.
	StructuredOutputMinTier Tier `json:"structuredOutputMinTier"`

	// MaxTokensForceComplex forces COMPLEX when the estimated input exceeds
	// this many tokens.
	MaxTokensForceComplex int `json:"maxTokensForceComplex"`

	// AgenticMode selects the agentic tier table for every request (the
	// front-end also raises it per request when tools are present).
	AgenticMode bool `json:"agenticMode"`
}

// DefaultOverridesConfig returns the defaults.
func DefaultOverridesConfig() OverridesConfig {
	return OverridesConfig{
		AmbiguousDefaultTier:    TierMedium,
		StructuredOutputMinTier: TierMedium,
		MaxTokensForceComplex:   100000,
	}
}

// CacheConfig tunes the score cache.
type CacheConfig struct {
	MaxSize int           `json:"maxSize"`
	TTL     time.Duration `json:"ttl"`
}

// Config is the routing core configuration.
type Config struct {
	Scoring   ScoringConfig       `json:"scoring"`
	Overrides OverridesConfig     `json:"overrides"`
	Tiers     map[Tier]TierModels `json:"tiers"`

	// AgenticTiers is an optional parallel table biased toward models that
	// sustain long tool chains. Empty means the default table is always
	// used.
	AgenticTiers map[Tier]TierModels `json:"agenticTiers,omitempty"`

	Cache    CacheConfig    `json:"cache"`
	Adaptive AdaptiveConfig `json:"adaptive"`
	Health   HealthConfig   `json:"health"`
	Session  SessionConfig  `json:"session"`

	EnableCache          bool `json:"enableCache"`
	EnableAdaptive       bool `json:"enableAdaptive"`
	EnableHealthTracking bool `json:"enableHealthTracking"`
}

// DefaultConfig returns the full default routing configuration.
func DefaultConfig() Config {
	return Config{
		Scoring:   DefaultScoringConfig(),
		Overrides: DefaultOverridesConfig(),
		Tiers: map[Tier]TierModels{
			TierSimple:    {Primary: "gemini-2.5-flash", Fallbacks: []string{"grok-code-fast-1"}},
			TierMedium:    {Primary: "grok-code-fast-1", Fallbacks: []string{"gemini-2.5-flash", "gemini-2.5-pro"}},
			TierComplex:   {Primary: "gemini-2.5-pro", Fallbacks: []string{"grok-4-fast-reasoning"}},
			TierReasoning: {Primary: "grok-4-fast-reasoning", Fallbacks: []string{"gemini-2.5-pro"}},
		},
		AgenticTiers: map[Tier]TierModels{
			TierSimple:    {Primary: "grok-code-fast-1", Fallbacks: []string{"gemini-2.5-flash"}},
			TierMedium:    {Primary: "grok-code-fast-1", Fallbacks: []string{"gemini-2.5-pro"}},
			TierComplex:   {Primary: "gemini-2.5-pro", Fallbacks: []string{"grok-4-fast-reasoning"}},
			TierReasoning: {Primary: "grok-4-fast-reasoning", Fallbacks: []string{"gemini-2.5-pro"}},
		},
		Cache:                CacheConfig{MaxSize: defaultCacheSize, TTL: defaultCacheTTL},
		Adaptive:             DefaultAdaptiveConfig(),
		Health:               DefaultHealthConfig(),
		Session:              DefaultSessionConfig(),
		EnableCache:          true,
		EnableAdaptive:       true,
		EnableHealthTracking: true,
	}
}

// Validate rejects malformed routing configuration at construction time.
func (c *Config) Validate() error {
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("router: tiers: table must not be empty")
	}
	for _, tier := range AllTiers() {
		tm, ok := c.Tiers[tier]
		if !ok || tm.Primary == "" {
			return fmt.Errorf("router: tiers[%s]: primary model required", tier)
		}
	}
	for tier, tm := range c.AgenticTiers {
		if tm.Primary == "" {
			return fmt.Errorf("router: agenticTiers[%s]: primary model required", tier)
		}
	}
	return nil
}

// candidatesByTier flattens the tier table for the session store.
func (c *Config) candidatesByTier() map[Tier][]string {
	out := make(map[Tier][]string, len(c.Tiers))
	for tier, tm := range c.Tiers {
		out[tier] = tm.Candidates()
	}
	return out
}
