package router

import (
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
)

// fuzzyWidth is the half-width of the fuzzy region around each tier
// boundary. Scores inside the region keep the previously observed tier, and
// leaving a tier requires crossing the boundary by at least this margin.
const fuzzyWidth = 0.05

const (
	historyMaxEntries  = 1000
	historyTTL         = 5 * time.Minute
	historyCleanupOdds = 100 // 1-in-100 chance of a sweep per classify call
)

// Multi-step detection patterns (EN + CJK).
var multiStepPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d+\.\s`),
	regexp.MustCompile(`\b\d+\)\s`),
	regexp.MustCompile(`(?i)\bstep\s*\d`),
	regexp.MustCompile(`(?i)\bfirst\b.*\bthen\b`),
	regexp.MustCompile(`(?i)\bfinally\b`),
	regexp.MustCompile(`第\d+步`),
	regexp.MustCompile(`步骤`),
}

var cjkHowWords = []string{"怎么", "如何", "怎样"}

// Classifier scores prompts across 15 lexical dimensions and maps the
// weighted score to a tier with Schmitt-trigger hysteresis keyed by
// fingerprint. It is deterministic, synchronous, and performs no I/O.
type Classifier struct {
	cfg    ScoringConfig
	ks     *KeywordSet
	logger *slog.Logger

	mu      sync.Mutex
	history map[string]*historyEntry
}

type historyEntry struct {
	tier  Tier
	score float64
	seen  time.Time
}

// NewClassifier validates the config and builds a classifier.
func NewClassifier(cfg ScoringConfig, logger *slog.Logger) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		cfg:     cfg,
		ks:      cfg.keywords(),
		logger:  logger.With("component", "classifier"),
		history: make(map[string]*historyEntry),
	}, nil
}

// Reset clears the hysteresis history.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = make(map[string]*historyEntry)
}

// Classify scores the prompt and returns the full result. fingerprint may be
// empty, which disables hysteresis for this call.
func (c *Classifier) Classify(prompt, system string, estimatedTokens int, fingerprint string) ScoringResult {
	lowerUser := strings.ToLower(prompt)
	lowerFull := lowerUser
	if system != "" {
		lowerFull = strings.ToLower(system) + " " + lowerUser
	}

	dims, agentic := c.scoreDimensions(lowerFull, lowerUser, estimatedTokens)

	var weighted float64
	var signals []string
	for _, d := range dims {
		weighted += d.Score * c.cfg.DimensionWeights[d.Name]
		if d.Signal != "" && d.Score != 0 {
			signals = append(signals, d.Signal)
		}
	}

	result := ScoringResult{
		WeightedScore: weighted,
		Signals:       signals,
		AgenticScore:  agentic,
		Dimensions:    dims,
	}

	// Reasoning override: two distinct reasoning keywords in the user prompt
	// force REASONING deterministically, bypassing boundaries and hysteresis.
	if n, _ := countMatches(lowerUser, c.ks.Reasoning); n >= 2 {
		result.Tier = TierReasoning
		conf := sigmoid(c.cfg.ConfidenceSteepness * maxf(weighted, 0.3))
		result.Confidence = maxf(conf, 0.85)
		c.remember(fingerprint, TierReasoning, weighted)
		return result
	}

	tier, distance, kept := c.applyHysteresis(fingerprint, weighted)
	result.Tier = tier
	result.Confidence = sigmoid(c.cfg.ConfidenceSteepness * distance)
	if kept {
		// A tier held by hysteresis is a deliberate decision, not an
		// ambiguous one.
		result.Confidence = maxf(result.Confidence, c.cfg.ConfidenceThreshold)
	}
	if result.Confidence < c.cfg.ConfidenceThreshold {
		result.Ambiguous = true
	}

	c.remember(fingerprint, tier, weighted)
	return result
}

// applyHysteresis maps the score to a tier, honouring the prior tier for this
// fingerprint inside the fuzzy region and requiring boundary crossings to
// exceed fuzzyWidth.
func (c *Classifier) applyHysteresis(fingerprint string, score float64) (Tier, float64, bool) {
	b := c.cfg.TierBoundaries
	natural := naturalTier(score, b)
	distance, _ := nearestBoundary(score, b)

	if fingerprint == "" {
		return natural, distance, false
	}

	c.mu.Lock()
	prior, ok := c.history[fingerprint]
	if ok && time.Since(prior.seen) > historyTTL {
		delete(c.history, fingerprint)
		ok = false
	}
	c.mu.Unlock()

	if !ok || prior.tier == natural {
		return natural, distance, false
	}

	// Inside the fuzzy region: keep the prior tier.
	if distance < fuzzyWidth {
		return prior.tier, fuzzyWidth, true
	}

	// Outside the fuzzy region: transition only if the score cleared the
	// boundary adjacent to the prior tier by at least fuzzyWidth.
	if natural.Rank() > prior.tier.Rank() {
		upper := b[prior.tier.Rank()] // boundary between prior and prior+1
		if score < upper+fuzzyWidth {
			return prior.tier, fuzzyWidth, true
		}
	} else {
		lower := b[prior.tier.Rank()-1] // boundary between prior-1 and prior
		if score > lower-fuzzyWidth {
			return prior.tier, fuzzyWidth, true
		}
	}
	return natural, distance, false
}

// remember records the decided tier and score for the fingerprint, with
// size-capped LRU-ish eviction and probabilistic TTL cleanup.
func (c *Classifier) remember(fingerprint string, tier Tier, score float64) {
	if fingerprint == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history[fingerprint] = &historyEntry{tier: tier, score: score, seen: time.Now()}

	if rand.Intn(historyCleanupOdds) == 0 {
		cutoff := time.Now().Add(-historyTTL)
		for fp, e := range c.history {
			if e.seen.Before(cutoff) {
				delete(c.history, fp)
			}
		}
	}

	if len(c.history) > historyMaxEntries {
		// Evict the oldest tenth to amortise the scan.
		type aged struct {
			fp   string
			seen time.Time
		}
		oldest := make([]aged, 0, len(c.history))
		for fp, e := range c.history {
			oldest = append(oldest, aged{fp, e.seen})
		}
		evict := len(oldest) / 10
		for i := 0; i < evict; i++ {
			victim := 0
			for j := range oldest {
				if oldest[j].seen.Before(oldest[victim].seen) {
					victim = j
				}
			}
			delete(c.history, oldest[victim].fp)
			oldest[victim].seen = time.Now().Add(time.Hour) // mark consumed
		}
	}
}

// HistorySize reports the current hysteresis history size.
func (c *Classifier) HistorySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// scoreDimensions evaluates all 15 dimensions. Keyword dimensions operate on
// the full lowercased "system + prompt" text, except reasoningMarkers and
// questionComplexity which look at the user prompt only — a system prompt
// saying "think step by step" must not force REASONING on a trivial question.
func (c *Classifier) scoreDimensions(lowerFull, lowerUser string, estimatedTokens int) ([]DimensionScore, float64) {
	ks := c.ks
	dims := make([]DimensionScore, 0, len(AllDimensions))

	code := thresholdDim(DimCodePresence, "code", lowerFull, ks.Code,
		[]cutoff{{2, 1.0}, {1, 0.5}})
	technical := thresholdDim(DimTechnicalTerms, "technical", lowerFull, ks.Technical,
		[]cutoff{{3, 1.0}, {2, 0.5}})

	// tokenCount. The short-prompt penalty does not apply when both code and
	// technical signals fired strongly: a one-line "build a React component
	// that ..." is short, not simple.
	tok := DimensionScore{Name: DimTokenCount}
	switch {
	case estimatedTokens < c.cfg.TokenCountThresholds[0]:
		if code.Score < 1 || technical.Score == 0 {
			tok.Score = -1
			tok.Signal = "token (short)"
		}
	case estimatedTokens > c.cfg.TokenCountThresholds[1]:
		tok.Score = 1
		tok.Signal = "token (long)"
	}
	dims = append(dims, tok)

	dims = append(dims, code)
	dims = append(dims, thresholdDim(DimReasoningMarkers, "reasoning", lowerUser, ks.Reasoning,
		[]cutoff{{2, 1.0}, {1, 0.7}}))
	dims = append(dims, technical)
	dims = append(dims, thresholdDim(DimCreativeMarkers, "creative", lowerFull, ks.Creative,
		[]cutoff{{2, 0.7}, {1, 0.5}}))

	// simpleIndicators: any match suppresses
	if n, matched := countMatches(lowerFull, ks.Simple); n >= 1 {
		dims = append(dims, DimensionScore{
			Name: DimSimpleIndicators, Score: -1.0,
			Signal: signalFor("simple", matched),
		})
	} else {
		dims = append(dims, DimensionScore{Name: DimSimpleIndicators})
	}

	// multiStepPatterns: any of the patterns
	ms := DimensionScore{Name: DimMultiStepPatterns}
	for _, re := range multiStepPatterns {
		if re.MatchString(lowerFull) {
			ms.Score = 0.5
			ms.Signal = "multi-step (pattern)"
			break
		}
	}
	dims = append(dims, ms)

	// questionComplexity: user prompt only
	qc := DimensionScore{Name: DimQuestionComplexity}
	qmarks := strings.Count(lowerUser, "?") + strings.Count(lowerUser, "？")
	if qmarks > 3 {
		qc.Score = 0.5
		qc.Signal = fmt.Sprintf("question (%d marks)", qmarks)
	} else if qmarks == 0 {
		cjk := 0
		for _, w := range cjkHowWords {
			cjk += strings.Count(lowerUser, w)
		}
		if cjk >= 2 {
			qc.Score = 0.5
			qc.Signal = "question (cjk-how)"
		}
	}
	dims = append(dims, qc)

	dims = append(dims, thresholdDim(DimImperativeVerbs, "imperative", lowerFull, ks.Imperative,
		[]cutoff{{2, 0.5}, {1, 0.3}}))
	dims = append(dims, thresholdDim(DimConstraintCount, "constraint", lowerFull, ks.Constraint,
		[]cutoff{{3, 0.7}, {1, 0.3}}))
	dims = append(dims, thresholdDim(DimOutputFormat, "output", lowerFull, ks.OutputFormat,
		[]cutoff{{2, 0.7}, {1, 0.4}}))
	dims = append(dims, thresholdDim(DimReferenceComplexity, "reference", lowerFull, ks.Reference,
		[]cutoff{{2, 0.5}, {1, 0.3}}))
	dims = append(dims, thresholdDim(DimNegationComplexity, "negation", lowerFull, ks.Negation,
		[]cutoff{{3, 0.5}, {2, 0.3}}))
	dims = append(dims, thresholdDim(DimDomainSpecificity, "domain", lowerFull, ks.Domain,
		[]cutoff{{2, 0.8}, {1, 0.5}}))

	ag := thresholdDim(DimAgenticTask, "agentic", lowerFull, ks.Agentic,
		[]cutoff{{4, 1.0}, {3, 0.6}, {1, 0.2}})
	dims = append(dims, ag)

	return dims, ag.Score
}

// cutoff maps a minimum distinct-keyword count to a dimension score.
type cutoff struct {
	min   int
	score float64
}

func thresholdDim(name, prefix, lower string, keywords []string, cutoffs []cutoff) DimensionScore {
	n, matched := countMatches(lower, keywords)
	d := DimensionScore{Name: name}
	for _, c := range cutoffs {
		if n >= c.min {
			d.Score = c.score
			d.Signal = signalFor(prefix, matched)
			break
		}
	}
	return d
}

// signalFor renders a signal like "code (function, class)". The prefix is
// what the adaptive weight manager resolves back to a dimension.
func signalFor(prefix string, matched []string) string {
	if len(matched) == 0 {
		return prefix
	}
	return prefix + " (" + strings.Join(matched, ", ") + ")"
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
