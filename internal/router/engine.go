package router

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// reStructuredOutput detects a structured-output request in the system
// prompt.
var reStructuredOutput = regexp.MustCompile(`(?i)json|structured|schema`)

// agenticTableThreshold is the agentic score at which the agentic tier table
// takes over even without an explicit flag.
const agenticTableThreshold = 0.75

// RouteRequest is one request to be routed.
type RouteRequest struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"systemPrompt,omitempty"`

	// SessionID pins follow-up requests of a conversation to one model.
	SessionID string `json:"sessionId,omitempty"`

	// AgenticMode marks requests that carry tool definitions.
	AgenticMode bool `json:"agenticMode,omitempty"`
}

// RoutingDecision is the engine's answer: which model to call and why.
type RoutingDecision struct {
	ID              string    `json:"id"`
	Tier            Tier      `json:"tier"`
	Model           string    `json:"model"`
	Confidence      float64   `json:"confidence"`
	Reasoning       string    `json:"reasoning"`
	Fingerprint     string    `json:"fingerprint"`
	Signals         []string  `json:"signals,omitempty"`
	AgenticScore    float64   `json:"agenticScore"`
	EstimatedTokens int       `json:"estimatedTokens"`
	SessionID       string    `json:"sessionId,omitempty"`
	CacheHit        bool      `json:"cacheHit"`
	HealthOverride  bool      `json:"healthOverride"`
	SessionPinned   bool      `json:"sessionPinned"`
	Ambiguous       bool      `json:"ambiguous"`
	Timestamp       time.Time `json:"timestamp"`
	DurationUs      int64     `json:"durationUs"`
}

// Observed is the upstream outcome of a routed request, fed back into the
// engine for adaptation.
type Observed struct {
	Success      bool
	LatencyMs    int64
	Cost         float64
	InputTokens  int
	OutputTokens int

	// Err classifies the failure when ErrorKind is empty.
	Err       error
	ErrorKind string
}

// Engine composes the classifier, score cache, adaptive weights, health
// tracker and session store into the routing pipeline.
type Engine struct {
	cfg        Config
	classifier *Classifier
	cache      *ScoreCache
	adaptive   *AdaptiveWeights
	health     *HealthTracker
	sessions   *SessionStore
	savings    *CostSavings
	logger     *slog.Logger
}

// NewEngine builds an engine from a validated config. A nil pricer falls back
// to the built-in price table.
func NewEngine(cfg Config, pricer Pricer, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	classifier, err := NewClassifier(cfg.Scoring, logger)
	if err != nil {
		return nil, err
	}
	health := NewHealthTracker(cfg.Health, logger)

	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		cache:      NewScoreCache(cfg.Cache.MaxSize, cfg.Cache.TTL, logger),
		adaptive:   NewAdaptiveWeights(cfg.Adaptive, logger),
		health:     health,
		sessions:   NewSessionStore(cfg.Session, health, cfg.candidatesByTier(), logger),
		savings:    NewCostSavings(pricer, cfg.Tiers[TierComplex].Primary),
		logger:     logger.With("component", "routing-engine"),
	}, nil
}

// estimateTokens approximates input size at four characters per token,
// counting both prompts. Characters are runes, the same unit the
// fingerprinter's length feature uses, so CJK input is not over-counted.
func estimateTokens(prompt, system string) int {
	chars := utf8.RuneCountInString(prompt)
	if system != "" {
		chars += utf8.RuneCountInString(system) + 1
	}
	return (chars + 3) / 4
}

// Route classifies the request and selects a model. It never fails: every
// request gets a tier, a model and a reasoning string.
func (e *Engine) Route(req RouteRequest) RoutingDecision {
	start := time.Now()

	fp := Fingerprint(req.Prompt, req.SystemPrompt)
	est := estimateTokens(req.Prompt, req.SystemPrompt)

	var cached *CachedScore
	if e.cfg.EnableCache {
		cached = e.cache.Get(fp)
	}

	result := e.classifier.Classify(req.Prompt, req.SystemPrompt, est, fp)

	adjusted := result.WeightedScore
	if e.cfg.EnableAdaptive {
		adjusted *= e.adaptive.MeanWeight()
	}
	if e.cfg.EnableCache {
		e.cache.Set(fp, result, e.cfg.Scoring.TierBoundaries, adjusted)
	}

	tier := result.Tier
	confidence := result.Confidence
	reasons := []string{fmt.Sprintf("classified %s (score %.3f)", result.Tier, adjusted)}

	if est > e.cfg.Overrides.MaxTokensForceComplex {
		tier = TierComplex
		confidence = 0.95
		reasons = append(reasons, fmt.Sprintf("Input exceeds %d tokens", e.cfg.Overrides.MaxTokensForceComplex))
	} else {
		if result.Ambiguous {
			if cached != nil {
				tier = cached.Result.Tier
				confidence = maxf(cached.Result.Confidence, e.cfg.Scoring.ConfidenceThreshold)
				reasons = append(reasons, "low confidence, reusing cached tier")
			} else {
				tier = e.cfg.Overrides.AmbiguousDefaultTier
				confidence = 0.5
				reasons = append(reasons, "ambiguous classification, using default tier")
			}
		}
		if req.SystemPrompt != "" && reStructuredOutput.MatchString(req.SystemPrompt) &&
			tier.Rank() < e.cfg.Overrides.StructuredOutputMinTier.Rank() {
			tier = e.cfg.Overrides.StructuredOutputMinTier
			reasons = append(reasons, "structured output requested")
		}
		if e.cfg.EnableCache && e.cache.ShouldUseCachedTier(cached, adjusted, tier) {
			tier = cached.Result.Tier
			confidence = maxf(cached.Result.Confidence, e.cfg.Scoring.ConfidenceThreshold)
			reasons = append(reasons, "score near boundary, keeping cached tier")
		}
	}

	table := e.cfg.Tiers
	if (e.cfg.Overrides.AgenticMode || req.AgenticMode || result.AgenticScore >= agenticTableThreshold) &&
		len(e.cfg.AgenticTiers) > 0 {
		table = e.cfg.AgenticTiers
		reasons = append(reasons, "agentic routing table")
	}
	tm, ok := table[tier]
	if !ok || tm.Primary == "" {
		tm = e.cfg.Tiers[tier]
	}

	model := tm.Primary
	healthOverride := false
	if e.cfg.EnableHealthTracking {
		// An empty result means every candidate is down; the primary is
		// still returned so the request can fail upstream with a real error.
		if best, found := e.health.BestModel(tier, tm.Candidates()); found && best != model {
			model = best
			healthOverride = true
			reasons = append(reasons, fmt.Sprintf("health override: %s unavailable, using %s", tm.Primary, best))
		}
	}

	sessionPinned := false
	if req.SessionID != "" {
		if sess, found := e.sessions.Get(req.SessionID); found {
			pinnable := !sess.Degradation.IsDegraded &&
				(!e.cfg.EnableHealthTracking || e.health.IsAvailable(sess.Model))
			if pinnable {
				model = sess.Model
				tier = sess.Tier
				sessionPinned = true
				reasons = append(reasons, fmt.Sprintf("session pinned to %s", sess.Model))
			}
		}
		e.sessions.Set(req.SessionID, model, tier)
		e.sessions.Touch(req.SessionID)
	}

	e.savings.Track(tier, model, est)

	decision := RoutingDecision{
		ID:              uuid.NewString(),
		Tier:            tier,
		Model:           model,
		Confidence:      confidence,
		Reasoning:       strings.Join(reasons, "; "),
		Fingerprint:     fp,
		Signals:         result.Signals,
		AgenticScore:    result.AgenticScore,
		EstimatedTokens: est,
		SessionID:       req.SessionID,
		CacheHit:        cached != nil,
		HealthOverride:  healthOverride,
		SessionPinned:   sessionPinned,
		Ambiguous:       result.Ambiguous,
		Timestamp:       start,
		DurationUs:      time.Since(start).Microseconds(),
	}

	e.logger.Debug("routing decision",
		"id", decision.ID,
		"tier", tier.String(),
		"model", model,
		"confidence", fmt.Sprintf("%.3f", confidence),
		"score", fmt.Sprintf("%.3f", adjusted),
		"cache_hit", decision.CacheHit,
		"session_pinned", sessionPinned,
		"duration_us", decision.DurationUs,
	)
	return decision
}

// RecordFeedback fans an observed outcome out to the adaptive weights, the
// health tracker and the session store.
func (e *Engine) RecordFeedback(decision RoutingDecision, obs Observed) {
	kind := obs.ErrorKind
	if kind == "" && obs.Err != nil {
		kind = ClassifyError(obs.Err)
	}

	if e.cfg.EnableAdaptive {
		e.adaptive.RecordFeedback(Feedback{
			DimensionSignals: decision.Signals,
			Tier:             decision.Tier,
			LatencyMs:        obs.LatencyMs,
			Cost:             obs.Cost,
			Success:          obs.Success,
			ErrorKind:        kind,
			InputTokens:      obs.InputTokens,
			OutputTokens:     obs.OutputTokens,
			Timestamp:        time.Now(),
		})
	}
	if e.cfg.EnableHealthTracking {
		e.health.Record(decision.Model, decision.Tier, obs.Success, obs.LatencyMs, kind)
	}
	if decision.SessionID != "" {
		msg := ""
		if obs.Err != nil {
			msg = obs.Err.Error()
		}
		e.sessions.RecordResult(decision.SessionID, SessionResult{
			Success:      obs.Success,
			LatencyMs:    obs.LatencyMs,
			Cost:         obs.Cost,
			InputTokens:  obs.InputTokens,
			OutputTokens: obs.OutputTokens,
			ErrorKind:    kind,
			ErrorMessage: msg,
		})
		e.sessions.UpdateContext(decision.SessionID,
			nil, "",
			float64(decision.Tier.Rank())/3.0,
			decision.AgenticScore >= agenticTableThreshold,
			nil,
			obs.OutputTokens*4, // back to characters
		)
	}
}

// Maintain runs the periodic housekeeping: expired cache entries, idle
// sessions and stale classifier history. Returns counts for logging.
func (e *Engine) Maintain() (cacheRemoved, sessionsRemoved int) {
	cacheRemoved = e.cache.Cleanup()
	sessionsRemoved = e.sessions.Sweep()
	return cacheRemoved, sessionsRemoved
}

// EngineStats aggregates every subsystem snapshot.
type EngineStats struct {
	Cache    CacheStats    `json:"cache"`
	Adaptive AdaptiveStats `json:"adaptive"`
	Health   HealthStats   `json:"health"`
	Sessions SessionStats  `json:"sessions"`
	Savings  SavingsStats  `json:"savings"`
}

// Stats returns a snapshot of all subsystems.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Cache:    e.cache.Stats(),
		Adaptive: e.adaptive.Stats(),
		Health:   e.health.Stats(),
		Sessions: e.sessions.Stats(),
		Savings:  e.savings.Snapshot(),
	}
}

// SavingsReport renders the cost report for the CLI and TUI.
func (e *Engine) SavingsReport() string {
	return e.savings.Report(e.cfg.Tiers)
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Health exposes the health tracker for status endpoints.
func (e *Engine) Health() *HealthTracker { return e.health }

// Sessions exposes the session store for status endpoints.
func (e *Engine) Sessions() *SessionStore { return e.sessions }

// Adaptive exposes the adaptive weight manager for status endpoints.
func (e *Engine) Adaptive() *AdaptiveWeights { return e.adaptive }
