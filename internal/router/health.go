package router

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// ModelStatus is the health state of a model.
type ModelStatus string

const (
	StatusHealthy   ModelStatus = "healthy"
	StatusDegraded  ModelStatus = "degraded"
	StatusUnhealthy ModelStatus = "unhealthy"
	StatusCooldown  ModelStatus = "cooldown"
)

// Error kinds conveyed through feedback. Only a few alter policy: every
// failure counts toward consecutive errors, but auth and payment_required
// never trigger cooldown — they are not the model's fault.
const (
	ErrKindTimeout         = "timeout"
	ErrKindRateLimit       = "rate_limit"
	ErrKindServer5xx       = "server_5xx"
	ErrKindAuth            = "auth"
	ErrKindPaymentRequired = "payment_required"
	ErrKindCanceled        = "canceled"
	ErrKindOther           = "other"
)

const healthWindowSize = 100

// statusPriority orders statuses for best-model selection.
var statusPriority = map[ModelStatus]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusUnhealthy: 2,
	StatusCooldown:  3,
}

// ModelHealthRecord tracks one model's recent behaviour.
type ModelHealthRecord struct {
	Model              string         `json:"model"`
	Tier               Tier           `json:"tier"`
	Status             ModelStatus    `json:"status"`
	TotalRequests      int64          `json:"totalRequests"`
	SuccessfulRequests int64          `json:"successfulRequests"`
	SuccessRate        float64        `json:"successRate"`
	AvgLatencyMs       float64        `json:"avgLatencyMs"` // EMA, alpha 0.3
	P95LatencyMs       float64        `json:"p95LatencyMs"` // over the bounded window
	ConsecutiveErrors  int            `json:"consecutiveErrors"`
	ErrorTypes         map[string]int `json:"errorTypes"`
	CooldownUntil      time.Time      `json:"cooldownUntil,omitempty"`
	CooldownReason     string         `json:"cooldownReason,omitempty"`
	LastRequest        time.Time      `json:"lastRequest,omitempty"`
	LastSuccess        time.Time      `json:"lastSuccess,omitempty"`

	latencies []float64 // bounded window for p95
	outcomes  []bool    // bounded window for recovery checks
}

// HealthConfig tunes the tracker.
type HealthConfig struct {
	HealthyThreshold     float64       `json:"healthyThreshold"`
	DegradedThreshold    float64       `json:"degradedThreshold"`
	MaxConsecutiveErrors int           `json:"maxConsecutiveErrors"`
	CooldownDuration     time.Duration `json:"cooldownDuration"`
	LatencyThresholdMs   float64       `json:"latencyThresholdMs"`
	RecoveryThreshold    float64       `json:"recoveryThreshold"`
	RecoveryRequests     int           `json:"recoveryRequests"`
}

// DefaultHealthConfig returns the defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		HealthyThreshold:     0.95,
		DegradedThreshold:    0.80,
		MaxConsecutiveErrors: 3,
		CooldownDuration:     5 * time.Minute,
		LatencyThresholdMs:   30000,
		RecoveryThreshold:    0.90,
		RecoveryRequests:     5,
	}
}

// HealthTracker maintains per-model health records and answers availability
// and best-model queries for tier candidate sets.
type HealthTracker struct {
	cfg    HealthConfig
	logger *slog.Logger

	mu     sync.RWMutex
	models map[string]*ModelHealthRecord
	now    func() time.Time // overridable in tests
}

// NewHealthTracker creates a tracker.
func NewHealthTracker(cfg HealthConfig, logger *slog.Logger) *HealthTracker {
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg = DefaultHealthConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthTracker{
		cfg:    cfg,
		logger: logger.With("component", "health-tracker"),
		models: make(map[string]*ModelHealthRecord),
		now:    time.Now,
	}
}

// Record updates a model's record with one completed upstream call and
// recomputes its status.
func (ht *HealthTracker) Record(model string, tier Tier, success bool, latencyMs int64, errKind string) {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	now := ht.now()
	rec, ok := ht.models[model]
	if !ok {
		rec = &ModelHealthRecord{
			Model:      model,
			Tier:       tier,
			Status:     StatusHealthy,
			ErrorTypes: make(map[string]int),
		}
		ht.models[model] = rec
	}

	rec.TotalRequests++
	rec.LastRequest = now

	sample := float64(latencyMs)
	if rec.TotalRequests == 1 {
		rec.AvgLatencyMs = sample
	} else {
		rec.AvgLatencyMs = 0.7*rec.AvgLatencyMs + 0.3*sample
	}
	rec.latencies = appendBounded(rec.latencies, sample, healthWindowSize)
	rec.outcomes = appendBoundedBool(rec.outcomes, success, healthWindowSize)

	if success {
		rec.SuccessfulRequests++
		rec.ConsecutiveErrors = 0
		rec.LastSuccess = now
	} else {
		rec.ConsecutiveErrors++
		if errKind == "" {
			errKind = ErrKindOther
		}
		rec.ErrorTypes[errKind]++
	}
	rec.SuccessRate = float64(rec.SuccessfulRequests) / float64(rec.TotalRequests)
	rec.P95LatencyMs = percentile95(rec.latencies)

	ht.recomputeStatusLocked(rec, errKind, now)
}

// recomputeStatusLocked applies the status transition rules, in order.
func (ht *HealthTracker) recomputeStatusLocked(rec *ModelHealthRecord, errKind string, now time.Time) {
	prev := rec.Status

	switch {
	case !rec.CooldownUntil.IsZero() && now.Before(rec.CooldownUntil):
		rec.Status = StatusCooldown
		// Sustained recovery inside the cooldown window exits early, to
		// degraded rather than healthy.
		n, rate := recentSuccessRate(rec.outcomes, ht.cfg.RecoveryRequests)
		if n >= ht.cfg.RecoveryRequests && rate >= ht.cfg.RecoveryThreshold {
			rec.Status = StatusDegraded
			rec.CooldownUntil = time.Time{}
			rec.CooldownReason = ""
		}

	case rec.ConsecutiveErrors >= ht.cfg.MaxConsecutiveErrors && !cooldownExempt(errKind):
		rec.Status = StatusCooldown
		rec.CooldownUntil = now.Add(ht.cfg.CooldownDuration)
		rec.CooldownReason = "consecutive errors"

	case rec.P95LatencyMs > ht.cfg.LatencyThresholdMs:
		rec.Status = StatusDegraded

	default:
		switch {
		case rec.SuccessRate >= ht.cfg.HealthyThreshold:
			rec.Status = StatusHealthy
		case rec.SuccessRate >= ht.cfg.DegradedThreshold:
			rec.Status = StatusDegraded
		default:
			rec.Status = StatusUnhealthy
			if rec.TotalRequests >= 10 {
				rec.Status = StatusCooldown
				rec.CooldownUntil = now.Add(ht.cfg.CooldownDuration)
				rec.CooldownReason = "sustained low success rate"
			}
		}
	}

	if rec.Status != prev {
		ht.logger.Info("model status changed",
			"model", rec.Model,
			"from", string(prev),
			"to", string(rec.Status),
			"success_rate", rec.SuccessRate,
			"consecutive_errors", rec.ConsecutiveErrors,
		)
	}
}

// cooldownExempt reports whether an error kind must never push a model into
// cooldown.
func cooldownExempt(kind string) bool {
	return kind == ErrKindAuth || kind == ErrKindPaymentRequired
}

// IsAvailable reports whether a model may be selected. Unknown models are
// available. A model whose cooldown elapsed becomes available and is
// downgraded to degraded, never directly to healthy.
func (ht *HealthTracker) IsAvailable(model string) bool {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	return ht.isAvailableLocked(model)
}

func (ht *HealthTracker) isAvailableLocked(model string) bool {
	rec, ok := ht.models[model]
	if !ok {
		return true
	}
	if rec.Status == StatusCooldown {
		if !ht.now().Before(rec.CooldownUntil) {
			rec.Status = StatusDegraded
			rec.CooldownUntil = time.Time{}
			rec.CooldownReason = ""
			return true
		}
		return false
	}
	return rec.Status != StatusUnhealthy
}

// BestModel picks the best available model from the candidate list: status
// priority first, then success rate (ties within 0.05 rank equal), then
// average latency. Untracked candidates rank as healthy with no latency
// penalty. Returns false when no candidate is available.
func (ht *HealthTracker) BestModel(tier Tier, candidates []string) (string, bool) {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	type ranked struct {
		model    string
		priority int
		rate     float64
		latency  float64
	}
	var avail []ranked
	for _, m := range candidates {
		if !ht.isAvailableLocked(m) {
			continue
		}
		r := ranked{model: m, priority: 0, rate: 1.0}
		if rec, ok := ht.models[m]; ok {
			r.priority = statusPriority[rec.Status]
			r.rate = rec.SuccessRate
			r.latency = rec.AvgLatencyMs
		}
		avail = append(avail, r)
	}
	if len(avail) == 0 {
		return "", false
	}

	sort.SliceStable(avail, func(i, j int) bool {
		a, b := avail[i], avail[j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		if diff := a.rate - b.rate; diff > 0.05 || diff < -0.05 {
			return a.rate > b.rate
		}
		return a.latency < b.latency
	})
	return avail[0].model, true
}

// Status returns a copy of one model's record.
func (ht *HealthTracker) Status(model string) (ModelHealthRecord, bool) {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	rec, ok := ht.models[model]
	if !ok {
		return ModelHealthRecord{}, false
	}
	return copyRecord(rec), true
}

// HealthStats is a dashboard snapshot of all tracked models.
type HealthStats struct {
	Models map[string]ModelHealthRecord `json:"models"`
}

// Stats returns a deep-copied snapshot.
func (ht *HealthTracker) Stats() HealthStats {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	s := HealthStats{Models: make(map[string]ModelHealthRecord, len(ht.models))}
	for m, rec := range ht.models {
		s.Models[m] = copyRecord(rec)
	}
	return s
}

// Reset drops all records.
func (ht *HealthTracker) Reset() {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	ht.models = make(map[string]*ModelHealthRecord)
}

func copyRecord(rec *ModelHealthRecord) ModelHealthRecord {
	out := *rec
	out.ErrorTypes = make(map[string]int, len(rec.ErrorTypes))
	for k, v := range rec.ErrorTypes {
		out.ErrorTypes[k] = v
	}
	out.latencies = nil
	out.outcomes = nil
	return out
}

func appendBounded(window []float64, v float64, max int) []float64 {
	window = append(window, v)
	if len(window) > max {
		window = window[len(window)-max:]
	}
	return window
}

func appendBoundedBool(window []bool, v bool, max int) []bool {
	window = append(window, v)
	if len(window) > max {
		window = window[len(window)-max:]
	}
	return window
}

// percentile95 sorts a copy of the window and indexes floor(0.95*n).
func percentile95(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	sorted := make([]float64, len(window))
	copy(sorted, window)
	sort.Float64s(sorted)
	idx := int(0.95 * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// recentSuccessRate computes the success rate over the last n outcomes.
func recentSuccessRate(outcomes []bool, n int) (int, float64) {
	if len(outcomes) < n {
		n = len(outcomes)
	}
	if n == 0 {
		return 0, 0
	}
	recent := outcomes[len(outcomes)-n:]
	ok := 0
	for _, s := range recent {
		if s {
			ok++
		}
	}
	return n, float64(ok) / float64(n)
}

// ClassifyError maps an upstream error message to one of the feedback error
// kinds.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context canceled"):
		return ErrKindCanceled
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ErrKindTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return ErrKindRateLimit
	case strings.Contains(msg, "402") || strings.Contains(msg, "payment required"):
		return ErrKindPaymentRequired
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "invalid api key"):
		return ErrKindAuth
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504") || strings.Contains(msg, "internal server error"):
		return ErrKindServer5xx
	default:
		return ErrKindOther
	}
}
