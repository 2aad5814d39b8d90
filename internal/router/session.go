package router

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultSessionTimeout       = 30 * time.Minute
	defaultDegradationThreshold = 2
	defaultRecoveryThreshold    = 3
	recentErrorCap              = 5
	topicCap                    = 10
)

// modelAvailability is the narrow contract the session store needs from the
// health tracker.
type modelAvailability interface {
	IsAvailable(model string) bool
	BestModel(tier Tier, candidates []string) (string, bool)
}

// ContextSnapshot summarises what a conversation has been about.
type ContextSnapshot struct {
	Topics            []string `json:"topics,omitempty"` // bounded, unique
	Intent            string   `json:"intent,omitempty"`
	ComplexityTrend   float64  `json:"complexityTrend"`   // EMA in [0,1]
	HasUsedTools      bool     `json:"hasUsedTools"`
	LastToolSequence  []string `json:"lastToolSequence,omitempty"`
	AvgResponseLength float64  `json:"avgResponseLength"` // EMA
}

// SessionMetrics tracks per-session outcome statistics.
type SessionMetrics struct {
	TotalRequests       int64   `json:"totalRequests"`
	TotalInputTokens    int64   `json:"totalInputTokens"`
	TotalOutputTokens   int64   `json:"totalOutputTokens"`
	SuccessRate         float64 `json:"successRate"`  // EMA, alpha 0.3
	AvgLatencyMs        float64 `json:"avgLatencyMs"` // EMA
	AvgCost             float64 `json:"avgCost"`      // EMA
	ConsecutiveFailures int     `json:"consecutiveFailures"`
}

// DegradationState records a session's switch away from its pinned model.
type DegradationState struct {
	IsDegraded       bool      `json:"isDegraded"`
	OriginalModel    string    `json:"originalModel,omitempty"`
	OriginalTier     Tier      `json:"originalTier"`
	Reason           string    `json:"reason,omitempty"`
	DegradedAt       time.Time `json:"degradedAt,omitempty"`
	RecoveryRequests int       `json:"recoveryRequests"`
}

// SessionError is one recent failure in a session.
type SessionError struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message,omitempty"`
}

// SessionEntry pins a model to a conversation.
type SessionEntry struct {
	ID           string           `json:"id"`
	Model        string           `json:"model"`
	Tier         Tier             `json:"tier"`
	CreatedAt    time.Time        `json:"createdAt"`
	LastUsedAt   time.Time        `json:"lastUsedAt"`
	RequestCount int64            `json:"requestCount"`
	Context      ContextSnapshot  `json:"context"`
	Metrics      SessionMetrics   `json:"metrics"`
	Degradation  DegradationState `json:"degradation"`
	RecentErrors []SessionError   `json:"recentErrors,omitempty"`
}

// SessionConfig tunes the store.
type SessionConfig struct {
	Timeout              time.Duration `json:"timeout"`
	DegradationThreshold int           `json:"degradationThreshold"`
	RecoveryThreshold    int           `json:"recoveryThreshold"`
}

// DefaultSessionConfig returns the defaults (30min timeout, degrade after 2
// consecutive failures, recover after 3 consecutive successes).
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Timeout:              defaultSessionTimeout,
		DegradationThreshold: defaultDegradationThreshold,
		RecoveryThreshold:    defaultRecoveryThreshold,
	}
}

// SessionResult is one observed outcome attributed to a session.
type SessionResult struct {
	Success      bool
	LatencyMs    int64
	Cost         float64
	InputTokens  int
	OutputTokens int
	ErrorKind    string
	ErrorMessage string
}

// SessionStore pins a model per conversation and performs failure-driven
// degradation with automatic recovery. Candidates per tier come from the
// routing config so a degraded session can fail over within its tier.
type SessionStore struct {
	cfg        SessionConfig
	health     modelAvailability
	candidates map[Tier][]string
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*SessionEntry
	now      func() time.Time
}

// NewSessionStore creates a store. candidates maps each tier to its
// primary-plus-fallback model list.
func NewSessionStore(cfg SessionConfig, health modelAvailability, candidates map[Tier][]string, logger *slog.Logger) *SessionStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSessionTimeout
	}
	if cfg.DegradationThreshold <= 0 {
		cfg.DegradationThreshold = defaultDegradationThreshold
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = defaultRecoveryThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		cfg:        cfg,
		health:     health,
		candidates: candidates,
		logger:     logger.With("component", "session-store"),
		sessions:   make(map[string]*SessionEntry),
		now:        time.Now,
	}
}

// Get returns a copy of the session, refreshing its last-used time. Expired
// sessions are dropped and reported as absent.
func (ss *SessionStore) Get(id string) (SessionEntry, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	entry, ok := ss.sessions[id]
	if !ok {
		return SessionEntry{}, false
	}
	now := ss.now()
	if now.Sub(entry.LastUsedAt) > ss.cfg.Timeout {
		delete(ss.sessions, id)
		return SessionEntry{}, false
	}
	entry.LastUsedAt = now
	return copySession(entry), true
}

// Set creates or updates a session's model pin. When the model changes on a
// non-degraded session, the previous pin is saved for later restoration.
func (ss *SessionStore) Set(id, model string, tier Tier) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := ss.now()
	entry, ok := ss.sessions[id]
	if !ok {
		ss.sessions[id] = &SessionEntry{
			ID:         id,
			Model:      model,
			Tier:       tier,
			CreatedAt:  now,
			LastUsedAt: now,
		}
		return
	}

	if entry.Model != model && !entry.Degradation.IsDegraded {
		entry.Degradation.OriginalModel = entry.Model
		entry.Degradation.OriginalTier = entry.Tier
	}
	entry.Model = model
	entry.Tier = tier
	entry.LastUsedAt = now
}

// Touch increments the request counter without altering the pin.
func (ss *SessionStore) Touch(id string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if entry, ok := ss.sessions[id]; ok {
		entry.RequestCount++
		entry.LastUsedAt = ss.now()
	}
}

// RecordResult attributes an outcome to the session: EMA metric updates,
// degradation after consecutive failures, and recovery with restoration of
// the original model once it is available again.
func (ss *SessionStore) RecordResult(id string, res SessionResult) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	entry, ok := ss.sessions[id]
	if !ok {
		return
	}
	now := ss.now()
	entry.LastUsedAt = now

	m := &entry.Metrics
	m.TotalRequests++
	m.TotalInputTokens += int64(res.InputTokens)
	m.TotalOutputTokens += int64(res.OutputTokens)

	success := 0.0
	if res.Success {
		success = 1.0
	}
	if m.TotalRequests == 1 {
		m.SuccessRate = success
		m.AvgLatencyMs = float64(res.LatencyMs)
		m.AvgCost = res.Cost
	} else {
		m.SuccessRate = (1-emaAlpha)*m.SuccessRate + emaAlpha*success
		m.AvgLatencyMs = (1-emaAlpha)*m.AvgLatencyMs + emaAlpha*float64(res.LatencyMs)
		m.AvgCost = (1-emaAlpha)*m.AvgCost + emaAlpha*res.Cost
	}

	if res.Success {
		m.ConsecutiveFailures = 0
		ss.maybeRecoverLocked(entry)
		return
	}

	entry.RecentErrors = append(entry.RecentErrors, SessionError{
		Time:    now,
		Kind:    res.ErrorKind,
		Message: res.ErrorMessage,
	})
	if len(entry.RecentErrors) > recentErrorCap {
		entry.RecentErrors = entry.RecentErrors[len(entry.RecentErrors)-recentErrorCap:]
	}

	m.ConsecutiveFailures++
	entry.Degradation.RecoveryRequests = 0
	if m.ConsecutiveFailures >= ss.cfg.DegradationThreshold && !entry.Degradation.IsDegraded {
		ss.degradeLocked(entry, now)
	}
}

func (ss *SessionStore) degradeLocked(entry *SessionEntry, now time.Time) {
	best, ok := ss.health.BestModel(entry.Tier, ss.candidates[entry.Tier])
	if !ok || best == entry.Model {
		return
	}
	entry.Degradation = DegradationState{
		IsDegraded:    true,
		OriginalModel: entry.Model,
		OriginalTier:  entry.Tier,
		Reason:        "consecutive failures",
		DegradedAt:    now,
	}
	ss.logger.Warn("session degraded",
		"session", entry.ID,
		"from", entry.Model,
		"to", best,
		"failures", entry.Metrics.ConsecutiveFailures,
	)
	entry.Model = best
}

func (ss *SessionStore) maybeRecoverLocked(entry *SessionEntry) {
	d := &entry.Degradation
	if !d.IsDegraded {
		return
	}
	d.RecoveryRequests++
	if d.RecoveryRequests < ss.cfg.RecoveryThreshold {
		return
	}
	if d.OriginalModel == "" || !ss.health.IsAvailable(d.OriginalModel) {
		return
	}
	ss.logger.Info("session recovered",
		"session", entry.ID,
		"from", entry.Model,
		"restored", d.OriginalModel,
	)
	entry.Model = d.OriginalModel
	entry.Tier = d.OriginalTier
	entry.Degradation = DegradationState{}
}

// UpdateContext folds conversation signals into the session's context
// snapshot.
func (ss *SessionStore) UpdateContext(id string, topics []string, intent string, complexity float64, usedTools bool, toolSeq []string, responseLength int) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	entry, ok := ss.sessions[id]
	if !ok {
		return
	}
	c := &entry.Context

	for _, topic := range topics {
		if topic == "" || containsString(c.Topics, topic) {
			continue
		}
		c.Topics = append(c.Topics, topic)
		if len(c.Topics) > topicCap {
			c.Topics = c.Topics[len(c.Topics)-topicCap:]
		}
	}
	if intent != "" {
		c.Intent = intent
	}
	if c.ComplexityTrend == 0 {
		c.ComplexityTrend = complexity
	} else {
		c.ComplexityTrend = (1-emaAlpha)*c.ComplexityTrend + emaAlpha*complexity
	}
	if usedTools {
		c.HasUsedTools = true
	}
	if len(toolSeq) > 0 {
		c.LastToolSequence = append([]string(nil), toolSeq...)
	}
	if responseLength > 0 {
		if c.AvgResponseLength == 0 {
			c.AvgResponseLength = float64(responseLength)
		} else {
			c.AvgResponseLength = (1-emaAlpha)*c.AvgResponseLength + emaAlpha*float64(responseLength)
		}
	}
}

// Sweep removes sessions idle past the timeout and returns how many were
// dropped. Called from the periodic maintenance tick.
func (ss *SessionStore) Sweep() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	cutoff := ss.now().Add(-ss.cfg.Timeout)
	removed := 0
	for id, entry := range ss.sessions {
		if entry.LastUsedAt.Before(cutoff) {
			delete(ss.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		ss.logger.Debug("swept expired sessions", "removed", removed, "remaining", len(ss.sessions))
	}
	return removed
}

// SessionStats is a dashboard snapshot.
type SessionStats struct {
	Active   int `json:"active"`
	Degraded int `json:"degraded"`
}

// Stats returns a snapshot.
func (ss *SessionStore) Stats() SessionStats {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s := SessionStats{Active: len(ss.sessions)}
	for _, entry := range ss.sessions {
		if entry.Degradation.IsDegraded {
			s.Degraded++
		}
	}
	return s
}

// Sessions returns copies of all live entries.
func (ss *SessionStore) Sessions() []SessionEntry {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	out := make([]SessionEntry, 0, len(ss.sessions))
	for _, entry := range ss.sessions {
		out = append(out, copySession(entry))
	}
	return out
}

// Reset drops all sessions.
func (ss *SessionStore) Reset() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.sessions = make(map[string]*SessionEntry)
}

func copySession(entry *SessionEntry) SessionEntry {
	out := *entry
	out.Context.Topics = append([]string(nil), entry.Context.Topics...)
	out.Context.LastToolSequence = append([]string(nil), entry.Context.LastToolSequence...)
	out.RecentErrors = append([]SessionError(nil), entry.RecentErrors...)
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
