package router

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultCacheSize       = 1000
	defaultCacheTTL        = 24 * time.Hour
	tierHistoryWindow      = 5
	defaultJitterThreshold = 3
)

// CachedScore is a cached classifier output annotated with its distance to
// the nearest tier boundary at store time.
type CachedScore struct {
	Result             ScoringResult `json:"result"`
	Timestamp          time.Time     `json:"timestamp"`
	HitCount           int           `json:"hitCount"`
	DistanceToBoundary float64       `json:"distanceToBoundary"`
	BoundaryName       string        `json:"boundaryName"`
	LastTier           Tier          `json:"lastTier"`
}

// CacheStats is a snapshot for dashboards.
type CacheStats struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"maxSize"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hitRate"`
	JitterLocks int     `json:"jitterLocks"`
}

// ScoreCache is a fingerprint-keyed LRU+TTL cache of classifier outputs.
// When a fingerprint's recent tier history oscillates, the cache installs a
// jitter lock pinning the tier to the mode of the recent window.
type ScoreCache struct {
	mu              sync.Mutex
	entries         map[string]*list.Element
	lru             *list.List // front = most recently used
	maxSize         int
	ttl             time.Duration
	tierHistory     map[string][]Tier
	jitterLocks     map[string]Tier
	jitterThreshold int
	hits            int64
	misses          int64
	logger          *slog.Logger
}

type cacheItem struct {
	key   string
	score CachedScore
}

// NewScoreCache creates a cache. Zero maxSize or ttl select the defaults
// (1000 entries, 24h).
func NewScoreCache(maxSize int, ttl time.Duration, logger *slog.Logger) *ScoreCache {
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoreCache{
		entries:         make(map[string]*list.Element),
		lru:             list.New(),
		maxSize:         maxSize,
		ttl:             ttl,
		tierHistory:     make(map[string][]Tier),
		jitterLocks:     make(map[string]Tier),
		jitterThreshold: defaultJitterThreshold,
		logger:          logger.With("component", "score-cache"),
	}
}

// Get returns a copy of the cached score for the fingerprint, refreshing its
// LRU position and hit count. Expired entries are dropped. If a jitter lock
// is installed and disagrees with the cached tier, the returned copy carries
// the locked tier with confidence clamped to at least 0.7.
func (sc *ScoreCache) Get(fingerprint string) *CachedScore {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	el, ok := sc.entries[fingerprint]
	if !ok {
		sc.misses++
		return nil
	}
	item := el.Value.(*cacheItem)
	if time.Since(item.score.Timestamp) > sc.ttl {
		sc.removeLocked(fingerprint, el)
		sc.misses++
		return nil
	}

	sc.lru.MoveToFront(el)
	item.score.HitCount++
	sc.hits++

	out := item.score
	if locked, ok := sc.jitterLocks[fingerprint]; ok && out.Result.Tier != locked {
		out.Result.Tier = locked
		if out.Result.Confidence < 0.7 {
			out.Result.Confidence = 0.7
		}
		out.Result.Ambiguous = false
	}
	return &out
}

// Set stores a classifier result, recording the score's distance to the
// nearest boundary and updating the fingerprint's tier history for jitter
// detection.
func (sc *ScoreCache) Set(fingerprint string, result ScoringResult, boundaries [3]float64, score float64) {
	distance, name := nearestBoundary(score, boundaries)

	sc.mu.Lock()
	defer sc.mu.Unlock()

	entry := CachedScore{
		Result:             result,
		Timestamp:          time.Now(),
		DistanceToBoundary: distance,
		BoundaryName:       name,
		LastTier:           result.Tier,
	}

	if el, ok := sc.entries[fingerprint]; ok {
		item := el.Value.(*cacheItem)
		entry.HitCount = item.score.HitCount
		item.score = entry
		sc.lru.MoveToFront(el)
	} else {
		el := sc.lru.PushFront(&cacheItem{key: fingerprint, score: entry})
		sc.entries[fingerprint] = el
	}

	sc.trackTierLocked(fingerprint, result.Tier)

	for sc.lru.Len() > sc.maxSize {
		back := sc.lru.Back()
		if back == nil {
			break
		}
		sc.removeLocked(back.Value.(*cacheItem).key, back)
	}
}

// ShouldUseCachedTier reports whether the orchestrator should keep the cached
// tier: the new tier differs and the cached score sat inside the fuzzy
// boundary region.
func (sc *ScoreCache) ShouldUseCachedTier(cached *CachedScore, newScore float64, newTier Tier) bool {
	if cached == nil {
		return false
	}
	return newTier != cached.Result.Tier && cached.DistanceToBoundary < fuzzyWidth
}

// trackTierLocked appends to the bounded tier history and installs a jitter
// lock when the recent window is not constant.
func (sc *ScoreCache) trackTierLocked(fingerprint string, tier Tier) {
	hist := append(sc.tierHistory[fingerprint], tier)
	if len(hist) > tierHistoryWindow {
		hist = hist[len(hist)-tierHistoryWindow:]
	}
	sc.tierHistory[fingerprint] = hist

	if len(hist) < sc.jitterThreshold {
		return
	}
	window := hist[len(hist)-sc.jitterThreshold:]
	stable := true
	for _, t := range window[1:] {
		if t != window[0] {
			stable = false
			break
		}
	}
	if stable {
		return
	}

	// Oscillation: pin to the most frequent tier over the window.
	counts := make(map[Tier]int, 4)
	for _, t := range window {
		counts[t]++
	}
	mode := window[len(window)-1]
	for _, t := range AllTiers() {
		if counts[t] > counts[mode] {
			mode = t
		}
	}
	if prev, ok := sc.jitterLocks[fingerprint]; !ok || prev != mode {
		sc.logger.Debug("tier jitter detected, locking",
			"fingerprint", fingerprint, "tier", mode.String())
	}
	sc.jitterLocks[fingerprint] = mode
}

// JitterLock returns the locked tier for a fingerprint, if any.
func (sc *ScoreCache) JitterLock(fingerprint string) (Tier, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	t, ok := sc.jitterLocks[fingerprint]
	return t, ok
}

// Cleanup drops expired entries and returns how many were removed. Called
// from the periodic maintenance tick.
func (sc *ScoreCache) Cleanup() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-sc.ttl)
	for key, el := range sc.entries {
		if el.Value.(*cacheItem).score.Timestamp.Before(cutoff) {
			sc.removeLocked(key, el)
			removed++
		}
	}
	return removed
}

// Clear resets the cache, including tier histories and jitter locks.
func (sc *ScoreCache) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.entries = make(map[string]*list.Element)
	sc.lru = list.New()
	sc.tierHistory = make(map[string][]Tier)
	sc.jitterLocks = make(map[string]Tier)
	sc.hits, sc.misses = 0, 0
}

// Stats returns a snapshot.
func (sc *ScoreCache) Stats() CacheStats {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	s := CacheStats{
		Size:        len(sc.entries),
		MaxSize:     sc.maxSize,
		Hits:        sc.hits,
		Misses:      sc.misses,
		JitterLocks: len(sc.jitterLocks),
	}
	if total := sc.hits + sc.misses; total > 0 {
		s.HitRate = float64(sc.hits) / float64(total)
	}
	return s
}

func (sc *ScoreCache) removeLocked(key string, el *list.Element) {
	sc.lru.Remove(el)
	delete(sc.entries, key)
	delete(sc.tierHistory, key)
	delete(sc.jitterLocks, key)
}
