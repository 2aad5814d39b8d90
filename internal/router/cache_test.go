package router

import (
	"fmt"
	"testing"
	"time"
)

func testBoundaries() [3]float64 { return [3]float64{0.0, 0.18, 0.40} }

func TestScoreCacheSetGet(t *testing.T) {
	sc := NewScoreCache(10, time.Hour, newTestLogger())

	result := ScoringResult{WeightedScore: 0.25, Tier: TierComplex, Confidence: 0.8}
	sc.Set("fp1", result, testBoundaries(), 0.25)

	cached := sc.Get("fp1")
	if cached == nil {
		t.Fatal("expected cache hit")
	}
	if cached.Result.Tier != TierComplex {
		t.Errorf("expected COMPLEX, got %s", cached.Result.Tier)
	}
	if cached.BoundaryName != "medium-complex" {
		t.Errorf("expected medium-complex boundary, got %s", cached.BoundaryName)
	}
	if cached.DistanceToBoundary < 0.069 || cached.DistanceToBoundary > 0.071 {
		t.Errorf("expected distance 0.07, got %.4f", cached.DistanceToBoundary)
	}
	if cached.HitCount != 1 {
		t.Errorf("expected hit count 1, got %d", cached.HitCount)
	}

	if sc.Get("missing") != nil {
		t.Error("expected miss for unknown fingerprint")
	}
}

func TestScoreCacheTTL(t *testing.T) {
	sc := NewScoreCache(10, time.Nanosecond, newTestLogger())
	sc.Set("fp1", ScoringResult{Tier: TierSimple}, testBoundaries(), -0.1)
	time.Sleep(time.Millisecond)

	if sc.Get("fp1") != nil {
		t.Error("expected expired entry to miss")
	}
	stats := sc.Stats()
	if stats.Size != 0 {
		t.Errorf("expected expired entry removed, size=%d", stats.Size)
	}
}

func TestScoreCacheLRUEviction(t *testing.T) {
	sc := NewScoreCache(2, time.Hour, newTestLogger())

	sc.Set("a", ScoringResult{Tier: TierSimple}, testBoundaries(), -0.1)
	sc.Set("b", ScoringResult{Tier: TierMedium}, testBoundaries(), 0.1)
	sc.Get("a") // refresh a
	sc.Set("c", ScoringResult{Tier: TierComplex}, testBoundaries(), 0.3)

	if sc.Get("a") == nil {
		t.Error("expected recently used entry to survive")
	}
	if sc.Get("b") != nil {
		t.Error("expected least recently used entry evicted")
	}
	if sc.Get("c") == nil {
		t.Error("expected newest entry present")
	}
}

func TestScoreCacheJitterLock(t *testing.T) {
	sc := NewScoreCache(10, time.Hour, newTestLogger())

	// SIMPLE, SIMPLE, MEDIUM: the window oscillates, the mode is SIMPLE, and
	// the stored tier is MEDIUM. Reads must surface the locked tier.
	sc.Set("fp", ScoringResult{Tier: TierSimple, Confidence: 0.8}, testBoundaries(), -0.02)
	sc.Set("fp", ScoringResult{Tier: TierSimple, Confidence: 0.8}, testBoundaries(), -0.01)
	sc.Set("fp", ScoringResult{Tier: TierMedium, Confidence: 0.6}, testBoundaries(), 0.01)

	locked, ok := sc.JitterLock("fp")
	if !ok {
		t.Fatal("expected jitter lock after oscillation")
	}
	if locked != TierSimple {
		t.Errorf("expected lock on mode tier SIMPLE, got %s", locked)
	}

	cached := sc.Get("fp")
	if cached == nil {
		t.Fatal("expected cache hit")
	}
	if cached.Result.Tier != TierSimple {
		t.Errorf("expected locked tier SIMPLE from Get, got %s", cached.Result.Tier)
	}
	if cached.Result.Confidence < 0.7 {
		t.Errorf("expected confidence clamped to 0.7, got %.3f", cached.Result.Confidence)
	}
	if cached.Result.Ambiguous {
		t.Error("locked result must not be ambiguous")
	}
}

func TestScoreCacheNoJitterLockWhenStable(t *testing.T) {
	sc := NewScoreCache(10, time.Hour, newTestLogger())

	for i := 0; i < 5; i++ {
		sc.Set("fp", ScoringResult{Tier: TierMedium}, testBoundaries(), 0.1)
	}
	if _, ok := sc.JitterLock("fp"); ok {
		t.Error("stable tier history must not install a jitter lock")
	}
}

func TestShouldUseCachedTier(t *testing.T) {
	sc := NewScoreCache(10, time.Hour, newTestLogger())

	near := &CachedScore{Result: ScoringResult{Tier: TierMedium}, DistanceToBoundary: 0.03}
	far := &CachedScore{Result: ScoringResult{Tier: TierMedium}, DistanceToBoundary: 0.12}

	if !sc.ShouldUseCachedTier(near, 0.19, TierComplex) {
		t.Error("expected cached tier kept near boundary")
	}
	if sc.ShouldUseCachedTier(near, 0.19, TierMedium) {
		t.Error("same tier needs no override")
	}
	if sc.ShouldUseCachedTier(far, 0.19, TierComplex) {
		t.Error("far from boundary, the new tier wins")
	}
	if sc.ShouldUseCachedTier(nil, 0.19, TierComplex) {
		t.Error("nil cached entry never wins")
	}
}

func TestScoreCacheCleanup(t *testing.T) {
	sc := NewScoreCache(10, 50*time.Millisecond, newTestLogger())
	sc.Set("old", ScoringResult{Tier: TierSimple}, testBoundaries(), -0.1)
	time.Sleep(60 * time.Millisecond)
	sc.Set("new", ScoringResult{Tier: TierSimple}, testBoundaries(), -0.1)

	if removed := sc.Cleanup(); removed != 1 {
		t.Errorf("expected 1 expired entry removed, got %d", removed)
	}
	if sc.Stats().Size != 1 {
		t.Errorf("expected 1 entry left, got %d", sc.Stats().Size)
	}
}

func TestScoreCacheStats(t *testing.T) {
	sc := NewScoreCache(10, time.Hour, newTestLogger())
	sc.Set("fp", ScoringResult{Tier: TierSimple}, testBoundaries(), -0.1)
	sc.Get("fp")
	sc.Get("nope")

	stats := sc.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit / 1 miss, got %d / %d", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %.2f", stats.HitRate)
	}
}

func TestScoreCacheConcurrent(t *testing.T) {
	sc := NewScoreCache(100, time.Hour, newTestLogger())
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				fp := fmt.Sprintf("fp-%d", (g+i)%50)
				sc.Set(fp, ScoringResult{Tier: Tier(i % 4)}, testBoundaries(), float64(i%40)/100)
				sc.Get(fp)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	if sc.Stats().Size > 100 {
		t.Errorf("cache exceeded max size: %d", sc.Stats().Size)
	}
}
