package router

import "encoding/json"

// Tier represents the model difficulty tier.
type Tier int

const (
	TierSimple    Tier = iota // Cheap, fast — greetings, simple factual questions
	TierMedium                // Mid-range — summarisation, light code, moderate Q&A
	TierComplex               // Full capability — deep analysis, complex code, multi-step
	TierReasoning             // Specialised reasoning — math proofs, logic chains, planning
)

var tierNames = [...]string{"SIMPLE", "MEDIUM", "COMPLEX", "REASONING"}

func (t Tier) String() string {
	if t >= 0 && int(t) < len(tierNames) {
		return tierNames[t]
	}
	return "UNKNOWN"
}

// Rank returns the tier's position in the total order (0..3).
func (t Tier) Rank() int { return int(t) }

// MarshalJSON implements json.Marshaler.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// MarshalText implements encoding.TextMarshaler so tier-keyed maps render
// their names in JSON config files.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(data []byte) error {
	*t = ParseTier(string(data))
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Try as integer
		var i int
		if err2 := json.Unmarshal(data, &i); err2 != nil {
			return err
		}
		*t = Tier(i)
		return nil
	}
	*t = ParseTier(s)
	return nil
}

// ParseTier maps a tier name to a Tier. Unknown names map to TierMedium,
// the safe middle ground.
func ParseTier(s string) Tier {
	switch s {
	case "SIMPLE", "simple":
		return TierSimple
	case "MEDIUM", "medium":
		return TierMedium
	case "COMPLEX", "complex":
		return TierComplex
	case "REASONING", "reasoning":
		return TierReasoning
	default:
		return TierMedium
	}
}

// AllTiers lists the tiers in rank order.
func AllTiers() []Tier {
	return []Tier{TierSimple, TierMedium, TierComplex, TierReasoning}
}

// naturalTier maps a weighted score to a Tier using half-open boundary
// intervals: (-inf, b0) SIMPLE, [b0, b1) MEDIUM, [b1, b2) COMPLEX,
// [b2, +inf) REASONING.
func naturalTier(score float64, boundaries [3]float64) Tier {
	if score < boundaries[0] {
		return TierSimple
	}
	if score < boundaries[1] {
		return TierMedium
	}
	if score < boundaries[2] {
		return TierComplex
	}
	return TierReasoning
}

// boundaryNames label the three tier boundaries, index-aligned with the
// boundary triple.
var boundaryNames = [3]string{"simple-medium", "medium-complex", "complex-reasoning"}

// nearestBoundary returns the distance to the closest boundary and its label.
func nearestBoundary(score float64, boundaries [3]float64) (float64, string) {
	best := -1.0
	name := boundaryNames[0]
	for i, b := range boundaries {
		d := score - b
		if d < 0 {
			d = -d
		}
		if best < 0 || d < best {
			best = d
			name = boundaryNames[i]
		}
	}
	return best, name
}
