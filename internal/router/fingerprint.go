package router

import (
	"regexp"
	"sort"
	"strings"
)

// Fingerprints summarise prompt structure and content in a stable string of
// the form "<sorted feature tags>|<content digest>|<system digest>". Two
// prompts with the same feature set and near-identical normalised content
// produce similar fingerprints, which keys the score cache and the
// classifier's hysteresis history.

// Feature tags emitted by extractFeatures.
const (
	featCode      = "CODE"
	featReasoning = "REASONING"
	featMultiStep = "MULTISTEP"
	featShort     = "SHORT"
	featMedium    = "MEDIUM"
	featLong      = "LONG"
	featXLong     = "XLONG"
)

// Compiled once; these run on every request.
var (
	reFPDefOrClass = regexp.MustCompile(`\b(?:def|class)\s+\w+`)
	reFPBraces     = regexp.MustCompile(`\{[^{}]*\}`)
	reFPBrackets   = regexp.MustCompile(`\[[^\[\]]*\]`)
	reFPAngleTag   = regexp.MustCompile(`<\w+[^>]*>`)
	reFPFence      = regexp.MustCompile("```")
	reFPInlineCode = regexp.MustCompile("`[^`]+`")
	reFPNumbered   = regexp.MustCompile(`\b\d+[\.\)]\s`)
	reFPStepN      = regexp.MustCompile(`(?i)step\s*\d`)
	reFPCJKStep    = regexp.MustCompile(`第\d+步|步骤`)
)

// Reasoning words for feature tagging. Deliberately broader than the
// classifier's reasoning list — the tag only groups prompts, it never forces
// a tier.
var fpReasoningWords = []string{
	"step", "prove", "explain", "why", "how",
	"分析", "证明", "解释", "步骤",
}

// Fingerprint computes the stable key for a (prompt, system) pair.
func Fingerprint(prompt, system string) string {
	tags := extractFeatures(prompt)
	return strings.Join(tags, ",") + "|" + contentDigest(prompt) + "|" + contentDigest(system)
}

// extractFeatures scans the raw prompt and returns sorted feature tags.
func extractFeatures(prompt string) []string {
	var tags []string
	lower := strings.ToLower(prompt)

	if hasCodeMarkers(prompt, lower) {
		tags = append(tags, featCode)
	}
	for _, w := range fpReasoningWords {
		if strings.Contains(lower, w) {
			tags = append(tags, featReasoning)
			break
		}
	}
	if reFPNumbered.MatchString(prompt) || reFPStepN.MatchString(prompt) || reFPCJKStep.MatchString(prompt) {
		tags = append(tags, featMultiStep)
	}

	if q := strings.Count(prompt, "?") + strings.Count(prompt, "？"); q > 0 {
		if q > 3 {
			q = 3
		}
		tags = append(tags, "Q"+string(rune('0'+q)))
	}

	tokens := (len([]rune(prompt)) + 3) / 4
	switch {
	case tokens < 50:
		tags = append(tags, featShort)
	case tokens < 200:
		tags = append(tags, featMedium)
	case tokens < 1000:
		tags = append(tags, featLong)
	default:
		tags = append(tags, featXLong)
	}

	sort.Strings(tags)
	return tags
}

func hasCodeMarkers(prompt, lower string) bool {
	return strings.Contains(lower, "function") ||
		reFPDefOrClass.MatchString(prompt) ||
		reFPBraces.MatchString(prompt) ||
		reFPBrackets.MatchString(prompt) ||
		reFPAngleTag.MatchString(prompt) ||
		reFPFence.MatchString(prompt) ||
		reFPInlineCode.MatchString(prompt)
}

// cjkPunctFold maps full-width CJK punctuation to ASCII equivalents before
// the decorative-punctuation strip.
var cjkPunctFold = map[rune]rune{
	'，': ',', '。': '.', '！': '!', '？': '?', '；': ';', '：': ':',
	'（': '(', '）': ')', '【': '[', '】': ']',
	'“': '"', '”': '"', '‘': '\'', '’': '\'',
}

// decorativePunct is stripped from the normalised content. '?' survives —
// question structure is content, not decoration.
var decorativePunct = map[rune]bool{
	',': true, '.': true, '!': true, ';': true, ':': true,
	'"': true, '\'': true, '`': true, '(': true, ')': true,
	'[': true, ']': true, '{': true, '}': true,
	'*': true, '~': true, '#': true,
}

// normalizeContent collapses whitespace, unifies quotes, strips decorative
// punctuation, folds CJK punctuation, lowercases, and trims.
func normalizeContent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if folded, ok := cjkPunctFold[r]; ok {
			r = folded
		}
		switch r {
		case '«', '»', '„', '‟':
			r = '"'
		}
		if decorativePunct[r] {
			continue
		}
		b.WriteRune(r)
	}
	collapsed := strings.Join(strings.Fields(b.String()), " ")
	return strings.ToLower(collapsed)
}

// contentDigest normalises and truncates: strings longer than 150 runes keep
// the first 100 and last 50 around a "..." marker.
func contentDigest(s string) string {
	norm := []rune(normalizeContent(s))
	if len(norm) <= 150 {
		return string(norm)
	}
	return string(norm[:100]) + "..." + string(norm[len(norm)-50:])
}

// FingerprintsSimilar reports whether two fingerprints are close enough to
// share cached scores. Feature tag blocks must match exactly; content digests
// must be within 10% approximate edit distance (differing positions in the
// common prefix plus the length difference, normalised by the longer length).
func FingerprintsSimilar(a, b string) bool {
	pa := strings.SplitN(a, "|", 3)
	pb := strings.SplitN(b, "|", 3)
	if len(pa) != 3 || len(pb) != 3 {
		return a == b
	}
	if pa[0] != pb[0] {
		return false
	}
	return digestDistance(pa[1], pb[1]) <= 0.10
}

func digestDistance(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 0
	}
	short, long := ra, rb
	if len(short) > len(long) {
		short, long = long, short
	}
	diff := len(long) - len(short)
	for i := range short {
		if short[i] != long[i] {
			diff++
		}
	}
	return float64(diff) / float64(len(long))
}
