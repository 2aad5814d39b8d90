package router

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultKeywordsYAML []byte

// KeywordSet holds the keyword lists for every keyword-based dimension.
// Lists are ordered, lowercase, and matched by substring inclusion.
type KeywordSet struct {
	Code         []string `yaml:"code"`
	Reasoning    []string `yaml:"reasoning"`
	Technical    []string `yaml:"technical"`
	Creative     []string `yaml:"creative"`
	Simple       []string `yaml:"simple"`
	Imperative   []string `yaml:"imperative"`
	Constraint   []string `yaml:"constraint"`
	OutputFormat []string `yaml:"outputFormat"`
	Reference    []string `yaml:"reference"`
	Negation     []string `yaml:"negation"`
	Domain       []string `yaml:"domain"`
	Agentic      []string `yaml:"agentic"`
}

// DefaultKeywords parses the embedded keyword lists. The embedded data is
// validated at build time by tests, so a parse failure here is a programming
// error.
func DefaultKeywords() *KeywordSet {
	ks, err := parseKeywords(defaultKeywordsYAML)
	if err != nil {
		panic(fmt.Sprintf("router: embedded keywords.yaml invalid: %v", err))
	}
	return ks
}

// LoadKeywords reads a keyword override file in the same YAML shape as the
// embedded defaults. Missing lists fall back to the defaults.
func LoadKeywords(path string) (*KeywordSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("router: read keywords file: %w", err)
	}
	ks, err := parseKeywords(data)
	if err != nil {
		return nil, err
	}
	def := DefaultKeywords()
	fillMissing(ks, def)
	return ks, nil
}

func parseKeywords(data []byte) (*KeywordSet, error) {
	var ks KeywordSet
	if err := yaml.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("router: parse keywords: %w", err)
	}
	ks.normalize()
	return &ks, nil
}

// normalize lowercases every entry so matching can assume lowercase input.
func (ks *KeywordSet) normalize() {
	for _, list := range ks.lists() {
		for i, kw := range *list {
			(*list)[i] = strings.ToLower(kw)
		}
	}
}

func (ks *KeywordSet) lists() []*[]string {
	return []*[]string{
		&ks.Code, &ks.Reasoning, &ks.Technical, &ks.Creative, &ks.Simple,
		&ks.Imperative, &ks.Constraint, &ks.OutputFormat, &ks.Reference,
		&ks.Negation, &ks.Domain, &ks.Agentic,
	}
}

func fillMissing(ks, def *KeywordSet) {
	dst := ks.lists()
	src := def.lists()
	for i := range dst {
		if len(*dst[i]) == 0 {
			*dst[i] = *src[i]
		}
	}
}

// countMatches returns how many distinct keywords from the list appear in the
// lowercased text, plus the first few matched keywords for signal strings.
func countMatches(lower string, keywords []string) (int, []string) {
	count := 0
	var matched []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, kw) {
			count++
			if len(matched) < 3 {
				matched = append(matched, strings.TrimSpace(kw))
			}
		}
	}
	return count, matched
}
