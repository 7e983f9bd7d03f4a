package analytics

import (
	"regexp"
	"strings"
	"sync"
)

// TextModelName is a text model name split into its parts.
type TextModelName struct {
	Original   string `json:"original_name"`
	Base       string `json:"base_name"`
	Size       string `json:"size,omitempty"`
	Variant    string `json:"variant,omitempty"`
	Quant      string `json:"quant,omitempty"`
	Normalized string `json:"normalized_name"`
}

var (
	sizePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d+\.?\d*[BMK])\b`),
		regexp.MustCompile(`(?i)\b(\d+x\d+[BMK])\b`),
	}
	quantPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(Q[2-8](?:_K)?(?:_[SMLH])?)\b`),
		regexp.MustCompile(`(?i)\b(GGUF|GGML|GPTQ|AWQ|EXL2)\b`),
		regexp.MustCompile(`(?i)\b(fp16|fp32|int8|int4)\b`),
	}
	variantPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(Instruct|Chat|Code|Base|Uncensored|Finetune|FT)\b`),
		regexp.MustCompile(`(?i)\b(turbo|preview|latest)\b`),
	}
	repeatedUnderscore = regexp.MustCompile(`_+`)

	parsedNames sync.Map
)

func extract(s string, patterns []*regexp.Regexp) (rest, found string) {
	for _, re := range patterns {
		if loc := re.FindStringSubmatchIndex(s); loc != nil {
			return s[:loc[0]] + s[loc[1]:], s[loc[2]:loc[3]]
		}
	}
	return s, ""
}

// ParseTextModelName splits a text model name into base, size, variant and
// quantization. Results are memoized.
func ParseTextModelName(name string) TextModelName {
	if v, ok := parsedNames.Load(name); ok {
		return v.(TextModelName)
	}

	rest, size := extract(name, sizePatterns)
	rest, quant := extract(rest, quantPatterns)
	rest, variant := extract(rest, variantPatterns)

	base := rest
	for _, sep := range []string{"-", "_", " ", "."} {
		base = strings.ReplaceAll(base, sep+sep, sep)
	}
	base = strings.Trim(base, "-_ .")
	if base == "" {
		base = name
	}

	out := TextModelName{
		Original:   name,
		Base:       base,
		Size:       strings.ToUpper(size),
		Variant:    variant,
		Quant:      strings.ToUpper(quant),
		Normalized: NormalizeModelName(name),
	}
	parsedNames.Store(name, out)
	return out
}

// BaseModelName returns the name with size, variant and quantization removed.
func BaseModelName(name string) string {
	return ParseTextModelName(name).Base
}

// NormalizeModelName lower-cases a name and unifies its separators.
func NormalizeModelName(name string) string {
	n := strings.ToLower(name)
	for _, sep := range []string{"-", " ", "."} {
		n = strings.ReplaceAll(n, sep, "_")
	}
	n = repeatedUnderscore.ReplaceAllString(n, "_")
	return strings.Trim(n, "_")
}

// GroupByBase groups names by base name, keeping input order within a group.
func GroupByBase(names []string) map[string][]string {
	out := make(map[string][]string)
	for _, n := range names {
		b := BaseModelName(n)
		out[b] = append(out[b], n)
	}
	return out
}
