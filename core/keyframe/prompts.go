package keyframe

import (
	"strings"

	"mvsynth/model"
)

// fallbackVariations are used when no narrative is given.
var fallbackVariations = []string{
	"ethereal landscape",
	"abstract flowing forms",
	"cosmic patterns",
	"organic textures",
	"dreamlike atmosphere",
	"surreal composition",
	"mystical elements",
	"emotional expression",
}

const (
	modifierOpening     = "opening, establishing"
	modifierClosing     = "closing, resolution"
	modifierDevelopment = "development, transition"
)

// ParseNarrative splits a comma-separated narrative into trimmed, non-empty
// variations.
func ParseNarrative(narrative string) []string {
	var out []string
	for _, part := range strings.Split(narrative, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Prompts builds one prompt per keyframe as "{variation}, {style}" plus a
// position modifier (opening, development, closing) when sections are known.
func Prompts(style, narrative string, count int, sections []model.Section) []string {
	style = strings.TrimSpace(style)
	variations := ParseNarrative(narrative)
	if len(variations) == 0 {
		variations = fallbackVariations
	}

	prompts := make([]string, count)
	for i := range prompts {
		prompt := variations[i%len(variations)] + ", " + style
		if len(sections) > 0 {
			prompt += ", " + positionModifier(i, count)
		}
		prompts[i] = prompt
	}
	return prompts
}

func positionModifier(i, count int) string {
	switch {
	case i == 0:
		return modifierOpening
	case i == count-1:
		return modifierClosing
	default:
		return modifierDevelopment
	}
}
