package shared

import "strings"

// ellipsis appended when a text is cut at the soft limit.
const ellipsis = "…"

// NormalizeText collapses runs of whitespace into single spaces and
// enforces the length limits, counted in runes. Text longer than the
// hard limit (twice the soft limit when hardLimit is 0) is cut before
// normalization; text still longer than the soft limit afterwards is
// cut and terminated with an ellipsis.
func NormalizeText(text string, softLimit, hardLimit int) string {
	if hardLimit == 0 {
		hardLimit = softLimit * 2
	}
	runes := []rune(text)
	if len(runes) > hardLimit {
		runes = runes[:hardLimit]
	}
	text = strings.Join(strings.Fields(string(runes)), " ")
	runes = []rune(text)
	if len(runes) > softLimit {
		text = string(runes[:softLimit-1]) + ellipsis
	}
	return text
}

// prepareText normalizes an optional text update. A nil pointer means
// unchanged; an empty string clears the stored value.
func prepareText(value *string, softLimit int) *string {
	if value == nil {
		return nil
	}
	if *value == "" {
		empty := ""
		return &empty
	}
	normalized := NormalizeText(*value, softLimit, 0)
	return &normalized
}
