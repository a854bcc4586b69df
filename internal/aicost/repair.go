package aicost

import (
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// fieldAliases renames fields the model commonly emits under a different name
// than the declared schema expects.
var fieldAliases = map[string]string{
	"preserve": "isKnowledgeWorthy",
	"reason":   "reasoning",
}

// Repair is a pure text-to-text transform turning near-JSON model output into
// a best-effort JSON document: strip markdown fences, rename snake_case keys
// to camelCase, apply semantic field aliases. It never parses the JSON itself
// — that is the caller's job via parseAndValidate — so Repair is idempotent
// when applied to text that is already valid JSON (modulo whitespace and key
// casing, both no-ops on already-camelCase input).
func Repair(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if text == "" {
		return "", false
	}

	text = renameKeys(text, fieldAliases)
	text = snakeToCamelKeys(text)
	return text, true
}

var keyPattern = regexp.MustCompile(`"([a-zA-Z0-9_]+)"\s*:`)

func renameKeys(text string, aliases map[string]string) string {
	return keyPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := keyPattern.FindStringSubmatch(m)
		key := sub[1]
		if renamed, ok := aliases[key]; ok {
			return `"` + renamed + `":`
		}
		return m
	})
}

var snakeKeyPattern = regexp.MustCompile(`"([a-z0-9]+(?:_[a-z0-9]+)+)"\s*:`)

func snakeToCamelKeys(text string) string {
	return snakeKeyPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := snakeKeyPattern.FindStringSubmatch(m)
		return `"` + toCamel(sub[1]) + `":`
	})
}

func toCamel(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}
