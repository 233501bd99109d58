package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
)

// Pre-compiled regular expressions for response cleanup. Compiling on every
// parse is an order of magnitude slower.
var (
	codeFenceStartRegex = regexp.MustCompile(`(?s)^` + "`" + `{3}(?:json)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}\s*$`)
	codeFenceAnyRegex   = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)
	trailingCommaRegex  = regexp.MustCompile(`,(\s*[}\]])`)
	objectRegex         = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	arrayRegex          = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// Parse decodes a model response with multiple fallback strategies. LLM
// output frequently wraps JSON in code fences or prose, so direct
// unmarshalling alone is not enough.
//
// Strategy sequence:
//  1. Direct JSON parse
//  2. Remove code fences and retry
//  3. Strip trailing commas and retry
//  4. Extract the first JSON object/array from mixed content and retry
//
// All strategies failing returns an error wrapping types.ErrLLMParse so that
// callers can fall back to deterministic heuristics.
func Parse[T any](text string, out *T) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("%w: empty response", types.ErrLLMParse)
	}

	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	withoutFences := removeCodeFences(trimmed)
	if withoutFences != trimmed {
		if err := json.Unmarshal([]byte(withoutFences), out); err == nil {
			return nil
		}
	}

	cleaned := trailingCommaRegex.ReplaceAllString(withoutFences, "$1")
	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	if extracted := extractJSON(cleaned); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), out); err == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: all parsing strategies failed for response %q", types.ErrLLMParse, truncate(text, 200))
}

// removeCodeFences strips markdown code fences from text.
func removeCodeFences(text string) string {
	cleaned := codeFenceStartRegex.ReplaceAllString(text, "$1")
	if cleaned == text {
		cleaned = codeFenceAnyRegex.ReplaceAllString(text, "$1")
	}
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "`"), "`")
	}
	return strings.TrimSpace(cleaned)
}

// extractJSON pulls the first JSON object or array out of mixed content. The
// first-character check prevents extracting a nested object from an array.
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return arrayRegex.FindString(text)
	}
	if match := objectRegex.FindString(text); match != "" {
		return match
	}
	return arrayRegex.FindString(text)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
