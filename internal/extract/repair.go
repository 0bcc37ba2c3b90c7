package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// repairJSON coerces a model response into parseable JSON. Strategies are
// applied in order of increasing aggressiveness; the returned slice names
// the ones that were needed.
func repairJSON(raw string) (string, []string, error) {
	var applied []string

	candidate := strings.TrimSpace(raw)
	if json.Valid([]byte(candidate)) {
		return candidate, nil, nil
	}

	if m := codeFenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
		applied = append(applied, "code_fence")
		if json.Valid([]byte(candidate)) {
			return candidate, applied, nil
		}
	}

	if trimmed := extractEnclosed(candidate); trimmed != candidate {
		candidate = trimmed
		applied = append(applied, "enclosure")
		if json.Valid([]byte(candidate)) {
			return candidate, applied, nil
		}
	}

	if fixed := trailingCommaRe.ReplaceAllString(candidate, "$1"); fixed != candidate {
		candidate = fixed
		applied = append(applied, "trailing_comma")
		if json.Valid([]byte(candidate)) {
			return candidate, applied, nil
		}
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return "", applied, err
	}
	applied = append(applied, "jsonrepair")
	return repaired, applied, nil
}

// extractEnclosed trims leading and trailing prose around the outermost
// JSON object or array.
func extractEnclosed(s string) string {
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")

	start := objStart
	closer := "}"
	if start == -1 || (arrStart != -1 && arrStart < start) {
		start = arrStart
		closer = "]"
	}
	if start == -1 {
		return s
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return s
	}
	return s[start : end+1]
}
