package moderation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var errNoJSON = errors.New("no JSON object found in classifier response")

// ExtractJSONObject returns the first balanced, well-formed JSON object
// embedded in text. Braces inside string literals are ignored.
func ExtractJSONObject(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > start {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at start, or -1
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseResult turns a raw classifier response into a validated Result.
// The payload is untrusted: every field is type- and range-checked.
// Confidence outside [0,1] is clamped.
func ParseResult(raw string) (Result, error) {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return Result{}, errNoJSON
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return Result{}, fmt.Errorf("decode classifier payload: %w", err)
	}

	classStr, ok := fields["classification"].(string)
	if !ok {
		return Result{}, errors.New("classification missing or not a string")
	}
	class := Classification(strings.ToLower(strings.TrimSpace(classStr)))
	if !class.Valid() {
		return Result{}, fmt.Errorf("unknown classification %q", classStr)
	}

	conf, ok := fields["confidence"].(float64)
	if !ok {
		return Result{}, errors.New("confidence missing or not a number")
	}
	if math.IsNaN(conf) || math.IsInf(conf, 0) {
		return Result{}, errors.New("confidence is not finite")
	}
	conf = math.Max(0, math.Min(1, conf))

	var reasoning string
	switch r := fields["reasoning"].(type) {
	case nil:
	case string:
		reasoning = r
	default:
		return Result{}, errors.New("reasoning is not a string")
	}

	return Result{
		Classification: class,
		Confidence:     conf,
		Reasoning:      reasoning,
	}, nil
}
