package llm

import (
	"strings"

	json "github.com/goccy/go-json"
)

// ExtractJSONObject returns the first balanced {...} object found in text.
// Models often wrap JSON in prose or code fences.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
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

func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
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

// DecodeJSONObject extracts the first JSON object in text into v.
func DecodeJSONObject(text string, v interface{}) error {
	raw, ok := ExtractJSONObject(text)
	if !ok {
		return ErrNoJSONObject
	}
	return json.Unmarshal([]byte(raw), v)
}
