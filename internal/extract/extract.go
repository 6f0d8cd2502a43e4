// Package extract pulls structured payloads out of free-form model output.
package extract

import "strings"

// First returns the first balanced top-level JSON object in text, exactly as
// it appears in the input. The scan is purely lexical: it strips one code
// fence if present, finds the first '{', and walks braces while honoring
// string literals and backslash escapes. Callers are expected to run a JSON
// parser on the result and treat parse failure as a normal, retryable error.
func First(text string) (string, bool) {
	t := stripFence(strings.TrimSpace(text))

	start := strings.IndexByte(t, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(t); i++ {
		ch := t[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return t[start : i+1], true
			}
		}
	}
	return "", false
}

// stripFence unwraps a single ``` fence, tolerating an optional language tag
// on the opening line. Text without a complete fence is returned unchanged.
func stripFence(t string) string {
	open := strings.Index(t, "```")
	if open < 0 {
		return t
	}
	body := t[open+3:]
	end := strings.Index(body, "```")
	if end < 0 {
		return t
	}
	body = body[:end]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag != "" && strings.IndexByte(tag, '{') < 0 {
			body = body[nl+1:]
		}
	}
	return strings.TrimSpace(body)
}
