// Package jsonspan pulls a JSON object out of free-form model output.
//
// Language models are asked for bare JSON but routinely wrap it in code
// fences or surround it with commentary. Extract tolerates both and reports
// an explicit miss instead of guessing.
package jsonspan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("no JSON object found in text")

// Extract returns the first balanced top-level {...} span in text. Code fence
// markers are removed before scanning. Braces inside string literals are
// ignored. The boolean is false when no balanced object exists.
func Extract(text string) (string, bool) {
	text = stripFences(text)
	for offset := 0; offset < len(text); {
		start := strings.IndexByte(text[offset:], '{')
		if start < 0 {
			return "", false
		}
		start += offset
		if end, ok := matchObject(text, start); ok {
			return text[start : end+1], true
		}
		offset = start + 1
	}
	return "", false
}

// Decode extracts the first object from text and unmarshals it into dst.
func Decode(text string, dst any) error {
	span, ok := Extract(text)
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal([]byte(span), dst); err != nil {
		return fmt.Errorf("decode JSON span: %w", err)
	}
	return nil
}

// stripFences drops ``` markers and an optional language tag that follows
// the opening marker.
func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return strings.TrimSpace(text)
	}
	var b strings.Builder
	rest := text
	for {
		idx := strings.Index(rest, "```")
		if idx < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:idx])
		rest = rest[idx+3:]
		rest = strings.TrimLeft(rest, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// matchObject returns the index of the brace closing the object opened at
// start.
func matchObject(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
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
				return i, true
			}
		}
	}
	return 0, false
}
