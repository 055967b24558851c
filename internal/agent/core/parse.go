package core

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

var (
	openFence  = regexp.MustCompile("^```[A-Za-z0-9_+-]*[ \t]*\r?\n?")
	closeFence = regexp.MustCompile("\r?\n?```\\s*$")
)

// stripCodeFence removes a leading ```lang fence and a trailing ``` fence.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = openFence.ReplaceAllString(raw, "")
	raw = closeFence.ReplaceAllString(raw, "")
	return strings.TrimSpace(raw)
}

// decodeObject strips fences and decodes the first well-formed JSON object in
// raw into v. It returns the top-level keys in sorted order. Prose before or
// after the object is tolerated, braces in that prose included.
func decodeObject(raw string, v any) ([]string, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return nil, &MalformedOutputError{Raw: raw, Err: errors.New("empty body")}
	}
	var firstErr error
	for i := 0; i < len(body); i++ {
		if body[i] != '{' {
			continue
		}
		obj, ok := balancedObject(body, i)
		if !ok {
			continue
		}
		keys, err := decodeInto(obj, v)
		if err == nil {
			return keys, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		i += len(obj) - 1
	}
	if firstErr == nil {
		firstErr = errors.New("no JSON object found")
	}
	return nil, &MalformedOutputError{Raw: raw, Err: firstErr}
}

func decodeInto(body string, v any) ([]string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// balancedObject returns the {...} segment opening at s[start], matching
// braces and brackets outside string literals.
func balancedObject(s string, start int) (string, bool) {
	var (
		stack    []byte
		inString bool
		escape   bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return "", false
			}
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
