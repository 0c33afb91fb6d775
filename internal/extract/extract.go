// Package extract locates and decodes a single well-formed JSON object inside
// arbitrary surrounding text. Model output is not guaranteed to be clean
// JSON: it may be wrapped in commentary or markdown fences and may contain
// decoy brace-delimited fragments before the real payload. The extractor
// scans left to right and returns the first candidate that both decodes and
// passes schema validation.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ExtractionError reports that no schema-valid candidate was found. The
// scanned text is retained so a failed analysis can be diagnosed.
type ExtractionError struct {
	Text string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("no schema-valid JSON object found in %d bytes of output", len(e.Text))
}

// Decode finds the first JSON object in text that unmarshals into T and,
// when schemaRaw is non-empty, validates against the JSON Schema. If the
// whole text is wrapped in a fenced code block the fence is stripped first.
func Decode[T any](text string, schemaRaw json.RawMessage) (T, error) {
	var zero T

	body := text
	if stripped := stripCodeFence(text); stripped != "" {
		body = stripped
	}

	var schema *jsonschema.Schema
	if len(schemaRaw) > 0 {
		var err error
		schema, err = compileSchema(schemaRaw)
		if err != nil {
			return zero, err
		}
	}

	var inStr, esc bool
	for i := 0; i < len(body); i++ {
		c := body[i]
		if esc {
			esc = false
			continue
		}
		switch c {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			inStr = !inStr
		case '{':
			if inStr {
				continue
			}
			length, ok := matchBrace(body[i:])
			if !ok {
				continue
			}
			if v, err := tryDecode[T](body[i:i+length], schema); err == nil {
				return v, nil
			}
			// Failed candidate: resume from the next brace after its start.
		}
	}

	return zero, &ExtractionError{Text: text}
}

// matchBrace returns the length of the balanced object starting at the
// opening brace, scanning string/escape-aware so braces and brackets inside
// quoted values never affect the depth.
func matchBrace(s string) (int, bool) {
	depth := 0
	var inStr, esc bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		if esc {
			esc = false
			continue
		}
		if inStr {
			switch c {
			case '\\':
				esc = true
			case '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, c == '}'
			}
		}
	}
	return 0, false
}

// tryDecode decodes one candidate. With a schema, the candidate must
// validate before being unmarshaled into T; without one, unknown fields are
// rejected so decoys that happen to unmarshal into zero values don't win.
func tryDecode[T any](candidate string, schema *jsonschema.Schema) (T, error) {
	var zero T

	if schema != nil {
		var doc any
		if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
			return zero, err
		}
		if err := schema.Validate(doc); err != nil {
			return zero, err
		}
		var v T
		if err := json.Unmarshal([]byte(candidate), &v); err != nil {
			return zero, err
		}
		return v, nil
	}

	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.DisallowUnknownFields()
	var v T
	if err := dec.Decode(&v); err != nil {
		return zero, err
	}
	return v, nil
}

func compileSchema(schemaRaw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaRaw)); err != nil {
		return nil, fmt.Errorf("failed to load extraction schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile extraction schema: %w", err)
	}
	return schema, nil
}

// stripCodeFence returns the fence contents when the whole text is a single
// fenced code block, or "" when it is not.
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	// Drop the opening fence line (possibly carrying a language tag).
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
