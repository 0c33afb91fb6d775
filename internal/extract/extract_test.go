package extract

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

type payload struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags,omitempty"`
}

var payloadSchema = json.RawMessage(`{
	"type": "object",
	"required": ["summary"],
	"properties": {
		"summary": {"type": "string"},
		"tags": {"type": "array", "items": {"type": "string"}}
	}
}`)

func TestDecodePlainObject(t *testing.T) {
	got, err := Decode[payload](`{"summary": "Direct"}`, payloadSchema)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.Summary != "Direct" {
		t.Fatalf("Summary = %q, want %q", got.Summary, "Direct")
	}
}

func TestDecodeSkipsDecoys(t *testing.T) {
	text := `Here is some analysis. First consider {"status": "ok"} as an example,
and also the fragment {broken json} before the real answer:
{"summary": "Direct", "tags": ["a"]}
trailing commentary`

	got, err := Decode[payload](text, payloadSchema)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.Summary != "Direct" {
		t.Fatalf("Summary = %q, want %q", got.Summary, "Direct")
	}
	if len(got.Tags) != 1 || got.Tags[0] != "a" {
		t.Fatalf("Tags = %v, want [a]", got.Tags)
	}
}

func TestDecodeNestedBracesAndEscapedQuotes(t *testing.T) {
	text := `prefix {"summary": "Nested { braces } and escaped \" quotes"} suffix`
	got, err := Decode[payload](text, payloadSchema)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	want := `Nested { braces } and escaped " quotes`
	if got.Summary != want {
		t.Fatalf("Summary = %q, want %q", got.Summary, want)
	}
}

func TestDecodeFencedAndUnfencedEquivalent(t *testing.T) {
	plain := `{"summary": "Fenced"}`
	fenced := "```json\n" + plain + "\n```"

	a, err := Decode[payload](plain, payloadSchema)
	if err != nil {
		t.Fatalf("Decode(plain) error: %v", err)
	}
	b, err := Decode[payload](fenced, payloadSchema)
	if err != nil {
		t.Fatalf("Decode(fenced) error: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("fenced result %+v differs from plain %+v", b, a)
	}
}

func TestDecodeSchemaRejectsWrongShape(t *testing.T) {
	// Unmarshals into payload fine (zero values) but fails the schema.
	_, err := Decode[payload](`{"status": "ok"}`, payloadSchema)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("error = %v, want *ExtractionError", err)
	}
}

func TestDecodeWithoutSchemaRejectsUnknownFields(t *testing.T) {
	got, err := Decode[payload](`{"status": "ok"} {"summary": "Real"}`, nil)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.Summary != "Real" {
		t.Fatalf("Summary = %q, want %q", got.Summary, "Real")
	}
}

func TestDecodeNoObject(t *testing.T) {
	_, err := Decode[payload]("no json here at all", payloadSchema)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("error = %v, want *ExtractionError", err)
	}
	if extErr.Text != "no json here at all" {
		t.Fatalf("ExtractionError.Text = %q, want original text", extErr.Text)
	}
}

func TestDecodeUnbalancedThenValid(t *testing.T) {
	// First candidate is balanced but not valid JSON; scanning resumes.
	text := `{"broken": } {"summary": "Recovered"}`
	got, err := Decode[payload](text, payloadSchema)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.Summary != "Recovered" {
		t.Fatalf("Summary = %q, want %q", got.Summary, "Recovered")
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a": 1}`, ""},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"missing closing fence", "```json\n{\"a\": 1}", `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFence(tt.in); got != tt.want {
				t.Fatalf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
