package scan

import (
	"strings"
	"testing"
)

// fullTarget is a realistic response body with multi-byte characters, an
// escaped quote, and both tracked arrays populated.
const fullTarget = `{
  "summary": "A chapter about café culture ☕ and the people in it.",
  "annotations": [
    {"type": "history", "title": "Viennese cafés", "content": "He said \"hello\" there.", "sourceBlockId": 3},
    {"type": "world", "title": "Streets — wide", "content": "日本語のテキスト", "sourceBlockId": 7}
  ],
  "quizQuestions": [
    {"question": "Who visits the café?", "answer": "The narrator", "sourceBlockId": 4}
  ],
  "imageSuggestions": [
    {"prompt": "a smoky café interior", "sourceBlockId": 3}
  ]
}`

func TestScannerFullDocument(t *testing.T) {
	s := New()
	a, q := s.Update(fullTarget)
	if a != 2 || q != 1 {
		t.Fatalf("Update() = (%d, %d), want (2, 1)", a, q)
	}
	ta, tq := s.Counts()
	if ta != 2 || tq != 1 {
		t.Fatalf("Counts() = (%d, %d), want (2, 1)", ta, tq)
	}
}

// TestScannerArbitrarySplits feeds the same document in fixed-size byte
// chunks for every chunk size, including sizes that split multi-byte
// characters. Totals must be identical regardless of the split.
func TestScannerArbitrarySplits(t *testing.T) {
	data := []byte(fullTarget)
	for size := 1; size <= len(data); size++ {
		s := New()
		totalA, totalQ := 0, 0
		for i := 0; i < len(data); i += size {
			end := i + size
			if end > len(data) {
				end = len(data)
			}
			a, q := s.Update(string(data[i:end]))
			totalA += a
			totalQ += q
		}
		if totalA != 2 || totalQ != 1 {
			t.Fatalf("chunk size %d: totals = (%d, %d), want (2, 1)", size, totalA, totalQ)
		}
	}
}

func TestScannerChunkSequence(t *testing.T) {
	chunks := []struct {
		text  string
		wantA int
		wantQ int
	}{
		{`{ "annotations": [`, 0, 0},
		{`{"a": 1}`, 1, 0},
		{`,`, 0, 0},
		{`{"b": 2}`, 1, 0},
		{`], "quizQuestions": [{"q": 1}]`, 0, 1},
		{`}`, 0, 0},
	}

	s := New()
	for i, c := range chunks {
		a, q := s.Update(c.text)
		if a != c.wantA || q != c.wantQ {
			t.Fatalf("chunk %d %q: deltas = (%d, %d), want (%d, %d)", i, c.text, a, q, c.wantA, c.wantQ)
		}
	}
}

func TestScannerKeySplitAcrossChunks(t *testing.T) {
	s := New()
	s.Update(`{ "anno`)
	s.Update(`tations"`)
	s.Update(`  :  [`)
	a, _ := s.Update(`{}]`)
	if a != 1 {
		t.Fatalf("annotations = %d, want 1", a)
	}
}

func TestScannerKeyNameInStringValue(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		wantA int
		wantQ int
	}{
		{
			name:  "key text inside a value string",
			text:  `{"summary": "the \"annotations\": [...] part is prose", "annotations": [{}]}`,
			wantA: 1,
		},
		{
			name:  "key name used as a plain value",
			text:  `{"x": "annotations", "annotations": [{}, {}]}`,
			wantA: 2,
		},
		{
			name:  "tracked key nested inside an element",
			text:  `{"annotations": [{"quizQuestions": [{}, {}]}]}`,
			wantA: 1,
			wantQ: 0,
		},
		{
			name:  "nested objects inside elements count once",
			text:  `{"annotations": [{"m": {"x": {}}}, {}]}`,
			wantA: 2,
		},
		{
			name:  "non-array value for tracked key",
			text:  `{"annotations": "none", "quizQuestions": [{}]}`,
			wantA: 0,
			wantQ: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			a, q := s.Update(tt.text)
			if a != tt.wantA || q != tt.wantQ {
				t.Fatalf("Update(%q) = (%d, %d), want (%d, %d)", tt.text, a, q, tt.wantA, tt.wantQ)
			}
		})
	}
}

func TestScannerEscapedQuoteAtChunkBoundary(t *testing.T) {
	// Split right after the backslash so the escape spans chunks.
	s := New()
	s.Update(`{"annotations": [{"title": "say \`)
	a, _ := s.Update(`"hi\" now"}]}`)
	if a != 1 {
		t.Fatalf("annotations = %d, want 1", a)
	}
}

func TestScannerMultiByteSplit(t *testing.T) {
	text := `{"annotations": [{"title": "☕☕☕"}]}`
	data := []byte(text)
	// Split inside the first ☕ (3-byte sequence).
	idx := strings.Index(text, "☕") + 1

	s := New()
	s.Update(string(data[:idx]))
	a, _ := s.Update(string(data[idx:]))
	if a != 1 {
		t.Fatalf("annotations = %d, want 1", a)
	}
}

func TestScannerMalformedInput(t *testing.T) {
	// Malformed structure must degrade to undercounting, never panic.
	inputs := []string{
		`}}}]]]`,
		`{"annotations": [}{`,
		"\xff\xfe\xfd",
		`"unterminated`,
		`{"annotations": [{}`,
	}
	for _, in := range inputs {
		s := New()
		s.Update(in)
	}
}

func TestScannerReset(t *testing.T) {
	s := New()
	s.Update(`{"annotations": [{}, {}]}`)
	s.Reset()
	a, q := s.Counts()
	if a != 0 || q != 0 {
		t.Fatalf("Counts() after Reset = (%d, %d), want (0, 0)", a, q)
	}
	na, _ := s.Update(`{"annotations": [{}]}`)
	if na != 1 {
		t.Fatalf("annotations after Reset = %d, want 1", na)
	}
}
