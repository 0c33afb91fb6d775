// Package scan implements an incremental counter of completed array elements
// under known keys inside a streaming, possibly-malformed JSON text buffer.
// It never parses the full document: it tracks just enough structure (brace
// depth, string state, candidate key names) to report each element the moment
// its closing brace arrives, no matter how the text is split into chunks.
package scan

import "unicode/utf8"

// Keys the scanner tracks. Objects completing directly inside these arrays
// are reported as discoveries.
const (
	annotationsKey = "annotations"
	quizKey        = "quizQuestions"
)

// maxKeyLen bounds the candidate-key buffer; both tracked keys are shorter.
const maxKeyLen = 32

// strState is the scanner's string-mode as one explicit tagged state so
// transitions are exhaustively checkable.
type strState int

const (
	outsideString strState = iota
	insideString
	// escapePending: a backslash was the last character seen inside a
	// string. The following character (possibly in the next chunk) must
	// not toggle string mode.
	escapePending
)

// Scanner counts completed annotation and quiz-question elements in a
// streaming JSON text. State persists across Update calls; Reset clears it
// for reuse. The scanner never errors: malformed structure degrades to
// undercounting, since live discoveries are advisory and final counts come
// from the extractor.
//
// Scanner is not safe for concurrent use.
type Scanner struct {
	// partial holds trailing bytes of an incomplete UTF-8 sequence split
	// across chunk boundaries.
	partial []byte

	str   strState
	depth int

	// Candidate key name capture. A string is captured while open; when it
	// closes we hold it until the next non-space character decides whether
	// it was a key (':') or a value.
	capture     []rune
	overflow    bool
	candidate   string
	awaitColon  bool
	awaitArray  bool
	pendingKey  string
	tracked     string
	arrayDepth  int

	annotations int
	quiz        int
}

// New creates a scanner ready for the first chunk.
func New() *Scanner {
	return &Scanner{}
}

// Reset clears all state for reuse on a new stream.
func (s *Scanner) Reset() {
	*s = Scanner{}
}

// Counts returns the total discoveries seen so far.
func (s *Scanner) Counts() (annotations, quiz int) {
	return s.annotations, s.quiz
}

// Update consumes the next text increment and returns how many new
// annotation and quiz-question elements completed within it. Chunks may be
// split at arbitrary byte positions, including inside a multi-byte
// character; incomplete sequences are held until the next chunk.
func (s *Scanner) Update(chunk string) (newAnnotations, newQuiz int) {
	prevA, prevQ := s.annotations, s.quiz

	s.partial = append(s.partial, chunk...)
	i := 0
	for i < len(s.partial) {
		r, size := utf8.DecodeRune(s.partial[i:])
		if r == utf8.RuneError && size == 1 {
			if !utf8.FullRune(s.partial[i:]) {
				// Incomplete sequence at the buffer tail; wait for more.
				break
			}
			// Genuinely invalid byte: drop it and continue.
			i++
			continue
		}
		s.step(r)
		i += size
	}
	s.partial = append(s.partial[:0], s.partial[i:]...)

	return s.annotations - prevA, s.quiz - prevQ
}

// step advances the state machine by one decoded character.
func (s *Scanner) step(r rune) {
	switch s.str {
	case insideString:
		switch r {
		case '\\':
			s.str = escapePending
		case '"':
			s.str = outsideString
			if !s.overflow {
				s.candidate = string(s.capture)
				s.awaitColon = true
			}
		default:
			s.captureRune(r)
		}
		return

	case escapePending:
		// The escaped character never toggles string mode. It also makes
		// the string unusable as one of our plain key names.
		s.overflow = true
		s.str = insideString
		return
	}

	// Outside any string.

	if s.awaitColon {
		if isSpace(r) {
			return
		}
		s.awaitColon = false
		if r == ':' {
			s.keyConfirmed(s.candidate)
			return
		}
		// Not a key; fall through so structural characters still count.
	}

	if s.awaitArray {
		if isSpace(r) {
			return
		}
		s.awaitArray = false
		if r == '[' {
			s.depth++
			s.tracked = s.pendingKey
			s.arrayDepth = s.depth
			return
		}
		// Value was not an array; fall through.
	}

	switch r {
	case '"':
		s.str = insideString
		s.capture = s.capture[:0]
		s.overflow = false
	case '{', '[':
		s.depth++
	case '}':
		if s.tracked != "" && s.depth == s.arrayDepth+1 {
			switch s.tracked {
			case annotationsKey:
				s.annotations++
			case quizKey:
				s.quiz++
			}
		}
		s.decDepth()
	case ']':
		if s.tracked != "" && s.depth == s.arrayDepth {
			s.tracked = ""
		}
		s.decDepth()
	}
}

// keyConfirmed handles a quoted string confirmed to be a structural key.
// Keys are only acted on while no tracked array is open, so key names inside
// element data can never hijack the bookkeeping.
func (s *Scanner) keyConfirmed(key string) {
	if s.tracked != "" {
		return
	}
	if key == annotationsKey || key == quizKey {
		s.awaitArray = true
		s.pendingKey = key
	}
}

func (s *Scanner) captureRune(r rune) {
	if s.overflow {
		return
	}
	if len(s.capture) >= maxKeyLen {
		s.overflow = true
		return
	}
	s.capture = append(s.capture, r)
}

func (s *Scanner) decDepth() {
	if s.depth > 0 {
		s.depth--
	}
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
