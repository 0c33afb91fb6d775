// Package classify builds the garbage-classification prompt and defines its
// expected response shape.
package classify

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/marginalia-app/marginalia/internal/providers"
)

//go:embed system.tmpl
var systemPrompt string

// sampleLimit bounds how much chapter text the classifier sees; the opening
// is enough to recognize front and back matter.
const sampleLimit = 2000

// Verdict is the classifier's parsed response.
type Verdict struct {
	Garbage bool   `json:"garbage"`
	Reason  string `json:"reason,omitempty"`
}

// VerdictSchema validates classifier responses during extraction.
var VerdictSchema = json.RawMessage(`{
	"type": "object",
	"required": ["garbage"],
	"properties": {
		"garbage": {"type": "boolean"},
		"reason": {"type": "string"}
	}
}`)

// Messages builds the chat messages for classifying one chapter.
func Messages(chapterTitle, text string) []providers.Message {
	runes := []rune(text)
	if len(runes) > sampleLimit {
		runes = runes[:sampleLimit]
	}
	user := fmt.Sprintf("Chapter title: %s\n\nChapter text:\n%s", chapterTitle, string(runes))
	return []providers.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
}
