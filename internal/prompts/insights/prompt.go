// Package insights builds the chapter-analysis prompt. The user message
// carries the segmenter's flat marked text; block ids in the [N] markers
// define the anchor space for everything the model returns.
package insights

import (
	_ "embed"
	"fmt"

	"github.com/marginalia-app/marginalia/internal/providers"
)

//go:embed system.tmpl
var systemPrompt string

// SystemPrompt returns the analysis system prompt.
func SystemPrompt() string {
	return systemPrompt
}

// Messages builds the chat messages for analyzing one chapter.
func Messages(bookTitle, chapterTitle, markedText string) []providers.Message {
	user := fmt.Sprintf("Book: %s\nChapter: %s\n\n%s", bookTitle, chapterTitle, markedText)
	return []providers.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
}
