// Package analysis turns a provider chunk stream into an ordered, cancellable
// sequence of discovery and completion events. Content deltas are fed to the
// incremental scanner for live discoveries while the full text accumulates;
// when the stream is exhausted the buffer is handed to the extractor for the
// terminal result.
package analysis

import "context"

// Chunk is the three-way tagged union consumed from the transport
// collaborator. Chunks arrive already classified.
type Chunk interface {
	isChunk()
}

// ThinkingChunk is intermediate reasoning text, distinct from the final
// content payload. It never touches the scanner or accumulation buffer.
type ThinkingChunk struct {
	Text string
}

// ContentChunk is a delta of the final content payload.
type ContentChunk struct {
	Text string
}

// UsageChunk reports token accounting from the provider.
type UsageChunk struct {
	Usage Usage
}

// Usage holds provider token counts.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	ReasoningTokens int `json:"reasoning_tokens"`
	OutputTokens    int `json:"output_tokens"`
}

func (ThinkingChunk) isChunk() {}
func (ContentChunk) isChunk()  {}
func (UsageChunk) isChunk()    {}

// Source yields classified chunks from the transport. Next returns io.EOF
// when the provider finishes; Close releases the underlying transport and
// must be safe to call more than once.
type Source interface {
	Next(ctx context.Context) (Chunk, error)
	Close() error
}
