package providers

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/marginalia-app/marginalia/internal/analysis"
)

// MockClient is a scriptable Client for tests.
type MockClient struct {
	// ClientName overrides the reported name ("mock" if empty).
	ClientName string

	// Chunks is the scripted stream returned by StreamChat.
	Chunks []analysis.Chunk

	// StreamErr, when set, is returned by the source after ErrAfter chunks
	// have been yielded.
	StreamErr error
	ErrAfter  int

	// ChatContent is the buffered response returned by Chat.
	ChatContent string
	ChatErr     error

	mu      sync.Mutex
	sources []*MockSource
}

func (m *MockClient) Name() string {
	if m.ClientName != "" {
		return m.ClientName
	}
	return "mock"
}

func (m *MockClient) Chat(_ context.Context, req *ChatRequest) (*ChatResult, error) {
	if m.ChatErr != nil {
		return nil, m.ChatErr
	}
	return &ChatResult{
		Content:   m.ChatContent,
		Provider:  m.Name(),
		RequestID: req.RequestID,
	}, nil
}

func (m *MockClient) StreamChat(_ context.Context, _ *ChatRequest) (analysis.Source, error) {
	src := &MockSource{
		chunks:   m.Chunks,
		err:      m.StreamErr,
		errAfter: m.ErrAfter,
	}
	m.mu.Lock()
	m.sources = append(m.sources, src)
	m.mu.Unlock()
	return src, nil
}

// Sources returns every source handed out, for close assertions.
func (m *MockClient) Sources() []*MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockSource, len(m.sources))
	copy(out, m.sources)
	return out
}

// MockSource yields scripted chunks and records whether it was closed.
type MockSource struct {
	chunks   []analysis.Chunk
	i        int
	err      error
	errAfter int
	closed   atomic.Bool
}

func (s *MockSource) Next(ctx context.Context) (analysis.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil && s.i >= s.errAfter {
		return nil, s.err
	}
	if s.i >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *MockSource) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (s *MockSource) Closed() bool { return s.closed.Load() }

// ContentChunks splits text into content chunks of at most size bytes,
// letting tests exercise arbitrary split points including mid-character.
func ContentChunks(text string, size int) []analysis.Chunk {
	if size <= 0 {
		size = 1
	}
	var out []analysis.Chunk
	for len(text) > size {
		out = append(out, analysis.ContentChunk{Text: text[:size]})
		text = text[size:]
	}
	if text != "" {
		out = append(out, analysis.ContentChunk{Text: text})
	}
	return out
}
