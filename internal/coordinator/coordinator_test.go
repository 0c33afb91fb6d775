package coordinator

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marginalia-app/marginalia/internal/analysis"
	"github.com/marginalia-app/marginalia/internal/providers"
	"github.com/marginalia-app/marginalia/internal/store"
)

const chapterHTML = `<html><body>
<h1>The Café</h1>
<p>The narrator arrives at the café in the morning.</p>
<p>An argument about philosophy breaks out.</p>
</body></html>`

// Blocks: 0 = heading, 1 and 2 = paragraphs.
const chapterResult = `{
  "summary": "A morning at the café ends in argument.",
  "annotations": [
    {"type": "philosophy", "title": "The argument", "content": "Context.", "sourceBlockId": 2},
    {"type": "world", "title": "The café", "content": "Setting.", "sourceBlockId": 0}
  ],
  "quizQuestions": [
    {"question": "Where does the chapter open?", "answer": "At the café", "sourceBlockId": 1}
  ],
  "imageSuggestions": [
    {"prompt": "a crowded café at dawn", "sourceBlockId": 99}
  ]
}`

func newFixture(t *testing.T, client providers.Client) (*Coordinator, *store.Memory, *store.Book, *store.Chapter) {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()

	book := &store.Book{Title: "Test Book"}
	if _, err := st.SaveBook(ctx, book); err != nil {
		t.Fatalf("SaveBook: %v", err)
	}
	chapter := &store.Chapter{BookID: book.ID, Index: 0, Title: "The Café", HTML: chapterHTML}
	if _, err := st.SaveChapter(ctx, chapter); err != nil {
		t.Fatalf("SaveChapter: %v", err)
	}

	registry := providers.NewRegistry()
	if client != nil {
		registry.Register(client)
	}

	coord := New(Config{
		Store:       st,
		Registry:    registry,
		AutoProcess: true,
	})
	return coord, st, book, chapter
}

// drain consumes the run's events until the channel closes.
func drain(t *testing.T, run *Run) []analysis.Event {
	t.Helper()
	var events []analysis.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out draining run; got %d events", len(events))
		}
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAnalyzePersistsResult(t *testing.T) {
	client := &providers.MockClient{Chunks: providers.ContentChunks(chapterResult, 9)}
	coord, st, book, chapter := newFixture(t, client)
	ctx := context.Background()

	run, err := coord.Analyze(ctx, book, chapter)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	drain(t, run)

	waitFor(t, func() bool {
		return coord.ProcessingState(chapter.ID).Phase == PhaseCompleted
	}, "run never reached completed")

	got, err := st.GetChapter(ctx, chapter.ID)
	if err != nil {
		t.Fatalf("GetChapter: %v", err)
	}
	if !got.Processed {
		t.Fatal("chapter not marked processed")
	}
	if got.Summary == "" {
		t.Fatal("chapter summary not saved")
	}

	annotations, err := st.ListAnnotations(ctx, chapter.ID)
	if err != nil {
		t.Fatalf("ListAnnotations: %v", err)
	}
	if len(annotations) != 2 {
		t.Fatalf("annotations = %d, want 2", len(annotations))
	}
	if annotations[0].SourceBlockID != 0 || annotations[1].SourceBlockID != 2 {
		t.Fatalf("annotation block order = %d, %d", annotations[0].SourceBlockID, annotations[1].SourceBlockID)
	}

	quiz, err := st.ListQuizQuestions(ctx, chapter.ID)
	if err != nil {
		t.Fatalf("ListQuizQuestions: %v", err)
	}
	if len(quiz) != 1 {
		t.Fatalf("quiz questions = %d, want 1", len(quiz))
	}

	// The image suggestion points at an unknown block and is dropped.
	images, err := st.ListImageSuggestions(ctx, chapter.ID)
	if err != nil {
		t.Fatalf("ListImageSuggestions: %v", err)
	}
	if len(images) != 0 {
		t.Fatalf("image suggestions = %d, want 0", len(images))
	}

	// Writes are sequenced: annotations in ascending block order, then quiz,
	// then the chapter update. The first two writes are fixture setup.
	writes := st.Writes()[2:]
	var sequence []string
	for _, w := range writes {
		sequence = append(sequence, w.Collection)
	}
	want := []string{"Annotation", "Annotation", "QuizQuestion", "Chapter"}
	if len(sequence) != len(want) {
		t.Fatalf("write sequence = %v, want %v", sequence, want)
	}
	for i := range want {
		if sequence[i] != want[i] {
			t.Fatalf("write sequence = %v, want %v", sequence, want)
		}
	}
	if writes[0].DocID != annotations[0].ID {
		t.Fatal("annotations not written in block order")
	}

	sources := client.Sources()
	if len(sources) != 1 || !sources[0].Closed() {
		t.Fatal("stream source not closed after completion")
	}
}

// gateClient blocks its stream until the gate channel is closed.
type gateClient struct {
	gate   chan struct{}
	chunks []analysis.Chunk

	sources atomic.Int32
	lastSrc atomic.Pointer[gateSource]
}

func (g *gateClient) Name() string { return "gate" }

func (g *gateClient) Chat(context.Context, *providers.ChatRequest) (*providers.ChatResult, error) {
	return nil, errors.New("gate client is stream-only")
}

func (g *gateClient) StreamChat(context.Context, *providers.ChatRequest) (analysis.Source, error) {
	src := &gateSource{gate: g.gate, chunks: g.chunks}
	g.sources.Add(1)
	g.lastSrc.Store(src)
	return src, nil
}

type gateSource struct {
	gate   chan struct{}
	chunks []analysis.Chunk
	i      int
	closed atomic.Bool
}

func (s *gateSource) Next(ctx context.Context) (analysis.Chunk, error) {
	select {
	case <-s.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.i >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *gateSource) Close() error {
	s.closed.Store(true)
	return nil
}

func TestAnalyzeSingleFlight(t *testing.T) {
	client := &gateClient{
		gate:   make(chan struct{}),
		chunks: providers.ContentChunks(chapterResult, 64),
	}
	coord, _, book, chapter := newFixture(t, client)
	ctx := context.Background()

	r1, err := coord.Analyze(ctx, book, chapter)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	r2, err := coord.Analyze(ctx, book, chapter)
	if err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	if r1 != r2 {
		t.Fatal("concurrent Analyze did not join the in-flight run")
	}
	if n := client.sources.Load(); n != 1 {
		t.Fatalf("stream opened %d times, want 1", n)
	}

	if !coord.ProcessingState(chapter.ID).IsProcessingInsights() {
		t.Fatal("state not processing while run in flight")
	}

	close(client.gate)
	drain(t, r1)
	waitFor(t, func() bool {
		return coord.ProcessingState(chapter.ID).Phase == PhaseCompleted
	}, "run never completed")
}

func TestCancelClearsProcessingSynchronously(t *testing.T) {
	client := &gateClient{gate: make(chan struct{}), chunks: nil}
	coord, _, book, chapter := newFixture(t, client)

	run, err := coord.Analyze(context.Background(), book, chapter)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if !coord.Cancel(chapter.ID) {
		t.Fatal("Cancel returned false for in-flight run")
	}
	// State must read idle immediately, before the goroutine unwinds.
	if state := coord.ProcessingState(chapter.ID); state.IsProcessingInsights() {
		t.Fatalf("state after Cancel = %v, want idle", state.Phase)
	}
	if coord.Cancel(chapter.ID) {
		t.Fatal("second Cancel reported an active run")
	}

	drain(t, run)
	waitFor(t, func() bool {
		src := client.lastSrc.Load()
		return src != nil && src.closed.Load()
	}, "source not closed after cancel")
}

func TestAnalyzePartialPersistFailure(t *testing.T) {
	client := &providers.MockClient{Chunks: providers.ContentChunks(chapterResult, 32)}
	coord, st, book, chapter := newFixture(t, client)
	ctx := context.Background()

	// First annotation save succeeds, everything after fails.
	st.SetErrorAfterNWrites(1)

	run, err := coord.Analyze(ctx, book, chapter)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	events := drain(t, run)

	if len(events) == 0 {
		t.Fatal("no events")
	}
	if _, ok := events[len(events)-1].(analysis.FailedEvent); !ok {
		t.Fatalf("last event = %T, want FailedEvent", events[len(events)-1])
	}

	state := coord.ProcessingState(chapter.ID)
	if state.Phase != PhaseFailed || state.LastError == "" {
		t.Fatalf("state = %+v, want failed with error", state)
	}

	st.ClearErrors()
	got, err := st.GetChapter(ctx, chapter.ID)
	if err != nil {
		t.Fatalf("GetChapter: %v", err)
	}
	if got.Processed {
		t.Fatal("chapter marked processed despite persist failure")
	}

	// The run slot is free again: a retry starts a new run.
	run2, err := coord.Analyze(ctx, book, chapter)
	if err != nil {
		t.Fatalf("retry Analyze: %v", err)
	}
	drain(t, run2)
	waitFor(t, func() bool {
		return coord.ProcessingState(chapter.ID).Phase == PhaseCompleted
	}, "retry never completed")
}

func TestAnalyzeStreamFailure(t *testing.T) {
	client := &providers.MockClient{
		Chunks:    providers.ContentChunks(`{"summary": "partial`, 5),
		StreamErr: errors.New("connection reset"),
		ErrAfter:  2,
	}
	coord, _, book, chapter := newFixture(t, client)

	run, err := coord.Analyze(context.Background(), book, chapter)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	drain(t, run)

	waitFor(t, func() bool {
		return coord.ProcessingState(chapter.ID).Phase == PhaseFailed
	}, "state never reached failed")
	if coord.ProcessingState(chapter.ID).LastError == "" {
		t.Fatal("LastError empty after stream failure")
	}
}

func TestAnalyzeNoProvider(t *testing.T) {
	coord, _, book, chapter := newFixture(t, nil)
	if _, err := coord.Analyze(context.Background(), book, chapter); err == nil {
		t.Fatal("Analyze succeeded with no provider configured")
	}
	if coord.ProcessingState(chapter.ID).Phase != PhaseFailed {
		t.Fatalf("state = %v, want failed", coord.ProcessingState(chapter.ID).Phase)
	}
}

func TestShouldAutoProcess(t *testing.T) {
	tests := []struct {
		name        string
		autoProcess bool
		hasProvider bool
		garbage     bool
		override    bool
		want        bool
	}{
		{"normal chapter", true, true, false, false, true},
		{"auto-processing disabled", false, true, false, false, false},
		{"no provider", true, false, false, false, false},
		{"garbage chapter", true, true, true, false, false},
		{"garbage overridden by user", true, true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := providers.NewRegistry()
			if tt.hasProvider {
				registry.Register(&providers.MockClient{})
			}
			coord := New(Config{
				Store:       store.NewMemory(),
				Registry:    registry,
				AutoProcess: tt.autoProcess,
			})
			ch := &store.Chapter{IsGarbage: tt.garbage, UserOverride: tt.override}
			if got := coord.ShouldAutoProcess(ch); got != tt.want {
				t.Fatalf("ShouldAutoProcess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyBook(t *testing.T) {
	client := &providers.MockClient{ChatContent: `{"garbage": true, "reason": "copyright page"}`}
	coord, st, book, chapter := newFixture(t, client)
	ctx := context.Background()

	// A chapter that was already classified is skipped.
	done := &store.Chapter{
		BookID:               book.ID,
		Index:                1,
		Title:                "Done",
		HTML:                 chapterHTML,
		ClassificationStatus: store.ClassificationCompleted,
	}
	if _, err := st.SaveChapter(ctx, done); err != nil {
		t.Fatalf("SaveChapter: %v", err)
	}

	n, err := coord.ClassifyBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("ClassifyBook: %v", err)
	}
	if n != 1 {
		t.Fatalf("classified = %d, want 1", n)
	}

	got, err := st.GetChapter(ctx, chapter.ID)
	if err != nil {
		t.Fatalf("GetChapter: %v", err)
	}
	if !got.IsGarbage {
		t.Fatal("chapter not marked garbage")
	}
	if got.ClassificationStatus != store.ClassificationCompleted {
		t.Fatalf("status = %s, want completed", got.ClassificationStatus)
	}
}

func TestClassifyBookRetriesInProgress(t *testing.T) {
	client := &providers.MockClient{ChatContent: `{"garbage": false}`}
	coord, st, book, chapter := newFixture(t, client)
	ctx := context.Background()

	// Simulate a run that crashed mid-classification.
	chapter.ClassificationStatus = store.ClassificationInProgress
	if _, err := st.SaveChapter(ctx, chapter); err != nil {
		t.Fatalf("SaveChapter: %v", err)
	}

	n, err := coord.ClassifyBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("ClassifyBook: %v", err)
	}
	if n != 1 {
		t.Fatalf("classified = %d, want 1", n)
	}

	got, _ := st.GetChapter(ctx, chapter.ID)
	if got.ClassificationStatus != store.ClassificationCompleted {
		t.Fatalf("status = %s, want completed", got.ClassificationStatus)
	}
	if got.IsGarbage {
		t.Fatal("chapter wrongly marked garbage")
	}
}

func TestClassifyBookRecordsFailure(t *testing.T) {
	client := &providers.MockClient{ChatContent: "not json at all"}
	coord, st, book, chapter := newFixture(t, client)
	ctx := context.Background()

	n, err := coord.ClassifyBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("ClassifyBook: %v", err)
	}
	if n != 0 {
		t.Fatalf("classified = %d, want 0", n)
	}

	got, _ := st.GetChapter(ctx, chapter.ID)
	if got.ClassificationStatus != store.ClassificationFailed {
		t.Fatalf("status = %s, want failed", got.ClassificationStatus)
	}
	if !got.ClassificationStatus.NeedsClassification() {
		t.Fatal("failed status must remain retryable")
	}
}
