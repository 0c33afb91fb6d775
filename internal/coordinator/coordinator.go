// Package coordinator orchestrates chapter analysis: it enforces one run
// per chapter, relays analysis events to callers, and persists results
// when a run completes.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/marginalia-app/marginalia/internal/analysis"
	"github.com/marginalia-app/marginalia/internal/prompts/insights"
	"github.com/marginalia-app/marginalia/internal/providers"
	"github.com/marginalia-app/marginalia/internal/segment"
	"github.com/marginalia-app/marginalia/internal/store"
)

// eventBuffer sizes the per-run relay channel. Discovery and thinking
// events are advisory progress; a consumer that falls this far behind
// loses intermediate events rather than stalling persistence.
const eventBuffer = 64

// Config carries the coordinator's dependencies and analysis settings.
type Config struct {
	Store    store.Store
	Registry *providers.Registry
	Segments *segment.Cache
	Logger   *slog.Logger

	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	AutoProcess bool
}

// Coordinator owns the processing lifecycle of chapters. All methods are
// safe for concurrent use.
type Coordinator struct {
	store       store.Store
	registry    *providers.Registry
	segments    *segment.Cache
	logger      *slog.Logger
	provider    string
	model       string
	temperature float64
	maxTokens   int
	autoProcess bool

	mu     sync.Mutex
	runs   map[string]*run
	states map[string]State
}

// Run is the caller-facing handle for one analysis run. Events carries the
// relayed analysis events and is closed when the run ends. Concurrent
// Analyze calls for the same chapter receive the same handle.
type Run struct {
	ChapterID string
	Events    <-chan analysis.Event
}

type run struct {
	handle *Run
	stream *analysis.Stream
	out    chan analysis.Event
}

// New creates a coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	segments := cfg.Segments
	if segments == nil {
		segments = segment.NewCache(0)
	}
	return &Coordinator{
		store:       cfg.Store,
		registry:    cfg.Registry,
		segments:    segments,
		logger:      logger,
		provider:    cfg.Provider,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		autoProcess: cfg.AutoProcess,
		runs:        make(map[string]*run),
		states:      make(map[string]State),
	}
}

// ProcessingState returns the chapter's current processing state.
func (c *Coordinator) ProcessingState(chapterID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[chapterID]
}

// ShouldAutoProcess reports whether the chapter qualifies for automatic
// analysis: auto-processing enabled, a usable provider configured, and the
// chapter not classified as garbage (unless the user overrode the verdict).
func (c *Coordinator) ShouldAutoProcess(ch *store.Chapter) bool {
	if !c.autoProcess {
		return false
	}
	if _, err := c.registry.Get(c.provider); err != nil {
		return false
	}
	if ch.IsGarbage && !ch.UserOverride {
		return false
	}
	return true
}

// Analyze starts an analysis run for the chapter, or returns the handle of
// the run already in flight. The run outlives ctx: an HTTP request that
// started it may disconnect without aborting the analysis.
func (c *Coordinator) Analyze(ctx context.Context, book *store.Book, chapter *store.Chapter) (*Run, error) {
	c.mu.Lock()
	if r, ok := c.runs[chapter.ID]; ok {
		c.mu.Unlock()
		return r.handle, nil
	}
	// Reserve the slot before the slow setup below so a concurrent caller
	// joins this run instead of starting a second one.
	placeholder := &run{}
	c.runs[chapter.ID] = placeholder
	c.states[chapter.ID] = State{Phase: PhaseProcessing}
	c.mu.Unlock()

	r, err := c.start(ctx, book, chapter)

	c.mu.Lock()
	if c.runs[chapter.ID] != placeholder {
		// Cancelled during setup.
		c.mu.Unlock()
		if err == nil {
			r.stream.Cancel()
			close(r.out)
		}
		return nil, context.Canceled
	}
	if err != nil {
		delete(c.runs, chapter.ID)
		c.states[chapter.ID] = State{Phase: PhaseFailed, LastError: err.Error()}
		c.mu.Unlock()
		return nil, err
	}
	c.runs[chapter.ID] = r
	c.mu.Unlock()

	go c.pump(chapter.ID, r)
	return r.handle, nil
}

func (c *Coordinator) start(ctx context.Context, book *store.Book, chapter *store.Chapter) (*run, error) {
	client, err := c.registry.Get(c.provider)
	if err != nil {
		return nil, err
	}
	seg, err := c.segments.Segment(chapter.HTML)
	if err != nil {
		return nil, fmt.Errorf("segmenting chapter %s: %w", chapter.ID, err)
	}
	if len(seg.Blocks) == 0 {
		return nil, fmt.Errorf("chapter %s has no analyzable text", chapter.ID)
	}

	req := &providers.ChatRequest{
		Messages:    insights.Messages(book.Title, chapter.Title, seg.MarkedText),
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		RequestID:   uuid.New().String(),
	}

	runCtx := context.WithoutCancel(ctx)
	source, err := client.StreamChat(runCtx, req)
	if err != nil {
		return nil, fmt.Errorf("starting stream: %w", err)
	}

	out := make(chan analysis.Event, eventBuffer)
	r := &run{
		stream: analysis.Run(runCtx, source),
		out:    out,
	}
	r.handle = &Run{ChapterID: chapter.ID, Events: out}

	c.logger.Info("analysis started",
		"chapter_id", chapter.ID,
		"blocks", len(seg.Blocks),
		"provider", client.Name(),
		"request_id", req.RequestID)
	return r, nil
}

// pump drains the stream, relays events to the handle, and applies terminal
// outcomes. Persistence runs on this goroutine so results are durable
// before the handle's channel closes.
func (c *Coordinator) pump(chapterID string, r *run) {
	defer close(r.out)

	for ev := range r.stream.Events() {
		switch e := ev.(type) {
		case analysis.CompletedEvent:
			if err := c.persistResult(chapterID, e.Result); err != nil {
				c.logger.Error("persisting analysis result", "chapter_id", chapterID, "error", err)
				c.finish(chapterID, r, State{Phase: PhaseFailed, LastError: err.Error()})
				r.relay(analysis.FailedEvent{Err: err})
				continue
			}
			c.finish(chapterID, r, State{Phase: PhaseCompleted})
		case analysis.FailedEvent:
			c.logger.Warn("analysis failed", "chapter_id", chapterID, "error", e.Err)
			c.finish(chapterID, r, State{Phase: PhaseFailed, LastError: e.Err.Error()})
		}
		r.relay(ev)
	}

	// Cancellation ends the stream without a terminal event; Cancel already
	// cleared the state, so only the run entry needs removing.
	c.mu.Lock()
	if c.runs[chapterID] == r {
		delete(c.runs, chapterID)
	}
	c.mu.Unlock()
}

// finish records the terminal state and releases the single-flight slot.
func (c *Coordinator) finish(chapterID string, r *run, s State) {
	c.mu.Lock()
	if c.runs[chapterID] == r {
		delete(c.runs, chapterID)
	}
	c.states[chapterID] = s
	c.mu.Unlock()
}

// relay forwards an event to the handle without blocking persistence on a
// slow or departed consumer.
func (r *run) relay(ev analysis.Event) {
	select {
	case r.out <- ev:
	default:
	}
}

// Cancel aborts the chapter's in-flight run, if any. The processing state
// is cleared synchronously; the run goroutine unwinds in the background.
func (c *Coordinator) Cancel(chapterID string) bool {
	c.mu.Lock()
	r, ok := c.runs[chapterID]
	if ok {
		delete(c.runs, chapterID)
		c.states[chapterID] = State{Phase: PhaseIdle}
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if r.stream != nil {
		r.stream.Cancel()
	}
	c.logger.Info("analysis cancelled", "chapter_id", chapterID)
	return true
}

// CancelAll aborts every in-flight run. Used at shutdown.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	runs := make(map[string]*run, len(c.runs))
	for id, r := range c.runs {
		runs[id] = r
		c.states[id] = State{Phase: PhaseIdle}
	}
	c.runs = make(map[string]*run)
	c.mu.Unlock()
	for _, r := range runs {
		if r.stream != nil {
			r.stream.Cancel()
		}
	}
}

// persistResult writes the run's entities and marks the chapter processed.
// Writes are sequenced in ascending block order; a failure part-way leaves
// the chapter unprocessed so a retry re-runs the whole analysis.
func (c *Coordinator) persistResult(chapterID string, result *analysis.Result) error {
	ctx := context.Background()

	chapter, err := c.store.GetChapter(ctx, chapterID)
	if err != nil {
		return fmt.Errorf("loading chapter: %w", err)
	}
	seg, err := c.segments.Segment(chapter.HTML)
	if err != nil {
		return fmt.Errorf("segmenting chapter: %w", err)
	}
	blockCount := len(seg.Blocks)

	annotations := make([]analysis.Annotation, 0, len(result.Annotations))
	for _, a := range result.Annotations {
		if a.SourceBlockID >= blockCount {
			c.logger.Warn("dropping annotation with unknown block id",
				"chapter_id", chapterID, "source_block_id", a.SourceBlockID)
			continue
		}
		annotations = append(annotations, a)
	}
	sort.SliceStable(annotations, func(i, j int) bool {
		return annotations[i].SourceBlockID < annotations[j].SourceBlockID
	})
	for _, a := range annotations {
		doc := &store.Annotation{
			ChapterID:     chapterID,
			Type:          store.ParseAnnotationType(a.Type),
			Title:         a.Title,
			Content:       a.Content,
			SourceBlockID: a.SourceBlockID,
		}
		if _, err := c.store.SaveAnnotation(ctx, doc); err != nil {
			return fmt.Errorf("saving annotation: %w", err)
		}
	}

	quiz := make([]analysis.QuizQuestion, 0, len(result.QuizQuestions))
	for _, q := range result.QuizQuestions {
		if q.SourceBlockID >= blockCount {
			c.logger.Warn("dropping quiz question with unknown block id",
				"chapter_id", chapterID, "source_block_id", q.SourceBlockID)
			continue
		}
		quiz = append(quiz, q)
	}
	sort.SliceStable(quiz, func(i, j int) bool {
		return quiz[i].SourceBlockID < quiz[j].SourceBlockID
	})
	for _, q := range quiz {
		doc := &store.QuizQuestion{
			ChapterID:     chapterID,
			Question:      q.Question,
			Answer:        q.Answer,
			SourceBlockID: q.SourceBlockID,
		}
		if _, err := c.store.SaveQuizQuestion(ctx, doc); err != nil {
			return fmt.Errorf("saving quiz question: %w", err)
		}
	}

	for _, img := range result.ImageSuggestions {
		if img.SourceBlockID >= blockCount {
			continue
		}
		doc := &store.ImageSuggestion{
			ChapterID:     chapterID,
			Prompt:        img.Prompt,
			SourceBlockID: img.SourceBlockID,
		}
		if _, err := c.store.SaveImageSuggestion(ctx, doc); err != nil {
			return fmt.Errorf("saving image suggestion: %w", err)
		}
	}

	// Footnotes come from segmentation, not the model; persisting them here
	// keeps them versioned with the analysis they accompany.
	existing, err := c.store.ListFootnotes(ctx, chapterID)
	if err != nil {
		return fmt.Errorf("listing footnotes: %w", err)
	}
	if len(existing) == 0 {
		for _, fn := range seg.Footnotes {
			doc := &store.Footnote{
				ChapterID:     chapterID,
				Marker:        fn.Marker,
				RefID:         fn.RefID,
				SourceBlockID: fn.SourceBlockID,
			}
			if _, err := c.store.SaveFootnote(ctx, doc); err != nil {
				return fmt.Errorf("saving footnote: %w", err)
			}
		}
	}

	chapter.Processed = true
	chapter.Summary = result.Summary
	if _, err := c.store.SaveChapter(ctx, chapter); err != nil {
		return fmt.Errorf("saving chapter: %w", err)
	}

	c.logger.Info("analysis persisted",
		"chapter_id", chapterID,
		"annotations", len(annotations),
		"quiz_questions", len(quiz),
		"image_suggestions", len(result.ImageSuggestions))
	return nil
}
