package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-memory Store used by tests and single-process runs.
// Error injection is supported for exercising partial-persistence paths.
type Memory struct {
	mu sync.RWMutex

	books       map[string]*Book
	chapters    map[string]*Chapter
	annotations map[string]*Annotation
	quizzes     map[string]*QuizQuestion
	images      map[string]*ImageSuggestion
	footnotes   map[string]*Footnote

	// writes records every successful save in order, for test assertions
	// about write sequencing.
	writes []WriteRecord

	// --- Error injection ---

	// ErrOnCollection causes saves to the named collection to fail.
	ErrOnCollection map[string]error

	// ErrAfterNWrites causes an error after N successful writes. Used to
	// test partial failure while persisting a completed analysis result.
	ErrAfterNWrites int
	writeCount      int
}

// WriteRecord identifies one successful save for test assertions.
type WriteRecord struct {
	Collection string
	DocID      string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		books:       make(map[string]*Book),
		chapters:    make(map[string]*Chapter),
		annotations: make(map[string]*Annotation),
		quizzes:     make(map[string]*QuizQuestion),
		images:      make(map[string]*ImageSuggestion),
		footnotes:   make(map[string]*Footnote),
	}
}

// checkInjection must be called with the write lock held.
func (m *Memory) checkInjection(collection string) error {
	if m.ErrOnCollection != nil {
		if err, ok := m.ErrOnCollection[collection]; ok {
			return err
		}
	}
	if m.ErrAfterNWrites > 0 {
		m.writeCount++
		if m.writeCount > m.ErrAfterNWrites {
			return fmt.Errorf("injected error after %d writes", m.ErrAfterNWrites)
		}
	}
	return nil
}

// record must be called with the write lock held.
func (m *Memory) record(collection, docID string) {
	m.writes = append(m.writes, WriteRecord{Collection: collection, DocID: docID})
}

func (m *Memory) SaveBook(_ context.Context, b *Book) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInjection("Book"); err != nil {
		return "", err
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	cp := *b
	m.books[b.ID] = &cp
	m.record("Book", b.ID)
	return b.ID, nil
}

func (m *Memory) GetBook(_ context.Context, id string) (*Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) ListBooks(_ context.Context) ([]*Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Book, 0, len(m.books))
	for _, b := range m.books {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteBook(ctx context.Context, id string) error {
	m.mu.Lock()
	var chapterIDs []string
	for cid, c := range m.chapters {
		if c.BookID == id {
			chapterIDs = append(chapterIDs, cid)
		}
	}
	delete(m.books, id)
	m.mu.Unlock()

	for _, cid := range chapterIDs {
		if err := m.DeleteChapter(ctx, cid); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) SaveChapter(_ context.Context, c *Chapter) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInjection("Chapter"); err != nil {
		return "", err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.ClassificationStatus == "" {
		c.ClassificationStatus = ClassificationPending
	}
	cp := *c
	m.chapters[c.ID] = &cp
	m.record("Chapter", c.ID)
	return c.ID, nil
}

func (m *Memory) GetChapter(_ context.Context, id string) (*Chapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chapters[id]
	if !ok {
		return nil, fmt.Errorf("chapter %s: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListChapters(_ context.Context, bookID string) ([]*Chapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Chapter
	for _, c := range m.chapters {
		if c.BookID == bookID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *Memory) DeleteChapter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chapters, id)
	for aid, a := range m.annotations {
		if a.ChapterID == id {
			delete(m.annotations, aid)
		}
	}
	for qid, q := range m.quizzes {
		if q.ChapterID == id {
			delete(m.quizzes, qid)
		}
	}
	for iid, s := range m.images {
		if s.ChapterID == id {
			delete(m.images, iid)
		}
	}
	for fid, f := range m.footnotes {
		if f.ChapterID == id {
			delete(m.footnotes, fid)
		}
	}
	return nil
}

func (m *Memory) SaveAnnotation(_ context.Context, a *Annotation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInjection("Annotation"); err != nil {
		return "", err
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	cp := *a
	m.annotations[a.ID] = &cp
	m.record("Annotation", a.ID)
	return a.ID, nil
}

func (m *Memory) ListAnnotations(_ context.Context, chapterID string) ([]*Annotation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Annotation
	for _, a := range m.annotations {
		if a.ChapterID == chapterID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceBlockID < out[j].SourceBlockID })
	return out, nil
}

func (m *Memory) MarkAnnotationSeen(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.annotations[id]
	if !ok {
		return fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}
	a.IsSeen = true
	return nil
}

func (m *Memory) SaveQuizQuestion(_ context.Context, q *QuizQuestion) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInjection("QuizQuestion"); err != nil {
		return "", err
	}
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	cp := *q
	m.quizzes[q.ID] = &cp
	m.record("QuizQuestion", q.ID)
	return q.ID, nil
}

func (m *Memory) ListQuizQuestions(_ context.Context, chapterID string) ([]*QuizQuestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*QuizQuestion
	for _, q := range m.quizzes {
		if q.ChapterID == chapterID {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceBlockID < out[j].SourceBlockID })
	return out, nil
}

func (m *Memory) RecordQuizAnswer(_ context.Context, id string, correct bool, feedback string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quizzes[id]
	if !ok {
		return fmt.Errorf("quiz question %s: %w", id, ErrNotFound)
	}
	q.UserAnswered = true
	q.UserCorrect = correct
	q.QualityFeedback = feedback
	return nil
}

func (m *Memory) SaveImageSuggestion(_ context.Context, s *ImageSuggestion) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInjection("ImageSuggestion"); err != nil {
		return "", err
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	cp := *s
	m.images[s.ID] = &cp
	m.record("ImageSuggestion", s.ID)
	return s.ID, nil
}

func (m *Memory) ListImageSuggestions(_ context.Context, chapterID string) ([]*ImageSuggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ImageSuggestion
	for _, s := range m.images {
		if s.ChapterID == chapterID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceBlockID < out[j].SourceBlockID })
	return out, nil
}

func (m *Memory) SaveFootnote(_ context.Context, f *Footnote) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInjection("Footnote"); err != nil {
		return "", err
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	cp := *f
	m.footnotes[f.ID] = &cp
	m.record("Footnote", f.ID)
	return f.ID, nil
}

func (m *Memory) ListFootnotes(_ context.Context, chapterID string) ([]*Footnote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Footnote
	for _, f := range m.footnotes {
		if f.ChapterID == chapterID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceBlockID < out[j].SourceBlockID })
	return out, nil
}

// --- Test helpers ---

// Writes returns all recorded saves in order.
func (m *Memory) Writes() []WriteRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WriteRecord, len(m.writes))
	copy(out, m.writes)
	return out
}

// SetErrorOnCollection makes saves to the named collection fail.
func (m *Memory) SetErrorOnCollection(collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ErrOnCollection == nil {
		m.ErrOnCollection = make(map[string]error)
	}
	m.ErrOnCollection[collection] = err
}

// SetErrorAfterNWrites makes the N+1th write (and later) fail.
func (m *Memory) SetErrorAfterNWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrAfterNWrites = n
	m.writeCount = 0
}

// ClearErrors removes all error injection settings.
func (m *Memory) ClearErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrOnCollection = nil
	m.ErrAfterNWrites = 0
	m.writeCount = 0
}
