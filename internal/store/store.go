package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Store is the persistence contract used by the rest of the system.
// Save methods assign the entity ID on first save and return it; a non-empty
// ID updates the existing document. Deleting a book cascades to its chapters
// and deleting a chapter cascades to its anchored entities.
type Store interface {
	SaveBook(ctx context.Context, b *Book) (string, error)
	GetBook(ctx context.Context, id string) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	DeleteBook(ctx context.Context, id string) error

	SaveChapter(ctx context.Context, c *Chapter) (string, error)
	GetChapter(ctx context.Context, id string) (*Chapter, error)
	ListChapters(ctx context.Context, bookID string) ([]*Chapter, error)
	DeleteChapter(ctx context.Context, id string) error

	SaveAnnotation(ctx context.Context, a *Annotation) (string, error)
	ListAnnotations(ctx context.Context, chapterID string) ([]*Annotation, error)
	MarkAnnotationSeen(ctx context.Context, id string) error

	SaveQuizQuestion(ctx context.Context, q *QuizQuestion) (string, error)
	ListQuizQuestions(ctx context.Context, chapterID string) ([]*QuizQuestion, error)
	// RecordQuizAnswer updates the user-answer fields of an existing question.
	RecordQuizAnswer(ctx context.Context, id string, correct bool, feedback string) error

	SaveImageSuggestion(ctx context.Context, s *ImageSuggestion) (string, error)
	ListImageSuggestions(ctx context.Context, chapterID string) ([]*ImageSuggestion, error)

	SaveFootnote(ctx context.Context, f *Footnote) (string, error)
	ListFootnotes(ctx context.Context, chapterID string) ([]*Footnote, error)
}
