// Package store defines the persistence contract for marginalia entities
// and provides an in-memory implementation used by tests and single-process
// deployments. Storage assigns document identity on first save; entities
// owned by a chapter or book are removed with their owner.
package store

import "time"

// ClassificationStatus tracks the garbage-classification lifecycle of a chapter.
type ClassificationStatus string

const (
	// ClassificationPending means the chapter has never been classified.
	ClassificationPending ClassificationStatus = "pending"
	// ClassificationInProgress means a classification run started but has not
	// recorded a terminal status. Treated as retryable: a crash mid-run must
	// not leave the chapter permanently stuck.
	ClassificationInProgress ClassificationStatus = "in_progress"
	// ClassificationCompleted means the chapter has a recorded verdict.
	ClassificationCompleted ClassificationStatus = "completed"
	// ClassificationFailed means the last classification attempt errored.
	ClassificationFailed ClassificationStatus = "failed"
)

// NeedsClassification reports whether a chapter with this status should be
// (re)classified. Only a completed run short-circuits; an interrupted
// in-progress run is retried.
func (s ClassificationStatus) NeedsClassification() bool {
	return s != ClassificationCompleted
}

// ParseClassificationStatus converts a stored string to a ClassificationStatus.
// Unrecognized values map to pending so they get re-classified.
func ParseClassificationStatus(s string) ClassificationStatus {
	switch ClassificationStatus(s) {
	case ClassificationInProgress, ClassificationCompleted, ClassificationFailed:
		return ClassificationStatus(s)
	default:
		return ClassificationPending
	}
}

// AnnotationType categorizes an insight annotation.
type AnnotationType string

const (
	AnnotationScience    AnnotationType = "science"
	AnnotationHistory    AnnotationType = "history"
	AnnotationPhilosophy AnnotationType = "philosophy"
	AnnotationConnection AnnotationType = "connection"
	AnnotationWorld      AnnotationType = "world"
)

// ParseAnnotationType converts a string to an AnnotationType.
// Unrecognized values map to connection, the most generic category.
func ParseAnnotationType(s string) AnnotationType {
	switch AnnotationType(s) {
	case AnnotationScience, AnnotationHistory, AnnotationPhilosophy,
		AnnotationConnection, AnnotationWorld:
		return AnnotationType(s)
	default:
		return AnnotationConnection
	}
}

// Book is an imported book.
type Book struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Chapter is one chapter of a book. HTML holds the chapter markup as
// imported; the segmenter derives blocks from it on demand.
type Chapter struct {
	ID     string `json:"id"`
	BookID string `json:"book_id"`
	Index  int    `json:"index"`
	Title  string `json:"title"`
	HTML   string `json:"html"`

	// Analysis output state.
	Processed bool   `json:"processed"`
	Summary   string `json:"summary,omitempty"`

	// Classification state.
	IsGarbage            bool                 `json:"is_garbage"`
	UserOverride         bool                 `json:"user_override"`
	ClassificationStatus ClassificationStatus `json:"classification_status"`
}

// Annotation is an insight anchored to a source block. Only IsSeen is
// mutable after creation.
type Annotation struct {
	ID            string         `json:"id"`
	ChapterID     string         `json:"chapter_id"`
	Type          AnnotationType `json:"type"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	SourceBlockID int            `json:"source_block_id"`
	IsSeen        bool           `json:"is_seen"`
}

// QuizQuestion is a comprehension question anchored to a source block.
// The user-answer fields are written later by the reading surface.
type QuizQuestion struct {
	ID              string `json:"id"`
	ChapterID       string `json:"chapter_id"`
	Question        string `json:"question"`
	Answer          string `json:"answer"`
	SourceBlockID   int    `json:"source_block_id"`
	UserAnswered    bool   `json:"user_answered"`
	UserCorrect     bool   `json:"user_correct"`
	QualityFeedback string `json:"quality_feedback,omitempty"`
}

// ImageSuggestion is a prompt for the image-generation collaborator,
// anchored to a source block.
type ImageSuggestion struct {
	ID            string `json:"id"`
	ChapterID     string `json:"chapter_id"`
	Prompt        string `json:"prompt"`
	SourceBlockID int    `json:"source_block_id"`
}

// Footnote is produced by the segmenter's footnote-reference pass, not the
// LLM. It shares the block-anchoring invariant with the analysis entities.
type Footnote struct {
	ID            string `json:"id"`
	ChapterID     string `json:"chapter_id"`
	Marker        string `json:"marker"`
	Content       string `json:"content,omitempty"`
	RefID         string `json:"ref_id,omitempty"`
	SourceBlockID int    `json:"source_block_id"`
}
