package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/marginalia-app/marginalia/internal/extract"
	"github.com/marginalia-app/marginalia/internal/prompts/classify"
	"github.com/marginalia-app/marginalia/internal/providers"
	"github.com/marginalia-app/marginalia/internal/store"
)

// ClassifyBook classifies every chapter of the book that still needs a
// verdict. It returns the number of chapters classified; per-chapter
// failures are recorded on the chapter and don't stop the sweep.
func (c *Coordinator) ClassifyBook(ctx context.Context, bookID string) (int, error) {
	chapters, err := c.store.ListChapters(ctx, bookID)
	if err != nil {
		return 0, fmt.Errorf("listing chapters: %w", err)
	}

	classified := 0
	for _, ch := range chapters {
		if !ch.ClassificationStatus.NeedsClassification() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return classified, err
		}
		if err := c.classifyChapter(ctx, ch); err != nil {
			c.logger.Warn("chapter classification failed",
				"chapter_id", ch.ID, "title", ch.Title, "error", err)
			continue
		}
		classified++
	}
	return classified, nil
}

// classifyChapter runs the garbage classifier for one chapter. The status
// moves to in_progress before the model call so an interrupted run is
// visibly incomplete and retried later.
func (c *Coordinator) classifyChapter(ctx context.Context, ch *store.Chapter) error {
	client, err := c.registry.Get(c.provider)
	if err != nil {
		return err
	}

	ch.ClassificationStatus = store.ClassificationInProgress
	if _, err := c.store.SaveChapter(ctx, ch); err != nil {
		return fmt.Errorf("marking classification in progress: %w", err)
	}

	seg, err := c.segments.Segment(ch.HTML)
	if err != nil {
		return c.failClassification(ctx, ch, fmt.Errorf("segmenting chapter: %w", err))
	}
	var sb strings.Builder
	for _, b := range seg.Blocks {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(b.Text)
	}

	res, err := client.Chat(ctx, &providers.ChatRequest{
		Messages:  classify.Messages(ch.Title, sb.String()),
		Model:     c.model,
		RequestID: uuid.New().String(),
	})
	if err != nil {
		return c.failClassification(ctx, ch, fmt.Errorf("classifier call: %w", err))
	}

	verdict, err := extract.Decode[classify.Verdict](res.Content, classify.VerdictSchema)
	if err != nil {
		return c.failClassification(ctx, ch, fmt.Errorf("parsing verdict: %w", err))
	}

	ch.IsGarbage = verdict.Garbage
	ch.ClassificationStatus = store.ClassificationCompleted
	if _, err := c.store.SaveChapter(ctx, ch); err != nil {
		return fmt.Errorf("saving verdict: %w", err)
	}

	c.logger.Info("chapter classified",
		"chapter_id", ch.ID, "title", ch.Title,
		"garbage", verdict.Garbage, "reason", verdict.Reason)
	return nil
}

// failClassification records a failed status and returns the original error.
func (c *Coordinator) failClassification(ctx context.Context, ch *store.Chapter, cause error) error {
	ch.ClassificationStatus = store.ClassificationFailed
	if _, err := c.store.SaveChapter(ctx, ch); err != nil {
		c.logger.Error("recording classification failure", "chapter_id", ch.ID, "error", err)
	}
	return cause
}
