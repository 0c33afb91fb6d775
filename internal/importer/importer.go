// Package importer loads EPUB files into the store as books and chapters.
// Chapter markup is stored as-is; segmentation happens downstream.
package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/taylorskalyo/goreader/epub"

	"github.com/marginalia-app/marginalia/internal/segment"
	"github.com/marginalia-app/marginalia/internal/store"
)

// titleLimit caps how long a leading block can be and still pass as a
// chapter title rather than body text.
const titleLimit = 120

// Importer reads EPUB files and persists their contents.
type Importer struct {
	store    store.Store
	segments *segment.Cache
	logger   *slog.Logger
}

// New creates an importer.
func New(st store.Store, segments *segment.Cache, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	if segments == nil {
		segments = segment.NewCache(0)
	}
	return &Importer{store: st, segments: segments, logger: logger}
}

// ImportEPUB imports the EPUB at path: one book document plus one chapter
// per spine entry, in reading order. Chapters start unclassified and
// unprocessed.
func (im *Importer) ImportEPUB(ctx context.Context, path string) (*store.Book, error) {
	rc, err := epub.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening epub: %w", err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return nil, fmt.Errorf("epub %s has no rootfiles", path)
	}
	rootfile := rc.Rootfiles[0]

	book := &store.Book{
		Title:     bookTitle(rootfile.Title, path),
		Author:    strings.TrimSpace(rootfile.Creator),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := im.store.SaveBook(ctx, book); err != nil {
		return nil, fmt.Errorf("saving book: %w", err)
	}

	index := 0
	for _, ref := range rootfile.Spine.Itemrefs {
		if ref.Item == nil {
			continue
		}
		r, err := ref.Item.Open()
		if err != nil {
			im.logger.Warn("skipping unreadable spine item", "book_id", book.ID, "error", err)
			continue
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			im.logger.Warn("skipping unreadable spine item", "book_id", book.ID, "error", err)
			continue
		}
		markup := string(data)

		chapter := &store.Chapter{
			BookID:               book.ID,
			Index:                index,
			Title:                im.chapterTitle(markup, index),
			HTML:                 markup,
			ClassificationStatus: store.ClassificationPending,
		}
		if _, err := im.store.SaveChapter(ctx, chapter); err != nil {
			return nil, fmt.Errorf("saving chapter %d: %w", index, err)
		}
		index++
	}

	im.logger.Info("book imported",
		"book_id", book.ID, "title", book.Title, "chapters", index)
	return book, nil
}

// chapterTitle derives a title from the chapter's first block when it looks
// like a heading, falling back to a positional name.
func (im *Importer) chapterTitle(markup string, index int) string {
	fallback := fmt.Sprintf("Chapter %d", index+1)
	seg, err := im.segments.Segment(markup)
	if err != nil || len(seg.Blocks) == 0 {
		return fallback
	}
	first := strings.TrimSpace(seg.Blocks[0].Text)
	if first == "" || utf8.RuneCountInString(first) > titleLimit {
		return fallback
	}
	return first
}

// bookTitle prefers the OPF metadata title, falling back to the filename.
func bookTitle(metaTitle, path string) string {
	if t := strings.TrimSpace(metaTitle); t != "" {
		return t
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
