package importer

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marginalia-app/marginalia/internal/store"
)

const containerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const contentOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Test Book</dc:title>
    <dc:creator>A. Writer</dc:creator>
    <dc:identifier id="id">test-book</dc:identifier>
    <dc:language>en</dc:language>
  </metadata>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

const chapterOne = `<html><body><h1>The Beginning</h1><p>It began, as these things do, quietly.</p></body></html>`

var chapterTwo = `<html><body><p>` + strings.Repeat("A very long opening paragraph with no heading at all. ", 5) + `</p></body></html>`

// writeEPUB assembles a minimal epub archive in dir and returns its path.
func writeEPUB(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "test-book.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating epub: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	files := []struct {
		name, body string
	}{
		{"mimetype", "application/epub+zip"},
		{"META-INF/container.xml", containerXML},
		{"content.opf", contentOPF},
		{"ch1.xhtml", chapterOne},
		{"ch2.xhtml", chapterTwo},
	}
	for _, file := range files {
		w, err := zw.Create(file.name)
		if err != nil {
			t.Fatalf("zip entry %s: %v", file.name, err)
		}
		if _, err := w.Write([]byte(file.body)); err != nil {
			t.Fatalf("zip entry %s: %v", file.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return path
}

func TestImportEPUB(t *testing.T) {
	path := writeEPUB(t, t.TempDir())
	st := store.NewMemory()
	im := New(st, nil, nil)

	book, err := im.ImportEPUB(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportEPUB: %v", err)
	}
	if book.Title != "Test Book" || book.Author != "A. Writer" {
		t.Fatalf("book = %q by %q", book.Title, book.Author)
	}

	chapters, err := st.ListChapters(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("ListChapters: %v", err)
	}
	if len(chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(chapters))
	}

	if chapters[0].Index != 0 || chapters[0].Title != "The Beginning" {
		t.Fatalf("chapter 0 = %d %q", chapters[0].Index, chapters[0].Title)
	}
	// Long opening paragraph doesn't pass as a title.
	if chapters[1].Title != "Chapter 2" {
		t.Fatalf("chapter 1 title = %q, want fallback", chapters[1].Title)
	}
	for i, c := range chapters {
		if c.HTML == "" {
			t.Fatalf("chapter %d has no markup", i)
		}
		if c.Processed {
			t.Fatalf("chapter %d imported as processed", i)
		}
		if c.ClassificationStatus != store.ClassificationPending {
			t.Fatalf("chapter %d status = %q", i, c.ClassificationStatus)
		}
	}
}

func TestImportEPUBMissingFile(t *testing.T) {
	st := store.NewMemory()
	im := New(st, nil, nil)
	if _, err := im.ImportEPUB(context.Background(), "/does/not/exist.epub"); err == nil {
		t.Fatal("ImportEPUB of missing file should fail")
	}
}

func TestBookTitleFallback(t *testing.T) {
	if got := bookTitle("  Real Title  ", "/tmp/x.epub"); got != "Real Title" {
		t.Fatalf("got %q", got)
	}
	if got := bookTitle("", "/books/dune-messiah.epub"); got != "dune-messiah" {
		t.Fatalf("got %q", got)
	}
}
