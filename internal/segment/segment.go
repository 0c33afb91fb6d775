// Package segment splits chapter markup into ordered, stably-identified text
// blocks. Block IDs are assigned by encounter order starting at 0 and are
// deterministic for identical input; analysis results anchor to these IDs.
package segment

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Block is an addressable unit of chapter text.
type Block struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Footnote is a footnote reference found during segmentation, anchored to
// the block that contains it. The marker text is excluded from the block's
// clean text.
type Footnote struct {
	Marker        string `json:"marker"`
	RefID         string `json:"ref_id,omitempty"`
	SourceBlockID int    `json:"source_block_id"`
}

// Result holds the segmentation output for one chapter version.
type Result struct {
	Blocks    []Block    `json:"blocks"`
	Footnotes []Footnote `json:"footnotes,omitempty"`

	// MarkedText is the flat prompt text: block texts prefixed with their
	// [id] markers, one block per paragraph.
	MarkedText string `json:"marked_text"`
}

// BlockText returns the text of the block with the given id, or "" if the id
// is out of range.
func (r *Result) BlockText(id int) string {
	if id < 0 || id >= len(r.Blocks) {
		return ""
	}
	return r.Blocks[id].Text
}

// blockAtoms are elements that start a new block.
var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Li: true,
	atom.Blockquote: true, atom.Pre: true, atom.Figcaption: true,
	atom.Dt: true, atom.Dd: true, atom.Caption: true,
}

// containerAtoms are structural elements recursed into without starting a
// block themselves. Inline text directly inside them becomes its own block.
var containerAtoms = map[atom.Atom]bool{
	atom.Html: true, atom.Body: true, atom.Div: true, atom.Section: true,
	atom.Article: true, atom.Aside: true, atom.Main: true, atom.Header: true,
	atom.Footer: true, atom.Nav: true, atom.Ul: true, atom.Ol: true,
	atom.Dl: true, atom.Table: true, atom.Thead: true, atom.Tbody: true,
	atom.Tfoot: true, atom.Tr: true, atom.Td: true, atom.Th: true,
	atom.Figure: true, atom.Details: true, atom.Hgroup: true,
}

var skipAtoms = map[atom.Atom]bool{
	atom.Head: true, atom.Script: true, atom.Style: true,
	atom.Template: true, atom.Noscript: true,
}

// Segment parses chapter markup and produces ordered blocks, footnote
// references, and the flat marked text. Malformed markup is tolerated
// best-effort; empty blocks are dropped before numbering.
func Segment(markup string) (*Result, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse chapter markup: %w", err)
	}

	s := &segmenter{}
	s.container(doc)
	s.flush()

	marked := make([]string, len(s.blocks))
	for i, b := range s.blocks {
		marked[i] = fmt.Sprintf("[%d] %s", b.ID, b.Text)
	}

	return &Result{
		Blocks:     s.blocks,
		Footnotes:  s.footnotes,
		MarkedText: strings.Join(marked, "\n\n"),
	}, nil
}

type segmenter struct {
	blocks    []Block
	footnotes []Footnote

	// Inline run accumulated directly inside a container element.
	inline    strings.Builder
	inlineFns []Footnote
}

// container walks the children of a structural node. Inline content between
// block elements is flushed as an implicit block.
func (s *segmenter) container(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.TextNode:
			s.inline.WriteString(c.Data)
		case c.Type != html.ElementNode:
			// comments, doctypes
		case skipAtoms[c.DataAtom]:
		case blockAtoms[c.DataAtom]:
			s.flush()
			s.block(c)
		case containerAtoms[c.DataAtom]:
			s.flush()
			s.container(c)
		default:
			// Inline element directly inside a container.
			s.gather(c, &s.inline, nil, &s.inlineFns)
		}
	}
}

// block emits one block from a block-level element. Nested block or
// container elements inside it are segmented after the enclosing block so
// text is never duplicated across parent and child blocks.
func (s *segmenter) block(n *html.Node) {
	var sb strings.Builder
	var nested []*html.Node
	var fns []Footnote

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.gather(c, &sb, &nested, &fns)
	}

	text := collapse(sb.String())
	if text != "" {
		id := len(s.blocks)
		s.blocks = append(s.blocks, Block{ID: id, Text: text})
		for i := range fns {
			fns[i].SourceBlockID = id
		}
		s.footnotes = append(s.footnotes, fns...)
	}

	for _, m := range nested {
		if blockAtoms[m.DataAtom] {
			s.flush()
			s.block(m)
		} else {
			s.flush()
			s.container(m)
		}
	}
}

// gather collects inline text and footnote references from a subtree,
// stopping at nested block or container elements (recorded in nested when
// the caller wants them segmented separately).
func (s *segmenter) gather(n *html.Node, sb *strings.Builder, nested *[]*html.Node, fns *[]Footnote) {
	switch {
	case n.Type == html.TextNode:
		sb.WriteString(n.Data)
		return
	case n.Type != html.ElementNode:
		return
	case skipAtoms[n.DataAtom]:
		return
	case blockAtoms[n.DataAtom] || containerAtoms[n.DataAtom]:
		if nested != nil {
			*nested = append(*nested, n)
		}
		return
	}

	if fn, ok := footnoteRef(n); ok {
		*fns = append(*fns, fn)
		return
	}
	if n.DataAtom == atom.Br {
		sb.WriteString(" ")
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.gather(c, sb, nested, fns)
	}
}

// flush emits the accumulated inline run as an implicit block.
func (s *segmenter) flush() {
	text := collapse(s.inline.String())
	s.inline.Reset()
	fns := s.inlineFns
	s.inlineFns = nil
	if text == "" {
		return
	}
	id := len(s.blocks)
	s.blocks = append(s.blocks, Block{ID: id, Text: text})
	for i := range fns {
		fns[i].SourceBlockID = id
	}
	s.footnotes = append(s.footnotes, fns...)
}

// footnoteRef reports whether n is a footnote reference marker and, if so,
// returns it without a block id (assigned by the caller).
func footnoteRef(n *html.Node) (Footnote, bool) {
	if n.DataAtom == atom.Sup {
		// <sup><a href="#fn1">1</a></sup> or bare <sup>1</sup>
		marker := collapse(nodeText(n))
		if marker == "" || !isMarkerText(marker) {
			return Footnote{}, false
		}
		return Footnote{Marker: marker, RefID: findRefID(n)}, true
	}
	if n.DataAtom == atom.A {
		if typ := attr(n, "epub:type"); strings.Contains(typ, "noteref") {
			return Footnote{Marker: collapse(nodeText(n)), RefID: hrefFragment(n)}, true
		}
		if cls := attr(n, "class"); strings.Contains(cls, "footnote") || strings.Contains(cls, "noteref") {
			return Footnote{Marker: collapse(nodeText(n)), RefID: hrefFragment(n)}, true
		}
		if frag := hrefFragment(n); frag != "" {
			if marker := collapse(nodeText(n)); isMarkerText(marker) {
				return Footnote{Marker: marker, RefID: frag}, true
			}
		}
	}
	return Footnote{}, false
}

// isMarkerText reports whether s looks like a footnote marker: a short run
// of digits or reference symbols, optionally bracketed.
func isMarkerText(s string) bool {
	s = strings.TrimPrefix(strings.TrimSuffix(s, "]"), "[")
	if s == "" || len([]rune(s)) > 4 {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '*' && r != '†' && r != '‡' {
			return false
		}
	}
	return true
}

func findRefID(n *html.Node) string {
	if frag := hrefFragment(n); frag != "" {
		return frag
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if id := findRefID(c); id != "" {
			return id
		}
	}
	return ""
}

func hrefFragment(n *html.Node) string {
	href := attr(n, "href")
	if i := strings.Index(href, "#"); i >= 0 {
		return href[i+1:]
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(m *html.Node) {
		if m.Type == html.TextNode {
			sb.WriteString(m.Data)
		}
		for c := m.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// collapse trims and collapses runs of whitespace to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
