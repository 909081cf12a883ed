// Package paged is the rendering collaborator for fixed-page content. A page
// is a sequence of positioned text items extracted at import time; the page's
// text stream joins item texts with a single space, and geometry lookups
// interpolate within an item's box and scale to the current viewport.
package paged

import (
	"strings"

	"github.com/margo-reader/margo/internal/anchor"
)

// Item is one extracted text run with its box in top-left page coordinates
// at scale 1.
type Item struct {
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	W    float64 `json:"w"`
	H    float64 `json:"h"`
}

// Page is one fixed page of a paginated document.
type Page struct {
	Number int
	Width  float64
	Height float64
	Items  []Item
}

// Text returns the page's full extracted text stream: item texts joined with
// a single separator character. Anchor offsets address this stream.
func (p *Page) Text() string {
	parts := make([]string, len(p.Items))
	for i, it := range p.Items {
		parts[i] = it.Text
	}
	return strings.Join(parts, " ")
}

// BuildAnchor creates a paginated anchor for the first occurrence of selected
// in the page's text stream. When the selection occurs multiple times the
// first occurrence is always chosen; this is deliberate and deterministic.
func (p *Page) BuildAnchor(selected string, radius int) (anchor.Paginated, error) {
	if selected == "" {
		return anchor.Paginated{}, anchor.ErrEmptySelection
	}
	text := p.Text()
	idx := strings.Index(text, selected)
	if idx < 0 {
		return anchor.Paginated{}, anchor.ErrUnresolvable
	}
	return anchor.Paginated{
		PageNumber:  p.Number,
		StartOffset: idx,
		EndOffset:   idx + len(selected),
		Context:     anchor.WindowAt(text, idx, idx+len(selected), radius),
	}, nil
}

// Document is a paginated document's current render state: its pages plus the
// viewport scale of this render pass. It implements anchor.Locator for
// paginated anchors and resolves no element paths.
type Document struct {
	pages map[int]*Page
	scale float64
}

// NewDocument builds a render state at the given viewport scale (0 means 1).
func NewDocument(pages []*Page, scale float64) *Document {
	if scale <= 0 {
		scale = 1
	}
	m := make(map[int]*Page, len(pages))
	for _, p := range pages {
		m[p.Number] = p
	}
	return &Document{pages: m, scale: scale}
}

// PageByNumber returns a page of the document.
func (d *Document) PageByNumber(n int) (*Page, bool) {
	p, ok := d.pages[n]
	return p, ok
}

// Flowing always fails: paginated documents have no element paths.
func (d *Document) Flowing(string) (anchor.Container, bool) { return nil, false }

// Page locates a page by number.
func (d *Document) Page(n int) (anchor.Container, bool) {
	p, ok := d.pages[n]
	if !ok {
		return nil, false
	}
	return &container{page: p, scale: d.scale}, true
}

type container struct {
	page  *Page
	scale float64
}

func (c *container) Text() string { return c.page.Text() }

func (c *container) Units() []anchor.Unit {
	units := make([]anchor.Unit, len(c.page.Items))
	pos := 0
	for i, it := range c.page.Items {
		if i > 0 {
			pos++ // separator
		}
		units[i] = anchor.Unit{Start: pos, End: pos + len(it.Text)}
		pos += len(it.Text)
	}
	return units
}

// UnitRect slices item i's box proportionally for the byte range [start, end)
// of the page text, then scales to the viewport.
func (c *container) UnitRect(i, start, end int) (anchor.Rect, bool) {
	units := c.Units()
	if i < 0 || i >= len(units) {
		return anchor.Rect{}, false
	}
	u := units[i]
	it := c.page.Items[i]
	n := len(it.Text)
	if n == 0 || start < u.Start || end > u.End || start >= end {
		return anchor.Rect{}, false
	}
	fracStart := float64(start-u.Start) / float64(n)
	fracEnd := float64(end-u.Start) / float64(n)
	return anchor.Rect{
		Left:   (it.X + it.W*fracStart) * c.scale,
		Top:    it.Y * c.scale,
		Width:  it.W * (fracEnd - fracStart) * c.scale,
		Height: it.H * c.scale,
	}, true
}
