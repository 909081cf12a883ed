// Package extract turns import sources into render-state inputs: a PDF file
// into pages of positioned text items, a URL into a stored HTML snapshot.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/margo-reader/margo/internal/paged"
)

const (
	defaultPageWidth  = 612
	defaultPageHeight = 792
)

// rawRow is one text row as read from the PDF, before item assembly.
type rawRow struct {
	y     float64 // top-left coordinate
	texts []pdf.Text
}

type rawPage struct {
	number int
	width  float64
	height float64
	rows   []rawRow
}

// PDF reads every page of the file at path and assembles positioned text
// items. Reading is sequential (the reader is not safe for concurrent page
// access); item assembly per page is pure and runs in parallel.
func PDF(ctx context.Context, path string) ([]*paged.Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	var raws []*rawPage
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		raw, err := readPage(p, i)
		if err != nil {
			return nil, fmt.Errorf("reading page %d: %w", i, err)
		}
		raws = append(raws, raw)
	}

	pages := make([]*paged.Page, len(raws))
	g, _ := errgroup.WithContext(ctx)
	for i, raw := range raws {
		g.Go(func() error {
			pages[i] = assemblePage(raw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func readPage(p pdf.Page, number int) (*rawPage, error) {
	width, height := pageSize(p)

	rows, err := p.GetTextByRow()
	if err != nil {
		return nil, err
	}

	raw := &rawPage{number: number, width: width, height: height}
	for _, row := range rows {
		texts := make([]pdf.Text, 0, len(row.Content))
		for _, t := range row.Content {
			texts = append(texts, t)
		}
		// PDF rows use a bottom-left origin; flip to top-left.
		raw.rows = append(raw.rows, rawRow{y: height - float64(row.Position), texts: texts})
	}
	return raw, nil
}

func pageSize(p pdf.Page) (width, height float64) {
	width, height = defaultPageWidth, defaultPageHeight
	box := p.V.Key("MediaBox")
	if box.IsNull() || box.Len() < 4 {
		return width, height
	}
	w := box.Index(2).Float64() - box.Index(0).Float64()
	h := box.Index(3).Float64() - box.Index(1).Float64()
	if w > 0 && h > 0 {
		width, height = w, h
	}
	return width, height
}

// assemblePage merges a page's row glyphs into word runs: a new item starts
// at a whitespace glyph or a horizontal gap wider than a third of the font
// size.
func assemblePage(raw *rawPage) *paged.Page {
	page := &paged.Page{Number: raw.number, Width: raw.width, Height: raw.height}
	for _, row := range raw.rows {
		page.Items = append(page.Items, assembleRow(row)...)
	}
	return page
}

func assembleRow(row rawRow) []paged.Item {
	var items []paged.Item
	var b strings.Builder
	var startX, endX, size float64

	flush := func() {
		if b.Len() == 0 {
			return
		}
		h := size
		if h <= 0 {
			h = 12
		}
		items = append(items, paged.Item{
			Text: b.String(),
			X:    startX,
			Y:    row.y - h,
			W:    endX - startX,
			H:    h,
		})
		b.Reset()
		size = 0
	}

	for _, t := range row.texts {
		if strings.TrimSpace(t.S) == "" {
			flush()
			continue
		}
		gap := t.X - endX
		if b.Len() > 0 && gap > t.FontSize/3 {
			flush()
		}
		if b.Len() == 0 {
			startX = t.X
		}
		b.WriteString(t.S)
		endX = t.X + t.W
		if t.FontSize > size {
			size = t.FontSize
		}
	}
	flush()
	return items
}
