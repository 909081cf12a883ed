package flowing

import "github.com/margo-reader/margo/internal/anchor"

// Layout is a deterministic line-wrap model standing in for a browser's
// range-to-rectangle queries: fixed-width glyphs wrapped greedily at the
// container width, all dimensions multiplied by the zoom scale. It is
// injectable so a real renderer can supply native geometry instead.
type Layout struct {
	CharWidth  float64 // glyph advance at scale 1
	LineHeight float64
	Width      float64 // container content width at scale 1
	OriginX    float64 // container's viewport position
	OriginY    float64
	Scale      float64 // zoom factor; 0 means 1
}

// DefaultLayout matches a 16px monospace column 600px wide.
func DefaultLayout() Layout {
	return Layout{CharWidth: 8, LineHeight: 20, Width: 600, Scale: 1}
}

func (l Layout) scale() float64 {
	if l.Scale <= 0 {
		return 1
	}
	return l.Scale
}

// columns is how many glyphs fit on one line.
func (l Layout) columns() int {
	if l.CharWidth <= 0 || l.Width < l.CharWidth {
		return 1
	}
	return int(l.Width / l.CharWidth)
}

// RangeRect returns the viewport rectangle covering the byte range
// [start, end) of a container's text. A range spanning multiple wrapped
// lines is covered by its bounding box.
func (l Layout) RangeRect(start, end int) (anchor.Rect, bool) {
	if start < 0 || end <= start {
		return anchor.Rect{}, false
	}
	cols := l.columns()
	sc := l.scale()
	cw := l.CharWidth * sc
	lh := l.LineHeight * sc

	firstLine := start / cols
	lastLine := (end - 1) / cols
	if firstLine == lastLine {
		return anchor.Rect{
			Left:   l.OriginX + float64(start%cols)*cw,
			Top:    l.OriginY + float64(firstLine)*lh,
			Width:  float64(end-start) * cw,
			Height: lh,
		}, true
	}
	return anchor.Rect{
		Left:   l.OriginX,
		Top:    l.OriginY + float64(firstLine)*lh,
		Width:  float64(cols) * cw,
		Height: float64(lastLine-firstLine+1) * lh,
	}, true
}
