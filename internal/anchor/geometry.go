package anchor

// Rect is an axis-aligned rectangle. Resolution produces rects in viewport
// coordinates; NormalizeRects maps them into a scrollable container's content
// space.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Unit is a contiguous text-bearing run (a DOM text node, a PDF text item)
// covering the half-open byte range [Start, End) of its container's text.
type Unit struct {
	Start int
	End   int
}

// NormalizeRects translates viewport-space rectangles into coordinates
// relative to the container's content origin, compensating for the
// container's own position and current scroll offsets. Width and height are
// unchanged.
func NormalizeRects(rects []Rect, container Rect, scrollLeft, scrollTop float64) []Rect {
	if len(rects) == 0 {
		return nil
	}
	out := make([]Rect, len(rects))
	for i, r := range rects {
		out[i] = Rect{
			Left:   r.Left - container.Left + scrollLeft,
			Top:    r.Top - container.Top + scrollTop,
			Width:  r.Width,
			Height: r.Height,
		}
	}
	return out
}
