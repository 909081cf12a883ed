package anchor

import "strings"

// Container is the current rendered state of one addressable text container:
// a flowing element's subtree or a single page.
type Container interface {
	// Text returns the container's full text in the same order and joining
	// convention used when anchors were built against it.
	Text() string

	// Units returns the text-bearing runs of the container in document
	// order, with byte ranges into Text().
	Units() []Unit

	// UnitRect returns the viewport rectangle covering the byte range
	// [start, end) of unit i. The range is always within the unit's bounds.
	// ok is false when geometry is unavailable.
	UnitRect(i, start, end int) (Rect, bool)
}

// Locator relocates an anchor's addressed container in the current render
// state. Each implementation answers for one content kind and reports
// ok=false for the other.
type Locator interface {
	Flowing(elementPath string) (Container, bool)
	Page(number int) (Container, bool)
}

// Resolve relocates a persisted anchor against the current render state and
// returns viewport rectangles for the addressed range, or nil when the anchor
// cannot be resolved. Failure is silent and expected: stale offsets, changed
// page content, and broken element paths all yield nil, never a guessed or
// partial rectangle set. Resolve never mutates its inputs and is safe to
// re-invoke on every render event.
func Resolve(a Anchor, loc Locator) []Rect {
	if a == nil || loc == nil {
		return nil
	}
	switch v := a.(type) {
	case Flowing:
		c, ok := loc.Flowing(v.ElementPath)
		if !ok {
			return nil
		}
		return resolveIn(c, v.StartOffset, v.EndOffset, v.Context)
	case Paginated:
		c, ok := loc.Page(v.PageNumber)
		if !ok {
			return nil
		}
		return resolveIn(c, v.StartOffset, v.EndOffset, v.Context)
	default:
		return nil
	}
}

// resolveIn runs the shared resolution algorithm: verify the context core is
// still present, re-derive offsets if the stored ones no longer address it,
// then collect rectangles for every unit overlapping the range.
func resolveIn(c Container, start, end int, context string) []Rect {
	text := c.Text()

	contextCore := core(context, start, end, DefaultRadius)
	if contextCore == "" {
		return nil
	}

	// Verification gate: the core must literally survive in the current
	// text, or the anchor points at content that changed.
	if !strings.Contains(text, contextCore) {
		return nil
	}

	// Fast path: the stored offsets still address the core exactly. Otherwise
	// the container's text shifted; re-anchor to the occurrence of the core
	// nearest the stored start offset rather than trusting stale offsets.
	if !rangeMatches(text, start, contextCore) {
		idx := nearestOccurrence(text, contextCore, start)
		if idx < 0 {
			return nil
		}
		start = idx
		end = idx + len(contextCore)
	}
	if start < 0 || end > len(text) || start >= end {
		return nil
	}

	var rects []Rect
	for i, u := range c.Units() {
		// Half-open interval overlap: a selection may span multiple units.
		if u.End <= start || u.Start >= end {
			continue
		}
		s, e := start, end
		if s < u.Start {
			s = u.Start
		}
		if e > u.End {
			e = u.End
		}
		// A zero-length unit inside the range clamps to an empty sub-range;
		// it carries no geometry and must not fail the whole resolution.
		if s >= e {
			continue
		}
		r, ok := c.UnitRect(i, s, e)
		if !ok {
			return nil
		}
		rects = append(rects, r)
	}
	return rects
}

func rangeMatches(text string, start int, core string) bool {
	return start >= 0 && start+len(core) <= len(text) && text[start:start+len(core)] == core
}

// nearestOccurrence returns the index of the occurrence of core whose start
// is closest to want, or -1 if core does not occur. A tie goes to the earlier
// occurrence.
func nearestOccurrence(text, core string, want int) int {
	best := -1
	from := 0
	for {
		i := strings.Index(text[from:], core)
		if i < 0 {
			break
		}
		pos := from + i
		if best < 0 || abs(pos-want) < abs(best-want) {
			best = pos
		}
		from = pos + 1
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
