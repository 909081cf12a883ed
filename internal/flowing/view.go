package flowing

import "github.com/margo-reader/margo/internal/anchor"

// View is the current render state of a flowing document: a parsed snapshot
// plus the layout parameters of this render pass. It implements
// anchor.Locator for flowing anchors and reports no pages.
type View struct {
	snap   *Snapshot
	layout Layout
}

// NewView wraps a snapshot with the layout of the current render pass.
func NewView(snap *Snapshot, layout Layout) *View {
	return &View{snap: snap, layout: layout}
}

// Flowing resolves an element path into a resolver container.
func (v *View) Flowing(elementPath string) (anchor.Container, bool) {
	node := v.snap.ResolvePath(elementPath)
	if node == nil {
		return nil, false
	}
	text, units, _ := containerText(node)
	return &container{text: text, units: units, layout: v.layout}, true
}

// Page always fails: flowing documents have no pages.
func (v *View) Page(int) (anchor.Container, bool) { return nil, false }

type container struct {
	text   string
	units  []anchor.Unit
	layout Layout
}

func (c *container) Text() string         { return c.text }
func (c *container) Units() []anchor.Unit { return c.units }

func (c *container) UnitRect(i, start, end int) (anchor.Rect, bool) {
	if i < 0 || i >= len(c.units) {
		return anchor.Rect{}, false
	}
	return c.layout.RangeRect(start, end)
}
