package flowing

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/margo-reader/margo/internal/anchor"
)

// Selection is a validated live range: start and end text nodes plus byte
// offsets within each node's data. Start and end may be the same node.
type Selection struct {
	StartNode   *html.Node
	StartOffset int
	EndNode     *html.Node
	EndOffset   int
}

// BuildAnchor converts a selection into a flowing anchor: the element path of
// the selection's nearest enclosing element, offsets into that element's
// concatenated descendant text, and the context window. Returns
// anchor.ErrEmptySelection for zero-length ranges and anchor.ErrUnresolvable
// when no single stable container encloses the selection; in both cases the
// caller must not create a highlight.
func (s *Snapshot) BuildAnchor(sel Selection, radius int) (anchor.Flowing, error) {
	if sel.StartNode == nil || sel.EndNode == nil {
		return anchor.Flowing{}, anchor.ErrEmptySelection
	}

	enclosing := commonAncestorElement(sel.StartNode, sel.EndNode)
	if enclosing == nil {
		return anchor.Flowing{}, anchor.ErrUnresolvable
	}
	path, err := s.PathFor(enclosing)
	if err != nil {
		return anchor.Flowing{}, err
	}

	// Offsets are relative to the container's concatenated text, not the raw
	// node-local range offsets, which do not survive re-renders.
	text, _, nodes := containerText(enclosing)
	absStart, absEnd := -1, -1
	pos := 0
	for _, n := range nodes {
		if n == sel.StartNode {
			absStart = pos + sel.StartOffset
		}
		if n == sel.EndNode {
			absEnd = pos + sel.EndOffset
		}
		pos += len(n.Data)
	}
	if absStart < 0 || absEnd < 0 {
		return anchor.Flowing{}, anchor.ErrUnresolvable
	}
	if absStart >= absEnd {
		return anchor.Flowing{}, anchor.ErrEmptySelection
	}

	return anchor.Flowing{
		ElementPath: path,
		StartOffset: absStart,
		EndOffset:   absEnd,
		Context:     anchor.WindowAt(text, absStart, absEnd, radius),
	}, nil
}

// AnchorText builds a flowing anchor for the first occurrence of selected in
// the text of the element addressed by path. Used when the caller has text
// rather than a node range (the HTTP API's highlight creation).
func (s *Snapshot) AnchorText(path, selected string, radius int) (anchor.Flowing, error) {
	if selected == "" {
		return anchor.Flowing{}, anchor.ErrEmptySelection
	}
	text, ok := s.ContainerText(path)
	if !ok {
		return anchor.Flowing{}, anchor.ErrUnresolvable
	}
	idx := strings.Index(text, selected)
	if idx < 0 {
		return anchor.Flowing{}, anchor.ErrUnresolvable
	}
	return anchor.Flowing{
		ElementPath: path,
		StartOffset: idx,
		EndOffset:   idx + len(selected),
		Context:     anchor.WindowAt(text, idx, idx+len(selected), radius),
	}, nil
}

// commonAncestorElement returns the nearest element containing both nodes.
func commonAncestorElement(a, b *html.Node) *html.Node {
	seen := make(map[*html.Node]bool)
	for n := a; n != nil; n = n.Parent {
		seen[n] = true
	}
	for n := b; n != nil; n = n.Parent {
		if seen[n] {
			for e := n; e != nil; e = e.Parent {
				if e.Type == html.ElementNode {
					return e
				}
			}
			return nil
		}
	}
	return nil
}
