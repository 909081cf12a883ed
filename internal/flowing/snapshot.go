// Package flowing is the rendering collaborator for reflowable markup
// content. It parses an HTML snapshot, resolves structural element paths,
// exposes text-node units for the resolver, and builds flowing anchors from
// live selections.
package flowing

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/margo-reader/margo/internal/anchor"
)

// Snapshot is a parsed document. Element paths are rooted at <body>, so a
// fragment like <article><p>…</p></article> yields "article[1]/p[1]".
type Snapshot struct {
	root *html.Node // the body element
}

// Parse reads an HTML document or fragment.
func Parse(r io.Reader) (*Snapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	body := findElement(doc, atom.Body)
	if body == nil {
		return nil, fmt.Errorf("parsed document has no body")
	}
	return &Snapshot{root: body}, nil
}

// ParseString is Parse over an in-memory snapshot.
func ParseString(s string) (*Snapshot, error) {
	return Parse(strings.NewReader(s))
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// Root returns the snapshot's root element.
func (s *Snapshot) Root() *html.Node { return s.root }

// ResolvePath walks an element path ("article[1]/p[2]") down from the root
// and returns the addressed element, or nil if any step is missing.
func (s *Snapshot) ResolvePath(path string) *html.Node {
	if path == "" {
		return nil
	}
	node := s.root
	for _, step := range strings.Split(path, "/") {
		tag, ordinal, ok := parseStep(step)
		if !ok {
			return nil
		}
		node = childByOrdinal(node, tag, ordinal)
		if node == nil {
			return nil
		}
	}
	return node
}

// PathFor computes the element path of node relative to the snapshot root:
// at each level the tag name plus the 1-based count of same-tag preceding
// siblings. Returns an error when node is not an element strictly below the
// root.
func (s *Snapshot) PathFor(node *html.Node) (string, error) {
	if node == nil || node.Type != html.ElementNode {
		return "", anchor.ErrUnresolvable
	}
	var steps []string
	for n := node; n != s.root; n = n.Parent {
		if n == nil || n.Type != html.ElementNode {
			return "", anchor.ErrUnresolvable
		}
		ordinal := 1
		for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type == html.ElementNode && sib.Data == n.Data {
				ordinal++
			}
		}
		steps = append(steps, fmt.Sprintf("%s[%d]", n.Data, ordinal))
	}
	if len(steps) == 0 {
		return "", anchor.ErrUnresolvable
	}
	// Steps were collected leaf-first.
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return strings.Join(steps, "/"), nil
}

func parseStep(step string) (tag string, ordinal int, ok bool) {
	open := strings.IndexByte(step, '[')
	if open <= 0 || !strings.HasSuffix(step, "]") {
		return "", 0, false
	}
	n, err := strconv.Atoi(step[open+1 : len(step)-1])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return step[:open], n, true
}

func childByOrdinal(parent *html.Node, tag string, ordinal int) *html.Node {
	seen := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			seen++
			if seen == ordinal {
				return c
			}
		}
	}
	return nil
}

// containerText walks the text-node descendants of node in document order,
// returning the concatenated text and one unit per text node.
func containerText(node *html.Node) (string, []anchor.Unit, []*html.Node) {
	var b strings.Builder
	var units []anchor.Unit
	var nodes []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			start := b.Len()
			b.WriteString(n.Data)
			units = append(units, anchor.Unit{Start: start, End: b.Len()})
			nodes = append(nodes, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return b.String(), units, nodes
}

// ContainerText returns the concatenated text of the element addressed by
// path, in the joining convention anchors are built against.
func (s *Snapshot) ContainerText(path string) (string, bool) {
	node := s.ResolvePath(path)
	if node == nil {
		return "", false
	}
	text, _, _ := containerText(node)
	return text, true
}
