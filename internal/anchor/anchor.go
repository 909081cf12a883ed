// Package anchor implements the anchoring core: serializable descriptions of
// text ranges (anchors), their creation-time context fingerprints, and the
// resolution of persisted anchors back into on-screen rectangles.
//
// The package operates only on plain strings, byte offsets, and opaque unit
// geometry. Everything document-specific (DOM trees, PDF text items) lives
// behind the Container and Locator interfaces, supplied by the flowing and
// paged packages.
package anchor

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultRadius is the number of context characters captured on each side of
// a selection when an anchor is built.
const DefaultRadius = 30

var (
	// ErrEmptySelection is returned when a selection has zero length.
	ErrEmptySelection = errors.New("empty selection")
	// ErrUnresolvable is returned when a selection cannot be reduced to a
	// single stable container.
	ErrUnresolvable = errors.New("selection has no resolvable container")
)

// Anchor is a closed union: exactly Flowing and Paginated implement it.
type Anchor interface {
	// Validate checks the structural invariants common to both variants.
	Validate() error

	kind() string
}

// Flowing addresses a range in reflowable markup content: a structural
// element path plus byte offsets into the concatenation of the container's
// descendant text nodes in document order.
type Flowing struct {
	ElementPath string `json:"elementPath"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
	Context     string `json:"context"`
}

// Paginated addresses a range in fixed-page content: a page number plus byte
// offsets into the page's full extracted text stream.
type Paginated struct {
	PageNumber  int    `json:"pageNumber"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
	Context     string `json:"context"`
}

func (Flowing) kind() string   { return "flowing" }
func (Paginated) kind() string { return "paginated" }

func (a Flowing) Validate() error {
	if a.ElementPath == "" {
		return errors.New("flowing anchor: empty element path")
	}
	return validateRange(a.StartOffset, a.EndOffset, a.Context)
}

func (a Paginated) Validate() error {
	if a.PageNumber < 1 {
		return fmt.Errorf("paginated anchor: invalid page number %d", a.PageNumber)
	}
	return validateRange(a.StartOffset, a.EndOffset, a.Context)
}

func validateRange(start, end int, context string) error {
	if start < 0 || start >= end {
		return fmt.Errorf("invalid offset range [%d, %d)", start, end)
	}
	if context == "" {
		return errors.New("missing context")
	}
	return nil
}

// wire is the persisted JSON shape shared by both variants.
type wire struct {
	Type        string `json:"type"`
	ElementPath string `json:"elementPath,omitempty"`
	PageNumber  int    `json:"pageNumber,omitempty"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
	Context     string `json:"context"`
}

// Marshal serializes an anchor with its type discriminator.
func Marshal(a Anchor) ([]byte, error) {
	if a == nil {
		return nil, errors.New("nil anchor")
	}
	w := wire{Type: a.kind()}
	switch v := a.(type) {
	case Flowing:
		w.ElementPath = v.ElementPath
		w.StartOffset = v.StartOffset
		w.EndOffset = v.EndOffset
		w.Context = v.Context
	case Paginated:
		w.PageNumber = v.PageNumber
		w.StartOffset = v.StartOffset
		w.EndOffset = v.EndOffset
		w.Context = v.Context
	default:
		return nil, fmt.Errorf("unknown anchor kind %q", a.kind())
	}
	return json.Marshal(w)
}

// Unmarshal deserializes an anchor, rejecting unknown discriminators and
// records that violate the offset/context invariants.
func Unmarshal(data []byte) (Anchor, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing anchor: %w", err)
	}

	var a Anchor
	switch w.Type {
	case "flowing":
		a = Flowing{
			ElementPath: w.ElementPath,
			StartOffset: w.StartOffset,
			EndOffset:   w.EndOffset,
			Context:     w.Context,
		}
	case "paginated":
		a = Paginated{
			PageNumber:  w.PageNumber,
			StartOffset: w.StartOffset,
			EndOffset:   w.EndOffset,
			Context:     w.Context,
		}
	default:
		return nil, fmt.Errorf("unknown anchor type %q", w.Type)
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
