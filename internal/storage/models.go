package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document source kinds.
const (
	KindFlowing   = "flowing"   // reflowable markup, addressed by element path
	KindPaginated = "paginated" // fixed pages, addressed by page number
)

// Highlight categories. Closed set; labels only, no behavioral difference.
const (
	CategoryInsight    = "insight"
	CategoryDefinition = "definition"
	CategoryQuestion   = "question"
)

// ValidCategory reports whether c is one of the closed highlight categories.
func ValidCategory(c string) bool {
	return c == CategoryInsight || c == CategoryDefinition || c == CategoryQuestion
}

// Document is one imported source text. Immutable after import except Title.
type Document struct {
	ID        string
	Title     string
	Kind      string // KindFlowing or KindPaginated
	Source    string // opaque locator: URL or file path
	Content   string // HTML snapshot for flowing documents
	CreatedAt time.Time
}

// Highlight is a user mark on a document. AnchorJSON holds the anchor wire
// shape verbatim; the store never validates resolvability. An anchor that
// later fails to resolve is still a valid, storable highlight.
type Highlight struct {
	ID         string
	DocumentID string
	Category   string
	Text       string
	AnchorJSON string
	CreatedAt  time.Time
}

// Note is free text attached to a highlight. At most one per highlight;
// saving again replaces the record wholesale.
type Note struct {
	ID          string
	HighlightID string
	Content     string
	CreatedAt   time.Time
}

// VocabularyEntry is a captured word or short phrase. Its lifecycle is
// independent of its document: deleting the document does not delete it.
type VocabularyEntry struct {
	ID         string
	DocumentID string
	Term       string
	Sentence   string // the context sentence it was captured from
	Definition string
	Note       string
	CreatedAt  time.Time
}

// AIOutput is a stored model response attached to a highlight. Generation is
// external; the store only persists and cascade-deletes these.
type AIOutput struct {
	ID          string
	HighlightID string
	Kind        string
	Content     string
	CreatedAt   time.Time
}

// Job is a queued background task (page extraction).
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// DocumentStats aggregates per-document annotation counts.
type DocumentStats struct {
	DocumentID  string `json:"documentId"`
	Title       string `json:"title"`
	Insights    int    `json:"insights"`
	Definitions int    `json:"definitions"`
	Questions   int    `json:"questions"`
	Notes       int    `json:"notes"`
	Vocabulary  int    `json:"vocabulary"`
}
