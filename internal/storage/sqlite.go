package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the annotation store: it exclusively owns the document, highlight,
// note, vocabulary, and AI-output collections and enforces their cascade and
// uniqueness invariants.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "margo.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for tests and maintenance tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return t, nil
}

// --- Documents ---

// SaveDocument inserts a document record. The caller supplies the identifier
// (documents are created by import, which also names files after the id).
func (s *Store) SaveDocument(d Document) error {
	_, err := s.db.Exec(`
		INSERT INTO documents (id, title, kind, source, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Kind, d.Source, d.Content, d.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetDocument(id string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, title, kind, source, content, created_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Title, &d.Kind, &d.Source, &d.Content, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Document{}, err
	}
	return d, nil
}

func (s *Store) ListDocuments() ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, title, kind, source, content, created_at
		FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Title, &d.Kind, &d.Source, &d.Content, &createdAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// UpdateDocumentTitle renames a document. The title is the only mutable
// document attribute.
func (s *Store) UpdateDocumentTitle(id, title string) error {
	res, err := s.db.Exec(`UPDATE documents SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document and cascades to its pages, highlights,
// and each highlight's note and AI outputs. Vocabulary entries for the
// document are deliberately left in place: vocabulary outlives its source.
func (s *Store) DeleteDocument(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM notes WHERE highlight_id IN (SELECT id FROM highlights WHERE document_id = ?)`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM ai_outputs WHERE highlight_id IN (SELECT id FROM highlights WHERE document_id = ?)`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM highlights WHERE document_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM document_pages WHERE document_id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// --- Pages ---

// SavePages replaces the stored extraction result for a document.
func (s *Store) SavePages(documentID string, pages []PageRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning pages transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM document_pages WHERE document_id = ?`, documentID); err != nil {
		return err
	}
	for _, p := range pages {
		if _, err := tx.Exec(`
			INSERT INTO document_pages (document_id, page_number, width, height, items_json)
			VALUES (?, ?, ?, ?, ?)`,
			documentID, p.Number, p.Width, p.Height, p.ItemsJSON,
		); err != nil {
			return fmt.Errorf("inserting page %d: %w", p.Number, err)
		}
	}
	return tx.Commit()
}

// PageRecord is a stored page: extracted item geometry as JSON.
type PageRecord struct {
	Number    int
	Width     float64
	Height    float64
	ItemsJSON string
}

func (s *Store) GetPages(documentID string) ([]PageRecord, error) {
	rows, err := s.db.Query(`
		SELECT page_number, width, height, items_json
		FROM document_pages WHERE document_id = ? ORDER BY page_number ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PageRecord
	for rows.Next() {
		var p PageRecord
		if err := rows.Scan(&p.Number, &p.Width, &p.Height, &p.ItemsJSON); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Highlights ---

// CreateHighlight assigns a new identifier and creation timestamp and appends
// the record. The anchor JSON is stored verbatim; resolvability is never
// checked here.
func (s *Store) CreateHighlight(documentID, category, text, anchorJSON string) (Highlight, error) {
	h := Highlight{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Category:   category,
		Text:       text,
		AnchorJSON: anchorJSON,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO highlights (id, document_id, category, text, anchor_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.DocumentID, h.Category, h.Text, h.AnchorJSON, h.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Highlight{}, err
	}
	return h, nil
}

func (s *Store) GetHighlight(id string) (Highlight, error) {
	var h Highlight
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, document_id, category, text, anchor_json, created_at
		FROM highlights WHERE id = ?`, id,
	).Scan(&h.ID, &h.DocumentID, &h.Category, &h.Text, &h.AnchorJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Highlight{}, ErrNotFound
	}
	if err != nil {
		return Highlight{}, err
	}
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return Highlight{}, err
	}
	return h, nil
}

func (s *Store) ListHighlightsByDocument(documentID string) ([]Highlight, error) {
	return s.queryHighlights(`
		SELECT id, document_id, category, text, anchor_json, created_at
		FROM highlights WHERE document_id = ? ORDER BY created_at ASC`, documentID)
}

// SearchHighlights matches the query as a case-insensitive substring of the
// highlighted text.
func (s *Store) SearchHighlights(query string) ([]Highlight, error) {
	return s.queryHighlights(`
		SELECT id, document_id, category, text, anchor_json, created_at
		FROM highlights WHERE text LIKE ? ORDER BY created_at ASC`,
		"%"+query+"%")
}

func (s *Store) queryHighlights(query string, args ...any) ([]Highlight, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Highlight
	for rows.Next() {
		var h Highlight
		var createdAt string
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.Category, &h.Text, &h.AnchorJSON, &createdAt); err != nil {
			return nil, err
		}
		if h.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// DeleteHighlight removes a highlight and cascades to its note and AI
// outputs. Reports whether a record was found and removed.
func (s *Store) DeleteHighlight(id string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM highlights WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.Exec(`DELETE FROM notes WHERE highlight_id = ?`, id); err != nil {
		return false, err
	}
	if _, err := tx.Exec(`DELETE FROM ai_outputs WHERE highlight_id = ?`, id); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// --- Notes ---

// SaveNote upserts the single note of a highlight: a second save replaces
// content, identifier, and timestamp rather than creating a duplicate.
func (s *Store) SaveNote(highlightID, content string) (Note, error) {
	note := Note{
		ID:          uuid.New().String(),
		HighlightID: highlightID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
	tx, err := s.db.Begin()
	if err != nil {
		return Note{}, fmt.Errorf("beginning note transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM notes WHERE highlight_id = ?`, highlightID); err != nil {
		return Note{}, err
	}
	if _, err := tx.Exec(`
		INSERT INTO notes (id, highlight_id, content, created_at)
		VALUES (?, ?, ?, ?)`,
		note.ID, note.HighlightID, note.Content, note.CreatedAt.Format(time.RFC3339),
	); err != nil {
		return Note{}, err
	}
	return note, tx.Commit()
}

func (s *Store) GetNote(highlightID string) (Note, error) {
	var n Note
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, highlight_id, content, created_at
		FROM notes WHERE highlight_id = ?`, highlightID,
	).Scan(&n.ID, &n.HighlightID, &n.Content, &createdAt)
	if err == sql.ErrNoRows {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, err
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return Note{}, err
	}
	return n, nil
}

// --- AI outputs ---

func (s *Store) SaveAIOutput(highlightID, kind, content string) (AIOutput, error) {
	out := AIOutput{
		ID:          uuid.New().String(),
		HighlightID: highlightID,
		Kind:        kind,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO ai_outputs (id, highlight_id, kind, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		out.ID, out.HighlightID, out.Kind, out.Content, out.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return AIOutput{}, err
	}
	return out, nil
}

func (s *Store) ListAIOutputs(highlightID string) ([]AIOutput, error) {
	rows, err := s.db.Query(`
		SELECT id, highlight_id, kind, content, created_at
		FROM ai_outputs WHERE highlight_id = ? ORDER BY created_at ASC`, highlightID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AIOutput
	for rows.Next() {
		var o AIOutput
		var createdAt string
		if err := rows.Scan(&o.ID, &o.HighlightID, &o.Kind, &o.Content, &createdAt); err != nil {
			return nil, err
		}
		if o.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, o)
	}
	return results, rows.Err()
}

// --- Vocabulary ---

func (s *Store) AddVocabulary(documentID, term, sentence string) (VocabularyEntry, error) {
	e := VocabularyEntry{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Term:       term,
		Sentence:   sentence,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO vocabulary (id, document_id, term, sentence, definition, note, created_at)
		VALUES (?, ?, ?, ?, '', '', ?)`,
		e.ID, e.DocumentID, e.Term, e.Sentence, e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return VocabularyEntry{}, err
	}
	return e, nil
}

// ListVocabulary returns entries for one document, or all entries when
// documentID is empty.
func (s *Store) ListVocabulary(documentID string) ([]VocabularyEntry, error) {
	query := `
		SELECT id, document_id, term, sentence, definition, note, created_at
		FROM vocabulary ORDER BY created_at ASC`
	args := []any{}
	if documentID != "" {
		query = `
			SELECT id, document_id, term, sentence, definition, note, created_at
			FROM vocabulary WHERE document_id = ? ORDER BY created_at ASC`
		args = append(args, documentID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []VocabularyEntry
	for rows.Next() {
		var e VocabularyEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Term, &e.Sentence, &e.Definition, &e.Note, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// SearchVocabulary matches the query as a case-insensitive substring of the
// term or its definition.
func (s *Store) SearchVocabulary(query string) ([]VocabularyEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, document_id, term, sentence, definition, note, created_at
		FROM vocabulary WHERE term LIKE ? OR definition LIKE ? ORDER BY created_at ASC`,
		"%"+query+"%", "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []VocabularyEntry
	for rows.Next() {
		var e VocabularyEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Term, &e.Sentence, &e.Definition, &e.Note, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// UpdateVocabulary sets the optional definition and user note of an entry.
// Nil pointers leave the current value unchanged.
func (s *Store) UpdateVocabulary(id string, definition, note *string) error {
	if definition == nil && note == nil {
		return nil
	}
	sets := []string{}
	args := []any{}
	if definition != nil {
		sets = append(sets, "definition = ?")
		args = append(args, *definition)
	}
	if note != nil {
		sets = append(sets, "note = ?")
		args = append(args, *note)
	}
	args = append(args, id)

	res, err := s.db.Exec(`UPDATE vocabulary SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteVocabulary removes one entry. Reports whether a record was found.
func (s *Store) DeleteVocabulary(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM vocabulary WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Stats ---

// Stats aggregates annotation counts per document. Vocabulary for deleted
// documents is not represented (the document row anchors the aggregation).
func (s *Store) Stats() ([]DocumentStats, error) {
	rows, err := s.db.Query(`
		SELECT d.id, d.title,
			COALESCE(SUM(CASE WHEN h.category = 'insight' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN h.category = 'definition' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN h.category = 'question' THEN 1 ELSE 0 END), 0),
			(SELECT COUNT(*) FROM notes n JOIN highlights hh ON n.highlight_id = hh.id WHERE hh.document_id = d.id),
			(SELECT COUNT(*) FROM vocabulary v WHERE v.document_id = d.id)
		FROM documents d
		LEFT JOIN highlights h ON h.document_id = d.id
		GROUP BY d.id, d.title
		ORDER BY d.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DocumentStats
	for rows.Next() {
		var st DocumentStats
		if err := rows.Scan(&st.DocumentID, &st.Title, &st.Insights, &st.Definitions, &st.Questions, &st.Notes, &st.Vocabulary); err != nil {
			return nil, err
		}
		results = append(results, st)
	}
	return results, rows.Err()
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]interface{}, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
