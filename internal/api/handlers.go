package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/margo-reader/margo/internal/anchor"
	"github.com/margo-reader/margo/internal/extract"
	"github.com/margo-reader/margo/internal/flowing"
	"github.com/margo-reader/margo/internal/paged"
	"github.com/margo-reader/margo/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Store         *storage.Store
	Token         string
	HTTPClient    *http.Client
	Version       string
	DebounceMs    int
	ContextRadius int
}

func (d Deps) radius() int {
	if d.ContextRadius > 0 {
		return d.ContextRadius
	}
	return anchor.DefaultRadius
}

// NewHandler returns the annotation API. All routes except /health require
// the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/documents", handleImportDocument(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Patch("/documents/{id}", handleRenameDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))

		r.Get("/documents/{id}/highlights", handleListHighlights(deps))
		r.Post("/documents/{id}/highlights", handleCreateHighlight(deps))
		r.Post("/documents/{id}/resolve", handleResolve(deps))
		r.Post("/documents/{id}/vocabulary", handleAddVocabulary(deps))

		r.Delete("/highlights/{id}", handleDeleteHighlight(deps))
		r.Put("/highlights/{id}/note", handlePutNote(deps))
		r.Get("/highlights/{id}/note", handleGetNote(deps))
		r.Post("/highlights/{id}/outputs", handleCreateOutput(deps))
		r.Get("/highlights/{id}/outputs", handleListOutputs(deps))

		r.Get("/vocabulary", handleListVocabulary(deps))
		r.Patch("/vocabulary/{id}", handleUpdateVocabulary(deps))
		r.Delete("/vocabulary/{id}", handleDeleteVocabulary(deps))

		r.Get("/stats", handleStats(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":     "ok",
			"version":    deps.Version,
			"debounceMs": deps.DebounceMs,
		})
	}
}

type ImportRequest struct {
	Title   string `json:"title"`
	Kind    string `json:"kind"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Path    string `json:"path"`
}

func handleImportDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Kind == "" {
			if req.Path != "" {
				req.Kind = storage.KindPaginated
			} else {
				req.Kind = storage.KindFlowing
			}
		}
		if req.Kind != storage.KindFlowing && req.Kind != storage.KindPaginated {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "kind must be %q or %q", storage.KindFlowing, storage.KindPaginated)
			return
		}

		doc := storage.Document{
			ID:        uuid.New().String(),
			Title:     req.Title,
			Kind:      req.Kind,
			CreatedAt: time.Now().UTC(),
		}

		status := "stored"
		switch req.Kind {
		case storage.KindFlowing:
			switch {
			case req.Content != "":
				doc.Content = req.Content
				doc.Source = req.URL
			case req.URL != "":
				body, err := extract.Fetch(r.Context(), deps.HTTPClient, req.URL)
				if err != nil {
					httpError(w, http.StatusBadGateway, "api_error", "failed to fetch url: %v", err)
					return
				}
				doc.Content = body
				doc.Source = req.URL
				if doc.Title == "" {
					doc.Title = req.URL
				}
			default:
				httpError(w, http.StatusBadRequest, "invalid_request_error", "flowing documents need content or url")
				return
			}

		case storage.KindPaginated:
			if req.Path == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "paginated documents need a local path")
				return
			}
			doc.Source = req.Path
			status = "queued"
		}

		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		if req.Kind == storage.KindPaginated {
			payload, err := json.Marshal(map[string]string{"document_id": doc.ID})
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
				return
			}
			job := storage.Job{
				ID:          uuid.New().String(),
				Type:        "extract_pages",
				PayloadJSON: string(payload),
			}
			if err := deps.Store.EnqueueJob(job); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue extraction: %v", err)
				return
			}
		}

		writeJSON(w, map[string]string{"id": doc.ID, "status": status})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListDocuments()
		if err != nil {
			// Reads degrade to empty rather than failing the caller.
			slog.Warn("listing documents failed", "error", err)
			docs = nil
		}
		if docs == nil {
			docs = []storage.Document{}
		}
		writeJSON(w, docs)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Store.GetDocument(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}
		writeJSON(w, doc)
	}
}

func handleRenameDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}

		err := deps.Store.UpdateDocumentTitle(chi.URLParam(r, "id"), req.Title)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to rename document: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteDocument(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleListHighlights(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		highlights, err := deps.Store.ListHighlightsByDocument(chi.URLParam(r, "id"))
		if err != nil {
			slog.Warn("listing highlights failed", "error", err)
			highlights = nil
		}
		if highlights == nil {
			highlights = []storage.Highlight{}
		}
		writeJSON(w, highlights)
	}
}

type CreateHighlightRequest struct {
	Category    string          `json:"category"`
	Text        string          `json:"text"`
	ElementPath string          `json:"elementPath"`
	PageNumber  int             `json:"pageNumber"`
	Anchor      json.RawMessage `json:"anchor"`
}

func handleCreateHighlight(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CreateHighlightRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !storage.ValidCategory(req.Category) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "category must be one of insight, definition, question")
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		doc, err := deps.Store.GetDocument(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		anchorJSON, err := buildAnchorJSON(deps, doc, req)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "cannot anchor selection: %v", err)
			return
		}

		h, err := deps.Store.CreateHighlight(doc.ID, req.Category, req.Text, anchorJSON)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save highlight: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(h)
	}
}

// buildAnchorJSON produces the anchor for a new highlight, either by
// validating a client-built anchor or by anchoring the selected text to the
// addressed container or page.
func buildAnchorJSON(deps Deps, doc storage.Document, req CreateHighlightRequest) (string, error) {
	switch {
	case len(req.Anchor) > 0:
		a, err := anchor.Unmarshal(req.Anchor)
		if err != nil {
			return "", err
		}
		b, err := anchor.Marshal(a)
		if err != nil {
			return "", err
		}
		return string(b), nil

	case req.ElementPath != "":
		if doc.Kind != storage.KindFlowing {
			return "", fmt.Errorf("element paths address flowing documents only")
		}
		snap, err := flowing.ParseString(doc.Content)
		if err != nil {
			return "", fmt.Errorf("parsing document content: %w", err)
		}
		a, err := snap.AnchorText(req.ElementPath, req.Text, deps.radius())
		if err != nil {
			return "", err
		}
		b, err := anchor.Marshal(a)
		if err != nil {
			return "", err
		}
		return string(b), nil

	case req.PageNumber > 0:
		if doc.Kind != storage.KindPaginated {
			return "", fmt.Errorf("page numbers address paginated documents only")
		}
		page, err := loadPage(deps.Store, doc.ID, req.PageNumber)
		if err != nil {
			return "", err
		}
		a, err := page.BuildAnchor(req.Text, deps.radius())
		if err != nil {
			return "", err
		}
		b, err := anchor.Marshal(a)
		if err != nil {
			return "", err
		}
		return string(b), nil

	default:
		return "", fmt.Errorf("one of anchor, elementPath or pageNumber is required")
	}
}

func loadPage(store *storage.Store, documentID string, number int) (*paged.Page, error) {
	records, err := store.GetPages(documentID)
	if err != nil {
		return nil, fmt.Errorf("loading pages: %w", err)
	}
	for _, rec := range records {
		if rec.Number != number {
			continue
		}
		p, err := pageFromRecord(rec)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("page %d not found", number)
}

func pageFromRecord(rec storage.PageRecord) (*paged.Page, error) {
	var items []paged.Item
	if err := json.Unmarshal([]byte(rec.ItemsJSON), &items); err != nil {
		return nil, fmt.Errorf("decoding page %d items: %w", rec.Number, err)
	}
	return &paged.Page{
		Number: rec.Number,
		Width:  rec.Width,
		Height: rec.Height,
		Items:  items,
	}, nil
}

func handleDeleteHighlight(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		found, err := deps.Store.DeleteHighlight(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete highlight: %v", err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found", "highlight not found")
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handlePutNote(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetHighlight(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "highlight not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get highlight: %v", err)
			return
		}

		note, err := deps.Store.SaveNote(id, req.Content)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save note: %v", err)
			return
		}
		writeJSON(w, note)
	}
}

func handleGetNote(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		note, err := deps.Store.GetNote(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "note not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get note: %v", err)
			return
		}
		writeJSON(w, note)
	}
}

func handleCreateOutput(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Kind    string `json:"kind"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Kind == "" || req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "kind and content are required")
			return
		}

		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetHighlight(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "highlight not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get highlight: %v", err)
			return
		}

		out, err := deps.Store.SaveAIOutput(id, req.Kind, req.Content)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save output: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(out)
	}
}

func handleListOutputs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outputs, err := deps.Store.ListAIOutputs(chi.URLParam(r, "id"))
		if err != nil {
			slog.Warn("listing outputs failed", "error", err)
			outputs = nil
		}
		if outputs == nil {
			outputs = []storage.AIOutput{}
		}
		writeJSON(w, outputs)
	}
}

func handleAddVocabulary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Term     string `json:"term"`
			Sentence string `json:"sentence"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Term == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "term is required")
			return
		}

		docID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetDocument(docID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		entry, err := deps.Store.AddVocabulary(docID, req.Term, req.Sentence)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save vocabulary: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(entry)
	}
}

func handleListVocabulary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Store.ListVocabulary(r.URL.Query().Get("document_id"))
		if err != nil {
			slog.Warn("listing vocabulary failed", "error", err)
			entries = nil
		}
		if entries == nil {
			entries = []storage.VocabularyEntry{}
		}
		writeJSON(w, entries)
	}
}

func handleUpdateVocabulary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Definition *string `json:"definition"`
			Note       *string `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Definition == nil && req.Note == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "definition or note is required")
			return
		}

		err := deps.Store.UpdateVocabulary(chi.URLParam(r, "id"), req.Definition, req.Note)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "vocabulary entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update vocabulary: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func handleDeleteVocabulary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		found, err := deps.Store.DeleteVocabulary(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete vocabulary: %v", err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found", "vocabulary entry not found")
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Stats()
		if err != nil {
			slog.Warn("collecting stats failed", "error", err)
			stats = nil
		}
		if stats == nil {
			stats = []storage.DocumentStats{}
		}
		writeJSON(w, stats)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
