package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/margo-reader/margo/internal/anchor"
	"github.com/margo-reader/margo/internal/flowing"
	"github.com/margo-reader/margo/internal/paged"
	"github.com/margo-reader/margo/internal/storage"
)

// ResolveRequest carries the client's current render state. Zero values fall
// back to the layout defaults; scale 0 means 1.
type ResolveRequest struct {
	Scale         float64     `json:"scale"`
	ViewportWidth float64     `json:"viewportWidth"`
	CharWidth     float64     `json:"charWidth"`
	LineHeight    float64     `json:"lineHeight"`
	Container     anchor.Rect `json:"container"`
	Scroll        struct {
		Left float64 `json:"left"`
		Top  float64 `json:"top"`
	} `json:"scroll"`
}

// ResolvedHighlight is one highlight's rectangles for the requested render
// state. Rects is empty when the anchor could not be resolved.
type ResolvedHighlight struct {
	HighlightID string        `json:"highlightId"`
	Rects       []anchor.Rect `json:"rects"`
}

func handleResolve(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ResolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Scale <= 0 {
			req.Scale = 1
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

		loc, err := locatorFor(deps.Store, doc, req)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build document view: %v", err)
			return
		}

		highlights, err := deps.Store.ListHighlightsByDocument(doc.ID)
		if err != nil {
			slog.Warn("listing highlights failed", "error", err)
			highlights = nil
		}

		results := make([]ResolvedHighlight, 0, len(highlights))
		for _, h := range highlights {
			results = append(results, ResolvedHighlight{
				HighlightID: h.ID,
				Rects:       resolveOne(h, loc, req),
			})
		}
		writeJSON(w, results)
	}
}

// locatorFor builds the rendering collaborator for the document at the
// requested render state. A paginated document with no extracted pages yet
// yields a locator with no pages, so every anchor resolves to nothing.
func locatorFor(store *storage.Store, doc storage.Document, req ResolveRequest) (anchor.Locator, error) {
	switch doc.Kind {
	case storage.KindPaginated:
		records, err := store.GetPages(doc.ID)
		if err != nil {
			slog.Warn("loading pages failed", "document_id", doc.ID, "error", err)
			records = nil
		}
		pages := make([]*paged.Page, 0, len(records))
		for _, rec := range records {
			p, err := pageFromRecord(rec)
			if err != nil {
				return nil, err
			}
			pages = append(pages, p)
		}
		return paged.NewDocument(pages, req.Scale), nil

	default:
		snap, err := flowing.ParseString(doc.Content)
		if err != nil {
			return nil, err
		}
		layout := flowing.DefaultLayout()
		if req.CharWidth > 0 {
			layout.CharWidth = req.CharWidth
		}
		if req.LineHeight > 0 {
			layout.LineHeight = req.LineHeight
		}
		if req.ViewportWidth > 0 {
			layout.Width = req.ViewportWidth
		}
		layout.Scale = req.Scale
		return flowing.NewView(snap, layout), nil
	}
}

func resolveOne(h storage.Highlight, loc anchor.Locator, req ResolveRequest) []anchor.Rect {
	a, err := anchor.Unmarshal([]byte(h.AnchorJSON))
	if err != nil {
		slog.Warn("stored anchor is malformed", "highlight_id", h.ID, "error", err)
		return []anchor.Rect{}
	}

	rects := anchor.Resolve(a, loc)
	if len(rects) == 0 {
		return []anchor.Rect{}
	}
	return anchor.NormalizeRects(rects, req.Container, req.Scroll.Left, req.Scroll.Top)
}
