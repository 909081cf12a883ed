package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/margo-reader/margo/internal/anchor"
	"github.com/margo-reader/margo/internal/storage"
)

const testToken = "test-token-12345"

func setupHandler(t *testing.T) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	handler := NewHandler(Deps{
		Store:      store,
		Token:      testToken,
		HTTPClient: http.DefaultClient,
		Version:    "test",
		DebounceMs: 250,
	})
	return handler, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func saveFlowingDocument(t *testing.T, store *storage.Store) storage.Document {
	t.Helper()
	doc := storage.Document{
		ID:        "doc-flow",
		Title:     "Article",
		Kind:      storage.KindFlowing,
		Content:   "<article><p>The quick brown fox</p></article>",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	return doc
}

func savePaginatedDocument(t *testing.T, store *storage.Store) storage.Document {
	t.Helper()
	doc := storage.Document{
		ID:        "doc-page",
		Title:     "Paper",
		Kind:      storage.KindPaginated,
		Source:    "/tmp/paper.pdf",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	pages := []storage.PageRecord{{
		Number: 1,
		Width:  612,
		Height: 792,
		ItemsJSON: `[
			{"text":"The","x":72,"y":100,"w":24,"h":12},
			{"text":"quick","x":104,"y":100,"w":40,"h":12}
		]`,
	}}
	if err := store.SavePages(doc.ID, pages); err != nil {
		t.Fatalf("SavePages: %v", err)
	}
	return doc
}

func TestAuth_Required(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/documents", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/documents", "", "wrong-token"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestHealth_NoAuth(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/health", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp map[string]any
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v", resp["status"])
	}
	if resp["debounceMs"] != float64(250) {
		t.Errorf("debounceMs = %v, want 250", resp["debounceMs"])
	}
}

func TestImport_FlowingContent(t *testing.T) {
	h, store := setupHandler(t)

	body := `{"title":"Notes","kind":"flowing","content":"<p>hello</p>"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "stored" {
		t.Errorf("status = %q, want stored", resp["status"])
	}

	doc, err := store.GetDocument(resp["id"])
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Content != "<p>hello</p>" || doc.Kind != storage.KindFlowing {
		t.Errorf("stored %+v", doc)
	}
}

func TestImport_FlowingFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<article><p>fetched</p></article>"))
	}))
	defer srv.Close()

	h, store := setupHandler(t)

	body := `{"kind":"flowing","url":"` + srv.URL + `"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	doc, err := store.GetDocument(resp["id"])
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Content != "<article><p>fetched</p></article>" {
		t.Errorf("content %q", doc.Content)
	}
	if doc.Title != srv.URL {
		t.Errorf("title %q, want the url", doc.Title)
	}
}

func TestImport_PaginatedEnqueuesExtraction(t *testing.T) {
	h, store := setupHandler(t)

	body := `{"title":"Paper","path":"/tmp/paper.pdf"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "queued" {
		t.Errorf("status = %q, want queued", resp["status"])
	}

	doc, err := store.GetDocument(resp["id"])
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Kind != storage.KindPaginated || doc.Source != "/tmp/paper.pdf" {
		t.Errorf("stored %+v", doc)
	}

	job, err := store.ClaimNextJob([]string{"extract_pages"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("no extraction job enqueued")
	}
	var payload map[string]string
	json.Unmarshal([]byte(job.PayloadJSON), &payload)
	if payload["document_id"] != doc.ID {
		t.Errorf("payload %q", job.PayloadJSON)
	}
}

func TestImport_InvalidKind(t *testing.T) {
	h, _ := setupHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents", `{"kind":"scroll","content":"x"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestDocument_RenameAndDelete(t *testing.T) {
	h, store := setupHandler(t)
	saveFlowingDocument(t, store)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, "/documents/doc-flow", `{"title":"Renamed"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("rename status = %d", rr.Code)
	}
	doc, _ := store.GetDocument("doc-flow")
	if doc.Title != "Renamed" {
		t.Errorf("title %q", doc.Title)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/documents/doc-flow", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/documents/doc-flow", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
}

func TestCreateHighlight_FlowingByElementPath(t *testing.T) {
	h, store := setupHandler(t)
	saveFlowingDocument(t, store)

	body := `{"category":"insight","text":"quick brown","elementPath":"article[1]/p[1]"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents/doc-flow/highlights", body, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var created storage.Highlight
	json.NewDecoder(rr.Body).Decode(&created)
	if created.ID == "" {
		t.Fatal("missing id")
	}

	a, err := anchor.Unmarshal([]byte(created.AnchorJSON))
	if err != nil {
		t.Fatalf("stored anchor invalid: %v", err)
	}
	fl, ok := a.(anchor.Flowing)
	if !ok {
		t.Fatalf("anchor type %T", a)
	}
	if fl.StartOffset != 4 || fl.EndOffset != 15 {
		t.Errorf("offsets [%d, %d), want [4, 15)", fl.StartOffset, fl.EndOffset)
	}
	if fl.Context != "The quick brown fox" {
		t.Errorf("context %q", fl.Context)
	}
}

func TestCreateHighlight_PaginatedByPageNumber(t *testing.T) {
	h, store := setupHandler(t)
	savePaginatedDocument(t, store)

	body := `{"category":"definition","text":"quick","pageNumber":1}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents/doc-page/highlights", body, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var created storage.Highlight
	json.NewDecoder(rr.Body).Decode(&created)
	a, err := anchor.Unmarshal([]byte(created.AnchorJSON))
	if err != nil {
		t.Fatalf("stored anchor invalid: %v", err)
	}
	pg, ok := a.(anchor.Paginated)
	if !ok {
		t.Fatalf("anchor type %T", a)
	}
	if pg.PageNumber != 1 || pg.StartOffset != 4 || pg.EndOffset != 9 {
		t.Errorf("anchor %+v", pg)
	}
}

func TestCreateHighlight_PrebuiltAnchor(t *testing.T) {
	h, store := setupHandler(t)
	saveFlowingDocument(t, store)

	body := `{"category":"question","text":"quick brown","anchor":{"type":"flowing","elementPath":"article[1]/p[1]","startOffset":4,"endOffset":15,"context":"The quick brown fox"}}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents/doc-flow/highlights", body, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
}

func TestCreateHighlight_TextNotInContainer(t *testing.T) {
	h, store := setupHandler(t)
	saveFlowingDocument(t, store)

	body := `{"category":"insight","text":"zebra","elementPath":"article[1]/p[1]"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents/doc-flow/highlights", body, testToken))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, http.StatusUnprocessableEntity, rr.Body.String())
	}
}

func TestCreateHighlight_InvalidCategory(t *testing.T) {
	h, store := setupHandler(t)
	saveFlowingDocument(t, store)

	body := `{"category":"favorite","text":"quick","elementPath":"article[1]/p[1]"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents/doc-flow/highlights", body, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestNote_PutGetUpsert(t *testing.T) {
	h, store := setupHandler(t)
	saveFlowingDocument(t, store)
	hl, err := store.CreateHighlight("doc-flow", storage.CategoryInsight, "quick", `{"type":"flowing","elementPath":"article[1]/p[1]","startOffset":4,"endOffset":9,"context":"The quick brown fox"}`)
	if err != nil {
		t.Fatalf("CreateHighlight: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPut, "/highlights/"+hl.ID+"/note", `{"content":"first"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("put status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPut, "/highlights/"+hl.ID+"/note", `{"content":"second"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("second put status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/highlights/"+hl.ID+"/note", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var note storage.Note
	json.NewDecoder(rr.Body).Decode(&note)
	if note.Content != "second" {
		t.Errorf("content %q, want the replacement", note.Content)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPut, "/highlights/missing/note", `{"content":"x"}`, testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing highlight status = %d, want 404", rr.Code)
	}
}

func TestOutputs_CreateAndList(t *testing.T) {
	h, store := setupHandler(t)
	saveFlowingDocument(t, store)
	hl, _ := store.CreateHighlight("doc-flow", storage.CategoryQuestion, "quick", `{"type":"flowing","elementPath":"article[1]/p[1]","startOffset":4,"endOffset":9,"context":"The quick brown fox"}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/highlights/"+hl.ID+"/outputs", `{"kind":"explain","content":"an explanation"}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/highlights/"+hl.ID+"/outputs", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var outs []storage.AIOutput
	json.NewDecoder(rr.Body).Decode(&outs)
	if len(outs) != 1 || outs[0].Kind != "explain" {
		t.Errorf("outputs %+v", outs)
	}
}

func TestVocabulary_Lifecycle(t *testing.T) {
	h, store := setupHandler(t)
	saveFlowingDocument(t, store)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents/doc-flow/vocabulary", `{"term":"ephemeral","sentence":"An ephemeral moment."}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("add status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var entry storage.VocabularyEntry
	json.NewDecoder(rr.Body).Decode(&entry)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, "/vocabulary/"+entry.ID, `{"definition":"short-lived"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/vocabulary?document_id=doc-flow", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var entries []storage.VocabularyEntry
	json.NewDecoder(rr.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].Definition != "short-lived" {
		t.Errorf("entries %+v", entries)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/vocabulary/"+entry.ID, "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/vocabulary/"+entry.ID, "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
}

func TestResolve_Flowing(t *testing.T) {
	h, store := setupHandler(t)
	saveFlowingDocument(t, store)
	hl, _ := store.CreateHighlight("doc-flow", storage.CategoryInsight, "quick brown", `{"type":"flowing","elementPath":"article[1]/p[1]","startOffset":4,"endOffset":15,"context":"The quick brown fox"}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents/doc-flow/resolve", `{"scale":1}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var results []ResolvedHighlight
	json.NewDecoder(rr.Body).Decode(&results)
	if len(results) != 1 || results[0].HighlightID != hl.ID {
		t.Fatalf("results %+v", results)
	}
	rects := results[0].Rects
	if len(rects) != 1 {
		t.Fatalf("rects %+v", rects)
	}
	// 11 glyphs starting at column 4, default 8px glyphs and 20px lines.
	want := anchor.Rect{Left: 32, Top: 0, Width: 88, Height: 20}
	if rects[0] != want {
		t.Errorf("rect %+v, want %+v", rects[0], want)
	}
}

func TestResolve_NormalizesToContainer(t *testing.T) {
	h, store := setupHandler(t)
	saveFlowingDocument(t, store)
	store.CreateHighlight("doc-flow", storage.CategoryInsight, "quick brown", `{"type":"flowing","elementPath":"article[1]/p[1]","startOffset":4,"endOffset":15,"context":"The quick brown fox"}`)

	body := `{"scale":1,"container":{"left":10,"top":5},"scroll":{"left":2,"top":3}}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents/doc-flow/resolve", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var results []ResolvedHighlight
	json.NewDecoder(rr.Body).Decode(&results)
	want := anchor.Rect{Left: 24, Top: -2, Width: 88, Height: 20}
	if len(results) != 1 || len(results[0].Rects) != 1 || results[0].Rects[0] != want {
		t.Errorf("results %+v, want rect %+v", results, want)
	}
}

func TestResolve_Paginated(t *testing.T) {
	h, store := setupHandler(t)
	savePaginatedDocument(t, store)
	store.CreateHighlight("doc-page", storage.CategoryInsight, "quick", `{"type":"paginated","pageNumber":1,"startOffset":4,"endOffset":9,"context":"The quick"}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents/doc-page/resolve", `{"scale":1}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var results []ResolvedHighlight
	json.NewDecoder(rr.Body).Decode(&results)
	want := anchor.Rect{Left: 104, Top: 100, Width: 40, Height: 12}
	if len(results) != 1 || len(results[0].Rects) != 1 || results[0].Rects[0] != want {
		t.Errorf("results %+v, want rect %+v", results, want)
	}
}

func TestResolve_SuppressedReportsEmptyRects(t *testing.T) {
	h, store := setupHandler(t)
	saveFlowingDocument(t, store)
	// Context from different content: the verification gate must suppress it.
	store.CreateHighlight("doc-flow", storage.CategoryInsight, "slow", `{"type":"flowing","elementPath":"article[1]/p[1]","startOffset":4,"endOffset":8,"context":"The slow green fox"}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/documents/doc-flow/resolve", `{"scale":1}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var results []ResolvedHighlight
	json.NewDecoder(rr.Body).Decode(&results)
	if len(results) != 1 {
		t.Fatalf("results %+v", results)
	}
	if results[0].Rects == nil || len(results[0].Rects) != 0 {
		t.Errorf("rects %+v, want empty non-null", results[0].Rects)
	}
}

func TestStatsEndpoint(t *testing.T) {
	h, store := setupHandler(t)
	saveFlowingDocument(t, store)
	store.CreateHighlight("doc-flow", storage.CategoryInsight, "quick", `{"type":"flowing","elementPath":"article[1]/p[1]","startOffset":4,"endOffset":9,"context":"The quick brown fox"}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/stats", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var stats []storage.DocumentStats
	json.NewDecoder(rr.Body).Decode(&stats)
	if len(stats) != 1 || stats[0].Insights != 1 {
		t.Errorf("stats %+v", stats)
	}
}
