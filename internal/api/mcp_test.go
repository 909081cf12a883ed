package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/margo-reader/margo/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{Store: store}, store
}

func seedDocument(t *testing.T, store *storage.Store) storage.Document {
	t.Helper()
	doc := storage.Document{
		ID:        "doc-1",
		Title:     "Article",
		Kind:      storage.KindFlowing,
		Content:   "<p>The quick brown fox</p>",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	return doc
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_ListDocuments(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedDocument(t, store)
	handler := mcpListDocuments(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_documents", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var docs []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &docs); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(docs) != 1 || docs[0]["title"] != "Article" {
		t.Fatalf("docs %+v", docs)
	}
	if _, ok := docs[0]["content"]; ok {
		t.Error("document content should not be exposed in listings")
	}
}

func TestMCPTool_ListHighlights_IncludesNotes(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedDocument(t, store)
	hl, _ := store.CreateHighlight("doc-1", storage.CategoryInsight, "quick brown", `{}`)
	store.SaveNote(hl.ID, "remember this")
	handler := mcpListHighlights(deps)

	req := makeCallToolRequest("list_highlights", map[string]interface{}{
		"document_id": "doc-1",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var highlights []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &highlights); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(highlights) != 1 {
		t.Fatalf("highlights %+v", highlights)
	}
	if highlights[0]["text"] != "quick brown" || highlights[0]["note"] != "remember this" {
		t.Errorf("highlight %+v", highlights[0])
	}
}

func TestMCPTool_ListHighlights_Empty(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedDocument(t, store)
	handler := mcpListHighlights(deps)

	req := makeCallToolRequest("list_highlights", map[string]interface{}{
		"document_id": "doc-1",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array, got: %s", text)
	}
}

func TestMCPTool_SearchHighlights(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedDocument(t, store)
	store.CreateHighlight("doc-1", storage.CategoryInsight, "the quick brown fox", `{}`)
	store.CreateHighlight("doc-1", storage.CategoryQuestion, "something else", `{}`)
	handler := mcpSearchHighlights(deps)

	req := makeCallToolRequest("search_highlights", map[string]interface{}{
		"query": "brown",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var highlights []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &highlights); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(highlights) != 1 || highlights[0]["text"] != "the quick brown fox" {
		t.Fatalf("highlights %+v", highlights)
	}
}

func TestMCPTool_AddVocabulary(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedDocument(t, store)
	handler := mcpAddVocabulary(deps)

	req := makeCallToolRequest("add_vocabulary", map[string]interface{}{
		"document_id": "doc-1",
		"term":        "serendipity",
		"sentence":    "It was pure serendipity.",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	entries, err := store.ListVocabulary("doc-1")
	if err != nil {
		t.Fatalf("ListVocabulary: %v", err)
	}
	if len(entries) != 1 || entries[0].Term != "serendipity" {
		t.Fatalf("entries %+v", entries)
	}
}

func TestMCPTool_AddVocabulary_UnknownDocument(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpAddVocabulary(deps)

	req := makeCallToolRequest("add_vocabulary", map[string]interface{}{
		"document_id": "missing",
		"term":        "word",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unknown document")
	}
}

func TestMCPTool_LookupVocabulary(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedDocument(t, store)
	store.AddVocabulary("doc-1", "ephemeral", "An ephemeral moment.")
	handler := mcpLookupVocabulary(deps)

	req := makeCallToolRequest("lookup_vocabulary", map[string]interface{}{
		"query": "ephem",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var entries []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &entries); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(entries) != 1 || entries[0]["term"] != "ephemeral" {
		t.Fatalf("entries %+v", entries)
	}
}

func TestMCPResource_Stats(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedDocument(t, store)
	store.CreateHighlight("doc-1", storage.CategoryInsight, "quick", `{}`)

	handler := mcpResourceStats(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("margo://stats"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var stats []storage.DocumentStats
	if err := json.Unmarshal([]byte(tc.Text), &stats); err != nil {
		t.Fatalf("failed to parse stats: %v", err)
	}
	if len(stats) != 1 || stats[0].Insights != 1 {
		t.Fatalf("stats %+v", stats)
	}
}
