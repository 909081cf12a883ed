package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/margo-reader/margo/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
}

// NewMCPServer creates an MCP server exposing the library to agent clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"margo",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("margo is a local reading library holding documents, highlights, notes, and vocabulary."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List the imported documents in the library."),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("list_highlights",
			mcp.WithDescription("List the highlights of a document, with their notes where present."),
			mcp.WithString("document_id", mcp.Description("Document identifier"), mcp.Required()),
		),
		mcpListHighlights(deps),
	)

	s.AddTool(
		mcp.NewTool("search_highlights",
			mcp.WithDescription("Search highlighted passages across all documents."),
			mcp.WithString("query", mcp.Description("Substring to search for"), mcp.Required()),
		),
		mcpSearchHighlights(deps),
	)

	s.AddTool(
		mcp.NewTool("add_vocabulary",
			mcp.WithDescription("Capture a word or short phrase into the vocabulary list."),
			mcp.WithString("document_id", mcp.Description("Document the term was read in"), mcp.Required()),
			mcp.WithString("term", mcp.Description("The word or phrase"), mcp.Required()),
			mcp.WithString("sentence", mcp.Description("The sentence it appeared in")),
		),
		mcpAddVocabulary(deps),
	)

	s.AddTool(
		mcp.NewTool("lookup_vocabulary",
			mcp.WithDescription("Search captured vocabulary by term."),
			mcp.WithString("query", mcp.Description("Substring of the term"), mcp.Required()),
		),
		mcpLookupVocabulary(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"margo://stats",
			"Library Statistics",
			mcp.WithResourceDescription("Per-document highlight, note, and vocabulary counts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docs, err := deps.Store.ListDocuments()
		if err != nil {
			return mcpError(fmt.Sprintf("listing documents failed: %v", err)), nil
		}

		type docResult struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Kind      string `json:"kind"`
			Source    string `json:"source,omitempty"`
			CreatedAt string `json:"created_at"`
		}
		results := make([]docResult, len(docs))
		for i, d := range docs {
			results[i] = docResult{
				ID:        d.ID,
				Title:     d.Title,
				Kind:      d.Kind,
				Source:    d.Source,
				CreatedAt: d.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

type highlightResult struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Category   string `json:"category"`
	Text       string `json:"text"`
	Note       string `json:"note,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func (deps MCPDeps) highlightResults(highlights []storage.Highlight) []highlightResult {
	results := make([]highlightResult, len(highlights))
	for i, h := range highlights {
		text := h.Text
		if utf8.RuneCountInString(text) > 500 {
			runes := []rune(text)
			text = string(runes[:500]) + "..."
		}
		res := highlightResult{
			ID:         h.ID,
			DocumentID: h.DocumentID,
			Category:   h.Category,
			Text:       text,
			CreatedAt:  h.CreatedAt.Format(time.RFC3339),
		}
		if note, err := deps.Store.GetNote(h.ID); err == nil {
			res.Note = note.Content
		}
		results[i] = res
	}
	return results
}

func mcpListHighlights(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		documentID, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}

		highlights, err := deps.Store.ListHighlightsByDocument(documentID)
		if err != nil {
			return mcpError(fmt.Sprintf("listing highlights failed: %v", err)), nil
		}
		if len(highlights) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(deps.highlightResults(highlights))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal highlights: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchHighlights(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		highlights, err := deps.Store.SearchHighlights(query)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(highlights) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(deps.highlightResults(highlights))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal highlights: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddVocabulary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		documentID, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}
		term, err := req.RequireString("term")
		if err != nil {
			return mcpError("term is required"), nil
		}
		sentence := req.GetString("sentence", "")

		if _, err := deps.Store.GetDocument(documentID); err != nil {
			return mcpError(fmt.Sprintf("document %s not found", documentID)), nil
		}

		entry, err := deps.Store.AddVocabulary(documentID, term, sentence)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save vocabulary: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Captured %q as vocabulary entry %s", term, entry.ID)), nil
	}
}

func mcpLookupVocabulary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		entries, err := deps.Store.SearchVocabulary(query)
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}
		if len(entries) == 0 {
			return mcpText("[]"), nil
		}

		type vocabResult struct {
			ID         string `json:"id"`
			DocumentID string `json:"document_id"`
			Term       string `json:"term"`
			Sentence   string `json:"sentence,omitempty"`
			Definition string `json:"definition,omitempty"`
			Note       string `json:"note,omitempty"`
		}
		results := make([]vocabResult, len(entries))
		for i, e := range entries {
			results[i] = vocabResult{
				ID:         e.ID,
				DocumentID: e.DocumentID,
				Term:       e.Term,
				Sentence:   e.Sentence,
				Definition: e.Definition,
				Note:       e.Note,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal entries: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Store.Stats()
		if err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
