package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/margo-reader/margo/internal/config"
	"github.com/margo-reader/margo/internal/storage"
)

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a document into the library",
	Long: `Import a document into the library.

Examples:
  margo import --url https://example.com/article --title "An article"
  margo import --file ./notes.html
  margo import --pdf ./paper.pdf --title "A paper"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		urlFlag, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		pdf, _ := cmd.Flags().GetString("pdf")
		title, _ := cmd.Flags().GetString("title")

		if urlFlag == "" && file == "" && pdf == "" {
			return fmt.Errorf("one of --url, --file, or --pdf is required")
		}

		req := map[string]any{}
		if title != "" {
			req["title"] = title
		}

		switch {
		case urlFlag != "":
			req["kind"] = storage.KindFlowing
			req["url"] = urlFlag
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["kind"] = storage.KindFlowing
			req["content"] = string(data)
			if title == "" {
				req["title"] = file
			}
		case pdf != "":
			abs, err := filepath.Abs(pdf)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			req["kind"] = storage.KindPaginated
			req["path"] = abs
			if title == "" {
				req["title"] = filepath.Base(pdf)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/documents", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result["status"] == "queued" {
			printSuccess("Queued doc %s (page extraction pending)", result["id"])
		} else {
			printSuccess("Stored doc %s", result["id"])
		}
		return nil
	},
}

func init() {
	importCmd.Flags().String("url", "", "URL to fetch and import")
	importCmd.Flags().String("file", "", "HTML file to import")
	importCmd.Flags().String("pdf", "", "PDF file to import")
	importCmd.Flags().String("title", "", "title for the document")
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List imported documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents")
		if err != nil {
			return err
		}

		var docs []storage.Document
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, d := range docs {
			fmt.Printf("%s  %-9s  %s\n",
				colorize(colorCyan, shortID(d.ID)),
				d.Kind,
				d.Title,
			)
		}
		return nil
	},
}

var docsRenameCmd = &cobra.Command{
	Use:   "rename <doc-id> <title>",
	Short: "Rename a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/documents/"+args[0], map[string]string{"title": args[1]})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Renamed doc %s to %q", shortID(args[0]), args[1])
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <doc-id>",
	Short: "Delete a document and its annotations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted doc %s", args[0])
		return nil
	},
}

func init() {
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsRenameCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}

// --- highlights ---

var highlightsCmd = &cobra.Command{
	Use:   "highlights",
	Short: "Manage highlights",
}

var highlightsListCmd = &cobra.Command{
	Use:   "list <doc-id>",
	Short: "List the highlights of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents/"+args[0]+"/highlights")
		if err != nil {
			return err
		}

		var highlights []storage.Highlight
		if err := decodeJSON(resp, &highlights); err != nil {
			return err
		}

		if len(highlights) == 0 {
			fmt.Println("No highlights found.")
			return nil
		}

		for _, h := range highlights {
			text := h.Text
			if len(text) > 80 {
				text = text[:80] + "..."
			}
			fmt.Printf("%s  %-10s  %s\n",
				colorize(colorCyan, shortID(h.ID)),
				h.Category,
				text,
			)
		}
		return nil
	},
}

func init() {
	highlightsCmd.AddCommand(highlightsListCmd)
}

// --- export ---

// exportEntry is one highlight with its note, flattened for formatting.
type exportEntry struct {
	Category  string
	Text      string
	Note      string
	CreatedAt time.Time
}

var exportCmd = &cobra.Command{
	Use:   "export <doc-id>",
	Short: "Export a document's highlights and notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		if format != "md" && format != "csv" {
			return fmt.Errorf("unsupported format %q (md or csv)", format)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		resp, err := client.get(ctx, "/documents/"+args[0])
		if err != nil {
			return err
		}
		var doc storage.Document
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		resp, err = client.get(ctx, "/documents/"+args[0]+"/highlights")
		if err != nil {
			return err
		}
		var highlights []storage.Highlight
		if err := decodeJSON(resp, &highlights); err != nil {
			return err
		}

		entries := make([]exportEntry, 0, len(highlights))
		for _, h := range highlights {
			note, err := fetchNote(ctx, client, h.ID)
			if err != nil {
				return err
			}
			entries = append(entries, exportEntry{
				Category:  h.Category,
				Text:      h.Text,
				Note:      note,
				CreatedAt: h.CreatedAt,
			})
		}

		var rendered string
		switch format {
		case "md":
			rendered = formatMarkdown(doc.Title, entries)
		case "csv":
			rendered, err = formatCSV(entries)
			if err != nil {
				return err
			}
		}

		if output == "" {
			fmt.Print(rendered)
			return nil
		}
		if err := os.WriteFile(output, []byte(rendered), 0o644); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}
		printSuccess("Exported %d highlights to %s", len(entries), output)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "md", "export format: md or csv")
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
}

// fetchNote returns the highlight's note content, or "" when it has none.
func fetchNote(ctx context.Context, client *apiClient, highlightID string) (string, error) {
	resp, err := client.get(ctx, "/highlights/"+highlightID+"/note")
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return "", nil
	}
	var note storage.Note
	if err := decodeJSON(resp, &note); err != nil {
		return "", err
	}
	return note.Content, nil
}

func formatMarkdown(title string, entries []exportEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)
	for _, e := range entries {
		fmt.Fprintf(&b, "\n> %s\n", e.Text)
		fmt.Fprintf(&b, "\n- Category: %s\n", e.Category)
		if e.Note != "" {
			fmt.Fprintf(&b, "- Note: %s\n", e.Note)
		}
	}
	return b.String()
}

func formatCSV(entries []exportEntry) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write([]string{"category", "text", "note", "created_at"}); err != nil {
		return "", err
	}
	for _, e := range entries {
		row := []string{e.Category, e.Text, e.Note, e.CreatedAt.UTC().Format(time.RFC3339)}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// --- vocab ---

var vocabCmd = &cobra.Command{
	Use:   "vocab",
	Short: "Manage captured vocabulary",
}

var vocabAddCmd = &cobra.Command{
	Use:   "add <doc-id> <term>",
	Short: "Capture a word or phrase",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sentence, _ := cmd.Flags().GetString("sentence")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"term": args[1], "sentence": sentence}
		resp, err := client.post(cmd.Context(), "/documents/"+args[0]+"/vocabulary", body)
		if err != nil {
			return err
		}

		var entry storage.VocabularyEntry
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}

		printSuccess("Captured %q (%s)", entry.Term, shortID(entry.ID))
		return nil
	},
}

var vocabListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured vocabulary",
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, _ := cmd.Flags().GetString("doc")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/vocabulary"
		if docID != "" {
			path += "?document_id=" + url.QueryEscape(docID)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var entries []storage.VocabularyEntry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No vocabulary found.")
			return nil
		}

		for _, e := range entries {
			line := colorize(colorBold, e.Term)
			if e.Definition != "" {
				line += ": " + e.Definition
			}
			fmt.Printf("%s  %s\n", colorize(colorCyan, shortID(e.ID)), line)
			if e.Sentence != "" {
				fmt.Printf("          %q\n", e.Sentence)
			}
		}
		return nil
	},
}

func init() {
	vocabAddCmd.Flags().String("sentence", "", "the sentence the term appeared in")
	vocabListCmd.Flags().String("doc", "", "restrict to one document")
	vocabCmd.AddCommand(vocabAddCmd)
	vocabCmd.AddCommand(vocabListCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
