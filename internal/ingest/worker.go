package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/margo-reader/margo/internal/extract"
	"github.com/margo-reader/margo/internal/paged"
	"github.com/margo-reader/margo/internal/storage"
)

// JobStore abstracts the job queue and the document/page tables.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocument(id string) (storage.Document, error)
	SavePages(documentID string, pages []storage.PageRecord) error
}

// PageExtractor turns a document source into page geometry.
type PageExtractor interface {
	Extract(ctx context.Context, path string) ([]*paged.Page, error)
}

// PDFExtractor extracts pages from PDF files on disk.
type PDFExtractor struct{}

func (PDFExtractor) Extract(ctx context.Context, path string) ([]*paged.Page, error) {
	return extract.PDF(ctx, path)
}

// Worker processes extract_pages jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	extractor PageExtractor
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, extractor PageExtractor, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		extractor: extractor,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single extract_pages job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{"extract_pages"})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type extractPayload struct {
	DocumentID string `json:"document_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload extractPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocument(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}
	if doc.Kind != storage.KindPaginated {
		return fmt.Errorf("document %s is %s, not paginated", doc.ID, doc.Kind)
	}

	pages, err := w.extractor.Extract(ctx, doc.Source)
	if err != nil {
		return fmt.Errorf("extracting pages from %s: %w", doc.Source, err)
	}

	records := make([]storage.PageRecord, 0, len(pages))
	for _, p := range pages {
		items, err := json.Marshal(p.Items)
		if err != nil {
			return fmt.Errorf("encoding page %d items: %w", p.Number, err)
		}
		records = append(records, storage.PageRecord{
			Number:    p.Number,
			Width:     p.Width,
			Height:    p.Height,
			ItemsJSON: string(items),
		})
	}

	if err := w.store.SavePages(doc.ID, records); err != nil {
		return fmt.Errorf("saving pages: %w", err)
	}
	return nil
}
