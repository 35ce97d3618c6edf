package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"alfredoptarigan/entity-brain/internal/models"
	"alfredoptarigan/entity-brain/internal/repositories"
)

type outcomeKind int

const (
	// outcomeWaiting leaves the document unsettled: OCR still running or a transient error.
	outcomeWaiting outcomeKind = iota
	outcomeAnalyzed
	outcomeFailed
	outcomeSubmitted
	outcomeSubmitFailed
)

type docOutcome struct {
	documentID string
	kind       outcomeKind
	reason     string
	handle     models.OCRHandle
	err        error
}

type analysisStage struct {
	jobRepo           repositories.JobRepository
	docRepo           repositories.DocumentRepository
	storage           StorageService
	extractor         ExtractorService
	ocr               OCRGateway
	concurrency       int
	maxSubmitAttempts int
	now               func() time.Time
}

func NewAnalysisStage(
	jobRepo repositories.JobRepository,
	docRepo repositories.DocumentRepository,
	storage StorageService,
	extractor ExtractorService,
	ocr OCRGateway,
	concurrency int,
	maxSubmitAttempts int,
) Stage {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxSubmitAttempts < 1 {
		maxSubmitAttempts = 1
	}
	return &analysisStage{
		jobRepo:           jobRepo,
		docRepo:           docRepo,
		storage:           storage,
		extractor:         extractor,
		ocr:               ocr,
		concurrency:       concurrency,
		maxSubmitAttempts: maxSubmitAttempts,
		now:               time.Now,
	}
}

// Run settles as many documents as it can in one pass. Documents waiting on OCR are
// left for the poll coordinator, which resumes the job once every handle has settled.
func (s *analysisStage) Run(ctx context.Context, job *models.Job) (*models.Job, error) {
	meta := job.Meta()
	meta.EnsureMaps()
	if meta.Analysis == nil {
		return job, fmt.Errorf("job %s has no analysis metadata", job.ID)
	}
	snapshot := meta.Analysis

	ids, err := parseIDs(snapshot.DocumentIDs)
	if err != nil {
		return job, err
	}

	docs, err := s.docRepo.FindByIDs(ctx, ids)
	if err != nil {
		return job, err
	}
	byID := make(map[string]*models.Document, len(docs))
	for i := range docs {
		byID[docs[i].ID.String()] = &docs[i]
	}

	outcomes := make([]docOutcome, len(snapshot.DocumentIDs))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range snapshot.DocumentIDs {
		g.Go(func() error {
			outcomes[i] = s.analyzeDocument(ctx, snapshot, id, byID[id])
			return nil
		})
	}
	_ = g.Wait()

	now := s.now()
	updated, err := mutateJob(ctx, s.jobRepo, job.ID, func(j *models.Job) error {
		if j.IsTerminal() {
			return errNoChange
		}
		return applyAnalysisOutcomes(j, outcomes, now)
	})
	if err != nil {
		return job, err
	}

	switch updated.Status {
	case models.JobStatusCompleted:
		log.Printf("✅ Analysis job %s completed (%d/%d documents settled)\n", updated.ID, updated.ProcessedUnits, updated.TotalUnits)
	case models.JobStatusFailed:
		log.Printf("❌ Analysis job %s failed: %s\n", updated.ID, deref(updated.ErrorMessage))
	default:
		log.Printf("⏳ Analysis job %s at %d%% (%d/%d settled, %d awaiting OCR)\n",
			updated.ID, updated.Progress, updated.ProcessedUnits, updated.TotalUnits, updated.OutstandingOCR)
	}

	return updated, transientError(outcomes)
}

func (s *analysisStage) analyzeDocument(ctx context.Context, meta *models.DocumentAnalysisMetadata, id string, doc *models.Document) docOutcome {
	out := docOutcome{documentID: id}

	if doc == nil {
		out.kind = outcomeFailed
		out.reason = "document not found"
		return out
	}
	if doc.IsAnalyzed() {
		out.kind = outcomeAnalyzed
		return out
	}
	if reason, ok := meta.FailedDocuments[id]; ok {
		out.kind = outcomeFailed
		out.reason = reason
		return out
	}
	if doc.AnalysisStatus == models.AnalysisFailed {
		out.kind = outcomeFailed
		out.reason = deref(doc.AnalysisError)
		return out
	}

	if handle, ok := meta.OCRHandles[id]; ok {
		switch handle.Status {
		case models.OCRStatusSucceeded:
			if err := s.docRepo.SaveExtraction(ctx, doc.ID, handle.ExtractedText); err != nil {
				out.err = err
				return out
			}
			out.kind = outcomeAnalyzed
		case models.OCRStatusFailed:
			return s.fail(ctx, doc.ID, id, "ocr failed: "+handle.ErrorMessage)
		}
		return out
	}

	if s.extractor.IsDirectlyParseable(doc.Filename) {
		data, err := s.storage.Fetch(ctx, doc.BlobKey)
		if err != nil {
			out.err = err
			return out
		}

		content, err := s.extractor.Extract(doc.Filename, data)
		switch {
		case err == nil:
			if err := s.docRepo.SaveExtraction(ctx, doc.ID, content.Text); err != nil {
				out.err = err
				return out
			}
			log.Printf("📄 Extracted %s (%s, %d pages)\n", doc.OriginalFileName, content.Format, content.PageCount)
			out.kind = outcomeAnalyzed
			return out
		case !errors.Is(err, ErrNeedsOCR):
			return s.fail(ctx, doc.ID, id, err.Error())
		}
	}

	return s.submitOCR(ctx, meta, doc, id)
}

func (s *analysisStage) submitOCR(ctx context.Context, meta *models.DocumentAnalysisMetadata, doc *models.Document, id string) docOutcome {
	handleID, err := s.ocr.Submit(ctx, s.storage.Ref(doc.BlobKey), id)
	if err != nil {
		if errors.Is(err, ErrOCRUnavailable) {
			return s.fail(ctx, doc.ID, id, err.Error())
		}

		attempts := meta.SubmitAttempts[id] + 1
		if attempts >= s.maxSubmitAttempts {
			return s.fail(ctx, doc.ID, id, fmt.Sprintf("ocr submission failed after %d attempts: %v", attempts, err))
		}
		log.Printf("⚠️  OCR submission for document %s failed (attempt %d/%d): %v\n", id, attempts, s.maxSubmitAttempts, err)
		return docOutcome{documentID: id, kind: outcomeSubmitFailed, reason: err.Error()}
	}

	log.Printf("🔍 Submitted document %s to OCR (handle %s)\n", id, handleID)
	return docOutcome{
		documentID: id,
		kind:       outcomeSubmitted,
		handle: models.OCRHandle{
			DocumentID:       id,
			ExternalHandleID: handleID,
			Status:           models.OCRStatusInProgress,
			SubmittedAt:      s.now(),
		},
	}
}

func (s *analysisStage) fail(ctx context.Context, docID uuid.UUID, id, reason string) docOutcome {
	if err := s.docRepo.MarkFailed(ctx, docID, reason); err != nil {
		return docOutcome{documentID: id, err: err}
	}
	log.Printf("⚠️  Document %s failed analysis: %s\n", id, reason)
	return docOutcome{documentID: id, kind: outcomeFailed, reason: reason}
}

// applyAnalysisOutcomes folds one pass's outcomes into a freshly loaded job.
func applyAnalysisOutcomes(job *models.Job, outcomes []docOutcome, now time.Time) error {
	meta := job.Meta()
	meta.EnsureMaps()
	a := meta.Analysis
	if a == nil {
		return fmt.Errorf("job %s has no analysis metadata", job.ID)
	}

	settled, failed := 0, 0
	for _, o := range outcomes {
		switch o.kind {
		case outcomeAnalyzed:
			settled++
		case outcomeFailed:
			settled++
			failed++
			a.FailedDocuments[o.documentID] = o.reason
		case outcomeSubmitted:
			if _, exists := a.OCRHandles[o.documentID]; !exists {
				a.OCRHandles[o.documentID] = o.handle
			}
		case outcomeSubmitFailed:
			a.SubmitAttempts[o.documentID]++
		}
	}

	job.OutstandingOCR = a.OutstandingOCR()
	job.SetMeta(meta)
	job.SetProcessed(settled)

	if settled > 0 {
		if err := job.Start(now); err != nil {
			return err
		}
	}

	if settled < job.TotalUnits {
		return nil
	}

	if failed == job.TotalUnits {
		return job.Fail(now, aggregateFailure(a.FailedDocuments))
	}
	return job.Complete(now)
}

func aggregateFailure(failures map[string]string) string {
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %s", id, failures[id]))
	}
	return "all documents failed analysis: " + strings.Join(parts, "; ")
}

func transientError(outcomes []docOutcome) error {
	var errs []error
	for _, o := range outcomes {
		if o.err != nil {
			errs = append(errs, fmt.Errorf("document %s: %w", o.documentID, o.err))
		}
	}
	return errors.Join(errs...)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
