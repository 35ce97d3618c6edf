package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"alfredoptarigan/entity-brain/internal/models"
)

type failingJobService struct {
	JobService
	err error
}

func (f *failingJobService) ResumeJob(ctx context.Context, jobID uuid.UUID, source models.ResumeSource) (*models.Job, error) {
	return nil, f.err
}

func TestReconcilerTriggersStalePendingJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entityID := h.addEntity(t)
	a := h.addDocument(t, entityID, "bid.txt", tenderText)

	stale, _ := h.jobs.CreateJob(ctx, entityID, models.JobTypeDocumentAnalysis, []uuid.UUID{a})
	h.jobRepo.backdate(stale.ID, time.Minute)

	b := h.addDocument(t, entityID, "fresh.txt", tenderText)
	fresh, _ := h.jobs.CreateJob(ctx, entityID, models.JobTypeDocumentAnalysis, []uuid.UUID{b})

	outcomes, err := h.reconciler.ReconcileStaleJobs(ctx, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].JobID != stale.ID || outcomes[0].Outcome != ReconcileTriggered {
		t.Fatalf("expected only the stale job triggered, got %+v", outcomes)
	}

	if got := h.mustJob(t, stale.ID); got.Status != models.JobStatusCompleted {
		t.Fatalf("expected stale job completed, got %s", got.Status)
	}
	if got := h.mustJob(t, fresh.ID); got.Status != models.JobStatusPending {
		t.Fatalf("expected job inside the grace period untouched, got %s", got.Status)
	}
}

func TestReconcilerSkipsJobsWaitingOnOCR(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entityID := h.addEntity(t)
	scan := h.addDocument(t, entityID, "scan.png", "png")

	job, _ := h.jobs.CreateJob(ctx, entityID, models.JobTypeDocumentAnalysis, []uuid.UUID{scan})
	if _, err := h.jobs.ResumeJob(ctx, job.ID, models.SourceUpload); err != nil {
		t.Fatalf("resume: %v", err)
	}
	h.jobRepo.backdate(job.ID, time.Hour)

	outcomes, err := h.reconciler.ReconcileStaleJobs(ctx, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("expected jobs waiting on OCR to be left to the poller, got %+v", outcomes)
	}
}

func TestReconcilerScopesToEntity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mine := h.addEntity(t)
	other := h.addEntity(t)

	j1, _ := h.jobs.CreateJob(ctx, mine, models.JobTypeDocumentAnalysis, []uuid.UUID{h.addDocument(t, mine, "a.txt", tenderText)})
	j2, _ := h.jobs.CreateJob(ctx, other, models.JobTypeDocumentAnalysis, []uuid.UUID{h.addDocument(t, other, "b.txt", tenderText)})
	h.jobRepo.backdate(j1.ID, time.Minute)
	h.jobRepo.backdate(j2.ID, time.Minute)

	outcomes, err := h.reconciler.ReconcileStaleJobs(ctx, &mine)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].EntityID != mine {
		t.Fatalf("expected one outcome for the scoped entity, got %+v", outcomes)
	}
	if h.mustJob(t, j2.ID).Status != models.JobStatusPending {
		t.Fatalf("expected other entity's job untouched")
	}
}

func TestReconcileReportsAlreadyTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entityID := h.addEntity(t)
	a := h.addDocument(t, entityID, "bid.txt", tenderText)

	job, _ := h.jobs.CreateJob(ctx, entityID, models.JobTypeDocumentAnalysis, []uuid.UUID{a})
	snapshot := *h.mustJob(t, job.ID)

	// Another trigger finishes the job between the scan and the reconcile.
	if _, err := h.jobs.ResumeJob(ctx, job.ID, models.SourceResume); err != nil {
		t.Fatalf("resume: %v", err)
	}

	r := h.reconciler.(*staleJobReconciler)
	out := r.reconcile(ctx, snapshot, true)
	if out.Outcome != ReconcileAlreadyTerminal {
		t.Fatalf("expected already-terminal, got %+v", out)
	}
}

func TestReconcileReportsTriggerFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entityID := h.addEntity(t)
	job, _ := h.jobs.CreateJob(ctx, entityID, models.JobTypeDocumentAnalysis, []uuid.UUID{h.addDocument(t, entityID, "a.txt", tenderText)})
	h.jobRepo.backdate(job.ID, time.Minute)

	reconciler := NewStaleJobReconciler(h.jobRepo, &failingJobService{err: errors.New("database unavailable")}, 30*time.Second, 10*time.Minute, 10)
	outcomes, err := reconciler.ReconcileStaleJobs(ctx, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Outcome != ReconcileTriggerFailed || outcomes[0].Reason != "database unavailable" {
		t.Fatalf("expected trigger-failed with reason, got %+v", outcomes)
	}
}

func TestReconcilerChainsCompletedAnalysisWithoutIndexing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entityID := h.addEntity(t)
	a := h.addDocument(t, entityID, "bid.txt", tenderText)
	if err := h.docRepo.SaveExtraction(ctx, a, tenderText); err != nil {
		t.Fatalf("save extraction: %v", err)
	}

	// A crash right after the analysis job was marked COMPLETED.
	job := &models.Job{
		ID:         uuid.New(),
		EntityID:   entityID,
		Type:       models.JobTypeDocumentAnalysis,
		Status:     models.JobStatusPending,
		TotalUnits: 1,
		CreatedAt:  time.Now(),
	}
	job.SetMeta(models.NewAnalysisMetadata([]string{a.String()}))
	job.SetProcessed(1)
	if err := job.Complete(time.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := h.jobRepo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.jobRepo.backdate(job.ID, time.Minute)

	outcomes, err := h.reconciler.ReconcileStaleJobs(ctx, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Outcome != ReconcileTriggered {
		t.Fatalf("expected the unchained analysis triggered, got %+v", outcomes)
	}

	indexing, err := h.jobRepo.FindByParent(ctx, job.ID)
	if err != nil || indexing.Status != models.JobStatusCompleted {
		t.Fatalf("expected a completed indexing job, got %v / %v", indexing, err)
	}

	again, _ := h.reconciler.ReconcileStaleJobs(ctx, nil)
	if len(again) != 0 {
		t.Fatalf("expected nothing left to reconcile, got %+v", again)
	}
}

func TestReconcilerResumesStalledProcessingJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entityID := h.addEntity(t)
	a := h.addDocument(t, entityID, "a.txt", tenderText)
	scan := h.addDocument(t, entityID, "scan.png", "png")

	// The text document finishes but every OCR submission is rejected on the upload pass.
	h.ocr.submitErr = errors.New("throttled")
	job, _ := h.jobs.CreateJob(ctx, entityID, models.JobTypeDocumentAnalysis, []uuid.UUID{a, scan})
	if _, err := h.jobs.ResumeJob(ctx, job.ID, models.SourceUpload); err != nil {
		t.Fatalf("resume: %v", err)
	}
	stalled := h.mustJob(t, job.ID)
	if stalled.Status != models.JobStatusProcessing || stalled.ProcessedUnits != 1 || stalled.OutstandingOCR != 0 {
		t.Fatalf("expected PROCESSING 1/2 with nothing outstanding, got %s %d/%d (%d outstanding)",
			stalled.Status, stalled.ProcessedUnits, stalled.TotalUnits, stalled.OutstandingOCR)
	}
	h.ocr.submitErr = nil

	outcomes, err := h.reconciler.ReconcileStaleJobs(ctx, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("expected a recently written PROCESSING job to be left alone, got %+v", outcomes)
	}

	h.jobRepo.backdate(job.ID, time.Hour)
	outcomes, err = h.reconciler.ReconcileStaleJobs(ctx, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].JobID != job.ID || outcomes[0].Outcome != ReconcileTriggered {
		t.Fatalf("expected the stalled job triggered, got %+v", outcomes)
	}
	if got := h.mustJob(t, job.ID); got.OutstandingOCR != 1 {
		t.Fatalf("expected the scan resubmitted, got %d outstanding", got.OutstandingOCR)
	}

	h.ocr.finish(scan, models.OCRPollResult{Status: models.OCRStatusSucceeded, Text: tenderText})
	if _, err := h.poller.PollOutstandingOCR(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := h.mustJob(t, job.ID); got.Status != models.JobStatusCompleted {
		t.Fatalf("expected COMPLETED once OCR lands, got %s", got.Status)
	}
}
