package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"alfredoptarigan/entity-brain/internal/models"
	"alfredoptarigan/entity-brain/internal/repositories"
)

// PollSummary reports one poll sweep.
type PollSummary struct {
	JobsScanned    int `json:"jobs_scanned"`
	HandlesChecked int `json:"handles_checked"`
	Succeeded      int `json:"succeeded"`
	Failed         int `json:"failed"`
	StillPending   int `json:"still_pending"`
	PollErrors     int `json:"poll_errors"`
	JobsResumed    int `json:"jobs_resumed"`
	ResumeErrors   int `json:"resume_errors"`
}

func (s *PollSummary) add(o PollSummary) {
	s.HandlesChecked += o.HandlesChecked
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.StillPending += o.StillPending
	s.PollErrors += o.PollErrors
	s.JobsResumed += o.JobsResumed
	s.ResumeErrors += o.ResumeErrors
}

type OCRPollCoordinator interface {
	PollOutstandingOCR(ctx context.Context) (PollSummary, error)
}

type ocrPollCoordinator struct {
	jobRepo     repositories.JobRepository
	ocr         OCRGateway
	jobs        JobService
	pollTimeout time.Duration
	batchSize   int
	concurrency int
	now         func() time.Time
}

func NewOCRPollCoordinator(
	jobRepo repositories.JobRepository,
	ocr OCRGateway,
	jobs JobService,
	pollTimeout time.Duration,
	batchSize int,
	concurrency int,
) OCRPollCoordinator {
	if batchSize < 1 {
		batchSize = 50
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &ocrPollCoordinator{
		jobRepo:     jobRepo,
		ocr:         ocr,
		jobs:        jobs,
		pollTimeout: pollTimeout,
		batchSize:   batchSize,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// PollOutstandingOCR checks every IN_PROGRESS handle of the waiting jobs and resumes
// the jobs that no longer wait on anything. One job's trouble never stops the sweep.
func (p *ocrPollCoordinator) PollOutstandingOCR(ctx context.Context) (PollSummary, error) {
	var summary PollSummary

	jobs, err := p.jobRepo.FindWithOutstandingOCR(ctx, p.batchSize)
	if err != nil {
		return summary, err
	}
	summary.JobsScanned = len(jobs)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range jobs {
		job := &jobs[i]
		g.Go(func() error {
			js := p.pollJob(ctx, job)
			mu.Lock()
			summary.add(js)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	OCRHandlesPolled.WithLabelValues("succeeded").Add(float64(summary.Succeeded))
	OCRHandlesPolled.WithLabelValues("failed").Add(float64(summary.Failed))
	OCRHandlesPolled.WithLabelValues("pending").Add(float64(summary.StillPending))
	OCRHandlesPolled.WithLabelValues("error").Add(float64(summary.PollErrors))

	log.Printf("📡 OCR sweep: %d jobs, %d handles (%d succeeded, %d failed, %d pending, %d errors), %d resumed\n",
		summary.JobsScanned, summary.HandlesChecked, summary.Succeeded, summary.Failed,
		summary.StillPending, summary.PollErrors, summary.JobsResumed)

	return summary, nil
}

func (p *ocrPollCoordinator) pollJob(ctx context.Context, job *models.Job) PollSummary {
	var js PollSummary

	handles := job.Meta().Analysis.InProgressHandles()
	results := make(map[string]models.OCRPollResult, len(handles))

	for _, h := range handles {
		js.HandlesChecked++

		callCtx, cancel := context.WithTimeout(ctx, p.pollTimeout)
		result, err := p.ocr.Poll(callCtx, h.ExternalHandleID)
		cancel()

		if err != nil {
			log.Printf("⚠️  OCR poll for document %s (job %s) failed: %v\n", h.DocumentID, job.ID, err)
			js.PollErrors++
			continue
		}

		switch result.Status {
		case models.OCRStatusSucceeded:
			js.Succeeded++
			results[h.DocumentID] = result
		case models.OCRStatusFailed:
			js.Failed++
			results[h.DocumentID] = result
		default:
			js.StillPending++
		}
	}

	var outstanding int
	if len(results) > 0 {
		now := p.now()
		updated, err := mutateJob(ctx, p.jobRepo, job.ID, func(j *models.Job) error {
			if j.IsTerminal() {
				return errNoChange
			}
			meta := j.Meta()
			meta.EnsureMaps()
			if meta.Analysis == nil {
				return errNoChange
			}
			changed := false
			for docID, r := range results {
				if meta.Analysis.ApplyPoll(docID, r, now) {
					changed = true
				}
			}
			if !changed {
				return errNoChange
			}
			j.SetMeta(meta)
			j.OutstandingOCR = meta.Analysis.OutstandingOCR()
			return nil
		})
		if err != nil {
			log.Printf("❌ Failed to record OCR results for job %s: %v\n", job.ID, err)
			js.ResumeErrors++
			return js
		}
		if updated.IsTerminal() {
			return js
		}
		outstanding = updated.OutstandingOCR
	} else {
		outstanding = job.OutstandingOCR
	}

	if outstanding > 0 {
		return js
	}

	if err := p.resume(ctx, job.ID); err != nil {
		log.Printf("❌ Resume after OCR for job %s failed: %v\n", job.ID, err)
		js.ResumeErrors++
		return js
	}
	js.JobsResumed++
	return js
}

func (p *ocrPollCoordinator) resume(ctx context.Context, jobID uuid.UUID) error {
	_, err := p.jobs.ResumeJob(ctx, jobID, models.SourceResume)
	return err
}
