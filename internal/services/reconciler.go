package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"alfredoptarigan/entity-brain/internal/models"
	"alfredoptarigan/entity-brain/internal/repositories"
)

type ReconcileStatus string

const (
	ReconcileTriggered       ReconcileStatus = "triggered"
	ReconcileAlreadyTerminal ReconcileStatus = "already-terminal"
	ReconcileTriggerFailed   ReconcileStatus = "trigger-failed"
)

type ReconcileOutcome struct {
	JobID    uuid.UUID       `json:"job_id"`
	EntityID uuid.UUID       `json:"entity_id"`
	Type     models.JobType  `json:"type"`
	Outcome  ReconcileStatus `json:"outcome"`
	Reason   string          `json:"reason,omitempty"`
}

type StaleJobReconciler interface {
	ReconcileStaleJobs(ctx context.Context, entityID *uuid.UUID) ([]ReconcileOutcome, error)
}

type staleJobReconciler struct {
	jobRepo         repositories.JobRepository
	jobs            JobService
	grace           time.Duration
	processingGrace time.Duration
	limit           int
	now             func() time.Time
}

func NewStaleJobReconciler(jobRepo repositories.JobRepository, jobs JobService, grace, processingGrace time.Duration, limit int) StaleJobReconciler {
	if limit < 1 {
		limit = 50
	}
	if processingGrace < grace {
		processingGrace = grace
	}
	return &staleJobReconciler{
		jobRepo:         jobRepo,
		jobs:            jobs,
		grace:           grace,
		processingGrace: processingGrace,
		limit:           limit,
		now:             time.Now,
	}
}

// ReconcileStaleJobs re-triggers PENDING jobs nobody moved forward within the grace
// period, PROCESSING jobs with nothing left to poll that stopped advancing, plus
// completed analyses whose indexing job was never created.
func (r *staleJobReconciler) ReconcileStaleJobs(ctx context.Context, entityID *uuid.UUID) ([]ReconcileOutcome, error) {
	cutoff := r.now().Add(-r.grace)

	stale, err := r.jobRepo.FindStalePending(ctx, cutoff, entityID, r.limit)
	if err != nil {
		return nil, err
	}

	// An in-flight run keeps bumping updated_at, so only quiet jobs show up here.
	stalled, err := r.jobRepo.FindStaleProcessing(ctx, r.now().Add(-r.processingGrace), entityID, r.limit)
	if err != nil {
		return nil, err
	}
	stale = append(stale, stalled...)

	unchained, err := r.jobRepo.FindUnchainedAnalyses(ctx, cutoff, entityID, r.limit)
	if err != nil {
		return nil, err
	}

	outcomes := make([]ReconcileOutcome, 0, len(stale)+len(unchained))
	for _, job := range stale {
		outcomes = append(outcomes, r.reconcile(ctx, job, true))
	}
	for _, job := range unchained {
		outcomes = append(outcomes, r.reconcile(ctx, job, false))
	}

	for _, o := range outcomes {
		ReconcileOutcomes.WithLabelValues(string(o.Outcome)).Inc()
	}
	if len(outcomes) > 0 {
		log.Printf("🩺 Reconciler handled %d stale jobs\n", len(outcomes))
	}

	return outcomes, nil
}

func (r *staleJobReconciler) reconcile(ctx context.Context, job models.Job, mustBePending bool) ReconcileOutcome {
	out := ReconcileOutcome{JobID: job.ID, EntityID: job.EntityID, Type: job.Type}

	current, err := r.jobRepo.FindByID(ctx, job.ID)
	if err != nil {
		out.Outcome = ReconcileTriggerFailed
		out.Reason = err.Error()
		return out
	}
	if mustBePending && current.IsTerminal() {
		out.Outcome = ReconcileAlreadyTerminal
		return out
	}

	if _, err := r.jobs.ResumeJob(ctx, job.ID, models.SourceReconciler); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			out.Outcome = ReconcileAlreadyTerminal
			return out
		}
		log.Printf("❌ Reconciler could not resume job %s: %v\n", job.ID, err)
		out.Outcome = ReconcileTriggerFailed
		out.Reason = err.Error()
		return out
	}

	out.Outcome = ReconcileTriggered
	return out
}
