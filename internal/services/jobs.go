package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"alfredoptarigan/entity-brain/internal/models"
	"alfredoptarigan/entity-brain/internal/repositories"
)

var (
	ErrNoDocuments        = errors.New("no usable documents for job")
	ErrUnsupportedJobType = errors.New("unsupported job type")
)

// errNoChange tells mutateJob the mutation decided there is nothing to write.
var errNoChange = errors.New("no change")

const maxJobWriteAttempts = 5

type JobService interface {
	CreateJob(ctx context.Context, entityID uuid.UUID, jobType models.JobType, documentIDs []uuid.UUID) (*models.Job, error)
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ResumeJob(ctx context.Context, jobID uuid.UUID, source models.ResumeSource) (*models.Job, error)
	GetEntityProgress(ctx context.Context, entityID uuid.UUID) (*PipelineProgress, error)
}

// Stage advances one job type by one idempotent pass.
type Stage interface {
	Run(ctx context.Context, job *models.Job) (*models.Job, error)
}

type jobService struct {
	jobRepo    repositories.JobRepository
	docRepo    repositories.DocumentRepository
	entityRepo repositories.EntityRepository
	analysis   Stage
	indexing   Stage
	indexNamer func(uuid.UUID) string
	now        func() time.Time
}

func NewJobService(
	jobRepo repositories.JobRepository,
	docRepo repositories.DocumentRepository,
	entityRepo repositories.EntityRepository,
	analysis Stage,
	indexing Stage,
	indexNamer func(uuid.UUID) string,
) JobService {
	return &jobService{
		jobRepo:    jobRepo,
		docRepo:    docRepo,
		entityRepo: entityRepo,
		analysis:   analysis,
		indexing:   indexing,
		indexNamer: indexNamer,
		now:        time.Now,
	}
}

// CreateJob records a PENDING job over the entity's documents. Unknown documents and
// documents of other entities are left out of total_units.
func (s *jobService) CreateJob(ctx context.Context, entityID uuid.UUID, jobType models.JobType, documentIDs []uuid.UUID) (*models.Job, error) {
	if len(documentIDs) == 0 {
		return nil, ErrNoDocuments
	}

	if _, err := s.entityRepo.FindByID(ctx, entityID); err != nil {
		return nil, err
	}

	docs, err := s.docRepo.FindByIDs(ctx, documentIDs)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]models.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	var ids []string
	for _, id := range documentIDs {
		doc, ok := byID[id]
		if !ok || doc.EntityID != entityID {
			continue
		}
		if jobType == models.JobTypeIndexing && !doc.IsAnalyzed() {
			continue
		}
		ids = append(ids, id.String())
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, ErrNoDocuments
	}

	job := &models.Job{
		ID:         uuid.New(),
		EntityID:   entityID,
		Type:       jobType,
		Status:     models.JobStatusPending,
		TotalUnits: len(ids),
		CreatedAt:  s.now(),
		UpdatedAt:  s.now(),
	}

	switch jobType {
	case models.JobTypeDocumentAnalysis:
		job.SetMeta(models.NewAnalysisMetadata(ids))
	case models.JobTypeIndexing:
		job.SetMeta(models.NewIndexingMetadata(ids, s.indexNamer(entityID)))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedJobType, jobType)
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, err
	}

	log.Printf("📥 Job %s (%s) created for entity %s with %d documents\n", job.ID, jobType, entityID, len(ids))
	return job, nil
}

func (s *jobService) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.jobRepo.FindByID(ctx, jobID)
}

// ResumeJob runs the next pass of a job. It is safe to call repeatedly and from several
// triggers at once: finished work is skipped and terminal jobs are left untouched.
func (s *jobService) ResumeJob(ctx context.Context, jobID uuid.UUID, source models.ResumeSource) (*models.Job, error) {
	job, err := s.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	JobsResumed.WithLabelValues(string(job.Type), string(source)).Inc()
	log.Printf("🔄 Resuming job %s (%s, status=%s, source=%s)\n", job.ID, job.Type, job.Status, source)

	switch job.Type {
	case models.JobTypeDocumentAnalysis:
		if job.Status == models.JobStatusFailed {
			return job, nil
		}
		if job.Status != models.JobStatusCompleted {
			job, err = s.analysis.Run(ctx, job)
			if err != nil {
				return job, err
			}
		}
		if job.Status == models.JobStatusCompleted {
			if _, err := s.chainIndexing(ctx, job); err != nil {
				return job, err
			}
		}
		return job, nil

	case models.JobTypeIndexing:
		if job.IsTerminal() {
			return job, nil
		}
		return s.indexing.Run(ctx, job)

	default:
		return job, fmt.Errorf("%w: %s", ErrUnsupportedJobType, job.Type)
	}
}

// chainIndexing creates (once) and runs the INDEXING job for a completed analysis job.
func (s *jobService) chainIndexing(ctx context.Context, analysis *models.Job) (*models.Job, error) {
	child, err := s.jobRepo.FindByParent(ctx, analysis.ID)
	if err == nil {
		if child.IsTerminal() {
			return child, nil
		}
		return s.ResumeJob(ctx, child.ID, models.SourceChain)
	}
	if !errors.Is(err, repositories.ErrJobNotFound) {
		return nil, err
	}

	meta := analysis.Meta()
	if meta.Analysis == nil {
		return nil, fmt.Errorf("analysis job %s has no analysis metadata", analysis.ID)
	}

	docIDs, err := parseIDs(meta.Analysis.DocumentIDs)
	if err != nil {
		return nil, err
	}

	docs, err := s.docRepo.FindByIDs(ctx, docIDs)
	if err != nil {
		return nil, err
	}

	var analyzed []string
	for _, d := range docs {
		if d.IsAnalyzed() {
			analyzed = append(analyzed, d.ID.String())
		}
	}
	if len(analyzed) == 0 {
		return nil, fmt.Errorf("analysis job %s completed without analyzed documents", analysis.ID)
	}

	parentID := analysis.ID
	child = &models.Job{
		ID:          uuid.New(),
		EntityID:    analysis.EntityID,
		ParentJobID: &parentID,
		Type:        models.JobTypeIndexing,
		Status:      models.JobStatusPending,
		TotalUnits:  len(analyzed),
		CreatedAt:   s.now(),
		UpdatedAt:   s.now(),
	}
	child.SetMeta(models.NewIndexingMetadata(sortedCopy(analyzed), s.indexNamer(analysis.EntityID)))

	if err := s.jobRepo.Create(ctx, child); err != nil {
		if !errors.Is(err, repositories.ErrDuplicateJob) {
			return nil, err
		}
		// Another trigger chained it first.
		existing, findErr := s.jobRepo.FindByParent(ctx, analysis.ID)
		if findErr != nil {
			return nil, findErr
		}
		child = existing
	} else {
		log.Printf("🔗 Indexing job %s chained from analysis job %s (%d documents)\n", child.ID, analysis.ID, len(analyzed))
	}

	return s.ResumeJob(ctx, child.ID, models.SourceChain)
}

func (s *jobService) GetEntityProgress(ctx context.Context, entityID uuid.UUID) (*PipelineProgress, error) {
	analysis, err := s.jobRepo.FindLatestByEntity(ctx, entityID, models.JobTypeDocumentAnalysis)
	if err != nil {
		return nil, err
	}

	indexing, err := s.jobRepo.FindByParent(ctx, analysis.ID)
	if err != nil {
		if !errors.Is(err, repositories.ErrJobNotFound) {
			return nil, err
		}
		indexing = nil
	}

	progress := ComputeProgress(analysis, indexing)
	return &progress, nil
}

// mutateJob applies fn to a freshly loaded job and saves it, reloading and re-applying
// when another writer got there first.
func mutateJob(ctx context.Context, repo repositories.JobRepository, id uuid.UUID, fn func(*models.Job) error) (*models.Job, error) {
	for attempt := 0; attempt < maxJobWriteAttempts; attempt++ {
		job, err := repo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(job); err != nil {
			if errors.Is(err, errNoChange) {
				return job, nil
			}
			return job, err
		}

		err = repo.Save(ctx, job)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, repositories.ErrStaleJob) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed to update job %s: %w", id, repositories.ErrStaleJob)
}

func parseIDs(ids []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid document id %q: %w", raw, err)
		}
		out = append(out, id)
	}
	return out, nil
}
