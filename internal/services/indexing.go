package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"alfredoptarigan/entity-brain/internal/models"
	"alfredoptarigan/entity-brain/internal/repositories"
)

// unitError is a document that exhausted its retries; it fails the whole job.
type unitError struct {
	documentID string
	attempts   int
	err        error
}

func (e *unitError) Error() string {
	return fmt.Sprintf("indexing failed for document %s after %d attempts: %v", e.documentID, e.attempts, e.err)
}

func (e *unitError) Unwrap() error { return e.err }

// ChunkPointID is stable across runs, so re-indexing a document overwrites its points.
func ChunkPointID(documentID string, chunkIndex int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("entity-brain/document/%s/chunk/%d", documentID, chunkIndex)))
}

type indexingStage struct {
	jobRepo      repositories.JobRepository
	docRepo      repositories.DocumentRepository
	entityRepo   repositories.EntityRepository
	gemini       GeminiService
	qdrant       QdrantService
	chunker      TextChunker
	concurrency  int
	maxAttempts  int
	initialDelay time.Duration
	now          func() time.Time
}

func NewIndexingStage(
	jobRepo repositories.JobRepository,
	docRepo repositories.DocumentRepository,
	entityRepo repositories.EntityRepository,
	gemini GeminiService,
	qdrant QdrantService,
	chunker TextChunker,
	concurrency int,
	maxAttempts int,
	initialDelay time.Duration,
) Stage {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &indexingStage{
		jobRepo:      jobRepo,
		docRepo:      docRepo,
		entityRepo:   entityRepo,
		gemini:       gemini,
		qdrant:       qdrant,
		chunker:      chunker,
		concurrency:  concurrency,
		maxAttempts:  maxAttempts,
		initialDelay: initialDelay,
		now:          time.Now,
	}
}

func (s *indexingStage) Run(ctx context.Context, job *models.Job) (*models.Job, error) {
	meta := job.Meta()
	if meta.Indexing == nil {
		return job, fmt.Errorf("job %s has no indexing metadata", job.ID)
	}

	indexName := meta.Indexing.IndexName
	if indexName == "" {
		indexName = s.qdrant.IndexName(job.EntityID)
	}

	if err := s.qdrant.EnsureCollection(ctx, indexName); err != nil {
		return job, fmt.Errorf("failed to prepare index %s: %w", indexName, err)
	}

	job, err := mutateJob(ctx, s.jobRepo, job.ID, func(j *models.Job) error {
		if j.IsTerminal() || j.Status == models.JobStatusProcessing {
			return errNoChange
		}
		return j.Start(s.now())
	})
	if err != nil {
		return job, err
	}
	if job.IsTerminal() {
		return job, nil
	}

	meta = job.Meta()
	meta.EnsureMaps()
	var pending []string
	for _, id := range meta.Indexing.DocumentIDs {
		if _, done := meta.Indexing.Indexed[id]; !done {
			pending = append(pending, id)
		}
	}

	allIDs, err := parseIDs(meta.Indexing.DocumentIDs)
	if err != nil {
		return job, err
	}

	docs, err := s.docRepo.FindByIDs(ctx, allIDs)
	if err != nil {
		return job, err
	}
	byID := make(map[string]*models.Document, len(docs))
	for i := range docs {
		byID[docs[i].ID.String()] = &docs[i]
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range pending {
		doc := byID[id]
		g.Go(func() error {
			if doc == nil || !doc.IsAnalyzed() {
				return &unitError{documentID: id, attempts: 0, err: errors.New("document has no extracted text")}
			}

			chunks, err := s.indexWithRetry(gctx, indexName, doc)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			_, err = mutateJob(ctx, s.jobRepo, job.ID, func(j *models.Job) error {
				if j.IsTerminal() {
					return errNoChange
				}
				m := j.Meta()
				m.EnsureMaps()
				m.Indexing.Indexed[id] = models.IndexedUnit{Chunks: chunks, IndexedAt: s.now()}
				j.SetMeta(m)
				j.SetProcessed(len(m.Indexing.Indexed))
				return nil
			})
			if err == nil {
				log.Printf("🧠 Indexed document %s into %s (%d chunks)\n", id, indexName, chunks)
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		var ue *unitError
		if !errors.As(err, &ue) {
			return job, err
		}

		log.Printf("❌ Indexing job %s failed: %v\n", job.ID, ue)
		return mutateJob(ctx, s.jobRepo, job.ID, func(j *models.Job) error {
			if j.IsTerminal() {
				return errNoChange
			}
			return j.Fail(s.now(), ue.Error())
		})
	}

	if err := s.entityRepo.MarkReady(ctx, job.EntityID, indexName); err != nil {
		return job, err
	}
	if err := s.docRepo.MarkIndexed(ctx, allIDs, s.now()); err != nil {
		return job, err
	}

	job, err = mutateJob(ctx, s.jobRepo, job.ID, func(j *models.Job) error {
		if j.IsTerminal() {
			return errNoChange
		}
		return j.Complete(s.now())
	})
	if err != nil {
		return job, err
	}

	log.Printf("✅ Indexing job %s completed, entity %s is ready (%s)\n", job.ID, job.EntityID, indexName)
	return job, nil
}

func (s *indexingStage) indexWithRetry(ctx context.Context, collection string, doc *models.Document) (int, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := s.initialDelay * time.Duration(1<<uint(attempt-1))
			log.Printf("⚠️  Retrying document %s in %v (attempt %d/%d): %v\n", doc.ID, delay, attempt+1, s.maxAttempts, lastErr)
			select {
			case <-ctx.Done():
				return 0, &unitError{documentID: doc.ID.String(), attempts: attempt, err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		chunks, err := s.indexDocument(ctx, collection, doc)
		if err == nil {
			return chunks, nil
		}
		lastErr = err
	}

	return 0, &unitError{documentID: doc.ID.String(), attempts: s.maxAttempts, err: lastErr}
}

func (s *indexingStage) indexDocument(ctx context.Context, collection string, doc *models.Document) (int, error) {
	docID := doc.ID.String()
	if err := s.qdrant.DeleteDocument(ctx, collection, docID); err != nil {
		return 0, err
	}

	chunks := s.chunker.ChunkText(doc.Text())
	for i, text := range chunks {
		embedding, err := s.gemini.GenerateEmbedding(ctx, text)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunk %d: %w", i, err)
		}

		chunk := IndexChunk{
			PointID:    ChunkPointID(docID, i),
			DocumentID: docID,
			ChunkIndex: i,
			Text:       text,
		}
		if err := s.qdrant.UpsertChunk(ctx, collection, chunk, embedding); err != nil {
			return 0, err
		}
	}

	return len(chunks), nil
}
