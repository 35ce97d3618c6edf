package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"alfredoptarigan/entity-brain/internal/models"
	"alfredoptarigan/entity-brain/internal/repositories"
)

// fakeJobRepo mimics the optimistic writes of the gorm repository in memory.
type fakeJobRepo struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*models.Job
	seq    map[uuid.UUID]int
	next   int
	events []string
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[uuid.UUID]*models.Job{}, seq: map[uuid.UUID]int{}}
}

func cloneJob(j *models.Job) *models.Job {
	cp := *j
	data, err := json.Marshal(j.Meta())
	if err != nil {
		panic(err)
	}
	var meta models.JobMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		panic(err)
	}
	cp.SetMeta(meta)
	if j.ParentJobID != nil {
		p := *j.ParentJobID
		cp.ParentJobID = &p
	}
	if j.ErrorMessage != nil {
		m := *j.ErrorMessage
		cp.ErrorMessage = &m
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func (r *fakeJobRepo) Create(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ParentJobID != nil {
		for _, existing := range r.jobs {
			if existing.ParentJobID != nil && *existing.ParentJobID == *job.ParentJobID {
				return repositories.ErrDuplicateJob
			}
		}
	}
	r.next++
	r.seq[job.ID] = r.next
	r.jobs[job.ID] = cloneJob(job)
	r.events = append(r.events, fmt.Sprintf("create:%s", job.Type))
	return nil
}

func (r *fakeJobRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, repositories.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (r *fakeJobRepo) FindByParent(ctx context.Context, parentID uuid.UUID) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ParentJobID != nil && *j.ParentJobID == parentID {
			return cloneJob(j), nil
		}
	}
	return nil, repositories.ErrJobNotFound
}

func (r *fakeJobRepo) FindLatestByEntity(ctx context.Context, entityID uuid.UUID, jobType models.JobType) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.Job
	for _, j := range r.jobs {
		if j.EntityID != entityID || j.Type != jobType {
			continue
		}
		if latest == nil || r.seq[j.ID] > r.seq[latest.ID] {
			latest = j
		}
	}
	if latest == nil {
		return nil, repositories.ErrJobNotFound
	}
	return cloneJob(latest), nil
}

func (r *fakeJobRepo) Save(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok || stored.Version != job.Version {
		return repositories.ErrStaleJob
	}

	next := cloneJob(job)
	if stored.Progress > next.Progress {
		next.Progress = stored.Progress
	}
	if stored.ProcessedUnits > next.ProcessedUnits {
		next.ProcessedUnits = stored.ProcessedUnits
	}
	next.Version = stored.Version + 1
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = time.Now()
	r.jobs[job.ID] = next
	r.events = append(r.events, fmt.Sprintf("save:%s:%s", job.Type, job.Status))

	job.Version++
	return nil
}

func (r *fakeJobRepo) FindWithOutstandingOCR(ctx context.Context, limit int) ([]models.Job, error) {
	return r.filter(limit, func(j *models.Job) bool {
		return !j.IsTerminal() && j.OutstandingOCR > 0
	}), nil
}

func (r *fakeJobRepo) FindStalePending(ctx context.Context, createdBefore time.Time, entityID *uuid.UUID, limit int) ([]models.Job, error) {
	return r.filter(limit, func(j *models.Job) bool {
		return j.Status == models.JobStatusPending && j.OutstandingOCR == 0 &&
			j.CreatedAt.Before(createdBefore) && (entityID == nil || j.EntityID == *entityID)
	}), nil
}

func (r *fakeJobRepo) FindStaleProcessing(ctx context.Context, updatedBefore time.Time, entityID *uuid.UUID, limit int) ([]models.Job, error) {
	return r.filter(limit, func(j *models.Job) bool {
		return j.Status == models.JobStatusProcessing && j.OutstandingOCR == 0 &&
			j.UpdatedAt.Before(updatedBefore) && (entityID == nil || j.EntityID == *entityID)
	}), nil
}

func (r *fakeJobRepo) FindUnchainedAnalyses(ctx context.Context, completedBefore time.Time, entityID *uuid.UUID, limit int) ([]models.Job, error) {
	r.mu.Lock()
	parents := map[uuid.UUID]bool{}
	for _, j := range r.jobs {
		if j.ParentJobID != nil {
			parents[*j.ParentJobID] = true
		}
	}
	r.mu.Unlock()

	return r.filter(limit, func(j *models.Job) bool {
		return j.Type == models.JobTypeDocumentAnalysis && j.Status == models.JobStatusCompleted &&
			j.CompletedAt != nil && j.CompletedAt.Before(completedBefore) && !parents[j.ID] &&
			(entityID == nil || j.EntityID == *entityID)
	}), nil
}

func (r *fakeJobRepo) filter(limit int, keep func(*models.Job) bool) []models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Job
	for _, j := range r.jobs {
		if keep(j) {
			out = append(out, *cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return r.seq[out[a].ID] < r.seq[out[b].ID] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// backdate moves a stored job's timestamps into the past.
func (r *fakeJobRepo) backdate(id uuid.UUID, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	j.CreatedAt = j.CreatedAt.Add(-d)
	j.UpdatedAt = j.UpdatedAt.Add(-d)
	if j.CompletedAt != nil {
		t := j.CompletedAt.Add(-d)
		j.CompletedAt = &t
	}
}

func (r *fakeJobRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *fakeJobRepo) eventIndex(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e == event {
			return i
		}
	}
	return -1
}

type fakeDocRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*models.Document
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{docs: map[uuid.UUID]*models.Document{}}
}

func (r *fakeDocRepo) Create(ctx context.Context, doc *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeDocRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, repositories.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDocRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Document
	for _, id := range ids {
		if d, ok := r.docs[id]; ok {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeDocRepo) SaveExtraction(ctx context.Context, id uuid.UUID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return repositories.ErrDocumentNotFound
	}
	d.ExtractedText = &text
	d.AnalysisStatus = models.AnalysisAnalyzed
	d.AnalysisError = nil
	return nil
}

func (r *fakeDocRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok || d.AnalysisStatus == models.AnalysisAnalyzed {
		return nil
	}
	d.AnalysisStatus = models.AnalysisFailed
	d.AnalysisError = &reason
	return nil
}

func (r *fakeDocRepo) MarkIndexed(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if d, ok := r.docs[id]; ok {
			t := at
			d.IndexedAt = &t
		}
	}
	return nil
}

type fakeEntityRepo struct {
	mu       sync.Mutex
	entities map[uuid.UUID]*models.Entity
}

func newFakeEntityRepo() *fakeEntityRepo {
	return &fakeEntityRepo{entities: map[uuid.UUID]*models.Entity{}}
}

func (r *fakeEntityRepo) Create(ctx context.Context, e *models.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.entities[e.ID] = &cp
	return nil
}

func (r *fakeEntityRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	if !ok {
		return nil, repositories.ErrEntityNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *fakeEntityRepo) MarkReady(ctx context.Context, id uuid.UUID, indexName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	if !ok {
		return repositories.ErrEntityNotFound
	}
	e.Ready = true
	e.IndexName = &indexName
	return nil
}

type fakeStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{blobs: map[string][]byte{}}
}

func (s *fakeStorage) SaveFile(ctx context.Context, file *multipart.FileHeader, entityID uuid.UUID) (string, string, error) {
	return "", "", errors.New("not supported")
}

func (s *fakeStorage) Fetch(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return data, nil
}

func (s *fakeStorage) Ref(key string) BlobRef {
	return BlobRef{Bucket: "test-bucket", Key: key}
}

func (s *fakeStorage) DeleteFile(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *fakeStorage) EnsureUploadDir() error { return nil }

type fakeOCR struct {
	mu        sync.Mutex
	submitErr error
	submits   int
	results   map[string]models.OCRPollResult
}

func newFakeOCR() *fakeOCR {
	return &fakeOCR{results: map[string]models.OCRPollResult{}}
}

func (o *fakeOCR) Submit(ctx context.Context, ref BlobRef, idempotencyKey string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submits++
	if o.submitErr != nil {
		return "", o.submitErr
	}
	return "handle-" + idempotencyKey, nil
}

func (o *fakeOCR) Poll(ctx context.Context, handleID string) (models.OCRPollResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.results[handleID]; ok {
		return r, nil
	}
	return models.OCRPollResult{Status: models.OCRStatusInProgress}, nil
}

func (o *fakeOCR) finish(documentID uuid.UUID, result models.OCRPollResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results["handle-"+documentID.String()] = result
}

type fakeGemini struct {
	mu       sync.Mutex
	embedErr error
	reply    string
	replyErr error
	panicMsg string
	block    bool
	calls    int
}

func (g *fakeGemini) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.embedErr != nil {
		return nil, g.embedErr
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (g *fakeGemini) GenerateText(ctx context.Context, prompt string, temperature float32) (string, error) {
	return g.GenerateJSON(ctx, prompt, temperature)
}

func (g *fakeGemini) GenerateJSON(ctx context.Context, prompt string, temperature float32) (string, error) {
	g.mu.Lock()
	g.calls++
	block, panicMsg, reply, replyErr := g.block, g.panicMsg, g.reply, g.replyErr
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if panicMsg != "" {
		panic(panicMsg)
	}
	return reply, replyErr
}

func (g *fakeGemini) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]bool
	points      map[string]map[uuid.UUID]IndexChunk
	upsertErr   error
	search      []SearchResult
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: map[string]bool{}, points: map[string]map[uuid.UUID]IndexChunk{}}
}

func (q *fakeQdrant) IndexName(entityID uuid.UUID) string {
	return EntityIndexName("test", entityID)
}

func (q *fakeQdrant) EnsureCollection(ctx context.Context, collection string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.collections[collection] = true
	if q.points[collection] == nil {
		q.points[collection] = map[uuid.UUID]IndexChunk{}
	}
	return nil
}

func (q *fakeQdrant) UpsertChunk(ctx context.Context, collection string, chunk IndexChunk, embedding []float32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.upsertErr != nil {
		return q.upsertErr
	}
	q.points[collection][chunk.PointID] = chunk
	return nil
}

func (q *fakeQdrant) SearchSimilar(ctx context.Context, collection string, queryEmbedding []float32, limit int) ([]SearchResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.search) > limit {
		return q.search[:limit], nil
	}
	return q.search, nil
}

func (q *fakeQdrant) DeleteDocument(ctx context.Context, collection string, docID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, c := range q.points[collection] {
		if c.DocumentID == docID {
			delete(q.points[collection], id)
		}
	}
	return nil
}

func (q *fakeQdrant) pointCount(collection string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.points[collection])
}

// harness wires the real pipeline services over the fakes.
type harness struct {
	jobRepo    *fakeJobRepo
	docRepo    *fakeDocRepo
	entityRepo *fakeEntityRepo
	storage    *fakeStorage
	ocr        *fakeOCR
	gemini     *fakeGemini
	qdrant     *fakeQdrant
	jobs       JobService
	poller     OCRPollCoordinator
	reconciler StaleJobReconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		jobRepo:    newFakeJobRepo(),
		docRepo:    newFakeDocRepo(),
		entityRepo: newFakeEntityRepo(),
		storage:    newFakeStorage(),
		ocr:        newFakeOCR(),
		gemini:     &fakeGemini{},
		qdrant:     newFakeQdrant(),
	}

	analysis := NewAnalysisStage(h.jobRepo, h.docRepo, h.storage, NewExtractorService(), h.ocr, 2, 3)
	indexing := NewIndexingStage(h.jobRepo, h.docRepo, h.entityRepo, h.gemini, h.qdrant,
		NewTextChunker(200, 20), 2, 3, time.Millisecond)
	h.jobs = NewJobService(h.jobRepo, h.docRepo, h.entityRepo, analysis, indexing, h.qdrant.IndexName)
	h.poller = NewOCRPollCoordinator(h.jobRepo, h.ocr, h.jobs, time.Second, 10, 2)
	h.reconciler = NewStaleJobReconciler(h.jobRepo, h.jobs, 30*time.Second, 10*time.Minute, 10)
	return h
}

func (h *harness) addEntity(t *testing.T) uuid.UUID {
	t.Helper()
	e := &models.Entity{ID: uuid.New(), Name: "Road Works Tender", Kind: models.EntityKindTender}
	if err := h.entityRepo.Create(context.Background(), e); err != nil {
		t.Fatalf("create entity: %v", err)
	}
	return e.ID
}

func (h *harness) addDocument(t *testing.T, entityID uuid.UUID, filename, content string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	key := entityID.String() + "/" + id.String() + "-" + filename
	h.storage.blobs[key] = []byte(content)
	doc := &models.Document{
		ID:               id,
		EntityID:         entityID,
		Filename:         filename,
		OriginalFileName: filename,
		BlobKey:          key,
		AnalysisStatus:   models.AnalysisPending,
	}
	if err := h.docRepo.Create(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return id
}

func (h *harness) mustJob(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	job, err := h.jobRepo.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load job %s: %v", id, err)
	}
	return job
}
