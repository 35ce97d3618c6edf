package services

import (
	"math"

	"alfredoptarigan/entity-brain/internal/models"
)

type Phase string

const (
	PhaseUploaded  Phase = "uploaded"
	PhaseAnalyzing Phase = "analyzing"
	PhaseIndexing  Phase = "indexing"
	PhaseReady     Phase = "ready"
	PhaseFailed    Phase = "failed"
)

const (
	uploadWeight   = 20.0
	analysisWeight = 40.0
	indexingWeight = 40.0
)

type PipelineProgress struct {
	Overall int    `json:"overall"`
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
}

// ComputeProgress folds the two pipeline jobs into one figure. Upload counts as done
// once an analysis job exists, so the result is never below 20.
func ComputeProgress(analysis, indexing *models.Job) PipelineProgress {
	overall := uploadWeight +
		math.Min(analysisWeight, analysisWeight*analysis.Fraction()) +
		math.Min(indexingWeight, indexingWeight*indexing.Fraction())
	overall = math.Max(0, math.Min(100, overall))

	p := PipelineProgress{Overall: int(math.Floor(overall))}

	switch {
	case analysis != nil && analysis.Status == models.JobStatusFailed:
		p.Phase = PhaseFailed
		p.Message = "Document analysis failed: " + deref(analysis.ErrorMessage)
	case indexing != nil && indexing.Status == models.JobStatusFailed:
		p.Phase = PhaseFailed
		p.Message = "Building the knowledge index failed: " + deref(indexing.ErrorMessage)
	case indexing != nil && indexing.Status == models.JobStatusCompleted:
		p.Phase = PhaseReady
		p.Message = "Knowledge base is ready"
	case indexing != nil && indexing.Status == models.JobStatusProcessing:
		p.Phase = PhaseIndexing
		p.Message = "Building the knowledge index"
	case analysis != nil && analysis.Status == models.JobStatusCompleted:
		p.Phase = PhaseAnalyzing
		p.Message = "Documents analysed, preparing the knowledge index"
	case analysis != nil && isAnalyzing(analysis):
		p.Phase = PhaseAnalyzing
		p.Message = "Analysing documents"
	default:
		p.Phase = PhaseUploaded
		p.Message = "Documents uploaded"
	}

	return p
}

func isAnalyzing(j *models.Job) bool {
	switch j.Status {
	case models.JobStatusProcessing:
		return true
	case models.JobStatusPending:
		return j.OutstandingOCR > 0
	}
	return false
}
