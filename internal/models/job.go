package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobType string

const (
	JobTypeDocumentAnalysis JobType = "DOCUMENT_ANALYSIS"
	JobTypeIndexing         JobType = "INDEXING"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// ResumeSource records who asked a job to continue.
type ResumeSource string

const (
	SourceUpload     ResumeSource = "upload"
	SourceResume     ResumeSource = "resume"
	SourceChain      ResumeSource = "chain"
	SourceReconciler ResumeSource = "reconciler"
	SourceManual     ResumeSource = "manual"
)

func (s ResumeSource) IsValid() bool {
	switch s {
	case SourceUpload, SourceResume, SourceChain, SourceReconciler, SourceManual:
		return true
	}
	return false
}

var ErrInvalidTransition = errors.New("invalid job status transition")

type Job struct {
	ID             uuid.UUID                       `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	EntityID       uuid.UUID                       `gorm:"type:uuid;not null;index" json:"entity_id"`
	ParentJobID    *uuid.UUID                      `gorm:"type:uuid;uniqueIndex" json:"parent_job_id,omitempty"`
	Type           JobType                         `gorm:"type:text;not null;index" json:"type"`
	Status         JobStatus                       `gorm:"type:text;not null;default:'PENDING';index" json:"status"`
	Progress       int                             `gorm:"not null;default:0" json:"progress"`
	TotalUnits     int                             `gorm:"not null;default:0" json:"total_units"`
	ProcessedUnits int                             `gorm:"not null;default:0" json:"processed_units"`
	OutstandingOCR int                             `gorm:"column:outstanding_ocr;not null;default:0;index" json:"outstanding_ocr"`
	Metadata       datatypes.JSONType[JobMetadata] `json:"metadata"`
	ErrorMessage   *string                         `gorm:"type:text" json:"error_message,omitempty"`
	Version        int                             `gorm:"not null;default:0" json:"-"`
	CreatedAt      time.Time                       `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time                       `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
	StartedAt      *time.Time                      `json:"started_at,omitempty"`
	CompletedAt    *time.Time                      `json:"completed_at,omitempty"`
}

func (Job) TableName() string {
	return "jobs"
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusPending || next == JobStatusProcessing ||
			next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusProcessing || next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// IsTerminal is a convenience for j.Status.IsTerminal().
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Meta returns a copy of the job's metadata variant.
func (j *Job) Meta() JobMetadata {
	return j.Metadata.Data()
}

func (j *Job) SetMeta(m JobMetadata) {
	j.Metadata = datatypes.NewJSONType(m)
}

// Start moves a pending job to PROCESSING. It is a no-op for jobs already processing.
func (j *Job) Start(now time.Time) error {
	if j.Status == JobStatusProcessing {
		return nil
	}
	if !j.Status.CanTransition(JobStatusProcessing) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusProcessing)
	}
	j.Status = JobStatusProcessing
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	return nil
}

// SetProcessed records processed units and raises progress accordingly.
// Progress never moves backwards.
func (j *Job) SetProcessed(processed int) {
	if processed > j.TotalUnits {
		processed = j.TotalUnits
	}
	if processed > j.ProcessedUnits {
		j.ProcessedUnits = processed
	}
	j.RaiseProgress(UnitProgress(j.ProcessedUnits, j.TotalUnits))
}

func (j *Job) RaiseProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > j.Progress {
		j.Progress = p
	}
}

func (j *Job) Complete(now time.Time) error {
	if !j.Status.CanTransition(JobStatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusCompleted)
	}
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.CompletedAt = &now
	j.ErrorMessage = nil
	return nil
}

func (j *Job) Fail(now time.Time, message string) error {
	if !j.Status.CanTransition(JobStatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusFailed)
	}
	j.Status = JobStatusFailed
	j.ErrorMessage = &message
	j.CompletedAt = &now
	return nil
}

// Fraction returns processed/total bounded to [0,1]; a completed job is always 1.
func (j *Job) Fraction() float64 {
	if j == nil {
		return 0
	}
	if j.Status == JobStatusCompleted {
		return 1
	}
	if j.TotalUnits <= 0 {
		return 0
	}
	f := float64(j.ProcessedUnits) / float64(j.TotalUnits)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func UnitProgress(processed, total int) int {
	if total <= 0 {
		return 0
	}
	if processed >= total {
		return 100
	}
	if processed <= 0 {
		return 0
	}
	return processed * 100 / total
}
