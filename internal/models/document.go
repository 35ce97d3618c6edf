package models

import (
	"time"

	"github.com/google/uuid"
)

type AnalysisStatus string

const (
	AnalysisPending  AnalysisStatus = "pending"
	AnalysisAnalyzed AnalysisStatus = "analyzed"
	AnalysisFailed   AnalysisStatus = "failed"
)

type Document struct {
	ID               uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	EntityID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"entity_id"`
	Filename         string         `gorm:"type:text" json:"filename"`
	OriginalFileName string         `gorm:"type:text" json:"original_filename"`
	ContentType      string         `gorm:"type:text" json:"content_type"`
	BlobKey          string         `gorm:"type:text;not null" json:"blob_key"`
	ExtractedText    *string        `gorm:"type:text" json:"-"`
	AnalysisStatus   AnalysisStatus `gorm:"type:text;not null;default:'pending'" json:"analysis_status"`
	AnalysisError    *string        `gorm:"type:text" json:"analysis_error,omitempty"`
	IndexedAt        *time.Time     `json:"indexed_at,omitempty"`
	CreatedAt        time.Time      `gorm:"type:timestamp;default:now()" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"type:timestamp;default:now()" json:"updated_at"`
}

func (d *Document) TableName() string {
	return "documents"
}

func (d *Document) IsAnalyzed() bool {
	return d.AnalysisStatus == AnalysisAnalyzed && d.ExtractedText != nil
}

func (d *Document) Text() string {
	if d.ExtractedText == nil {
		return ""
	}
	return *d.ExtractedText
}
