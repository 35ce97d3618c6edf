package models

import (
	"sort"
	"time"
)

type OCRStatus string

const (
	OCRStatusInProgress OCRStatus = "IN_PROGRESS"
	OCRStatusSucceeded  OCRStatus = "SUCCEEDED"
	OCRStatusFailed     OCRStatus = "FAILED"
)

// JobMetadata is a tagged variant: Kind selects which of the payloads is set.
type JobMetadata struct {
	Kind     JobType                   `json:"kind"`
	Analysis *DocumentAnalysisMetadata `json:"analysis,omitempty"`
	Indexing *IndexingMetadata         `json:"indexing,omitempty"`
}

type DocumentAnalysisMetadata struct {
	DocumentIDs     []string             `json:"document_ids"`
	OCRHandles      map[string]OCRHandle `json:"ocr_handles,omitempty"`
	FailedDocuments map[string]string    `json:"failed_documents,omitempty"`
	SubmitAttempts  map[string]int       `json:"submit_attempts,omitempty"`
}

type IndexingMetadata struct {
	DocumentIDs []string               `json:"document_ids"`
	IndexName   string                 `json:"index_name,omitempty"`
	Indexed     map[string]IndexedUnit `json:"indexed,omitempty"`
}

type IndexedUnit struct {
	Chunks    int       `json:"chunks"`
	IndexedAt time.Time `json:"indexed_at"`
}

// OCRHandle tracks one outstanding external OCR request.
type OCRHandle struct {
	DocumentID       string     `json:"document_id"`
	ExternalHandleID string     `json:"external_handle_id"`
	Status           OCRStatus  `json:"status"`
	ExtractedText    string     `json:"extracted_text,omitempty"`
	CharacterCount   int        `json:"character_count,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	SubmittedAt      time.Time  `json:"submitted_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func NewAnalysisMetadata(documentIDs []string) JobMetadata {
	return JobMetadata{
		Kind: JobTypeDocumentAnalysis,
		Analysis: &DocumentAnalysisMetadata{
			DocumentIDs:     documentIDs,
			OCRHandles:      map[string]OCRHandle{},
			FailedDocuments: map[string]string{},
			SubmitAttempts:  map[string]int{},
		},
	}
}

func NewIndexingMetadata(documentIDs []string, indexName string) JobMetadata {
	return JobMetadata{
		Kind: JobTypeIndexing,
		Indexing: &IndexingMetadata{
			DocumentIDs: documentIDs,
			IndexName:   indexName,
			Indexed:     map[string]IndexedUnit{},
		},
	}
}

// EnsureMaps makes the nested maps writable after a JSON round trip.
func (m *JobMetadata) EnsureMaps() {
	if m.Analysis != nil {
		if m.Analysis.OCRHandles == nil {
			m.Analysis.OCRHandles = map[string]OCRHandle{}
		}
		if m.Analysis.FailedDocuments == nil {
			m.Analysis.FailedDocuments = map[string]string{}
		}
		if m.Analysis.SubmitAttempts == nil {
			m.Analysis.SubmitAttempts = map[string]int{}
		}
	}
	if m.Indexing != nil && m.Indexing.Indexed == nil {
		m.Indexing.Indexed = map[string]IndexedUnit{}
	}
}

// InProgressHandles returns the IN_PROGRESS handles ordered by document id.
func (m *DocumentAnalysisMetadata) InProgressHandles() []OCRHandle {
	if m == nil {
		return nil
	}
	var out []OCRHandle
	for _, h := range m.OCRHandles {
		if h.Status == OCRStatusInProgress {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

func (m *DocumentAnalysisMetadata) OutstandingOCR() int {
	return len(m.InProgressHandles())
}

// ApplyPoll records a gateway answer on an IN_PROGRESS handle. It returns false when
// the handle is unknown or already settled, so a late duplicate answer changes nothing.
func (m *DocumentAnalysisMetadata) ApplyPoll(documentID string, result OCRPollResult, now time.Time) bool {
	h, ok := m.OCRHandles[documentID]
	if !ok || h.Status != OCRStatusInProgress {
		return false
	}
	switch result.Status {
	case OCRStatusSucceeded:
		h.Status = OCRStatusSucceeded
		h.ExtractedText = result.Text
		h.CharacterCount = len([]rune(result.Text))
		h.CompletedAt = &now
	case OCRStatusFailed:
		h.Status = OCRStatusFailed
		h.ErrorMessage = result.ErrorMessage
		if h.ErrorMessage == "" {
			h.ErrorMessage = "ocr failed without a message"
		}
		h.CompletedAt = &now
	default:
		return false
	}
	m.OCRHandles[documentID] = h
	return true
}

// OCRPollResult is what the gateway reports for one handle.
type OCRPollResult struct {
	Status       OCRStatus
	Text         string
	ErrorMessage string
}
