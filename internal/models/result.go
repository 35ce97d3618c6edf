package models

type UploadResponse struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
}

type UploadFailure struct {
	OriginalName string `json:"original_name"`
	Error        string `json:"error"`
}

type CreateEntityRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type CreateJobRequest struct {
	Type        string   `json:"type"`
	DocumentIDs []string `json:"document_ids"`
}

type ResumeJobRequest struct {
	Source string `json:"source"`
}

type AssessRequest struct {
	Identifier string `json:"identifier"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
}

type JobStatusResponse struct {
	ID             string  `json:"id"`
	EntityID       string  `json:"entity_id"`
	Type           string  `json:"type"`
	Status         string  `json:"status"`
	Progress       int     `json:"progress"`
	ProcessedUnits int     `json:"processed_units"`
	TotalUnits     int     `json:"total_units"`
	OutstandingOCR int     `json:"outstanding_ocr"`
	ErrorMessage   *string `json:"error_message,omitempty"`
}

func NewJobStatusResponse(j *Job) JobStatusResponse {
	return JobStatusResponse{
		ID:             j.ID.String(),
		EntityID:       j.EntityID.String(),
		Type:           string(j.Type),
		Status:         string(j.Status),
		Progress:       j.Progress,
		ProcessedUnits: j.ProcessedUnits,
		TotalUnits:     j.TotalUnits,
		OutstandingOCR: j.OutstandingOCR,
		ErrorMessage:   j.ErrorMessage,
	}
}
