package models

import (
	"time"

	"github.com/google/uuid"
)

type Strategy string

const (
	StrategyAI       Strategy = "ai"
	StrategyFallback Strategy = "fallback"
)

type CriterionPriority string

const (
	PriorityCritical  CriterionPriority = "critical"
	PriorityHigh      CriterionPriority = "high"
	PriorityImportant CriterionPriority = "important"
)

type Criterion struct {
	ID          string            `json:"id" yaml:"id"`
	Title       string            `json:"title" yaml:"title"`
	Description string            `json:"description" yaml:"description"`
	Priority    CriterionPriority `json:"priority" yaml:"priority"`
	Weight      float64           `json:"weight" yaml:"weight"`
	Keywords    []string          `json:"keywords,omitempty" yaml:"keywords"`
	Source      string            `json:"source,omitempty" yaml:"source"`
}

// Brain is the entity-scoped context an assessment is made against.
type Brain struct {
	EntityID   uuid.UUID   `json:"entity_id"`
	EntityName string      `json:"entity_name"`
	EntityKind EntityKind  `json:"entity_kind"`
	Criteria   []Criterion `json:"criteria"`
	Patterns   []string    `json:"patterns,omitempty"`
	Template   string      `json:"template,omitempty"`
}

type CriterionScore struct {
	CriterionID string  `json:"criterion_id"`
	Score       float64 `json:"score"`
	Comment     string  `json:"comment,omitempty"`
}

type AssessmentData struct {
	Score          float64          `json:"score"`
	Strengths      []string         `json:"strengths"`
	Weaknesses     []string         `json:"weaknesses"`
	Recommendation string           `json:"recommendation"`
	Rationale      string           `json:"rationale"`
	CriteriaScores []CriterionScore `json:"criteria_scores,omitempty"`
}

type TransparencyInfo struct {
	AIUsed         bool   `json:"ai_used"`
	UserMessage    string `json:"user_message"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	BreakerOpen    bool   `json:"breaker_open"`
}

// AssessmentResult is built once and never modified afterwards.
type AssessmentResult struct {
	Identifier       string           `json:"identifier"`
	StrategyUsed     Strategy         `json:"strategy_used"`
	AssessmentData   AssessmentData   `json:"assessment_data"`
	TransparencyInfo TransparencyInfo `json:"transparency_info"`
	GeneratedAt      time.Time        `json:"generated_at"`
}
