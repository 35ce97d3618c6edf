package services

import (
	"fmt"
	"strings"

	"alfredoptarigan/entity-brain/internal/models"
)

const maxPromptContentRunes = 30000

type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// BuildAssessmentPrompt creates the prompt that scores a submission against an entity brain
func (pb *PromptBuilder) BuildAssessmentPrompt(brain *models.Brain, content string) string {
	template := strings.TrimSpace(brain.Template)
	if template == "" {
		template = "Score the submission from 0 to 100 by how well it satisfies the criteria, weighting critical criteria most."
	}

	return fmt.Sprintf(`You are an expert assessor reviewing a submission for %s (%s).

SCORING TEMPLATE:
%s

CRITERIA:
%s

REFERENCE PASSAGES FROM THE KNOWLEDGE BASE:
%s

SUBMISSION:
%s

Assess the submission against the criteria. Cite concrete evidence from the submission.

Return your response in the following JSON format:
{
  "score": <number 0-100>,
  "strengths": ["<strength>", ...],
  "weaknesses": ["<gap>", ...],
  "recommendation": "<one sentence recommendation>",
  "rationale": "<3-5 sentences explaining the score>",
  "criteria_scores": [{"criterion_id": "<id>", "score": <0-100>, "comment": "<short comment>"}]
}`,
		brain.EntityName, brain.EntityKind, template, FormatCriteria(brain.Criteria),
		FormatPatterns(brain.Patterns), truncateRunes(content, maxPromptContentRunes))
}

func FormatCriteria(criteria []models.Criterion) string {
	if len(criteria) == 0 {
		return "No explicit criteria. Use general quality, completeness and relevance."
	}

	var b strings.Builder
	for _, c := range criteria {
		fmt.Fprintf(&b, "- [%s] %s (priority: %s, weight: %.1f)", c.ID, c.Title, c.Priority, c.Weight)
		if c.Description != "" {
			fmt.Fprintf(&b, ": %s", c.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatPatterns numbers retrieved passages for the prompt
func FormatPatterns(patterns []string) string {
	if len(patterns) == 0 {
		return "No relevant context found."
	}

	parts := make([]string, 0, len(patterns))
	for i, p := range patterns {
		parts = append(parts, fmt.Sprintf("--- Passage %d ---\n%s", i+1, strings.TrimSpace(p)))
	}
	return strings.Join(parts, "\n\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
