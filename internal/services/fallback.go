package services

import (
	"fmt"
	"math"
	"strings"

	"alfredoptarigan/entity-brain/internal/models"
)

const (
	fallbackMinScore = 30.0
	fallbackMaxScore = 95.0
	maxListedItems   = 5
)

// FallbackAssessment scores content without AI: keyword coverage of each criterion
// plus a length adjustment, clamped to [30,95].
func FallbackAssessment(content string, brain *models.Brain) models.AssessmentData {
	words := wordPattern.FindAllString(strings.ToLower(content), -1)
	present := make(map[string]bool, len(words))
	for _, w := range words {
		present[w] = true
	}

	var (
		weighted, totalWeight float64
		matchedKeywords       int
		totalKeywords         int
		scores                []models.CriterionScore
		strengths             = []string{}
		weaknesses            = []string{}
	)

	for _, c := range brain.Criteria {
		keywords := c.Keywords
		if len(keywords) == 0 {
			keywords = Keywords(c.Title)
		}
		if len(keywords) == 0 {
			continue
		}

		matched := 0
		for _, k := range keywords {
			if present[strings.ToLower(k)] {
				matched++
			}
		}
		coverage := float64(matched) / float64(len(keywords))

		weight := c.Weight
		if weight <= 0 {
			weight = 1
		}
		weighted += coverage * weight
		totalWeight += weight
		matchedKeywords += matched
		totalKeywords += len(keywords)

		scores = append(scores, models.CriterionScore{
			CriterionID: c.ID,
			Score:       math.Round(coverage * 100),
			Comment:     fmt.Sprintf("%d of %d keywords found", matched, len(keywords)),
		})

		switch {
		case coverage >= 0.5 && len(strengths) < maxListedItems:
			strengths = append(strengths, "Addresses "+c.Title)
		case matched == 0 && len(weaknesses) < maxListedItems:
			weaknesses = append(weaknesses, "No evidence found for "+c.Title)
		}
	}

	coverage := 0.0
	if totalWeight > 0 {
		coverage = weighted / totalWeight
	}

	score := fallbackMinScore + 45*coverage + lengthAdjustment(len(words))
	score = math.Max(fallbackMinScore, math.Min(fallbackMaxScore, math.Round(score)))

	if len(words) < 100 {
		weaknesses = append(weaknesses, "Submission is brief and may lack supporting detail")
	}

	return models.AssessmentData{
		Score:          score,
		Strengths:      strengths,
		Weaknesses:     weaknesses,
		Recommendation: fallbackRecommendation(score),
		Rationale: fmt.Sprintf("Keyword assessment: %d of %d criterion keywords matched across %d criteria; submission length %d words.",
			matchedKeywords, totalKeywords, len(scores), len(words)),
		CriteriaScores: scores,
	}
}

func lengthAdjustment(words int) float64 {
	switch {
	case words >= 3000:
		return 15
	case words >= 1000:
		return 10
	case words >= 300:
		return 5
	case words < 50:
		return -10
	default:
		return 0
	}
}

func fallbackRecommendation(score float64) string {
	switch {
	case score >= 75:
		return "Strong alignment with the criteria; proceed to detailed review."
	case score >= 55:
		return "Partial alignment with the criteria; manual review recommended."
	default:
		return "Weak alignment with the criteria; significant gaps to address."
	}
}
