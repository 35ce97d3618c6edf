package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"alfredoptarigan/entity-brain/internal/models"
)

const assessmentSchema = `{
  "type": "object",
  "required": ["score", "rationale"],
  "properties": {
    "score": {"type": "number", "minimum": 0, "maximum": 100},
    "rationale": {"type": "string", "pattern": "\\S"},
    "recommendation": {"type": "string"},
    "strengths": {"type": "array", "items": {"type": "string"}},
    "weaknesses": {"type": "array", "items": {"type": "string"}},
    "criteria_scores": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["criterion_id", "score"],
        "properties": {
          "criterion_id": {"type": "string"},
          "score": {"type": "number"},
          "comment": {"type": "string"}
        }
      }
    }
  }
}`

var assessmentValidator = jsonschema.MustCompileString("assessment.json", assessmentSchema)

// ErrInvalidAIOutput marks a reply that was not a usable assessment.
var ErrInvalidAIOutput = errors.New("ai returned an invalid assessment")

type AssessmentService interface {
	// Assess never fails: when AI cannot be used it returns the fallback assessment.
	Assess(ctx context.Context, content string, brain *models.Brain, identifier string) models.AssessmentResult
}

// aiOutcome is the result of one attempt at the AI strategy.
type aiOutcome struct {
	data *models.AssessmentData
	err  error
}

type resilientAssessmentService struct {
	gemini  GeminiService
	breaker *CircuitBreaker
	prompts *PromptBuilder
	timeout time.Duration
	now     func() time.Time
}

func NewAssessmentService(gemini GeminiService, breaker *CircuitBreaker, timeout time.Duration) AssessmentService {
	return &resilientAssessmentService{
		gemini:  gemini,
		breaker: breaker,
		prompts: NewPromptBuilder(),
		timeout: timeout,
		now:     time.Now,
	}
}

func (s *resilientAssessmentService) Assess(ctx context.Context, content string, brain *models.Brain, identifier string) models.AssessmentResult {
	if brain == nil {
		brain = &models.Brain{}
	}

	allowed, err := s.breaker.Allow(ctx, s.now())
	if err != nil {
		log.Printf("⚠️  Breaker state unavailable, attempting AI: %v\n", err)
	}
	if !allowed {
		return s.fallback(identifier, content, brain,
			"AI assessment is paused after repeated failures", true)
	}

	outcome := s.tryAI(ctx, content, brain)
	if outcome.err == nil {
		if err := s.breaker.RecordSuccess(ctx); err != nil {
			log.Printf("⚠️  Failed to reset breaker: %v\n", err)
		}
		AssessmentStrategy.WithLabelValues(string(models.StrategyAI)).Inc()
		return models.AssessmentResult{
			Identifier:     identifier,
			StrategyUsed:   models.StrategyAI,
			AssessmentData: *outcome.data,
			TransparencyInfo: models.TransparencyInfo{
				AIUsed:      true,
				UserMessage: "This assessment was generated by AI against the entity's criteria.",
			},
			GeneratedAt: s.now(),
		}
	}

	log.Printf("⚠️  AI assessment for %s failed: %v\n", identifier, outcome.err)
	opened, err := s.breaker.RecordFailure(ctx, s.now())
	if err != nil {
		log.Printf("⚠️  Failed to record breaker failure: %v\n", err)
	}
	return s.fallback(identifier, content, brain, outcome.err.Error(), opened)
}

func (s *resilientAssessmentService) tryAI(ctx context.Context, content string, brain *models.Brain) (out aiOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = aiOutcome{err: fmt.Errorf("ai strategy panicked: %v", r)}
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.gemini.GenerateJSON(callCtx, s.prompts.BuildAssessmentPrompt(brain, content), 0.2)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return aiOutcome{err: fmt.Errorf("ai call timed out after %v", s.timeout)}
		}
		return aiOutcome{err: fmt.Errorf("ai call failed: %w", err)}
	}

	data, err := ParseAssessment(raw)
	if err != nil {
		return aiOutcome{err: err}
	}
	return aiOutcome{data: data}
}

func (s *resilientAssessmentService) fallback(identifier, content string, brain *models.Brain, reason string, breakerOpen bool) models.AssessmentResult {
	AssessmentStrategy.WithLabelValues(string(models.StrategyFallback)).Inc()

	message := "AI was not used for this assessment: " + reason + ". The score comes from a keyword comparison against the criteria and should be reviewed manually."
	return models.AssessmentResult{
		Identifier:     identifier,
		StrategyUsed:   models.StrategyFallback,
		AssessmentData: FallbackAssessment(content, brain),
		TransparencyInfo: models.TransparencyInfo{
			AIUsed:         false,
			UserMessage:    message,
			FallbackReason: reason,
			BreakerOpen:    breakerOpen,
		},
		GeneratedAt: s.now(),
	}
}

// ParseAssessment extracts the JSON object from a model reply and validates it.
func ParseAssessment(raw string) (*models.AssessmentData, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrInvalidAIOutput)
	}

	var v interface{}
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAIOutput, err)
	}
	if err := assessmentValidator.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAIOutput, err)
	}

	var data models.AssessmentData
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAIOutput, err)
	}
	if data.Strengths == nil {
		data.Strengths = []string{}
	}
	if data.Weaknesses == nil {
		data.Weaknesses = []string{}
	}
	return &data, nil
}

func extractJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
