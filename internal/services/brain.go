package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"alfredoptarigan/entity-brain/internal/models"
	"alfredoptarigan/entity-brain/internal/repositories"
)

var ErrEntityNotReady = errors.New("entity is not ready for assessment")

// BrainTemplate is the YAML file describing how entities of one kind are assessed.
type BrainTemplate struct {
	Name     string             `yaml:"name"`
	Template string             `yaml:"template"`
	Criteria []models.Criterion `yaml:"criteria"`
}

// LoadBrainTemplate reads <dir>/<kind>.yaml. A missing file yields an empty template.
func LoadBrainTemplate(dir string, kind models.EntityKind) (*BrainTemplate, error) {
	path := filepath.Join(dir, string(kind)+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &BrainTemplate{}, nil
		}
		return nil, fmt.Errorf("failed to read brain template: %w", err)
	}

	var tpl BrainTemplate
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("failed to parse brain template %s: %w", path, err)
	}

	for i := range tpl.Criteria {
		c := &tpl.Criteria[i]
		if c.ID == "" {
			c.ID = fmt.Sprintf("%s-%d", kind, i+1)
		}
		if c.Priority == "" {
			c.Priority = models.PriorityImportant
		}
		if c.Weight <= 0 {
			c.Weight = priorityWeight(c.Priority)
		}
		if len(c.Keywords) == 0 {
			c.Keywords = Keywords(c.Title + " " + c.Description)
		}
	}
	return &tpl, nil
}

type BrainBuilder interface {
	Build(ctx context.Context, entityID uuid.UUID, queryText string) (*models.Brain, error)
}

type brainBuilder struct {
	entityRepo  repositories.EntityRepository
	gemini      GeminiService
	qdrant      QdrantService
	templateDir string
	rulesFile   string
	passages    int
}

func NewBrainBuilder(
	entityRepo repositories.EntityRepository,
	gemini GeminiService,
	qdrant QdrantService,
	templateDir string,
	rulesFile string,
	passages int,
) BrainBuilder {
	return &brainBuilder{
		entityRepo:  entityRepo,
		gemini:      gemini,
		qdrant:      qdrant,
		templateDir: templateDir,
		rulesFile:   rulesFile,
		passages:    passages,
	}
}

// Build assembles the brain of a ready entity: template criteria, knowledge-base rules
// and the index passages closest to queryText.
func (b *brainBuilder) Build(ctx context.Context, entityID uuid.UUID, queryText string) (*models.Brain, error) {
	entity, err := b.entityRepo.FindByID(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !entity.Ready || entity.IndexName == nil {
		return nil, ErrEntityNotReady
	}

	tpl, err := LoadBrainTemplate(b.templateDir, entity.Kind)
	if err != nil {
		return nil, err
	}

	brain := &models.Brain{
		EntityID:   entity.ID,
		EntityName: entity.Name,
		EntityKind: entity.Kind,
		Criteria:   tpl.Criteria,
		Template:   tpl.Template,
	}

	if b.rulesFile != "" {
		data, err := os.ReadFile(b.rulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules file: %w", err)
		}
		brain.Criteria = append(brain.Criteria, ParseRulesMarkdown(string(data))...)
	}

	query := strings.TrimSpace(queryText)
	if query == "" || b.passages <= 0 {
		return brain, nil
	}

	// Passages are context only; the brain is still usable without them.
	embedding, err := b.gemini.GenerateEmbedding(ctx, truncateRunes(query, 8000))
	if err != nil {
		log.Printf("⚠️  Skipping brain passages for entity %s: %v\n", entityID, err)
		return brain, nil
	}

	results, err := b.qdrant.SearchSimilar(ctx, *entity.IndexName, embedding, b.passages)
	if err != nil {
		log.Printf("⚠️  Skipping brain passages for entity %s: %v\n", entityID, err)
		return brain, nil
	}
	for _, r := range results {
		if text := strings.TrimSpace(r.Text); text != "" {
			brain.Patterns = append(brain.Patterns, text)
		}
	}

	return brain, nil
}
