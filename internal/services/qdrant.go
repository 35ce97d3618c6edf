package services

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"alfredoptarigan/entity-brain/internal/config"
)

type QdrantService interface {
	IndexName(entityID uuid.UUID) string
	EnsureCollection(ctx context.Context, collection string) error
	UpsertChunk(ctx context.Context, collection string, chunk IndexChunk, embedding []float32) error
	SearchSimilar(ctx context.Context, collection string, queryEmbedding []float32, limit int) ([]SearchResult, error)
	DeleteDocument(ctx context.Context, collection string, docID string) error
}

type IndexChunk struct {
	PointID    uuid.UUID
	DocumentID string
	ChunkIndex int
	Text       string
}

type SearchResult struct {
	ID       string
	Score    float32
	Text     string
	Metadata map[string]interface{}
}

type qdrantService struct {
	client     *qdrant.Client
	prefix     string
	vectorSize uint64
}

func NewQdrantService(cfg config.QdrantConfig) (QdrantService, error) {
	// Parse URL to extract host, port, and TLS usage
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsed.Hostname()
	useTLS := parsed.Scheme == "https"

	// For gRPC client, use port 6334 by default (gRPC port)
	port := 6334
	if p := parsed.Port(); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &qdrantService{
		client:     client,
		prefix:     cfg.CollectionPrefix,
		vectorSize: cfg.VectorSize,
	}, nil
}

// IndexName returns the collection that holds one entity's brain.
func (q *qdrantService) IndexName(entityID uuid.UUID) string {
	return EntityIndexName(q.prefix, entityID)
}

func EntityIndexName(prefix string, entityID uuid.UUID) string {
	return fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(entityID.String(), "-", ""))
}

// EnsureCollection implements QdrantService.
func (q *qdrantService) EnsureCollection(ctx context.Context, collection string) error {
	// Check if collection exists
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	log.Printf("✅ Qdrant collection '%s' created successfully\n", collection)
	return nil
}

// UpsertChunk implements QdrantService. Point ids are deterministic, so a repeated
// upsert of the same chunk overwrites instead of duplicating.
func (q *qdrantService) UpsertChunk(ctx context.Context, collection string, chunk IndexChunk, embedding []float32) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(chunk.PointID.String()),
		Vectors: qdrant.NewVectors(embedding...),
		Payload: qdrant.NewValueMap(map[string]interface{}{
			"doc_id":      chunk.DocumentID,
			"chunk_index": int64(chunk.ChunkIndex),
			"text":        chunk.Text,
		}),
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}

	return nil
}

// SearchSimilar implements QdrantService.
func (q *qdrantService) SearchSimilar(ctx context.Context, collection string, queryEmbedding []float32, limit int) ([]SearchResult, error) {
	searchResult, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var results []SearchResult
	for _, point := range searchResult {
		payload := point.Payload

		result := SearchResult{
			Score:    point.Score,
			Metadata: make(map[string]interface{}),
		}

		if docID, ok := payload["doc_id"]; ok {
			if val, ok := docID.GetKind().(*qdrant.Value_StringValue); ok {
				result.ID = val.StringValue
			}
		}

		if text, ok := payload["text"]; ok {
			if val, ok := text.GetKind().(*qdrant.Value_StringValue); ok {
				result.Text = val.StringValue
			}
		}

		for key, value := range payload {
			result.Metadata[key] = value
		}

		results = append(results, result)
	}

	return results, nil
}

// DeleteDocument implements QdrantService.
func (q *qdrantService) DeleteDocument(ctx context.Context, collection string, docID string) error {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("doc_id", docID),
		},
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: filter,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	return nil
}
