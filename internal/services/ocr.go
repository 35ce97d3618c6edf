package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"alfredoptarigan/entity-brain/internal/models"
)

var ErrOCRUnavailable = errors.New("document is not reachable by the OCR gateway")

// OCRGateway is the asynchronous external text extraction service.
type OCRGateway interface {
	// Submit starts extraction and returns the external handle id. The idempotency key
	// lets a repeated submit for the same document return the same handle.
	Submit(ctx context.Context, ref BlobRef, idempotencyKey string) (string, error)
	Poll(ctx context.Context, handleID string) (models.OCRPollResult, error)
}

type textractGateway struct {
	client *textract.Client
}

func NewTextractGateway(cfg aws.Config) OCRGateway {
	return &textractGateway{client: textract.NewFromConfig(cfg)}
}

// Submit implements OCRGateway.
func (g *textractGateway) Submit(ctx context.Context, ref BlobRef, idempotencyKey string) (string, error) {
	if ref.Bucket == "" {
		return "", ErrOCRUnavailable
	}

	input := &textract.StartDocumentTextDetectionInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{
				Bucket: aws.String(ref.Bucket),
				Name:   aws.String(ref.Key),
			},
		},
	}
	if idempotencyKey != "" {
		input.ClientRequestToken = aws.String(idempotencyKey)
	}

	out, err := g.client.StartDocumentTextDetection(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to start text detection: %w", err)
	}
	if out.JobId == nil || *out.JobId == "" {
		return "", fmt.Errorf("text detection returned no job id")
	}

	return *out.JobId, nil
}

// Poll implements OCRGateway.
func (g *textractGateway) Poll(ctx context.Context, handleID string) (models.OCRPollResult, error) {
	var (
		lines     []string
		nextToken *string
		lastPage  int32
	)

	for {
		out, err := g.client.GetDocumentTextDetection(ctx, &textract.GetDocumentTextDetectionInput{
			JobId:     aws.String(handleID),
			NextToken: nextToken,
		})
		if err != nil {
			return models.OCRPollResult{}, fmt.Errorf("failed to get text detection: %w", err)
		}

		switch out.JobStatus {
		case types.JobStatusInProgress:
			return models.OCRPollResult{Status: models.OCRStatusInProgress}, nil
		case types.JobStatusFailed:
			return models.OCRPollResult{
				Status:       models.OCRStatusFailed,
				ErrorMessage: aws.ToString(out.StatusMessage),
			}, nil
		}

		for _, block := range out.Blocks {
			if block.BlockType != types.BlockTypeLine || block.Text == nil {
				continue
			}
			if page := aws.ToInt32(block.Page); page != lastPage {
				if lastPage != 0 {
					lines = append(lines, "")
				}
				lastPage = page
			}
			lines = append(lines, *block.Text)
		}

		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		nextToken = out.NextToken
	}

	text := strings.TrimSpace(strings.Join(lines, "\n"))
	if text == "" {
		return models.OCRPollResult{
			Status:       models.OCRStatusFailed,
			ErrorMessage: "no text detected in document",
		}, nil
	}

	return models.OCRPollResult{Status: models.OCRStatusSucceeded, Text: text}, nil
}
