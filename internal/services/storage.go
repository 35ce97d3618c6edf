package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"alfredoptarigan/entity-brain/internal/config"
)

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".xlsx": true,
	".txt":  true,
	".md":   true,
	".csv":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// BlobRef locates a stored document for collaborators that read it directly (OCR).
type BlobRef struct {
	Bucket string
	Key    string
}

type StorageService interface {
	SaveFile(ctx context.Context, file *multipart.FileHeader, entityID uuid.UUID) (string, string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Ref(key string) BlobRef
	DeleteFile(ctx context.Context, key string) error
	EnsureUploadDir() error
}

// NewStorageService picks S3 when a bucket is configured and the local upload dir otherwise.
func NewStorageService(ctx context.Context, cfg config.StorageConfig) (StorageService, error) {
	if cfg.S3Bucket == "" {
		return &storageService{uploadPath: cfg.UploadPath}, nil
	}

	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &s3StorageService{client: client, bucket: cfg.S3Bucket}, nil
}

func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return awsCfg, nil
}

func newS3Client(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg.S3Region)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	}), nil
}

func blobName(file *multipart.FileHeader, entityID uuid.UUID) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		return "", "", fmt.Errorf("invalid file extension: %s", ext)
	}
	uniqueFilename := fmt.Sprintf("%s%s", uuid.New().String(), ext)
	return uniqueFilename, filepath.ToSlash(filepath.Join(entityID.String(), uniqueFilename)), nil
}

type storageService struct {
	uploadPath string
}

func (s *storageService) EnsureUploadDir() error {
	if err := os.MkdirAll(s.uploadPath, 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	return nil
}

func (s *storageService) SaveFile(_ context.Context, file *multipart.FileHeader, entityID uuid.UUID) (string, string, error) {
	uniqueFilename, key, err := blobName(file, entityID)
	if err != nil {
		return "", "", err
	}

	filePath := filepath.Join(s.uploadPath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", "", fmt.Errorf("failed to create entity directory: %w", err)
	}

	// Open source file
	src, err := file.Open()
	if err != nil {
		return "", "", fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	// Create destination file
	dst, err := os.Create(filePath)
	if err != nil {
		return "", "", fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dst.Close()

	// Copy file
	if _, err := io.Copy(dst, src); err != nil {
		return "", "", fmt.Errorf("failed to save file: %w", err)
	}

	return uniqueFilename, key, nil
}

func (s *storageService) Fetch(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.uploadPath, filepath.FromSlash(key)))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Ref has no bucket for local files, so OCR cannot reach them.
func (s *storageService) Ref(key string) BlobRef {
	return BlobRef{Key: key}
}

func (s *storageService) DeleteFile(_ context.Context, key string) error {
	if err := os.Remove(filepath.Join(s.uploadPath, filepath.FromSlash(key))); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

type s3StorageService struct {
	client *s3.Client
	bucket string
}

func (s *s3StorageService) EnsureUploadDir() error {
	return nil
}

func (s *s3StorageService) SaveFile(ctx context.Context, file *multipart.FileHeader, entityID uuid.UUID) (string, string, error) {
	uniqueFilename, key, err := blobName(file, entityID)
	if err != nil {
		return "", "", err
	}

	src, err := file.Open()
	if err != nil {
		return "", "", fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	body, err := io.ReadAll(src)
	if err != nil {
		return "", "", fmt.Errorf("failed to read uploaded file: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(file.Header.Get("Content-Type")),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to put object: %w", err)
	}

	return uniqueFilename, key, nil
}

func (s *s3StorageService) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (s *s3StorageService) Ref(key string) BlobRef {
	return BlobRef{Bucket: s.bucket, Key: key}
}

func (s *s3StorageService) DeleteFile(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
