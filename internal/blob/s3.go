package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/loomworks/loom/pkg/models"
)

// S3Config configures an S3-compatible blob store.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PresignTTL      time.Duration
}

// S3Storage stores file bytes in an S3-compatible bucket.
type S3Storage struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucket     string
	prefix     string
	presignTTL time.Duration
}

// NewS3Storage creates an S3-backed blob store.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &S3Storage{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		bucket:     bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		presignTTL: ttl,
	}, nil
}

func (s *S3Storage) Save(ctx context.Context, data []byte, fileID, name string) (*models.FileStoreMetadata, error) {
	key := s.objectKey(fileID + filepath.Ext(name))
	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	input.ContentType = aws.String(contentType)

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("s3 put object: %w", err)
	}

	return &models.FileStoreMetadata{
		Backend:     "s3",
		Bucket:      s.bucket,
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

func (s *S3Storage) Get(ctx context.Context, meta *models.FileStoreMetadata) ([]byte, error) {
	if meta == nil || meta.Key == "" {
		return nil, fmt.Errorf("blob metadata has no key")
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &meta.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read object: %w", err)
	}
	return data, nil
}

func (s *S3Storage) Delete(ctx context.Context, meta *models.FileStoreMetadata) error {
	if meta == nil || meta.Key == "" {
		return nil
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &meta.Key,
	}); err != nil {
		return fmt.Errorf("s3 delete object: %w", err)
	}
	return nil
}

func (s *S3Storage) PresignedURL(ctx context.Context, meta *models.FileStoreMetadata, method string) (string, error) {
	if meta == nil || meta.Key == "" {
		return "", fmt.Errorf("blob metadata has no key")
	}
	expires := func(o *s3.PresignOptions) { o.Expires = s.presignTTL }

	switch strings.ToUpper(method) {
	case "", http.MethodGet:
		req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: &s.bucket,
			Key:    &meta.Key,
		}, expires)
		if err != nil {
			return "", fmt.Errorf("s3 presign get: %w", err)
		}
		return req.URL, nil
	case http.MethodPut:
		req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: &s.bucket,
			Key:    &meta.Key,
		}, expires)
		if err != nil {
			return "", fmt.Errorf("s3 presign put: %w", err)
		}
		return req.URL, nil
	default:
		return "", fmt.Errorf("unsupported presign method %q", method)
	}
}

func (s *S3Storage) objectKey(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}
