package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"clipgen/internal/domain"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type S3Options struct {
	Bucket string
	Region string
	// Endpoint points the client at an S3 compatible service (MinIO, R2).
	Endpoint string
	// Prefix is prepended to every key.
	Prefix string
	Client S3API
}

// S3Store keeps artifacts in an S3 bucket so that API and worker processes
// on different hosts see the same objects.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store builds a client from the default AWS credential chain unless
// opts.Client is set.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	client := opts.Client
	if client == nil {
		var loadOpts []func(*config.LoadOptions) error
		if opts.Region != "" {
			loadOpts = append(loadOpts, config.WithRegion(opts.Region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("storage: load aws config: %w", err)
		}
		endpoint := strings.TrimSpace(opts.Endpoint)
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		})
	}
	prefix := strings.Trim(strings.TrimSpace(opts.Prefix), "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3Store) objectKey(key string) (string, string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	return cleanKey, s.prefix + cleanKey, nil
}

func (s *S3Store) Write(ctx context.Context, key string, data []byte) (string, error) {
	cleanKey, objKey, err := s.objectKey(key)
	if err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
		Body:   bytes.NewReader(data),
	}
	if strings.HasSuffix(cleanKey, ".mp4") {
		input.ContentType = aws.String(domain.ContentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("storage: put %s: %w", objKey, err)
	}
	return cleanKey, nil
}

func (s *S3Store) Read(ctx context.Context, key string) ([]byte, error) {
	_, objKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(objKey)})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("storage: %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get %s: %w", objKey, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", objKey, err)
	}
	return data, nil
}

// Delete checks for the object first; S3 deletes of missing keys succeed
// silently and callers rely on domain.ErrNotFound.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, objKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(objKey)})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return fmt.Errorf("storage: %s: %w", key, domain.ErrNotFound)
		}
		return fmt.Errorf("storage: head %s: %w", objKey, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(objKey)}); err != nil {
		return fmt.Errorf("storage: delete %s: %w", objKey, err)
	}
	return nil
}
