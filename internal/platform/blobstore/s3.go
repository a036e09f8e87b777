package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API is the subset of the S3 client used by S3BlobStore.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Object metadata keys; S3 lower-cases user metadata names.
const (
	metaFileName   = "file-name"
	metaIncidentID = "incident-id"
	metaHash       = "sha256"
	metaCreatedAt  = "created-at"
	metaCreatedBy  = "created-by"
	metaSize       = "size"
)

// S3BlobStore keeps each attachment as one object under prefix. Metadata
// travels as object user metadata.
type S3BlobStore struct {
	client s3API
	bucket string
	prefix string
}

// NewS3BlobStore stores objects in bucket under prefix.
func NewS3BlobStore(client s3API, bucket, prefix string) *S3BlobStore {
	return &S3BlobStore{client: client, bucket: bucket, prefix: prefix}
}

// NewS3Client builds an S3 client from the default AWS configuration chain.
// Path-style addressing keeps S3-compatible endpoints (MinIO, LocalStack)
// working.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: cfg.BaseEndpoint,
		UsePathStyle: true,
	}), nil
}

func (s *S3BlobStore) key(id string) string {
	return path.Join(s.prefix, id)
}

// Upload writes content and its metadata as one object.
func (s *S3BlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(meta.ID)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(meta.ContentType),
		ContentLength: aws.Int64(meta.Size),
		Metadata: map[string]string{
			metaFileName:   meta.FileName,
			metaIncidentID: meta.IncidentID,
			metaHash:       meta.Hash,
			metaCreatedAt:  meta.CreatedAt.Format(time.RFC3339Nano),
			metaCreatedBy:  meta.CreatedBy,
			metaSize:       strconv.FormatInt(meta.Size, 10),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", meta.ID, err)
	}
	return &meta, nil
}

// Download streams the object of id. The caller closes the body.
func (s *S3BlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("get object %s: %w", id, err)
	}

	md := resp.Metadata
	meta := &BlobMetadata{
		ID:          id,
		FileName:    md[metaFileName],
		ContentType: aws.ToString(resp.ContentType),
		IncidentID:  md[metaIncidentID],
		Hash:        md[metaHash],
		CreatedBy:   md[metaCreatedBy],
	}
	meta.Size, _ = strconv.ParseInt(md[metaSize], 10, 64)
	meta.CreatedAt, _ = time.Parse(time.RFC3339Nano, md[metaCreatedAt])
	return resp.Body, meta, nil
}

// Delete removes the object of id.
func (s *S3BlobStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", id, err)
	}
	return nil
}
