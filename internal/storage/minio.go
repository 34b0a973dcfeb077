package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/koko2vichan/internal/errors"
	"github.com/maneesh/koko2vichan/internal/files"
)

// MinioMediaStore keeps migrated media in an object storage bucket, with
// object keys equal to vichan-relative paths ("<board>/src/<file>").
type MinioMediaStore struct {
	client     *minio.Client
	bucketName string
}

// NewMinioMediaStore initializes a MinIO client and ensures the bucket exists.
func NewMinioMediaStore(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinioMediaStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, errors.NewConnectivity("minio media store", err)
	}

	if !exists {
		log.Printf("Creating bucket: %s", bucketName)
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Printf("Bucket %s created successfully", bucketName)
	}

	return &MinioMediaStore{client: client, bucketName: bucketName}, nil
}

// Exists reports whether an object is stored under relPath.
func (ms *MinioMediaStore) Exists(ctx context.Context, relPath string) (bool, error) {
	ctx, span := tracer.Start(ctx, "minio.stat_object",
		trace.WithAttributes(
			attribute.String("object_key", relPath),
		),
	)
	defer span.End()

	_, err := ms.client.StatObject(ctx, ms.bucketName, relPath, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			span.SetAttributes(attribute.Bool("found", false))
			return false, nil
		}
		span.RecordError(err)
		return false, fmt.Errorf("failed to stat object: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return true, nil
}

// Put uploads r as relPath.
func (ms *MinioMediaStore) Put(ctx context.Context, relPath string, r io.Reader, size int64) error {
	ctx, span := tracer.Start(ctx, "minio.put_object",
		trace.WithAttributes(
			attribute.String("object_key", relPath),
			attribute.Int64("size_bytes", size),
		),
	)
	defer span.End()

	_, err := ms.client.PutObject(ctx, ms.bucketName, relPath, r, size, minio.PutObjectOptions{
		ContentType: files.ContentType(path.Ext(relPath)),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upload object: %w", err)
	}

	span.SetAttributes(attribute.Bool("upload_success", true))
	return nil
}
