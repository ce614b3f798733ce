package ingest

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// BlobStore fetches document source bytes from object storage, used when a
// SourceBlob reference is submitted instead of inline text.
type BlobStore struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

// NewBlobStore connects to MinIO and ensures the configured bucket exists.
func NewBlobStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, log *zap.Logger) (*BlobStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
		log.Info("created blob storage bucket", zap.String("bucket", bucket))
	}

	return &BlobStore{client: client, bucket: bucket, log: log}, nil
}

// SourceBlob identifies an object-storage location a document's raw bytes
// were uploaded to ahead of ingestion.
type SourceBlob struct {
	Bucket string
	Key    string
}

// FetchText retrieves the object at ref and returns its contents as text.
// Binary-to-text conversion for non-plain-text formats is out of scope here;
// callers are expected to upload already-extracted text.
func (b *BlobStore) FetchText(ctx context.Context, ref SourceBlob) (string, error) {
	bucket := ref.Bucket
	if bucket == "" {
		bucket = b.bucket
	}
	obj, err := b.client.GetObject(ctx, bucket, ref.Key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("fetch object %s/%s: %w", bucket, ref.Key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", fmt.Errorf("read object %s/%s: %w", bucket, ref.Key, err)
	}
	return string(data), nil
}
