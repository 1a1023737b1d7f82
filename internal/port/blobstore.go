package port

import (
	"context"
	"time"

	"github.com/bnema/waveshift/internal/domain"
)

// BlobStore is an S3-compatible object store reached through multipart
// uploads and presigned URLs.
type BlobStore interface {
	CreateMultipartUpload(ctx context.Context, key, contentType string) (uploadID string, err error)
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (url string, err error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []domain.CompletedPart) (objectKey string, err error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	PresignGet(ctx context.Context, key, disposition string, ttl time.Duration) (url string, err error)
}
