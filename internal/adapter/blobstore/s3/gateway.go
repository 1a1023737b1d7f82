// Package s3 issues multipart uploads and presigned URLs against an
// S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/port"
)

type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return errors.New("S3 credentials are required")
	}
	return nil
}

// Gateway holds no per-upload state: every call names the key and upload id.
type Gateway struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

func New(ctx context.Context, cfg Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid S3 configuration: %w", err)
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		// S3-compatible stores reject the default CRC32 trailers on multipart calls.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &Gateway{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

func (g *Gateway) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	out, err := g.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", uploadError("create multipart upload", err)
	}
	if aws.ToString(out.UploadId) == "" {
		return "", domain.UploadError(0, "create multipart upload returned no upload id", nil)
	}
	return aws.ToString(out.UploadId), nil
}

// PresignUploadPart signs a PUT for a single part. The payload is left
// unsigned so the client can stream it.
func (g *Gateway) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error) {
	req, err := g.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(g.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign part %d: %w", partNumber, err)
	}
	return req.URL, nil
}

// CompleteMultipartUpload expects parts already sorted and gap-free.
func (g *Gateway) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []domain.CompletedPart) (string, error) {
	completed := make([]s3types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = s3types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.PartNumber)),
		}
	}

	out, err := g.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(g.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", uploadError("complete multipart upload", err)
	}
	if k := aws.ToString(out.Key); k != "" {
		return k, nil
	}
	return key, nil
}

func (g *Gateway) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := g.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return uploadError("abort multipart upload", err)
	}
	return nil
}

func (g *Gateway) PresignGet(ctx context.Context, key, disposition string, ttl time.Duration) (string, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}
	if disposition != "" {
		in.ResponseContentDisposition = aws.String(disposition)
	}
	req, err := g.presign.PresignGetObject(ctx, in, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// uploadError keeps the store's HTTP status and error code.
func uploadError(op string, err error) error {
	status := 0
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		status = re.HTTPStatusCode()
	}

	msg := op + " failed"
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg = fmt.Sprintf("%s failed: %s", op, apiErr.ErrorCode())
	}
	return domain.UploadError(status, msg, err)
}

var _ port.BlobStore = (*Gateway)(nil)
