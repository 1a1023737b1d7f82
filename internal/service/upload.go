package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/infrastructure/logger"
	"github.com/bnema/waveshift/internal/infrastructure/metrics"
	"github.com/bnema/waveshift/internal/port"
	"github.com/bnema/waveshift/internal/validation"
)

// Output kinds a client may download.
const (
	OutputSource      = "source"
	OutputAudio       = "audio"
	OutputVideo       = "video"
	OutputSynthesized = "synthesized"
)

type UploadConfig struct {
	PartSize       int64
	PartURLTTL     time.Duration
	DownloadURLTTL time.Duration
}

// UploadService coordinates direct-to-bucket multipart uploads. It never sees
// file bytes; it only names objects, signs URLs and closes sessions.
type UploadService struct {
	tasks   *TaskService
	blobs   port.BlobStore
	cfg     UploadConfig
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewUploadService(tasks *TaskService, blobs port.BlobStore, cfg UploadConfig, m *metrics.Metrics) *UploadService {
	if cfg.PartSize <= 0 {
		cfg.PartSize = 10 << 20
	}
	if cfg.PartURLTTL <= 0 {
		cfg.PartURLTTL = 30 * time.Minute
	}
	if cfg.DownloadURLTTL <= 0 {
		cfg.DownloadURLTTL = 15 * time.Minute
	}
	return &UploadService{
		tasks:   tasks,
		blobs:   blobs,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

// partSizeFor grows the part size in whole MiB when the configured size would
// need more parts than S3 allows.
func (s *UploadService) partSizeFor(fileSize int64) int64 {
	size := s.cfg.PartSize
	if domain.PartCount(fileSize, size) <= domain.MaxPartNumber {
		return size
	}
	const mib = 1 << 20
	min := (fileSize + domain.MaxPartNumber - 1) / domain.MaxPartNumber
	return (min + mib - 1) / mib * mib
}

// Initiate opens a multipart session. From created it moves the task to
// uploading; from uploading it replaces the current session id. The replaced
// session is not aborted since the client may still be finishing parts on it.
func (s *UploadService) Initiate(ctx context.Context, ownerID, taskID string) (*domain.UploadSession, error) {
	t, err := s.tasks.GetOwned(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TaskStatusCreated && t.Status != domain.TaskStatusUploading {
		return nil, domain.Conflictf("task %s is %s; uploads can only start before the file is uploaded", taskID, t.Status)
	}

	uploadID, err := s.blobs.CreateMultipartUpload(ctx, t.Input.ObjectKey, t.Input.MimeType)
	s.metrics.UploadOp("initiate", err)
	if err != nil {
		logger.Error.Printf("task %s: failed to open multipart upload: %v", taskID, err)
		return nil, err
	}

	patch := domain.TaskPatch{UploadID: domain.StringPtr(uploadID)}
	if t.Status == domain.TaskStatusCreated {
		_, err = s.tasks.Transition(ctx, taskID, domain.TaskStatusCreated, domain.TaskStatusUploading, patch)
	} else {
		_, err = s.tasks.Amend(ctx, taskID, domain.TaskStatusUploading, patch, nil)
	}
	if err != nil {
		// The session was never recorded; release it so it does not linger.
		if abortErr := s.blobs.AbortMultipartUpload(ctx, t.Input.ObjectKey, uploadID); abortErr != nil {
			logger.Warn.Printf("task %s: failed to abort unrecorded upload %s: %v", taskID, uploadID, abortErr)
		}
		return nil, err
	}

	partSize := s.partSizeFor(t.Input.FileSize)
	logger.Info.Printf("task %s: upload %s opened (%d parts of %d bytes)",
		taskID, logger.SanitizeForLog(uploadID), domain.PartCount(t.Input.FileSize, partSize), partSize)

	return &domain.UploadSession{
		UploadID:  uploadID,
		ObjectKey: t.Input.ObjectKey,
		PartSize:  partSize,
		PartCount: domain.PartCount(t.Input.FileSize, partSize),
	}, nil
}

// currentSession loads the task and checks that uploadID is its open session.
func (s *UploadService) currentSession(ctx context.Context, ownerID, taskID, uploadID string) (*domain.Task, error) {
	t, err := s.tasks.GetOwned(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	if uploadID == "" {
		return nil, domain.Validationf("uploadId is required")
	}
	if t.Status != domain.TaskStatusUploading {
		return nil, domain.Conflictf("task %s is %s, not uploading", taskID, t.Status)
	}
	if t.UploadID != uploadID {
		return nil, domain.Conflictf("upload %s is not the current session of task %s", uploadID, taskID)
	}
	return t, nil
}

func (s *UploadService) PartURL(ctx context.Context, ownerID, taskID, uploadID string, partNumber int) (*domain.PartURL, error) {
	if err := domain.ValidatePartNumber(partNumber); err != nil {
		return nil, err
	}
	t, err := s.currentSession(ctx, ownerID, taskID, uploadID)
	if err != nil {
		return nil, err
	}

	url, err := s.blobs.PresignUploadPart(ctx, t.Input.ObjectKey, uploadID, partNumber, s.cfg.PartURLTTL)
	s.metrics.UploadOp("part_url", err)
	if err != nil {
		logger.Error.Printf("task %s: failed to sign part %d: %v", taskID, partNumber, err)
		return nil, fmt.Errorf("sign part %d: %w", partNumber, err)
	}

	return &domain.PartURL{
		PartNumber: partNumber,
		URL:        url,
		ExpiresAt:  s.now().Add(s.cfg.PartURLTTL).UTC(),
	}, nil
}

// Complete validates the part list before touching the blob store, then
// commits the object and moves the task to uploaded. Repeating a completion
// that already succeeded returns the task unchanged.
func (s *UploadService) Complete(ctx context.Context, ownerID, taskID, uploadID string, parts []domain.CompletedPart) (*domain.Task, error) {
	t, err := s.tasks.GetOwned(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.Reached(domain.TaskStatusUploaded) && t.Status != domain.TaskStatusFailed && t.UploadID == uploadID {
		logger.Info.Printf("task %s: duplicate completion of upload %s ignored", taskID, logger.SanitizeForLog(uploadID))
		return t, nil
	}

	sorted, err := domain.CanonicalParts(parts)
	if err != nil {
		return nil, err
	}
	t, err = s.currentSession(ctx, ownerID, taskID, uploadID)
	if err != nil {
		return nil, err
	}

	key, err := s.blobs.CompleteMultipartUpload(ctx, t.Input.ObjectKey, uploadID, sorted)
	s.metrics.UploadOp("complete", err)
	if err != nil {
		logger.Error.Printf("task %s: failed to complete upload %s: %v", taskID, logger.SanitizeForLog(uploadID), err)
		return nil, err
	}

	return s.tasks.Transition(ctx, taskID, domain.TaskStatusUploading, domain.TaskStatusUploaded, domain.TaskPatch{
		UploadedPath: domain.StringPtr(key),
	})
}

// Abort releases the session. The task keeps its status; the client decides
// whether to initiate again.
func (s *UploadService) Abort(ctx context.Context, ownerID, taskID, uploadID string) error {
	t, err := s.currentSession(ctx, ownerID, taskID, uploadID)
	if err != nil {
		return err
	}

	err = s.blobs.AbortMultipartUpload(ctx, t.Input.ObjectKey, uploadID)
	s.metrics.UploadOp("abort", err)
	if err != nil {
		return err
	}

	logger.Info.Printf("task %s: upload %s aborted", taskID, logger.SanitizeForLog(uploadID))
	return nil
}

// DownloadURL signs a GET for the source file or one of the stage outputs.
func (s *UploadService) DownloadURL(ctx context.Context, ownerID, taskID, kind string) (string, error) {
	t, err := s.tasks.GetOwned(ctx, ownerID, taskID)
	if err != nil {
		return "", err
	}

	var key, name string
	switch kind {
	case OutputSource:
		key, name = t.UploadedPath, t.Input.FileName
	case OutputAudio:
		key = t.Outputs.AudioPath
	case OutputVideo:
		key = t.Outputs.VideoPath
	case OutputSynthesized:
		key = t.Outputs.SynthesizedPath
	default:
		return "", domain.Validationf("unknown output kind %q", kind)
	}
	if key == "" {
		return "", domain.NotFoundf("task %s has no %s output yet", taskID, kind)
	}
	if name == "" {
		name = path.Base(key)
	}

	url, err := s.blobs.PresignGet(ctx, key, validation.ContentDisposition(name), s.cfg.DownloadURLTTL)
	if err != nil {
		return "", fmt.Errorf("sign download: %w", err)
	}
	return url, nil
}

// isConflict reports whether err is a lost expected-status race.
func isConflict(err error) bool {
	return errors.Is(err, domain.ErrConflict)
}
