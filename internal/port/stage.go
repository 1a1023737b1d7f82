package port

import (
	"context"

	"github.com/bnema/waveshift/internal/domain"
)

// StageClient invokes an external processing service once.
type StageClient interface {
	Start(ctx context.Context, req domain.StageRequest) (domain.StageAck, error)
	Supports(stage domain.Stage) bool
}
