// Package httpstage starts pipeline stages on external processing services
// with a single JSON POST per call.
package httpstage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/infrastructure/logger"
	"github.com/bnema/waveshift/internal/port"
)

const (
	defaultTimeout  = 30 * time.Second
	maxAckBodyBytes = 64 << 10
)

// Config maps each stage to its service endpoint. An empty URL leaves the
// stage unsupported.
type Config struct {
	SeparationURL    string
	TranscriptionURL string
	SynthesisURL     string
	Timeout          time.Duration
}

type Client struct {
	endpoints  map[domain.Stage]string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		endpoints:  make(map[domain.Stage]string),
		httpClient: &http.Client{Timeout: timeout},
	}
	for stage, url := range map[domain.Stage]string{
		domain.StageSeparation:    cfg.SeparationURL,
		domain.StageTranscription: cfg.TranscriptionURL,
		domain.StageSynthesis:     cfg.SynthesisURL,
	} {
		if url = strings.TrimSpace(url); url != "" {
			c.endpoints[stage] = url
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Supports(stage domain.Stage) bool {
	_, ok := c.endpoints[stage]
	return ok
}

// ack is the synchronous acknowledgment. Services name their handle
// differently, so the first non-empty one wins.
type ack struct {
	JobID      string `json:"jobId"`
	WorkflowID string `json:"workflowId"`
	InstanceID string `json:"instanceId"`
	Status     string `json:"status"`
}

func (a ack) handle() string {
	for _, h := range []string{a.JobID, a.WorkflowID, a.InstanceID} {
		if h != "" {
			return h
		}
	}
	return ""
}

// Start sends exactly one request. Any non-2xx answer or transport failure is
// returned as a dispatch error; retrying is left to the caller.
func (c *Client) Start(ctx context.Context, req domain.StageRequest) (domain.StageAck, error) {
	endpoint, ok := c.endpoints[req.Stage]
	if !ok {
		return domain.StageAck{}, domain.DispatchError(0, fmt.Sprintf("no service configured for stage %s", req.Stage), nil)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.StageAck{}, fmt.Errorf("encode stage request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.StageAck{}, domain.DispatchError(0, "build stage request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.StageAck{}, domain.DispatchError(0, fmt.Sprintf("call %s service", req.Stage), err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxAckBodyBytes))
	if err != nil {
		return domain.StageAck{}, domain.DispatchError(resp.StatusCode, fmt.Sprintf("read %s service response", req.Stage), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.StageAck{}, domain.DispatchError(
			resp.StatusCode,
			fmt.Sprintf("%s service rejected task %s", req.Stage, req.TaskID),
			errors.New(logger.Excerpt(string(payload), 200)),
		)
	}

	var a ack
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &a); err != nil {
			logger.Warn.Printf("stage %s for task %s: unreadable acknowledgment: %s",
				req.Stage, req.TaskID, logger.Excerpt(string(payload), 200))
		}
	}

	return domain.StageAck{JobHandle: a.handle(), Status: a.Status}, nil
}

var _ port.StageClient = (*Client)(nil)
