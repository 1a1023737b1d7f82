package http

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/infrastructure/logger"
	"github.com/bnema/waveshift/internal/service"
)

// maxCallbackBody bounds callback bodies; transcription results carry every
// segment inline.
const maxCallbackBody = 16 << 20

const callbackAuthHeader = "X-Workflow-Auth"

type TaskService interface {
	Create(ctx context.Context, ownerID string, in service.CreateTaskInput) (*domain.Task, error)
	GetOwned(ctx context.Context, ownerID, id string) (*domain.Task, error)
	List(ctx context.Context, ownerID string) ([]*domain.Task, error)
}

type UploadService interface {
	Initiate(ctx context.Context, ownerID, taskID string) (*domain.UploadSession, error)
	PartURL(ctx context.Context, ownerID, taskID, uploadID string, partNumber int) (*domain.PartURL, error)
	Complete(ctx context.Context, ownerID, taskID, uploadID string, parts []domain.CompletedPart) (*domain.Task, error)
	Abort(ctx context.Context, ownerID, taskID, uploadID string) error
	DownloadURL(ctx context.Context, ownerID, taskID, kind string) (string, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ownerID, taskID string) (*domain.Task, error)
}

type CallbackService interface {
	Authenticate(presented string) error
	Process(ctx context.Context, body []byte) (*service.CallbackOutcome, error)
}

type StatusService interface {
	Get(ctx context.Context, ownerID, taskID string) (*domain.Snapshot, error)
	Stream(ctx context.Context, ownerID, taskID string, emit func(*domain.Snapshot) error) error
}

type TranscriptReader interface {
	GetTranscript(ctx context.Context, id string) (*domain.Transcript, error)
}

type Handlers struct {
	tasks       TaskService
	uploads     UploadService
	dispatcher  Dispatcher
	callbacks   CallbackService
	status      StatusService
	transcripts TranscriptReader
	sse         *SSEHandler
}

type createTaskRequest struct {
	FileName string                 `json:"fileName"`
	FileSize int64                  `json:"fileSize"`
	MimeType string                 `json:"mimeType"`
	Options  domain.PipelineOptions `json:"options"`
}

type partURLRequest struct {
	UploadID   string `json:"uploadId"`
	PartNumber int    `json:"partNumber"`
}

type completeUploadRequest struct {
	UploadID string                 `json:"uploadId"`
	Parts    []domain.CompletedPart `json:"parts"`
}

type abortUploadRequest struct {
	UploadID string `json:"uploadId"`
}

type taskListResponse struct {
	Tasks []domain.Snapshot `json:"tasks"`
}

type callbackResponse struct {
	Accepted bool              `json:"accepted"`
	Applied  bool              `json:"applied"`
	Status   domain.TaskStatus `json:"status"`
}

func snapshotOf(t *domain.Task) domain.Snapshot {
	return t.Snapshot()
}

func (h *Handlers) CreateTask() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTaskRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		t, err := h.tasks.Create(r.Context(), OwnerFrom(r.Context()), service.CreateTaskInput{
			FileName: req.FileName,
			FileSize: req.FileSize,
			MimeType: req.MimeType,
			Options:  req.Options,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, snapshotOf(t))
	}
}

func (h *Handlers) ListTasks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := h.tasks.List(r.Context(), OwnerFrom(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp := taskListResponse{Tasks: make([]domain.Snapshot, 0, len(tasks))}
		for _, t := range tasks {
			resp.Tasks = append(resp.Tasks, snapshotOf(t))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// GetTask answers with a snapshot, or with a status stream when the client
// asks for text/event-stream.
func (h *Handlers) GetTask() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
			h.sse.Events()(w, r)
			return
		}

		snap, err := h.status.Get(r.Context(), OwnerFrom(r.Context()), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func (h *Handlers) InitiateUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := h.uploads.Initiate(r.Context(), OwnerFrom(r.Context()), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

func (h *Handlers) PartURL() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req partURLRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		part, err := h.uploads.PartURL(r.Context(), OwnerFrom(r.Context()), r.PathValue("id"), req.UploadID, req.PartNumber)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, part)
	}
}

func (h *Handlers) CompleteUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req completeUploadRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		t, err := h.uploads.Complete(r.Context(), OwnerFrom(r.Context()), r.PathValue("id"), req.UploadID, req.Parts)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshotOf(t))
	}
}

func (h *Handlers) AbortUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req abortUploadRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		if err := h.uploads.Abort(r.Context(), OwnerFrom(r.Context()), r.PathValue("id"), req.UploadID); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) Dispatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := h.dispatcher.Dispatch(r.Context(), OwnerFrom(r.Context()), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, snapshotOf(t))
	}
}

func (h *Handlers) Transcript() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := h.tasks.GetOwned(r.Context(), OwnerFrom(r.Context()), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if t.Outputs.TranscriptID == "" {
			writeError(w, r, domain.NotFoundf("task %s has no transcript yet", t.ID))
			return
		}

		transcript, err := h.transcripts.GetTranscript(r.Context(), t.Outputs.TranscriptID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, transcript)
	}
}

// Output redirects to a short-lived signed download of one of the task files.
func (h *Handlers) Output() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url, err := h.uploads.DownloadURL(r.Context(), OwnerFrom(r.Context()), r.PathValue("id"), r.PathValue("kind"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
	}
}

// Callback accepts stage notifications. The shared secret is checked before
// the body is read.
func (h *Handlers) Callback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get(callbackAuthHeader)
		if err := h.callbacks.Authenticate(secret); err != nil {
			logger.Warn.Printf("callback rejected from %s: bad credentials", logger.SanitizeForLog(r.RemoteAddr))
			writeError(w, r, err)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
		if err != nil {
			writeError(w, r, domain.Validationf("unreadable callback body: %v", err))
			return
		}

		out, err := h.callbacks.Process(r.Context(), body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, callbackResponse{
			Accepted: true,
			Applied:  out.Applied,
			Status:   out.Task.Status,
		})
	}
}

func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
