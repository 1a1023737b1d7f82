package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bnema/waveshift/internal/domain"
)

// memStore is an in-memory TaskStore and TranscriptStore.
type memStore struct {
	mu          sync.Mutex
	tasks       map[string]*domain.Task
	transcripts map[string]*domain.Transcript
	updateErr   error
}

func newMemStore() *memStore {
	return &memStore{
		tasks:       make(map[string]*domain.Task),
		transcripts: make(map[string]*domain.Transcript),
	}
}

func (m *memStore) Create(_ context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return domain.Conflictf("task %s already exists", t.ID)
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.NotFoundf("task %s not found", id)
	}
	return t.Clone(), nil
}

func (m *memStore) ListByOwner(_ context.Context, ownerID string) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if t.OwnerID == ownerID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ListStale(_ context.Context, statuses []domain.TaskStatus, updatedBefore time.Time) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		for _, s := range statuses {
			if t.Status == s && t.UpdatedAt.Before(updatedBefore) {
				out = append(out, t.Clone())
			}
		}
	}
	return out, nil
}

func (m *memStore) Update(_ context.Context, id string, expected domain.TaskStatus, fn func(*domain.Task) error) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	cur, ok := m.tasks[id]
	if !ok {
		return nil, domain.NotFoundf("task %s not found", id)
	}
	if cur.Status != expected {
		return nil, domain.Conflictf("task %s is %s, expected %s", id, cur.Status, expected)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.tasks[id] = next
	return next.Clone(), nil
}

// put stores t as is, bypassing the transition rules.
func (m *memStore) put(t *domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t.Clone()
}

func (m *memStore) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
}

func (m *memStore) SaveTranscript(_ context.Context, t *domain.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	c.Segments = append([]domain.Segment(nil), t.Segments...)
	m.transcripts[t.ID] = &c
	return nil
}

func (m *memStore) GetTranscript(_ context.Context, id string) (*domain.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transcripts[id]
	if !ok {
		return nil, domain.NotFoundf("transcript %s not found", id)
	}
	c := *t
	return &c, nil
}

// fakeBlobs records every call made to the blob store.
type fakeBlobs struct {
	mu        sync.Mutex
	calls     []string
	uploadSeq int
	completed [][]domain.CompletedPart
	createErr error
	errAll    error
}

func (f *fakeBlobs) record(op string) {
	f.calls = append(f.calls, op)
}

func (f *fakeBlobs) CreateMultipartUpload(_ context.Context, key, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create")
	if f.createErr != nil {
		return "", f.createErr
	}
	f.uploadSeq++
	return fmt.Sprintf("upload-%d", f.uploadSeq), nil
}

func (f *fakeBlobs) PresignUploadPart(_ context.Context, key, uploadID string, partNumber int, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("presign_part")
	if f.errAll != nil {
		return "", f.errAll
	}
	return fmt.Sprintf("https://bucket.example/%s?uploadId=%s&partNumber=%d", key, uploadID, partNumber), nil
}

func (f *fakeBlobs) CompleteMultipartUpload(_ context.Context, key, _ string, parts []domain.CompletedPart) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("complete")
	if f.errAll != nil {
		return "", f.errAll
	}
	f.completed = append(f.completed, parts)
	return key, nil
}

func (f *fakeBlobs) AbortMultipartUpload(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("abort")
	return f.errAll
}

func (f *fakeBlobs) PresignGet(_ context.Context, key, disposition string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("presign_get")
	if f.errAll != nil {
		return "", f.errAll
	}
	return "https://bucket.example/" + key + "?disposition=" + disposition, nil
}

func (f *fakeBlobs) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeStages acknowledges every request unless err is set.
type fakeStages struct {
	mu        sync.Mutex
	requests  []domain.StageRequest
	ack       domain.StageAck
	err       error
	delay     time.Duration
	supported map[domain.Stage]bool
}

func newFakeStages() *fakeStages {
	return &fakeStages{
		ack: domain.StageAck{JobHandle: "job-1", Status: "queued"},
		supported: map[domain.Stage]bool{
			domain.StageSeparation:    true,
			domain.StageTranscription: true,
			domain.StageSynthesis:     true,
		},
	}
}

func (f *fakeStages) Start(_ context.Context, req domain.StageRequest) (domain.StageAck, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.StageAck{}, f.err
	}
	return f.ack, nil
}

func (f *fakeStages) Supports(stage domain.Stage) bool {
	return f.supported[stage]
}

func (f *fakeStages) sent() []domain.StageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.StageRequest(nil), f.requests...)
}

// fixture wires every service over the fakes.
type fixture struct {
	store      *memStore
	blobs      *fakeBlobs
	stages     *fakeStages
	events     *EventBus
	tasks      *TaskService
	uploads    *UploadService
	dispatcher *Dispatcher
	callbacks  *CallbackService
}

const (
	testOwner          = "owner-1"
	testCallbackSecret = "cb-secret"
	testCallbackURL    = "https://orchestrator.example/api/callbacks"
)

func newFixture() *fixture {
	f := &fixture{
		store:  newMemStore(),
		blobs:  &fakeBlobs{},
		stages: newFakeStages(),
		events: NewEventBus(),
	}
	f.tasks = NewTaskService(f.store, 100<<20, true, nil).WithEvents(f.events)
	f.uploads = NewUploadService(f.tasks, f.blobs, UploadConfig{PartSize: 5 << 20}, nil)
	f.dispatcher = NewDispatcher(f.tasks, f.stages, testCallbackURL, nil)
	f.callbacks = NewCallbackService(f.tasks, f.store, f.dispatcher, testCallbackSecret, nil)
	return f
}

// seed stores a task already in status with the given handle.
func (f *fixture) seed(status domain.TaskStatus, synthesize bool, handle string) *domain.Task {
	now := time.Now().UTC()
	t := domain.NewTask(testOwner, domain.InputDescriptor{
		FileName:  "clip.mp4",
		FileSize:  1 << 20,
		MimeType:  "video/mp4",
		ObjectKey: "uploads/owner-1/x/clip.mp4",
	}, domain.PipelineOptions{TargetLanguage: "fr", Synthesize: synthesize}, now)
	t.Status = status
	t.Progress = status.Milestone()
	t.UploadID = "upload-seeded"
	t.JobHandle = handle
	if status.Reached(domain.TaskStatusUploaded) {
		t.UploadedPath = t.Input.ObjectKey
	}
	if status.Reached(domain.TaskStatusTranscribing) {
		t.Outputs.AudioPath = "stems/vocals.wav"
		t.Outputs.VideoPath = "stems/video.mp4"
	}
	f.store.put(t)
	return t
}
