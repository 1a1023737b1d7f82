package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/service"
	"github.com/stretchr/testify/require"
)

const (
	testOwner  = "owner-1"
	testSecret = "cb-secret"
)

// fakeAPI implements every service interface the server needs over a map of
// tasks. Set err to make the next call fail.
type fakeAPI struct {
	mu          sync.Mutex
	tasks       map[string]*domain.Task
	transcripts map[string]*domain.Transcript
	err         error

	created     service.CreateTaskInput
	parts       []domain.CompletedPart
	aborted     string
	dispatched  string
	callbacks   [][]byte
	authChecked int

	streamSnaps []domain.Snapshot
	streamErr   error
	streamHold  bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		tasks:       make(map[string]*domain.Task),
		transcripts: make(map[string]*domain.Transcript),
	}
}

func (f *fakeAPI) put(t *domain.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
}

func (f *fakeAPI) owned(ownerID, id string) (*domain.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tasks[id]
	if !ok {
		return nil, domain.NotFoundf("task %s not found", id)
	}
	if t.OwnerID != ownerID {
		return nil, domain.Forbiddenf("task %s belongs to another owner", id)
	}
	return t.Clone(), nil
}

func (f *fakeAPI) Create(_ context.Context, ownerID string, in service.CreateTaskInput) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created = in
	t := domain.NewTask(ownerID, domain.InputDescriptor{
		FileName: in.FileName,
		FileSize: in.FileSize,
		MimeType: in.MimeType,
	}, in.Options, time.Now())
	f.tasks[t.ID] = t
	return t.Clone(), nil
}

func (f *fakeAPI) GetOwned(_ context.Context, ownerID, id string) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owned(ownerID, id)
}

func (f *fakeAPI) List(_ context.Context, ownerID string) ([]*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*domain.Task
	for _, t := range f.tasks {
		if t.OwnerID == ownerID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (f *fakeAPI) Initiate(_ context.Context, ownerID, taskID string) (*domain.UploadSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.owned(ownerID, taskID)
	if err != nil {
		return nil, err
	}
	return &domain.UploadSession{UploadID: "upload-1", ObjectKey: "uploads/" + t.ID, PartSize: 5 << 20, PartCount: 1}, nil
}

func (f *fakeAPI) PartURL(_ context.Context, ownerID, taskID, uploadID string, partNumber int) (*domain.PartURL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.owned(ownerID, taskID); err != nil {
		return nil, err
	}
	if err := domain.ValidatePartNumber(partNumber); err != nil {
		return nil, err
	}
	return &domain.PartURL{PartNumber: partNumber, URL: "https://blobs.test/" + uploadID}, nil
}

func (f *fakeAPI) Complete(_ context.Context, ownerID, taskID, _ string, parts []domain.CompletedPart) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.owned(ownerID, taskID)
	if err != nil {
		return nil, err
	}
	f.parts = parts
	t.Status = domain.TaskStatusUploaded
	return t, nil
}

func (f *fakeAPI) Abort(_ context.Context, ownerID, taskID, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.owned(ownerID, taskID); err != nil {
		return err
	}
	f.aborted = uploadID
	return nil
}

func (f *fakeAPI) DownloadURL(_ context.Context, ownerID, taskID, kind string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.owned(ownerID, taskID); err != nil {
		return "", err
	}
	return "https://blobs.test/" + taskID + "/" + kind, nil
}

func (f *fakeAPI) Dispatch(_ context.Context, ownerID, taskID string) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.owned(ownerID, taskID)
	if err != nil {
		return nil, err
	}
	f.dispatched = taskID
	t.Status = domain.TaskStatusSeparating
	return t, nil
}

func (f *fakeAPI) Authenticate(presented string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authChecked++
	if presented != testSecret {
		return domain.Unauthorizedf("invalid callback credentials")
	}
	return nil
}

func (f *fakeAPI) Process(_ context.Context, body []byte) (*service.CallbackOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, body)
	cb, err := domain.ParseCallback(body)
	if err != nil {
		return nil, err
	}
	t, ok := f.tasks[cb.TaskID]
	if !ok {
		return nil, domain.NotFoundf("task %s not found", cb.TaskID)
	}
	return &service.CallbackOutcome{Task: t.Clone(), Applied: true}, nil
}

func (f *fakeAPI) Get(_ context.Context, ownerID, taskID string) (*domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.owned(ownerID, taskID)
	if err != nil {
		return nil, err
	}
	snap := t.Snapshot()
	return &snap, nil
}

// Stream replays streamSnaps, then returns streamErr. With streamHold set it
// waits for ctx instead.
func (f *fakeAPI) Stream(ctx context.Context, ownerID, taskID string, emit func(*domain.Snapshot) error) error {
	f.mu.Lock()
	_, err := f.owned(ownerID, taskID)
	snaps := append([]domain.Snapshot(nil), f.streamSnaps...)
	streamErr, hold := f.streamErr, f.streamHold
	f.mu.Unlock()
	if err != nil {
		return err
	}

	for i := range snaps {
		if err := emit(&snaps[i]); err != nil {
			return err
		}
	}
	if hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return streamErr
}

func (f *fakeAPI) GetTranscript(_ context.Context, id string) (*domain.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.transcripts[id]
	if !ok {
		return nil, domain.NotFoundf("transcript %s not found", id)
	}
	return tr, nil
}

type testServer struct {
	api   *fakeAPI
	auth  *service.AuthService
	token string
	srv   *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	api := newFakeAPI()
	auth := service.NewAuthService("token-secret", time.Hour)
	token, err := auth.GenerateToken(testOwner)
	require.NoError(t, err)

	srv := NewServer(Deps{
		Auth:        auth,
		Tasks:       api,
		Uploads:     api,
		Dispatcher:  api,
		Callbacks:   api,
		Status:      api,
		Transcripts: api,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("waveshift_callbacks_total 0\n"))
		}),
	})
	return &testServer{api: api, auth: auth, token: token, srv: srv}
}

func (ts *testServer) seed(status domain.TaskStatus) *domain.Task {
	t := domain.NewTask(testOwner, domain.InputDescriptor{
		FileName: "clip.mp4",
		FileSize: 1048576,
		MimeType: "video/mp4",
	}, domain.PipelineOptions{TargetLanguage: "en"}, time.Now())
	t.Status = status
	ts.api.put(t)
	return t
}

func (ts *testServer) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+ts.token)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}
