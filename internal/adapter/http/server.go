package http

import (
	"net/http"

	"github.com/bnema/waveshift/internal/adapter/http/middleware"
	"github.com/bnema/waveshift/internal/adapter/http/ratelimit"
)

// Deps gathers what the API needs. Limiter and Metrics may be nil.
type Deps struct {
	Auth        AuthService
	Tasks       TaskService
	Uploads     UploadService
	Dispatcher  Dispatcher
	Callbacks   CallbackService
	Status      StatusService
	Transcripts TranscriptReader
	Limiter     *ratelimit.FailureLimiter
	Metrics     http.Handler
	BehindProxy bool
}

type Server struct {
	mux         *http.ServeMux
	handlers    *Handlers
	sseHandler  *SSEHandler
	authSvc     AuthService
	limiter     *ratelimit.FailureLimiter
	metrics     http.Handler
	behindProxy bool
}

func NewServer(d Deps) *Server {
	sseHandler := NewSSEHandler(d.Status)
	s := &Server{
		mux: http.NewServeMux(),
		handlers: &Handlers{
			tasks:       d.Tasks,
			uploads:     d.Uploads,
			dispatcher:  d.Dispatcher,
			callbacks:   d.Callbacks,
			status:      d.Status,
			transcripts: d.Transcripts,
			sse:         sseHandler,
		},
		sseHandler:  sseHandler,
		authSvc:     d.Auth,
		limiter:     d.Limiter,
		metrics:     d.Metrics,
		behindProxy: d.BehindProxy,
	}

	s.registerRoutes()

	return s
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return AuthMiddleware(s.authSvc, s.limiter, s.behindProxy, next)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", Health())
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	s.mux.HandleFunc("POST /api/tasks", s.auth(s.handlers.CreateTask()))
	s.mux.HandleFunc("GET /api/tasks", s.auth(s.handlers.ListTasks()))
	s.mux.HandleFunc("GET /api/tasks/{id}", s.auth(s.handlers.GetTask()))
	s.mux.HandleFunc("GET /api/tasks/{id}/events", s.auth(s.sseHandler.Events()))

	s.mux.HandleFunc("POST /api/tasks/{id}/upload", s.auth(s.handlers.InitiateUpload()))
	s.mux.HandleFunc("POST /api/tasks/{id}/upload/part-url", s.auth(s.handlers.PartURL()))
	s.mux.HandleFunc("POST /api/tasks/{id}/upload/complete", s.auth(s.handlers.CompleteUpload()))
	s.mux.HandleFunc("POST /api/tasks/{id}/upload/abort", s.auth(s.handlers.AbortUpload()))

	s.mux.HandleFunc("POST /api/tasks/{id}/dispatch", s.auth(s.handlers.Dispatch()))
	s.mux.HandleFunc("GET /api/tasks/{id}/transcript", s.auth(s.handlers.Transcript()))
	s.mux.HandleFunc("GET /api/tasks/{id}/outputs/{kind}", s.auth(s.handlers.Output()))

	// Processing services authenticate with the shared callback secret.
	s.mux.HandleFunc("POST /api/callbacks", s.handlers.Callback())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	middleware.RequestLogger(middleware.SecurityHeaders(s.mux)).ServeHTTP(w, r)
}
