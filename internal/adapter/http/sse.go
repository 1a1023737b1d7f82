package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/infrastructure/logger"
)

type SSEHandler struct {
	status    StatusService
	keepAlive time.Duration
}

func NewSSEHandler(status StatusService) *SSEHandler {
	return &SSEHandler{
		status:    status,
		keepAlive: 15 * time.Second,
	}
}

// sseWrite writes an SSE event, handling multi-line data correctly. An empty
// event name produces a default "message" event.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	if eventName != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	}
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// sendKeepAlive writes an SSE comment to keep the connection active.
func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// eventStream serializes writes from the status stream and the keep-alive
// loop. Headers go out with the first event so errors raised before it can
// still be answered with a plain JSON error.
type eventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	started bool
}

func (s *eventStream) start() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *eventStream) send(event, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start()
	sseWrite(s.w, event, data)
}

func (s *eventStream) ping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		sendKeepAlive(s.w)
	}
}

func (s *eventStream) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Events streams task snapshots until the task reaches a terminal status or
// the client goes away.
func (h *SSEHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		stream := &eventStream{w: w}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(h.keepAlive)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					stream.ping()
				}
			}
		}()

		err := h.status.Stream(ctx, OwnerFrom(ctx), r.PathValue("id"), func(snap *domain.Snapshot) error {
			data, err := json.Marshal(snap)
			if err != nil {
				return err
			}
			stream.send("", string(data))
			return nil
		})
		cancel()
		wg.Wait()

		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		case !stream.isStarted():
			writeError(w, r, err)
		default:
			_, body := errorPayload(err)
			data, _ := json.Marshal(body)
			logger.Warn.Printf("status stream for %s ended: %v", logger.SanitizeForLog(r.PathValue("id")), err)
			stream.send("error", string(data))
		}
	}
}
