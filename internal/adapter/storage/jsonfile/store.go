package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/bnema/waveshift/internal/port"
	"github.com/gofrs/flock"
)

// Store keeps every task and transcript in memory and rewrites a single JSON
// document on each change. It suits single-node development setups; a lock
// file next to the document keeps a second process from opening it.
type Store struct {
	mu          sync.RWMutex
	path        string
	lock        *flock.Flock
	tasks       map[string]*domain.Task
	transcripts map[string]*domain.Transcript
}

type document struct {
	Tasks       []*domain.Task       `json:"tasks"`
	Transcripts []*domain.Transcript `json:"transcripts"`
}

func NewStore(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "waveshift.json")

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("store %s is in use by another process", path)
	}

	store := &Store{
		path:        path,
		lock:        lock,
		tasks:       make(map[string]*domain.Task),
		transcripts: make(map[string]*domain.Transcript),
	}

	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			_ = lock.Unlock()
			return nil, err
		}
	}

	return store, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	for _, t := range doc.Tasks {
		s.tasks[t.ID] = t
	}
	for _, tr := range doc.Transcripts {
		s.transcripts[tr.ID] = tr
	}

	return nil
}

func (s *Store) save() error {
	tmpPath := s.path + ".tmp"

	doc := document{
		Tasks:       make([]*domain.Task, 0, len(s.tasks)),
		Transcripts: make([]*domain.Transcript, 0, len(s.transcripts)),
	}
	for _, t := range s.tasks {
		doc.Tasks = append(doc.Tasks, t)
	}
	for _, tr := range s.transcripts {
		doc.Transcripts = append(doc.Transcripts, tr)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmpPath, s.path)
}

// Close releases the lock file. The document is already on disk.
func (s *Store) Close() error {
	return s.lock.Unlock()
}

func (s *Store) Create(_ context.Context, t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return domain.Conflictf("task %s already exists", t.ID)
	}
	s.tasks[t.ID] = t.Clone()
	if err := s.save(); err != nil {
		delete(s.tasks, t.ID)
		return err
	}
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.NotFoundf("task %s not found", id)
	}

	return t.Clone(), nil
}

func (s *Store) ListByOwner(_ context.Context, ownerID string) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []*domain.Task
	for _, t := range s.tasks {
		if t.OwnerID == ownerID {
			tasks = append(tasks, t.Clone())
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	return tasks, nil
}

func (s *Store) ListStale(_ context.Context, statuses []domain.TaskStatus, updatedBefore time.Time) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*domain.Task
	for _, t := range s.tasks {
		if !t.UpdatedAt.Before(updatedBefore) {
			continue
		}
		for _, st := range statuses {
			if t.Status == st {
				stale = append(stale, t.Clone())
				break
			}
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})

	return stale, nil
}

// Update applies fn to a copy under the write lock and only publishes the copy
// once it has been persisted.
func (s *Store) Update(_ context.Context, id string, expected domain.TaskStatus, fn func(t *domain.Task) error) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[id]
	if !ok {
		return nil, domain.NotFoundf("task %s not found", id)
	}
	if current.Status != expected {
		return nil, domain.Conflictf("task %s is %s, expected %s", id, current.Status, expected)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	s.tasks[id] = next
	if err := s.save(); err != nil {
		s.tasks[id] = current
		return nil, err
	}

	return next.Clone(), nil
}

func (s *Store) SaveTranscript(_ context.Context, tr *domain.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.transcripts[tr.ID]
	c := *tr
	c.Segments = append([]domain.Segment(nil), tr.Segments...)
	s.transcripts[tr.ID] = &c
	if err := s.save(); err != nil {
		if had {
			s.transcripts[tr.ID] = prev
		} else {
			delete(s.transcripts, tr.ID)
		}
		return err
	}
	return nil
}

func (s *Store) GetTranscript(_ context.Context, id string) (*domain.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, ok := s.transcripts[id]
	if !ok {
		return nil, domain.NotFoundf("transcript %s not found", id)
	}

	c := *tr
	c.Segments = append([]domain.Segment{}, tr.Segments...)
	return &c, nil
}

var (
	_ port.TaskStore       = (*Store)(nil)
	_ port.TranscriptStore = (*Store)(nil)
)
