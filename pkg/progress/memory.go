package progress

import (
	"context"
	"sync"
	"time"

	"github.com/trendwatch/trendwatch/pkg/models"
)

// MemoryStore is an in-process Store for tests and single-process runs.
// TTLs are not enforced; records live until deleted.
type MemoryStore struct {
	mu       sync.Mutex
	entities map[models.EntityRef]*models.EntityProgress
	taskSets map[models.EntityRef][]string
	tasks    map[string]*models.TaskProgress
}

// NewMemoryStore creates an empty in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[models.EntityRef]*models.EntityProgress),
		taskSets: make(map[models.EntityRef][]string),
		tasks:    make(map[string]*models.TaskProgress),
	}
}

func (s *MemoryStore) entity(ref models.EntityRef) *models.EntityProgress {
	p, ok := s.entities[ref]
	if !ok {
		p = &models.EntityProgress{}
		s.entities[ref] = p
	}
	return p
}

// SetPhase writes the entity's phase.
func (s *MemoryStore) SetPhase(_ context.Context, ref models.EntityRef, phase models.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.entity(ref)
	p.Phase = phase
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// SetCrawling enters the crawling phase with total expected children.
func (s *MemoryStore) SetCrawling(_ context.Context, ref models.EntityRef, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.entity(ref)
	p.Phase = models.PhaseCrawling
	p.Total = total
	p.Done = 0
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// SetStep updates the current-action string.
func (s *MemoryStore) SetStep(_ context.Context, ref models.EntityRef, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.entity(ref)
	p.Step = step
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// SetError enters the error phase with a message.
func (s *MemoryStore) SetError(_ context.Context, ref models.EntityRef, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.entity(ref)
	p.Phase = models.PhaseError
	p.ErrorMsg = msg
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrDone atomically increments the done counter.
func (s *MemoryStore) IncrDone(_ context.Context, ref models.EntityRef) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.entity(ref)
	p.Done++
	p.UpdatedAt = time.Now().UTC()
	return p.Done, nil
}

// Get reads the entity progress record.
func (s *MemoryStore) Get(_ context.Context, ref models.EntityRef) (*models.EntityProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entities[ref]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *p
	if clone.Done < 0 {
		clone.Done = 0
	}
	return &clone, nil
}

// ReplaceTaskSet atomically replaces the entity's child task-id set.
func (s *MemoryStore) ReplaceTaskSet(_ context.Context, ref models.EntityRef, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskSets[ref] = append([]string(nil), ids...)
	return nil
}

// TaskSet reads the entity's child task-id set.
func (s *MemoryStore) TaskSet(_ context.Context, ref models.EntityRef) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.taskSets[ref]...), nil
}

// DeleteTaskSet removes the entity's child task-id set.
func (s *MemoryStore) DeleteTaskSet(_ context.Context, ref models.EntityRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.taskSets, ref)
	return nil
}

// SetTaskProgress writes the progress message for one task.
func (s *MemoryStore) SetTaskProgress(_ context.Context, taskID string, p *models.TaskProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *p
	clone.UpdatedAt = time.Now().UTC()
	s.tasks[taskID] = &clone
	return nil
}

// TaskProgress reads the progress message for one task.
func (s *MemoryStore) TaskProgress(_ context.Context, taskID string) (*models.TaskProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *p
	return &clone, nil
}

// DeleteTaskProgress removes the progress message for one task.
func (s *MemoryStore) DeleteTaskProgress(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	return nil
}
