package repo

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// MemoryRunRepo — RunStore в памяти процесса.
// Используется, когда база данных не настроена, и в тестах.
type MemoryRunRepo struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*domain.Run
}

// NewMemoryRunRepo создаёт пустой MemoryRunRepo.
func NewMemoryRunRepo() *MemoryRunRepo {
	return &MemoryRunRepo{runs: make(map[uuid.UUID]*domain.Run)}
}

// Create сохраняет копию run.
func (r *MemoryRunRepo) Create(_ context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; ok {
		return ErrAlreadyExists
	}
	r.runs[run.ID] = cloneRun(run)
	return nil
}

// Update заменяет сохранённый run копией переданного.
func (r *MemoryRunRepo) Update(_ context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; !ok {
		return ErrNotFound
	}
	r.runs[run.ID] = cloneRun(run)
	return nil
}

// GetByID возвращает копию run.
func (r *MemoryRunRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

// List возвращает run без результатов шагов, новые первыми.
func (r *MemoryRunRepo) List(_ context.Context, filter RunFilter) ([]domain.Run, error) {
	filter = filter.normalized()

	r.mu.RLock()
	matched := make([]domain.Run, 0, len(r.runs))
	for _, run := range r.runs {
		if filter.Pipeline != "" && run.Pipeline != filter.Pipeline {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		summary := *run
		summary.Steps = nil
		matched = append(matched, summary)
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	end := min(filter.Offset+filter.Limit, len(matched))
	return matched[filter.Offset:end], nil
}

// cloneRun копирует run вместе с результатами шагов.
func cloneRun(run *domain.Run) *domain.Run {
	c := *run
	if run.Steps != nil {
		c.Steps = make([]domain.StepResult, len(run.Steps))
		for i, s := range run.Steps {
			s.Outputs = maps.Clone(s.Outputs)
			c.Steps[i] = s
		}
	}
	return &c
}
