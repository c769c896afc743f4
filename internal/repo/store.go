package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// DefaultListLimit — размер страницы List по умолчанию.
const DefaultListLimit = 50

// RunStore — хранилище истории run.
//
// Реализации: RunRepo (PostgreSQL), MemoryRunRepo.
type RunStore interface {
	// Create сохраняет новый run.
	Create(ctx context.Context, run *domain.Run) error

	// Update сохраняет статус run и результаты шагов.
	Update(ctx context.Context, run *domain.Run) error

	// GetByID возвращает run вместе с результатами шагов.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// List возвращает run без результатов шагов, новые первыми.
	List(ctx context.Context, filter RunFilter) ([]domain.Run, error)
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Pipeline string
	Status   domain.RunStatus
	Limit    int
	Offset   int
}

// normalized возвращает фильтр с лимитом по умолчанию.
func (f RunFilter) normalized() RunFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

var (
	_ RunStore = (*RunRepo)(nil)
	_ RunStore = (*MemoryRunRepo)(nil)
)
