package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/bryanwahyu/labelscan/internal/domain/scanerrors"
)

const defaultCapacity = 500

// ScanErrorRepository keeps the most recent failure records in memory. Used
// when no database is configured.
type ScanErrorRepository struct {
	mu       sync.RWMutex
	items    []*domain.ScanError
	capacity int
	nextID   int64
}

func NewScanErrorRepository(capacity int) *ScanErrorRepository {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &ScanErrorRepository{capacity: capacity}
}

func (r *ScanErrorRepository) Save(_ context.Context, e *domain.ScanError) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	e.ID = r.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := *e
	r.items = append(r.items, &cp)
	if over := len(r.items) - r.capacity; over > 0 {
		r.items = append(r.items[:0:0], r.items[over:]...)
	}
	return nil
}

// ListBySession returns newest first.
func (r *ScanErrorRepository) ListBySession(_ context.Context, sessionID string, limit int) ([]*domain.ScanError, error) {
	if limit <= 0 {
		limit = 20
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ScanError
	for i := len(r.items) - 1; i >= 0 && len(out) < limit; i-- {
		if r.items[i].SessionID == sessionID {
			cp := *r.items[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
