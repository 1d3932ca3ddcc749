package deadletter

import (
	"context"
	"sync"

	"fieldsync/internal/models"
)

// MemorySink keeps dead letters in memory, bounded to the newest maxSize
// entries. Used standalone when redis is not configured and as the failover
// fallback when it is.
type MemorySink struct {
	mu      sync.Mutex
	records []models.SyncRecord
	maxSize int
}

func NewMemorySink(maxSize int) *MemorySink {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemorySink{maxSize: maxSize}
}

func (s *MemorySink) Push(_ context.Context, record *models.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, *record)
	if len(s.records) > s.maxSize {
		s.records = s.records[len(s.records)-s.maxSize:]
	}
	return nil
}

// List returns a copy of the queued dead letters, oldest first.
func (s *MemorySink) List() []models.SyncRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SyncRecord(nil), s.records...)
}
