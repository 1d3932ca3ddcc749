package deadletter

import (
	"context"
	"sync/atomic"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSink writes dead letters to the primary sink (redis) and falls
// back to the in-memory sink when the primary is unreachable, retrying the
// primary after a cooldown.
type FailoverSink struct {
	primary   domain.DeadLetterSink
	fallback  domain.DeadLetterSink
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

const recoveryCooldown = time.Minute

func NewFailoverSink(primary, fallback domain.DeadLetterSink, logger *zerolog.Logger) *FailoverSink {
	return &FailoverSink{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (s *FailoverSink) Push(ctx context.Context, record *models.SyncRecord) error {
	if !s.isDown.Load() {
		err := s.primary.Push(ctx, record)
		if err == nil {
			return nil
		}
		s.logger.Error().Err(err).Msg("Primary dead letter sink failed, falling back to memory")
		s.isDown.Store(true)
		s.lastCheck.Store(time.Now().UnixNano())
	}

	// Try to recover after the cooldown.
	if s.isDown.Load() && time.Since(time.Unix(0, s.lastCheck.Load())) > recoveryCooldown {
		if err := s.primary.Push(ctx, record); err == nil {
			s.isDown.Store(false)
			return nil
		}
		s.lastCheck.Store(time.Now().UnixNano())
	}

	return s.fallback.Push(ctx, record)
}
