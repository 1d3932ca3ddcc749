package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fieldsync/internal/dispatcher"
	"fieldsync/internal/domain"
	"fieldsync/internal/models"
)

// cycleRunner is the slice of the dispatcher the scheduler drives.
type cycleRunner interface {
	RunCycle(ctx context.Context, targetSystem string) error
}

// orphanSweeper fails pending records addressed to target systems that have
// no configuration row.
type orphanSweeper interface {
	FailOrphanRecords(ctx context.Context) (int64, error)
}

// Scheduler periodically derives the set of due targets from the registry and
// starts a dispatch cycle for each. Dueness is computed fresh every tick, so
// configuration changes (enable/disable, frequency) take effect on the next
// tick without a restart.
type Scheduler struct {
	registry domain.TargetRegistry
	runner   cycleRunner
	sweeper  orphanSweeper
	tick     time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	lastRun map[string]time.Time

	now func() time.Time
}

// New constructs a Scheduler with the given polling interval.
func New(registry domain.TargetRegistry, runner cycleRunner, tick time.Duration, logger *zerolog.Logger) *Scheduler {
	if tick <= 0 {
		tick = models.DefaultSchedulerTick
	}
	return &Scheduler{
		registry: registry,
		runner:   runner,
		tick:     tick,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		lastRun:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// SetOrphanSweeper attaches an orphan sweeper run once per tick. Records
// enqueued for a target nobody ever configured are failed with a descriptive
// message instead of sitting pending forever.
func (s *Scheduler) SetOrphanSweeper(sw orphanSweeper) {
	s.sweeper = sw
}

// Run blocks until ctx is cancelled, evaluating due targets every tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().Dur("tick", s.tick).Msg("scheduler started")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.sweepOrphans(ctx)
			s.runDue(ctx)
		}
	}
}

// runDue starts a cycle for every enabled auto-sync target whose frequency
// interval has elapsed since its last cycle start.
func (s *Scheduler) runDue(ctx context.Context) {
	configs, err := s.registry.ListEnabled(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list enabled targets")
		return
	}

	now := s.now()
	for _, cfg := range configs {
		if !cfg.AutoSync {
			continue
		}
		interval := models.FrequencyInterval(cfg.SyncFrequency)
		if interval <= 0 {
			// Manual frequency: dispatched only via TriggerSync.
			continue
		}
		if !s.markDue(cfg.TargetSystem, now, interval) {
			continue
		}

		// Cycles run concurrently so a slow target never delays the others.
		// Overlap per target is refused by the dispatcher.
		go s.runCycle(ctx, cfg.TargetSystem)
	}
}

func (s *Scheduler) sweepOrphans(ctx context.Context) {
	if s.sweeper == nil {
		return
	}
	n, err := s.sweeper.FailOrphanRecords(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("orphan record sweep failed")
		return
	}
	if n > 0 {
		s.logger.Warn().Int64("count", n).Msg("failed records addressed to unconfigured targets")
	}
}

// markDue records the cycle start if the interval has elapsed. Last-run times
// track cycle starts, not completions, so slow cycles do not stretch the
// schedule.
func (s *Scheduler) markDue(target string, now time.Time, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastRun[target]; ok && now.Sub(last) < interval {
		return false
	}
	s.lastRun[target] = now
	return true
}

func (s *Scheduler) runCycle(ctx context.Context, target string) {
	err := s.runner.RunCycle(ctx, target)
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrCycleInProgress):
		s.logger.Debug().Str("target", target).Msg("cycle already running, skipped")
	case errors.Is(err, dispatcher.ErrTargetDisabled):
		s.logger.Debug().Str("target", target).Msg("target disabled, skipped")
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Error().Err(err).Str("target", target).Msg("dispatch cycle failed")
	}
}

// TriggerSync runs a cycle for a target on demand, regardless of auto-sync
// and frequency. The target must exist and be enabled; those checks live in
// the dispatcher.
func (s *Scheduler) TriggerSync(ctx context.Context, targetSystem string) error {
	s.logger.Info().Str("target", targetSystem).Msg("manual sync triggered")

	if err := s.runner.RunCycle(ctx, targetSystem); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastRun[targetSystem] = s.now()
	s.mu.Unlock()
	return nil
}
