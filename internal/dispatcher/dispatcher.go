package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fieldsync/internal/adapter"
	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"
)

var (
	// ErrTargetDisabled is returned when a cycle is requested for a target
	// whose configuration is disabled.
	ErrTargetDisabled = errors.New("target system is disabled")

	// ErrCycleInProgress is returned when a cycle for the same target is
	// already running in this process.
	ErrCycleInProgress = errors.New("dispatch cycle already in progress for target")
)

// Options configures a Dispatcher.
type Options struct {
	BatchSize       int
	ClaimTTL        time.Duration
	DeliveryTimeout time.Duration
	Policy          RetryPolicy
}

// Dispatcher drains pending records for a target: claim a batch, deliver each
// record through the target's adapter, and record the outcome per record.
// Record outcomes are independent; one failure never aborts the batch.
type Dispatcher struct {
	store      domain.RecordStore
	registry   domain.TargetRegistry
	adapters   *adapter.Registry
	events     domain.EventPublisher
	deadLetter domain.DeadLetterSink
	opts       Options
	logger     zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]bool

	// renewTTL always covers one bounded delivery, so a held lease cannot
	// expire while its record is being delivered.
	renewTTL time.Duration

	now func() time.Time
}

// New constructs a Dispatcher. The dead-letter sink and event publisher may
// be nil; both are best-effort side channels.
func New(store domain.RecordStore, registry domain.TargetRegistry, adapters *adapter.Registry, opts Options, logger *zerolog.Logger) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = models.DefaultBatchSize
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = models.DefaultClaimTTL
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = models.DefaultDeliveryTimeout
	}

	renewTTL := opts.ClaimTTL
	if renewTTL <= opts.DeliveryTimeout {
		renewTTL = opts.DeliveryTimeout + opts.ClaimTTL
	}

	return &Dispatcher{
		store:    store,
		registry: registry,
		adapters: adapters,
		opts:     opts,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		inFlight: make(map[string]bool),
		renewTTL: renewTTL,
		now:      time.Now,
	}
}

// SetEventPublisher attaches an event publisher for lifecycle events.
func (d *Dispatcher) SetEventPublisher(p domain.EventPublisher) {
	d.events = p
}

// SetDeadLetterSink attaches a sink for terminally failed records.
func (d *Dispatcher) SetDeadLetterSink(s domain.DeadLetterSink) {
	d.deadLetter = s
}

// RunCycle executes one dispatch cycle for the given target system. At most
// one cycle per target runs at a time in this process; the claim lease covers
// competing processes.
func (d *Dispatcher) RunCycle(ctx context.Context, targetSystem string) error {
	if !d.acquire(targetSystem) {
		return ErrCycleInProgress
	}
	defer d.release(targetSystem)

	cfg, err := d.registry.Get(ctx, targetSystem)
	if err != nil {
		return fmt.Errorf("load target config: %w", err)
	}
	if !cfg.Enabled {
		return ErrTargetDisabled
	}

	started := d.now()
	records, err := d.store.ClaimPending(ctx, targetSystem, d.opts.BatchSize, d.opts.ClaimTTL)
	if err != nil {
		return fmt.Errorf("claim pending records: %w", err)
	}

	summary := events.CycleEventPayload{TargetSystem: targetSystem, Claimed: len(records)}
	defer func() {
		metrics.IncCycle(targetSystem)
		metrics.ObserveCycleDuration(targetSystem, d.now().Sub(started).Seconds())
		if d.events != nil {
			_ = d.events.PublishJSON(events.EventCycleCompleted, summary)
		}
		d.logger.Info().
			Str("target", targetSystem).
			Int("claimed", summary.Claimed).
			Int("synced", summary.Synced).
			Int("retried", summary.Retried).
			Int("failed", summary.Failed).
			Dur("duration", d.now().Sub(started)).
			Msg("dispatch cycle completed")
	}()

	if len(records) == 0 {
		return nil
	}

	target, ok := d.adapters.Resolve(targetSystem)
	if !ok {
		// Records for an unadapted target are failed with a descriptive
		// message, never silently dropped.
		msg := fmt.Sprintf("no adapter registered for target system %q", targetSystem)
		for i := range records {
			d.finishTerminal(ctx, &records[i], msg, &summary)
		}
		return nil
	}

	creds, err := d.registry.Credentials(ctx, targetSystem)
	if err != nil {
		for i := range records {
			_ = d.store.ReleaseClaim(ctx, records[i].ID)
		}
		return fmt.Errorf("load target credentials: %w", err)
	}

	// ClaimPending put the whole batch under one lease; before each delivery
	// the unprocessed remainder is re-leased so the claim outlives the batch
	// no matter how slow individual deliveries are. Records whose lease
	// lapsed to a competing cycle are skipped, never delivered twice.
	lease := *records[0].ClaimedUntil
	lost := make(map[string]bool)

	for i := range records {
		if ctx.Err() != nil {
			for j := i; j < len(records); j++ {
				if !lost[records[j].ID] {
					_ = d.store.ReleaseClaim(context.Background(), records[j].ID)
				}
			}
			return ctx.Err()
		}

		remaining := make([]string, 0, len(records)-i)
		for j := i; j < len(records); j++ {
			if !lost[records[j].ID] {
				remaining = append(remaining, records[j].ID)
			}
		}
		if len(remaining) == 0 {
			return nil
		}

		newLease, held, rErr := d.store.RenewClaims(ctx, remaining, lease, d.renewTTL)
		if rErr != nil {
			return fmt.Errorf("renew claims: %w", rErr)
		}
		lease = newLease
		if len(held) != len(remaining) {
			heldSet := make(map[string]bool, len(held))
			for _, id := range held {
				heldSet[id] = true
			}
			for _, id := range remaining {
				if !heldSet[id] {
					lost[id] = true
					d.logger.Warn().
						Str("record_id", id).
						Str("target", targetSystem).
						Msg("claim lease expired, leaving record to competing cycle")
				}
			}
		}
		if lost[records[i].ID] {
			continue
		}

		d.deliverOne(ctx, target, cfg, creds, &records[i], &summary)
	}

	return nil
}

func (d *Dispatcher) deliverOne(ctx context.Context, target domain.Adapter, cfg *models.SyncConfig, creds models.Credentials, rec *models.SyncRecord, summary *events.CycleEventPayload) {
	delivery := domain.Delivery{
		RecordID:       rec.ID,
		RecordType:     rec.RecordType,
		RecordRef:      rec.RecordID,
		Payload:        rec.Payload,
		Options:        cfg.ConfigOptions,
		Credentials:    creds,
		IdempotencyKey: rec.ID,
	}

	dctx, cancel := context.WithTimeout(ctx, d.opts.DeliveryTimeout)
	err := target.Deliver(dctx, delivery)
	cancel()

	if err == nil {
		if mErr := d.store.MarkSynced(ctx, rec.ID); mErr != nil {
			d.logger.Error().Err(mErr).Str("record_id", rec.ID).Msg("failed to mark record synced")
			return
		}
		summary.Synced++
		metrics.IncDelivery(rec.TargetSystem, metrics.OutcomeSynced)
		d.publishRecordEvent(events.EventRecordSynced, rec, rec.Attempts+1, models.StatusSynced, "")
		return
	}

	attempts := rec.Attempts + 1
	if d.opts.Policy.Exhausted(attempts) {
		d.finishTerminal(ctx, rec, err.Error(), summary)
		return
	}

	retryAt := d.opts.Policy.NextRetryAt(attempts, d.now())
	if mErr := d.store.MarkFailed(ctx, rec.ID, err.Error(), &retryAt); mErr != nil {
		d.logger.Error().Err(mErr).Str("record_id", rec.ID).Msg("failed to record delivery failure")
		return
	}
	summary.Retried++
	metrics.IncDelivery(rec.TargetSystem, metrics.OutcomeRetry)
	d.logger.Warn().
		Str("record_id", rec.ID).
		Str("target", rec.TargetSystem).
		Int("attempts", attempts).
		Time("next_retry_at", retryAt).
		Str("error", err.Error()).
		Msg("delivery failed, scheduled retry")
	d.publishRecordEvent(events.EventRecordFailed, rec, attempts, models.StatusPending, err.Error())
}

// finishTerminal marks a record permanently failed and pushes it to the
// dead-letter sink.
func (d *Dispatcher) finishTerminal(ctx context.Context, rec *models.SyncRecord, errMsg string, summary *events.CycleEventPayload) {
	if mErr := d.store.MarkFailed(ctx, rec.ID, errMsg, nil); mErr != nil {
		d.logger.Error().Err(mErr).Str("record_id", rec.ID).Msg("failed to mark record failed")
		return
	}
	summary.Failed++
	metrics.IncDelivery(rec.TargetSystem, metrics.OutcomeFailed)

	attempts := rec.Attempts + 1
	d.logger.Error().
		Str("record_id", rec.ID).
		Str("target", rec.TargetSystem).
		Int("attempts", attempts).
		Str("error", errMsg).
		Msg("delivery failed permanently")

	if d.deadLetter != nil {
		failed := *rec
		failed.Status = models.StatusFailed
		failed.Attempts = attempts
		failed.ErrorMessage = &errMsg
		if dErr := d.deadLetter.Push(ctx, &failed); dErr != nil {
			d.logger.Warn().Err(dErr).Str("record_id", rec.ID).Msg("dead letter push failed")
		}
	}
	d.publishRecordEvent(events.EventRecordFailed, rec, attempts, models.StatusFailed, errMsg)
}

func (d *Dispatcher) publishRecordEvent(eventType string, rec *models.SyncRecord, attempts int, status, errMsg string) {
	if d.events == nil {
		return
	}
	_ = d.events.PublishJSON(eventType, events.RecordEventPayload{
		RecordID:     rec.ID,
		RecordType:   rec.RecordType,
		TargetSystem: rec.TargetSystem,
		Status:       status,
		Attempts:     attempts,
		Error:        errMsg,
	})
}

func (d *Dispatcher) acquire(targetSystem string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight[targetSystem] {
		return false
	}
	d.inFlight[targetSystem] = true
	return true
}

func (d *Dispatcher) release(targetSystem string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, targetSystem)
}
