package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"
	"fieldsync/internal/secrets"

	"github.com/rs/zerolog"
)

var (
	ErrRecordTypeRequired   = errors.New("record_type is required")
	ErrRecordIDRequired     = errors.New("record_id is required")
	ErrTargetSystemRequired = errors.New("target_system is required")
	ErrInvalidPayload       = errors.New("payload must be a valid JSON object")
	ErrInvalidFrequency     = errors.New("sync_frequency must be one of hourly, daily, weekly, manual")
	ErrInvalidOptions       = errors.New("config_options must be valid JSON")
)

// SyncService is the application-facing surface of the engine: producers
// enqueue records, administrators manage target configuration and recover
// failed records.
type SyncService struct {
	records  domain.RecordStore
	configs  domain.ConfigStore
	runner   domain.CycleRunner
	eventBus domain.EventPublisher
	box      *secrets.Box
	logger   *zerolog.Logger
}

func NewSyncService(records domain.RecordStore, configs domain.ConfigStore, runner domain.CycleRunner, eventBus domain.EventPublisher, box *secrets.Box, logger *zerolog.Logger) *SyncService {
	return &SyncService{
		records:  records,
		configs:  configs,
		runner:   runner,
		eventBus: eventBus,
		box:      box,
		logger:   logger,
	}
}

// Enqueue validates and persists a new sync record in pending status.
func (s *SyncService) Enqueue(ctx context.Context, recordType, recordID, targetSystem string, payload json.RawMessage, createdBy string) (*models.SyncRecord, error) {
	// Валидация входа
	if recordType == "" {
		return nil, ErrRecordTypeRequired
	}
	if recordID == "" {
		return nil, ErrRecordIDRequired
	}
	if targetSystem == "" {
		return nil, ErrTargetSystemRequired
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}

	record := &models.SyncRecord{
		RecordType:   recordType,
		RecordID:     recordID,
		TargetSystem: targetSystem,
		Payload:      payload,
		CreatedBy:    createdBy,
	}
	if err := s.records.CreateSyncRecord(ctx, record); err != nil {
		return nil, err
	}

	metrics.IncEnqueued(recordType, targetSystem)
	s.publishRecordEvent(events.EventRecordEnqueued, record)

	s.logger.Info().
		Str("record_id", record.ID).
		Str("record_type", recordType).
		Str("target", targetSystem).
		Msg("sync record enqueued")

	return record, nil
}

// GetRecord returns a sync record by id.
func (s *SyncService) GetRecord(ctx context.Context, id string) (*models.SyncRecord, error) {
	return s.records.GetSyncRecord(ctx, id)
}

// ListFailed returns terminally failed records, optionally filtered by target.
func (s *SyncService) ListFailed(ctx context.Context, targetSystem string) ([]models.SyncRecord, error) {
	return s.records.ListFailedRecords(ctx, targetSystem)
}

// Requeue returns a failed record to the pending set with a fresh attempt
// budget.
func (s *SyncService) Requeue(ctx context.Context, id string) (*models.SyncRecord, error) {
	if err := s.records.RequeueRecord(ctx, id); err != nil {
		return nil, err
	}

	record, err := s.records.GetSyncRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publishRecordEvent(events.EventRecordRequeued, record)
	s.logger.Info().Str("record_id", id).Msg("failed record requeued")
	return record, nil
}

// Counts returns per-status record counts for a target, or all targets when
// targetSystem is empty.
func (s *SyncService) Counts(ctx context.Context, targetSystem string) (map[string]int, error) {
	return s.records.CountRecordsByStatus(ctx, targetSystem)
}

// TriggerSync starts a dispatch cycle for a target on demand.
func (s *SyncService) TriggerSync(ctx context.Context, targetSystem string) error {
	if targetSystem == "" {
		return ErrTargetSystemRequired
	}
	return s.runner.TriggerSync(ctx, targetSystem)
}

// UpsertTargetConfig validates and stores a target configuration. The api key
// is encrypted before it reaches the store; an empty api key preserves the
// previously stored credential.
func (s *SyncService) UpsertTargetConfig(ctx context.Context, cfg *models.SyncConfig) error {
	if cfg.TargetSystem == "" {
		return ErrTargetSystemRequired
	}
	if cfg.SyncFrequency == "" {
		cfg.SyncFrequency = models.FrequencyManual
	}
	if !models.ValidFrequency(cfg.SyncFrequency) {
		return ErrInvalidFrequency
	}
	if len(cfg.ConfigOptions) > 0 && !json.Valid(cfg.ConfigOptions) {
		return ErrInvalidOptions
	}

	if cfg.APIKey != "" {
		encrypted, err := s.box.Encrypt(cfg.APIKey)
		if err != nil {
			return fmt.Errorf("encrypt api key: %w", err)
		}
		cfg.APIKey = encrypted
	}

	if err := s.configs.UpsertSyncConfig(ctx, cfg); err != nil {
		return err
	}

	s.logger.Info().
		Str("target", cfg.TargetSystem).
		Bool("enabled", cfg.Enabled).
		Bool("auto_sync", cfg.AutoSync).
		Str("frequency", cfg.SyncFrequency).
		Str("updated_by", cfg.UpdatedBy).
		Msg("target configuration updated")
	return nil
}

// GetTargetConfig returns a target configuration with credentials elided.
func (s *SyncService) GetTargetConfig(ctx context.Context, targetSystem string) (*models.SyncConfig, bool, error) {
	cfg, err := s.configs.GetSyncConfig(ctx, targetSystem)
	if err != nil {
		return nil, false, err
	}
	hasKey := cfg.APIKey != ""
	sanitized := *cfg
	sanitized.APIKey = ""
	return &sanitized, hasKey, nil
}

// ListTargetConfigs returns all target configurations with credentials elided.
func (s *SyncService) ListTargetConfigs(ctx context.Context) ([]models.SyncConfig, error) {
	configs, err := s.configs.ListSyncConfigs(ctx)
	if err != nil {
		return nil, err
	}
	for i := range configs {
		configs[i].APIKey = ""
	}
	return configs, nil
}

func (s *SyncService) publishRecordEvent(eventType string, record *models.SyncRecord) {
	if s.eventBus == nil {
		return
	}
	_ = s.eventBus.PublishJSON(eventType, events.RecordEventPayload{
		RecordID:     record.ID,
		RecordType:   record.RecordType,
		TargetSystem: record.TargetSystem,
		Status:       record.Status,
		Attempts:     record.Attempts,
		CreatedBy:    record.CreatedBy,
	})
}
