package domain

import (
	"context"
	"encoding/json"
	"time"

	"fieldsync/internal/models"
)

// RecordStore is the durable source of truth for sync records. All mutations
// are atomic per record; claiming is the only coordination mechanism between
// concurrent dispatch cycles.
type RecordStore interface {
	CreateSyncRecord(ctx context.Context, record *models.SyncRecord) error
	ClaimPending(ctx context.Context, targetSystem string, limit int, leaseTTL time.Duration) ([]models.SyncRecord, error)
	RenewClaims(ctx context.Context, ids []string, currentLease time.Time, leaseTTL time.Duration) (time.Time, []string, error)
	MarkSynced(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string, nextRetryAt *time.Time) error
	ReleaseClaim(ctx context.Context, id string) error
	GetSyncRecord(ctx context.Context, id string) (*models.SyncRecord, error)
	ListFailedRecords(ctx context.Context, targetSystem string) ([]models.SyncRecord, error)
	RequeueRecord(ctx context.Context, id string) error
	CountRecordsByStatus(ctx context.Context, targetSystem string) (map[string]int, error)
}

// ConfigStore persists per-target sync configuration.
type ConfigStore interface {
	GetSyncConfig(ctx context.Context, targetSystem string) (*models.SyncConfig, error)
	ListSyncConfigs(ctx context.Context) ([]models.SyncConfig, error)
	ListEnabledSyncConfigs(ctx context.Context) ([]models.SyncConfig, error)
	UpsertSyncConfig(ctx context.Context, cfg *models.SyncConfig) error
}

// TargetRegistry is the engine's read view over target configuration.
// Reads go to the store on every call so that enable/disable and frequency
// changes are visible to the next scheduling decision.
type TargetRegistry interface {
	Get(ctx context.Context, targetSystem string) (*models.SyncConfig, error)
	ListEnabled(ctx context.Context) ([]models.SyncConfig, error)
	Credentials(ctx context.Context, targetSystem string) (models.Credentials, error)
}

// Delivery is one adapter invocation: a single record bound for a single
// target, with decrypted credentials scoped to this call.
type Delivery struct {
	RecordID       string
	RecordType     string
	RecordRef      string
	Payload        json.RawMessage
	Options        json.RawMessage
	Credentials    models.Credentials
	IdempotencyKey string
}

// Adapter delivers one record to its external system. Implementations own
// transport concerns (HTTP call, signing, timeout) and must tolerate repeated
// delivery of the same record: the dispatcher retries failures and passes a
// stable idempotency key derived from the record id.
type Adapter interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) error
}

// CycleRunner triggers a dispatch cycle for a target on demand.
type CycleRunner interface {
	TriggerSync(ctx context.Context, targetSystem string) error
}

// EventPublisher publishes sync lifecycle events to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// DeadLetterSink receives records whose retries are exhausted.
type DeadLetterSink interface {
	Push(ctx context.Context, record *models.SyncRecord) error
}
