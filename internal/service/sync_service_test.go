package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/database"
	"fieldsync/internal/events"
	"fieldsync/internal/models"
	"fieldsync/internal/secrets"
)

const testEncryptionKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

type fakeRunner struct {
	mu      sync.Mutex
	targets []string
	err     error
}

func (f *fakeRunner) TriggerSync(_ context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return f.err
}

func newTestService(t *testing.T) (*SyncService, *database.DB, *fakeRunner, *secrets.Box) {
	t.Helper()

	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	box, err := secrets.NewBox(testEncryptionKey)
	require.NoError(t, err)

	runner := &fakeRunner{}
	svc := NewSyncService(db, db, runner, events.NewEventBus(), box, &logger)
	return svc, db, runner, box
}

func TestEnqueueCreatesPendingRecord(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	ctx := context.Background()

	record, err := svc.Enqueue(ctx, "work_order", "wo-42", "webhook", json.RawMessage(`{"status":"done"}`), "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, record.ID)

	stored, err := db.GetSyncRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, "work_order", stored.RecordType)
	assert.Equal(t, "wo-42", stored.RecordID)
	assert.Equal(t, "user-1", stored.CreatedBy)
	assert.Equal(t, 0, stored.Attempts)
}

func TestEnqueueValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, "", "wo-1", "webhook", nil, "")
	assert.ErrorIs(t, err, ErrRecordTypeRequired)

	_, err = svc.Enqueue(ctx, "work_order", "", "webhook", nil, "")
	assert.ErrorIs(t, err, ErrRecordIDRequired)

	_, err = svc.Enqueue(ctx, "work_order", "wo-1", "", nil, "")
	assert.ErrorIs(t, err, ErrTargetSystemRequired)

	_, err = svc.Enqueue(ctx, "work_order", "wo-1", "webhook", json.RawMessage(`{broken`), "")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEnqueuePublishesEvent(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	box, err := secrets.NewBox(testEncryptionKey)
	require.NoError(t, err)

	bus := events.NewEventBus()
	var got []events.RecordEventPayload
	bus.Subscribe(events.EventRecordEnqueued, func(event *events.Event) error {
		var payload events.RecordEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		got = append(got, payload)
		return nil
	})

	svc := NewSyncService(db, db, &fakeRunner{}, bus, box, &logger)
	record, err := svc.Enqueue(context.Background(), "customer", "cust-7", "hr_system", nil, "api-client")
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, record.ID, got[0].RecordID)
	assert.Equal(t, "hr_system", got[0].TargetSystem)
	assert.Equal(t, models.StatusPending, got[0].Status)
}

func TestRequeueFailedRecord(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	ctx := context.Background()

	record, err := svc.Enqueue(ctx, "work_order", "wo-1", "webhook", nil, "")
	require.NoError(t, err)

	// Доводим запись до терминального отказа.
	_, err = db.ClaimPending(ctx, "webhook", 10, 0)
	require.NoError(t, err)
	require.NoError(t, db.MarkFailed(ctx, record.ID, "boom", nil))

	requeued, err := svc.Requeue(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, requeued.Status)
	assert.Equal(t, 0, requeued.Attempts)
	assert.Nil(t, requeued.ErrorMessage)
}

func TestRequeueNonFailedRecord(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	record, err := svc.Enqueue(ctx, "work_order", "wo-1", "webhook", nil, "")
	require.NoError(t, err)

	_, err = svc.Requeue(ctx, record.ID)
	assert.ErrorIs(t, err, database.ErrInvalidTransition)

	_, err = svc.Requeue(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestTriggerSyncDelegates(t *testing.T) {
	svc, _, runner, _ := newTestService(t)

	require.NoError(t, svc.TriggerSync(context.Background(), "webhook"))
	assert.Equal(t, []string{"webhook"}, runner.targets)

	assert.ErrorIs(t, svc.TriggerSync(context.Background(), ""), ErrTargetSystemRequired)
}

func TestUpsertTargetConfigEncryptsAPIKey(t *testing.T) {
	svc, db, _, box := newTestService(t)
	ctx := context.Background()

	cfg := &models.SyncConfig{
		TargetSystem:  "webhook",
		Enabled:       true,
		AutoSync:      true,
		SyncFrequency: models.FrequencyHourly,
		WebhookURL:    "https://example.test/hook",
		APIKey:        "plaintext-secret",
		UpdatedBy:     "admin",
	}
	require.NoError(t, svc.UpsertTargetConfig(ctx, cfg))

	stored, err := db.GetSyncConfig(ctx, "webhook")
	require.NoError(t, err)
	require.NotEqual(t, "plaintext-secret", stored.APIKey)

	decrypted, err := box.Decrypt(stored.APIKey)
	require.NoError(t, err)
	assert.Equal(t, "plaintext-secret", decrypted)
}

func TestUpsertTargetConfigPreservesStoredKey(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	first := &models.SyncConfig{
		TargetSystem:  "webhook",
		Enabled:       true,
		SyncFrequency: models.FrequencyHourly,
		APIKey:        "original-secret",
		UpdatedBy:     "admin",
	}
	require.NoError(t, svc.UpsertTargetConfig(ctx, first))

	// Обновление без ключа не должно затирать сохранённый секрет.
	update := &models.SyncConfig{
		TargetSystem:  "webhook",
		Enabled:       false,
		SyncFrequency: models.FrequencyDaily,
		UpdatedBy:     "admin",
	}
	require.NoError(t, svc.UpsertTargetConfig(ctx, update))

	cfg, hasKey, err := svc.GetTargetConfig(ctx, "webhook")
	require.NoError(t, err)
	assert.True(t, hasKey)
	assert.Empty(t, cfg.APIKey)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, models.FrequencyDaily, cfg.SyncFrequency)
}

func TestUpsertTargetConfigValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	err := svc.UpsertTargetConfig(ctx, &models.SyncConfig{SyncFrequency: models.FrequencyHourly})
	assert.ErrorIs(t, err, ErrTargetSystemRequired)

	err = svc.UpsertTargetConfig(ctx, &models.SyncConfig{TargetSystem: "webhook", SyncFrequency: "sometimes"})
	assert.ErrorIs(t, err, ErrInvalidFrequency)

	err = svc.UpsertTargetConfig(ctx, &models.SyncConfig{
		TargetSystem:  "webhook",
		SyncFrequency: models.FrequencyManual,
		ConfigOptions: json.RawMessage(`{oops`),
	})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestListTargetConfigsElidesKeys(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.UpsertTargetConfig(ctx, &models.SyncConfig{
		TargetSystem:  "webhook",
		SyncFrequency: models.FrequencyManual,
		APIKey:        "secret",
	}))
	require.NoError(t, svc.UpsertTargetConfig(ctx, &models.SyncConfig{
		TargetSystem:  "hr_system",
		SyncFrequency: models.FrequencyDaily,
	}))

	configs, err := svc.ListTargetConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	for _, cfg := range configs {
		assert.Empty(t, cfg.APIKey)
	}
}

func TestCounts(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	ctx := context.Background()

	r1, err := svc.Enqueue(ctx, "work_order", "wo-1", "webhook", nil, "")
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, "work_order", "wo-2", "webhook", nil, "")
	require.NoError(t, err)

	_, err = db.ClaimPending(ctx, "webhook", 10, 0)
	require.NoError(t, err)
	require.NoError(t, db.MarkSynced(ctx, r1.ID))

	counts, err := svc.Counts(ctx, "webhook")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusPending])
	assert.Equal(t, 1, counts[models.StatusSynced])
}
