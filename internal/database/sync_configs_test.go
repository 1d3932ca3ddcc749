package database

import (
	"context"
	"testing"

	"fieldsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncConfigUpsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	cfg := &models.SyncConfig{
		TargetSystem:  "hr_system",
		Enabled:       true,
		AutoSync:      true,
		SyncFrequency: models.FrequencyHourly,
		WebhookURL:    "https://hr.example.com/hooks/sync",
		APIKey:        "ciphertext-1",
		ConfigOptions: []byte(`{"endpoints":{"participant":"/participants"}}`),
		UpdatedBy:     "admin-1",
	}

	require.NoError(t, db.UpsertSyncConfig(ctx, cfg))

	got, err := db.GetSyncConfig(ctx, "hr_system")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.True(t, got.AutoSync)
	assert.Equal(t, models.FrequencyHourly, got.SyncFrequency)
	assert.Equal(t, "ciphertext-1", got.APIKey)
	assert.JSONEq(t, `{"endpoints":{"participant":"/participants"}}`, string(got.ConfigOptions))

	// Upsert over the existing row: unique per target_system.
	cfg.Enabled = false
	cfg.SyncFrequency = models.FrequencyManual
	cfg.APIKey = ""
	require.NoError(t, db.UpsertSyncConfig(ctx, cfg))

	got, err = db.GetSyncConfig(ctx, "hr_system")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, models.FrequencyManual, got.SyncFrequency)
	// Empty api_key on update keeps the stored credential.
	assert.Equal(t, "ciphertext-1", got.APIKey)

	all, err := db.ListSyncConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListEnabledSyncConfigs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertSyncConfig(ctx, &models.SyncConfig{
		TargetSystem: "hr_system", Enabled: true, AutoSync: true, SyncFrequency: models.FrequencyHourly, UpdatedBy: "a",
	}))
	require.NoError(t, db.UpsertSyncConfig(ctx, &models.SyncConfig{
		TargetSystem: "legacy_crm", Enabled: false, AutoSync: true, SyncFrequency: models.FrequencyDaily, UpdatedBy: "a",
	}))

	enabled, err := db.ListEnabledSyncConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "hr_system", enabled[0].TargetSystem)
}

func TestGetSyncConfigNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetSyncConfig(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}
