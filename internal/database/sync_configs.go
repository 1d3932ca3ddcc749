package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fieldsync/internal/models"
)

const syncConfigColumns = `target_system, enabled, auto_sync, sync_frequency, webhook_url,
              COALESCE(api_key, ''), config_options, COALESCE(updated_by, ''), created_at, updated_at`

// UpsertSyncConfig creates or replaces the configuration row for a target.
// The APIKey must already be encrypted by the caller; this layer treats it
// as an opaque string.
func (db *DB) UpsertSyncConfig(ctx context.Context, cfg *models.SyncConfig) error {
	if len(cfg.ConfigOptions) == 0 {
		cfg.ConfigOptions = []byte("{}")
	}

	now := time.Now().UTC()
	query := `INSERT INTO sync_configurations (target_system, enabled, auto_sync, sync_frequency, webhook_url, api_key, config_options, updated_by, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(target_system) DO UPDATE SET
                  enabled = excluded.enabled,
                  auto_sync = excluded.auto_sync,
                  sync_frequency = excluded.sync_frequency,
                  webhook_url = excluded.webhook_url,
                  api_key = CASE WHEN excluded.api_key != '' THEN excluded.api_key ELSE api_key END,
                  config_options = excluded.config_options,
                  updated_by = excluded.updated_by,
                  updated_at = excluded.updated_at`

	_, err := db.ExecContext(ctx, query,
		cfg.TargetSystem,
		cfg.Enabled,
		cfg.AutoSync,
		cfg.SyncFrequency,
		cfg.WebhookURL,
		cfg.APIKey,
		string(cfg.ConfigOptions),
		cfg.UpdatedBy,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync configuration: %w", err)
	}

	cfg.UpdatedAt = now
	return nil
}

// GetSyncConfig returns the configuration for a target or ErrNotFound.
func (db *DB) GetSyncConfig(ctx context.Context, targetSystem string) (*models.SyncConfig, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_configurations WHERE target_system = ?`, syncConfigColumns)

	cfg, err := scanConfig(db.QueryRowContext(ctx, query, targetSystem))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync configuration: %w", err)
	}
	return cfg, nil
}

// ListSyncConfigs returns every configuration row.
func (db *DB) ListSyncConfigs(ctx context.Context) ([]models.SyncConfig, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_configurations ORDER BY target_system`, syncConfigColumns)
	return db.listConfigs(ctx, query)
}

// ListEnabledSyncConfigs returns only targets with enabled = true.
func (db *DB) ListEnabledSyncConfigs(ctx context.Context) ([]models.SyncConfig, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_configurations WHERE enabled = 1 ORDER BY target_system`, syncConfigColumns)
	return db.listConfigs(ctx, query)
}

func (db *DB) listConfigs(ctx context.Context, query string) ([]models.SyncConfig, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync configurations: %w", err)
	}
	defer rows.Close()

	var configs []models.SyncConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync configuration: %w", err)
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync configurations: %w", err)
	}
	return configs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConfig(row rowScanner) (*models.SyncConfig, error) {
	var cfg models.SyncConfig
	var options string
	var webhookURL sql.NullString
	err := row.Scan(
		&cfg.TargetSystem,
		&cfg.Enabled,
		&cfg.AutoSync,
		&cfg.SyncFrequency,
		&webhookURL,
		&cfg.APIKey,
		&options,
		&cfg.UpdatedBy,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cfg.WebhookURL = webhookURL.String
	cfg.ConfigOptions = []byte(options)
	return &cfg, nil
}
