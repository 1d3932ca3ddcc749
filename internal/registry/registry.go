package registry

import (
	"context"
	"fmt"

	"fieldsync/internal/domain"
	"fieldsync/internal/models"
	"fieldsync/internal/secrets"

	"github.com/rs/zerolog"
)

// Registry is the engine's read view over sync_configurations. Every call
// goes to the store so that enable/disable and frequency changes made by an
// administrator are visible to the next scheduling decision.
//
// Configuration reads strip the stored credential ciphertext; decrypted
// credentials are only reachable through Credentials, which the dispatcher
// calls on the adapter invocation path.
type Registry struct {
	store  domain.ConfigStore
	box    *secrets.Box
	logger zerolog.Logger
}

func New(store domain.ConfigStore, box *secrets.Box, logger *zerolog.Logger) *Registry {
	var regLogger zerolog.Logger
	if logger != nil {
		regLogger = logger.With().Str("component", "registry").Logger()
	}
	return &Registry{store: store, box: box, logger: regLogger}
}

// Get returns the configuration for a target with credentials elided.
func (r *Registry) Get(ctx context.Context, targetSystem string) (*models.SyncConfig, error) {
	cfg, err := r.store.GetSyncConfig(ctx, targetSystem)
	if err != nil {
		return nil, err
	}
	sanitized := *cfg
	sanitized.APIKey = ""
	return &sanitized, nil
}

// ListEnabled returns all enabled targets with credentials elided.
func (r *Registry) ListEnabled(ctx context.Context) ([]models.SyncConfig, error) {
	configs, err := r.store.ListEnabledSyncConfigs(ctx)
	if err != nil {
		return nil, err
	}
	for i := range configs {
		configs[i].APIKey = ""
	}
	return configs, nil
}

// Credentials decrypts and returns the transport secrets for a target.
// Scoped accessor: the only path through which plaintext credentials leave
// the registry.
func (r *Registry) Credentials(ctx context.Context, targetSystem string) (models.Credentials, error) {
	cfg, err := r.store.GetSyncConfig(ctx, targetSystem)
	if err != nil {
		return models.Credentials{}, err
	}

	apiKey, err := r.box.Decrypt(cfg.APIKey)
	if err != nil {
		r.logger.Error().Str("target", targetSystem).Msg("failed to decrypt target credentials")
		return models.Credentials{}, fmt.Errorf("decrypt credentials for %s: %w", targetSystem, err)
	}

	return models.Credentials{
		WebhookURL: cfg.WebhookURL,
		APIKey:     apiKey,
	}, nil
}
