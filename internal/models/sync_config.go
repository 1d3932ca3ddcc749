package models

import (
	"encoding/json"
	"time"
)

// SyncConfig holds per-target synchronization settings. At most one row
// exists per target system. The APIKey field carries ciphertext when loaded
// from storage; only the registry's credential accessor decrypts it.
type SyncConfig struct {
	TargetSystem  string          `json:"target_system"`
	Enabled       bool            `json:"enabled"`
	AutoSync      bool            `json:"auto_sync"`
	SyncFrequency string          `json:"sync_frequency"`
	WebhookURL    string          `json:"webhook_url"`
	APIKey        string          `json:"-"`
	ConfigOptions json.RawMessage `json:"config_options,omitempty"`
	UpdatedBy     string          `json:"updated_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Credentials carries decrypted transport secrets for a single delivery.
// Never logged, never persisted outside the encrypted configuration row.
type Credentials struct {
	WebhookURL string
	APIKey     string
}
