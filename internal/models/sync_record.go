package models

import (
	"encoding/json"
	"time"
)

// SyncRecord represents one domain entity queued for propagation to an
// external target system.
type SyncRecord struct {
	ID           string          `json:"id"`
	RecordType   string          `json:"record_type"`
	RecordID     string          `json:"record_id"`
	TargetSystem string          `json:"target_system"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Attempts     int             `json:"attempts"`
	SyncedAt     *time.Time      `json:"synced_at,omitempty"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	ClaimedUntil *time.Time      `json:"-"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// LastError returns the most recent delivery error or an empty string.
func (r *SyncRecord) LastError() string {
	if r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}
