package adapter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fieldsync/internal/domain"

	"github.com/rs/zerolog"
)

const (
	headerSignature      = "X-Fieldsync-Signature"
	headerIdempotencyKey = "X-Idempotency-Key"
	headerRecordType     = "X-Fieldsync-Record-Type"
)

// webhookEnvelope is the wire format for generic webhook targets.
type webhookEnvelope struct {
	RecordID   string          `json:"record_id"`
	RecordType string          `json:"record_type"`
	RecordRef  string          `json:"record_ref"`
	SentAt     time.Time       `json:"sent_at"`
	Data       json.RawMessage `json:"data"`
}

// WebhookAdapter delivers records to a generic webhook endpoint: JSON POST,
// HMAC-SHA256 body signature keyed by the target's api key, idempotency key
// from the record id so the receiver can deduplicate retries.
type WebhookAdapter struct {
	name   string
	client *http.Client
	logger zerolog.Logger
}

func NewWebhookAdapter(name string, timeout time.Duration, logger *zerolog.Logger) *WebhookAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "adapter").Str("adapter", name).Logger()
	}
	return &WebhookAdapter{
		name:   name,
		client: &http.Client{Timeout: timeout},
		logger: l,
	}
}

func (a *WebhookAdapter) Name() string { return a.name }

func (a *WebhookAdapter) Deliver(ctx context.Context, d domain.Delivery) error {
	if d.Credentials.WebhookURL == "" {
		return fmt.Errorf("target has no webhook url configured")
	}

	body, err := json.Marshal(webhookEnvelope{
		RecordID:   d.RecordID,
		RecordType: d.RecordType,
		RecordRef:  d.RecordRef,
		SentAt:     time.Now().UTC(),
		Data:       d.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Credentials.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerIdempotencyKey, d.IdempotencyKey)
	req.Header.Set(headerRecordType, d.RecordType)
	if d.Credentials.APIKey != "" {
		req.Header.Set(headerSignature, signBody(body, d.Credentials.APIKey))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		a.logger.Debug().Str("record_id", d.RecordID).Int("status", resp.StatusCode).Msg("webhook delivered")
		return nil
	}

	return &StatusError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
}

// signBody computes the hex HMAC-SHA256 of the body under the shared secret.
func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// readErrorBody keeps a short prefix of an error response for the audit
// trail. Targets can return large HTML error pages; 512 bytes is enough to
// diagnose without bloating error_message.
func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(b))
}
