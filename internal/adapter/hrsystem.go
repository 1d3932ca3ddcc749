package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fieldsync/internal/domain"

	"github.com/rs/zerolog"
)

// hrOptions is the config_options shape the HR adapter understands:
// a map from record type to the API path the record is POSTed to.
type hrOptions struct {
	Endpoints map[string]string `json:"endpoints"`
}

// HRSystemAdapter delivers records to the HR platform's JSON API. The base
// URL comes from the target's webhook_url, the per-record-type path from
// config_options.endpoints, and auth is a bearer api key.
type HRSystemAdapter struct {
	name   string
	client *http.Client
	logger zerolog.Logger
}

func NewHRSystemAdapter(name string, timeout time.Duration, logger *zerolog.Logger) *HRSystemAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "adapter").Str("adapter", name).Logger()
	}
	return &HRSystemAdapter{
		name:   name,
		client: &http.Client{Timeout: timeout},
		logger: l,
	}
}

func (a *HRSystemAdapter) Name() string { return a.name }

func (a *HRSystemAdapter) Deliver(ctx context.Context, d domain.Delivery) error {
	if d.Credentials.WebhookURL == "" {
		return fmt.Errorf("target has no base url configured")
	}

	var opts hrOptions
	if len(d.Options) > 0 {
		if err := json.Unmarshal(d.Options, &opts); err != nil {
			return fmt.Errorf("parse config options: %w", err)
		}
	}

	path, ok := opts.Endpoints[d.RecordType]
	if !ok {
		return fmt.Errorf("no endpoint configured for record type %q", d.RecordType)
	}

	url := strings.TrimRight(d.Credentials.WebhookURL, "/") + "/" + strings.TrimLeft(path, "/")

	body, err := json.Marshal(map[string]interface{}{
		"external_id": d.RecordRef,
		"data":        d.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerIdempotencyKey, d.IdempotencyKey)
	if d.Credentials.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.Credentials.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("hr api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		a.logger.Debug().Str("record_id", d.RecordID).Str("url", url).Msg("record delivered to hr api")
		return nil
	}

	return &StatusError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
}
