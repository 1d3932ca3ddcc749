package adapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/models"
)

func testDelivery(url string) domain.Delivery {
	return domain.Delivery{
		RecordID:       "rec-1",
		RecordType:     "participant",
		RecordRef:      "p-100",
		Payload:        []byte(`{"name":"Ada"}`),
		IdempotencyKey: "rec-1",
		Credentials:    models.Credentials{WebhookURL: url, APIKey: "shared-secret"},
	}
}

func TestWebhookAdapterSuccess(t *testing.T) {
	var gotBody []byte
	var gotSignature, gotIdempotency string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get(headerSignature)
		gotIdempotency = r.Header.Get(headerIdempotencyKey)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewWebhookAdapter("webhook", time.Second, nil)
	if err := a.Deliver(context.Background(), testDelivery(srv.URL)); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if gotIdempotency != "rec-1" {
		t.Fatalf("expected idempotency key rec-1, got %q", gotIdempotency)
	}

	// Signature must verify against the body actually sent.
	mac := hmac.New(sha256.New, []byte("shared-secret"))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSignature != want {
		t.Fatalf("signature mismatch: got %q want %q", gotSignature, want)
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(gotBody, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.RecordType != "participant" || envelope.RecordRef != "p-100" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestWebhookAdapterFailureStatuses(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("nope"))
		}))

		a := NewWebhookAdapter("webhook", time.Second, nil)
		err := a.Deliver(context.Background(), testDelivery(srv.URL))
		srv.Close()

		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("status %d: expected StatusError, got %v", status, err)
		}
		if statusErr.StatusCode != status {
			t.Fatalf("expected status %d in error, got %d", status, statusErr.StatusCode)
		}
	}
}

func TestWebhookAdapterTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	a := NewWebhookAdapter("webhook", 20*time.Millisecond, nil)
	err := a.Deliver(context.Background(), testDelivery(srv.URL))
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestWebhookAdapterMissingURL(t *testing.T) {
	a := NewWebhookAdapter("webhook", time.Second, nil)
	d := testDelivery("")
	d.Credentials.WebhookURL = ""
	if err := a.Deliver(context.Background(), d); err == nil {
		t.Fatalf("expected error for missing webhook url")
	}
}

func TestWebhookAdapterNoSecretNoSignature(t *testing.T) {
	var signed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signed = r.Header.Get(headerSignature) != ""
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewWebhookAdapter("webhook", time.Second, nil)
	d := testDelivery(srv.URL)
	d.Credentials.APIKey = ""
	if err := a.Deliver(context.Background(), d); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if signed {
		t.Fatalf("expected no signature header without a shared secret")
	}
}
