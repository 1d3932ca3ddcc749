package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"fieldsync/internal/database"
	"fieldsync/internal/dispatcher"
	"fieldsync/internal/models"
	"fieldsync/internal/service"
)

type enqueueRequest struct {
	RecordType   string          `json:"record_type"`
	RecordID     string          `json:"record_id"`
	TargetSystem string          `json:"target_system"`
	Payload      json.RawMessage `json:"payload"`
	CreatedBy    string          `json:"created_by"`
}

type targetConfigRequest struct {
	Enabled       bool            `json:"enabled"`
	AutoSync      bool            `json:"auto_sync"`
	SyncFrequency string          `json:"sync_frequency"`
	WebhookURL    string          `json:"webhook_url"`
	APIKey        string          `json:"api_key"`
	ConfigOptions json.RawMessage `json:"config_options"`
	UpdatedBy     string          `json:"updated_by"`
}

type targetConfigResponse struct {
	*models.SyncConfig
	APIKeySet bool `json:"api_key_set"`
}

func (s *HTTPServer) handleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body enqueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	record, err := s.svc.Enqueue(r.Context(), body.RecordType, body.RecordID, body.TargetSystem, body.Payload, body.CreatedBy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// handleRecordByID routes /api/v1/records/{id}, /api/v1/records/{id}/requeue,
// /api/v1/records/failed and /api/v1/records/failed/export.
func (s *HTTPServer) handleRecordByID(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/records/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	switch {
	case rest == "failed":
		s.handleFailedRecords(w, r)
	case rest == "failed/export":
		s.handleFailedExport(w, r)
	case strings.HasSuffix(rest, "/requeue"):
		s.handleRequeue(w, r, strings.TrimSuffix(rest, "/requeue"))
	default:
		s.handleGetRecord(w, r, rest)
	}
}

func (s *HTTPServer) handleGetRecord(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "record id is required")
		return
	}

	record, err := s.svc.GetRecord(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) handleRequeue(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusBadRequest, "record id is required")
		return
	}

	record, err := s.svc.Requeue(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) handleFailedRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	target := strings.TrimSpace(r.URL.Query().Get("target"))
	records, err := s.svc.ListFailed(r.Context(), target)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []models.SyncRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *HTTPServer) handleFailedExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusNotImplemented, "export is not configured")
		return
	}

	target := strings.TrimSpace(r.URL.Query().Get("target"))
	path, err := s.exporter.ExportFailed(r.Context(), target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(path))
	_, _ = io.Copy(w, f)
}

func (s *HTTPServer) handleTargets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	configs, err := s.svc.ListTargetConfigs(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if configs == nil {
		configs = []models.SyncConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": configs})
}

// handleTargetByName routes /api/v1/targets/{name} and
// /api/v1/targets/{name}/sync.
func (s *HTTPServer) handleTargetByName(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/targets/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	if strings.HasSuffix(rest, "/sync") {
		s.handleTriggerSync(w, r, strings.TrimSuffix(rest, "/sync"))
		return
	}

	name := strings.TrimSpace(rest)
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusBadRequest, "target name is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		cfg, hasKey, err := s.svc.GetTargetConfig(r.Context(), name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, targetConfigResponse{SyncConfig: cfg, APIKeySet: hasKey})
	case http.MethodPut:
		var body targetConfigRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		cfg := &models.SyncConfig{
			TargetSystem:  name,
			Enabled:       body.Enabled,
			AutoSync:      body.AutoSync,
			SyncFrequency: body.SyncFrequency,
			WebhookURL:    body.WebhookURL,
			APIKey:        body.APIKey,
			ConfigOptions: body.ConfigOptions,
			UpdatedBy:     body.UpdatedBy,
		}
		if err := s.svc.UpsertTargetConfig(r.Context(), cfg); err != nil {
			writeServiceError(w, err)
			return
		}

		stored, hasKey, err := s.svc.GetTargetConfig(r.Context(), name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, targetConfigResponse{SyncConfig: stored, APIKeySet: hasKey})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleTriggerSync(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "target name is required")
		return
	}

	if err := s.svc.TriggerSync(r.Context(), name); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered", "target": name})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	target := strings.TrimSpace(r.URL.Query().Get("target"))
	counts, err := s.svc.Counts(r.Context(), target)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

// writeServiceError maps domain errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, database.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "record is not in a requeueable state")
	case errors.Is(err, dispatcher.ErrTargetDisabled):
		writeError(w, http.StatusConflict, "target system is disabled")
	case errors.Is(err, dispatcher.ErrCycleInProgress):
		writeError(w, http.StatusConflict, "sync already in progress")
	case errors.Is(err, service.ErrRecordTypeRequired),
		errors.Is(err, service.ErrRecordIDRequired),
		errors.Is(err, service.ErrTargetSystemRequired),
		errors.Is(err, service.ErrInvalidPayload),
		errors.Is(err, service.ErrInvalidFrequency),
		errors.Is(err, service.ErrInvalidOptions):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
