package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fieldsync/internal/models"

	"github.com/google/uuid"
)

const syncRecordColumns = `id, record_type, record_id, target_system, payload, status, error_message,
              attempts, synced_at, next_retry_at, claimed_until, created_by, created_at, updated_at`

// CreateSyncRecord persists a new sync record in pending status and assigns
// its identifier.
func (db *DB) CreateSyncRecord(ctx context.Context, record *models.SyncRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = models.StatusPending
	}
	if len(record.Payload) == 0 {
		record.Payload = []byte("{}")
	}

	now := time.Now().UTC()
	query := `INSERT INTO sync_records (id, record_type, record_id, target_system, payload, status, created_by, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		record.ID,
		record.RecordType,
		record.RecordID,
		record.TargetSystem,
		string(record.Payload),
		record.Status,
		record.CreatedBy,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync record: %w", err)
	}

	record.CreatedAt = now
	record.UpdatedAt = now
	return nil
}

// ClaimPending atomically claims a batch of eligible records for one
// dispatch cycle: pending, backoff elapsed, not leased by another cycle.
// The lease expires after leaseTTL so records are not lost if a worker dies
// mid-cycle. Records are returned oldest-first.
func (db *DB) ClaimPending(ctx context.Context, targetSystem string, limit int, leaseTTL time.Duration) ([]models.SyncRecord, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	selectQuery := `SELECT id FROM sync_records
              WHERE target_system = ? AND status = 'pending'
                AND (next_retry_at IS NULL OR next_retry_at <= ?)
                AND (claimed_until IS NULL OR claimed_until <= ?)
              ORDER BY created_at ASC LIMIT ?`

	rows, err := tx.QueryContext(ctx, selectQuery, targetSystem, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable records: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimable records: %w", err)
	}

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	claimedUntil := now.Add(leaseTTL)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	updateQuery := fmt.Sprintf(`UPDATE sync_records SET claimed_until = ?, updated_at = ?
              WHERE id IN (%s) AND status = 'pending'
                AND (claimed_until IS NULL OR claimed_until <= ?)`, placeholders)

	args := make([]interface{}, 0, len(ids)+3)
	args = append(args, claimedUntil, now)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, now)

	if _, err := tx.ExecContext(ctx, updateQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to claim records: %w", err)
	}

	// Re-read full rows restricted to the lease we just wrote, so records
	// claimed by a racing cycle between SELECT and UPDATE are excluded.
	fetchQuery := fmt.Sprintf(`SELECT %s FROM sync_records
              WHERE id IN (%s) AND claimed_until = ?
              ORDER BY created_at ASC`, syncRecordColumns, placeholders)

	fetchArgs := make([]interface{}, 0, len(ids)+1)
	for _, id := range ids {
		fetchArgs = append(fetchArgs, id)
	}
	fetchArgs = append(fetchArgs, claimedUntil)

	claimed, err := scanRecords(tx.QueryContext(ctx, fetchQuery, fetchArgs...))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claimed, nil
}

// MarkSynced records a successful delivery: terminal synced status, synced_at
// set exactly once, attempt counted, lease and error cleared.
func (db *DB) MarkSynced(ctx context.Context, id string) error {
	now := time.Now().UTC()
	query := `UPDATE sync_records
              SET status = 'synced', synced_at = ?, attempts = attempts + 1,
                  error_message = NULL, next_retry_at = NULL, claimed_until = NULL, updated_at = ?
              WHERE id = ? AND status = 'pending'`

	result, err := db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark record synced: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return db.transitionError(ctx, id)
	}
	return nil
}

// MarkFailed records a failed delivery attempt. A non-nil nextRetryAt keeps
// the record pending with backoff; nil makes the failure terminal.
func (db *DB) MarkFailed(ctx context.Context, id string, errMsg string, nextRetryAt *time.Time) error {
	now := time.Now().UTC()

	var query string
	if nextRetryAt != nil {
		query = `UPDATE sync_records
              SET status = 'pending', error_message = ?, attempts = attempts + 1,
                  next_retry_at = ?, claimed_until = NULL, updated_at = ?
              WHERE id = ? AND status = 'pending'`
	} else {
		query = `UPDATE sync_records
              SET status = 'failed', error_message = ?, attempts = attempts + 1,
                  next_retry_at = NULL, claimed_until = NULL, updated_at = ?
              WHERE id = ? AND status = 'pending'`
	}

	var result sql.Result
	var err error
	if nextRetryAt != nil {
		result, err = db.ExecContext(ctx, query, errMsg, nextRetryAt.UTC(), now, id)
	} else {
		result, err = db.ExecContext(ctx, query, errMsg, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to mark record failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return db.transitionError(ctx, id)
	}
	return nil
}

// RenewClaims extends the shared lease on the unprocessed remainder of a
// claimed batch. The update is conditional on the lease value the cycle
// holds, so records whose lease expired and was reclaimed by a competing
// cycle are dropped from this batch rather than stolen back. Returns the new
// lease and the ids still held under it.
func (db *DB) RenewClaims(ctx context.Context, ids []string, currentLease time.Time, leaseTTL time.Duration) (time.Time, []string, error) {
	if len(ids) == 0 {
		return currentLease, nil, nil
	}

	now := time.Now().UTC()
	newLease := now.Add(leaseTTL)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	query := fmt.Sprintf(`UPDATE sync_records SET claimed_until = ?, updated_at = ?
              WHERE id IN (%s) AND status = 'pending' AND claimed_until = ?`, placeholders)

	args := make([]interface{}, 0, len(ids)+3)
	args = append(args, newLease, now)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, currentLease)

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to renew claims: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == int64(len(ids)) {
		return newLease, ids, nil
	}

	// Часть аренды потеряна: выясняем, какие записи ещё наши.
	selectQuery := fmt.Sprintf(`SELECT id FROM sync_records
              WHERE id IN (%s) AND claimed_until = ?`, placeholders)
	selectArgs := make([]interface{}, 0, len(ids)+1)
	for _, id := range ids {
		selectArgs = append(selectArgs, id)
	}
	selectArgs = append(selectArgs, newLease)

	rows, err := db.QueryContext(ctx, selectQuery, selectArgs...)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to select renewed claims: %w", err)
	}
	defer rows.Close()

	var held []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return time.Time{}, nil, fmt.Errorf("failed to scan renewed claim id: %w", err)
		}
		held = append(held, id)
	}
	return newLease, held, rows.Err()
}

// ReleaseClaim drops the lease on a record without recording an attempt.
// Used when a cycle is cancelled between claiming and delivering.
func (db *DB) ReleaseClaim(ctx context.Context, id string) error {
	query := `UPDATE sync_records SET claimed_until = NULL, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

// GetSyncRecord returns a record by id or ErrNotFound.
func (db *DB) GetSyncRecord(ctx context.Context, id string) (*models.SyncRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_records WHERE id = ?`, syncRecordColumns)

	var r models.SyncRecord
	var payload string
	err := db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.RecordType, &r.RecordID, &r.TargetSystem, &payload, &r.Status, &r.ErrorMessage,
		&r.Attempts, &r.SyncedAt, &r.NextRetryAt, &r.ClaimedUntil, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}
	r.Payload = []byte(payload)
	return &r, nil
}

// ListFailedRecords returns terminally failed records, newest first.
// An empty targetSystem matches all targets.
func (db *DB) ListFailedRecords(ctx context.Context, targetSystem string) ([]models.SyncRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_records WHERE status = 'failed'`, syncRecordColumns)
	args := []interface{}{}
	if targetSystem != "" {
		query += ` AND target_system = ?`
		args = append(args, targetSystem)
	}
	query += ` ORDER BY created_at DESC`

	return scanRecords(db.QueryContext(ctx, query, args...))
}

// RequeueRecord returns a terminally failed record to the eligible set.
// Attempts reset to zero: the operator is starting a fresh delivery history.
func (db *DB) RequeueRecord(ctx context.Context, id string) error {
	query := `UPDATE sync_records
              SET status = 'pending', attempts = 0, error_message = NULL,
                  next_retry_at = NULL, claimed_until = NULL, updated_at = ?
              WHERE id = ? AND status = 'failed'`

	result, err := db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to requeue record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return db.transitionError(ctx, id)
	}
	return nil
}

// FailOrphanRecords fails pending records whose target system has no
// configuration row. Such records have no dispatch path (the scheduler walks
// configurations, not records) and would otherwise sit pending forever.
// Returns how many records were failed.
func (db *DB) FailOrphanRecords(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	query := `UPDATE sync_records
              SET status = 'failed',
                  error_message = 'no configuration for target system "' || target_system || '"',
                  next_retry_at = NULL, claimed_until = NULL, updated_at = ?
              WHERE status = 'pending'
                AND (claimed_until IS NULL OR claimed_until <= ?)
                AND target_system NOT IN (SELECT target_system FROM sync_configurations)`

	result, err := db.ExecContext(ctx, query, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to fail orphan records: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected, nil
}

// CountRecordsByStatus returns per-status record counts for a target,
// or all targets when targetSystem is empty.
func (db *DB) CountRecordsByStatus(ctx context.Context, targetSystem string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM sync_records`
	args := []interface{}{}
	if targetSystem != "" {
		query += ` WHERE target_system = ?`
		args = append(args, targetSystem)
	}
	query += ` GROUP BY status`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// transitionError distinguishes a missing record from a guard violation
// after an UPDATE affected zero rows.
func (db *DB) transitionError(ctx context.Context, id string) error {
	if _, err := db.GetSyncRecord(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

func scanRecords(rows *sql.Rows, err error) ([]models.SyncRecord, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to query sync records: %w", err)
	}
	defer rows.Close()

	var records []models.SyncRecord
	for rows.Next() {
		var r models.SyncRecord
		var payload string
		err := rows.Scan(
			&r.ID, &r.RecordType, &r.RecordID, &r.TargetSystem, &payload, &r.Status, &r.ErrorMessage,
			&r.Attempts, &r.SyncedAt, &r.NextRetryAt, &r.ClaimedUntil, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", err)
		}
		r.Payload = []byte(payload)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync records: %w", err)
	}
	return records, nil
}
