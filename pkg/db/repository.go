package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/virtqa/pool-create-check/pkg/errors"
	_ "modernc.org/sqlite"
)

const runColumns = `id, scenario, pool_name, mutation, flags, status, phase, reason, stderr,
		       old_uuid, new_uuid, descriptor_path, descriptor_sha256, descriptor_file, corrupt_file,
		       created_pool, create_attempted, foreign_pool, pool_handle, device, warnings, timings, cleaned,
		       created_at, updated_at`

// Repository provides database operations for runs
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Create schema
	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new run record
func (r *Repository) Create(run *Run) error {
	slog.Info("database_create_run", "run_id", run.ID, "pool", run.PoolName, "status", run.Status)

	query := `
		INSERT INTO runs (id, scenario, pool_name, mutation, flags, status, phase, reason, stderr,
		                  old_uuid, new_uuid, descriptor_path, descriptor_sha256, descriptor_file, corrupt_file,
		                  created_pool, create_attempted, foreign_pool, pool_handle, device, warnings, timings, cleaned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query,
		run.ID, run.Scenario, run.PoolName, run.Mutation, run.Flags, run.Status, run.Phase,
		run.Reason, run.Stderr, run.OldUUID, run.NewUUID,
		run.DescriptorPath, run.DescriptorSHA256, run.DescriptorFile, run.CorruptFile,
		run.CreatedPool, run.CreateAttempted, run.ForeignPool, run.PoolHandle, run.Device, run.Warnings, run.Timings, run.Cleaned)
	if err != nil {
		slog.Error("database_insert_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}

	slog.Info("database_run_created", "run_id", run.ID, "status", run.Status)
	return nil
}

// Get retrieves a run by ID. It returns nil when no such run exists.
func (r *Repository) Get(id string) (*Run, error) {
	slog.Debug("database_query_run", "run_id", id)

	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`
	run, err := scanRun(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		slog.Info("database_run_not_found", "run_id", id)
		return nil, nil // Not found
	}
	if err != nil {
		slog.Error("database_query_failed", "run_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query run")
	}
	return run, nil
}

// Update updates an existing run record
func (r *Repository) Update(run *Run) error {
	slog.Debug("database_update_run", "run_id", run.ID, "status", run.Status, "phase", run.Phase)

	query := `
		UPDATE runs
		SET scenario = ?, pool_name = ?, mutation = ?, flags = ?, status = ?, phase = ?, reason = ?, stderr = ?,
		    old_uuid = ?, new_uuid = ?, descriptor_path = ?, descriptor_sha256 = ?, descriptor_file = ?,
		    corrupt_file = ?, created_pool = ?, create_attempted = ?, foreign_pool = ?, pool_handle = ?,
		    device = ?, warnings = ?, timings = ?, cleaned = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		run.Scenario, run.PoolName, run.Mutation, run.Flags, run.Status, run.Phase, run.Reason, run.Stderr,
		run.OldUUID, run.NewUUID, run.DescriptorPath, run.DescriptorSHA256, run.DescriptorFile,
		run.CorruptFile, run.CreatedPool, run.CreateAttempted, run.ForeignPool, run.PoolHandle,
		run.Device, run.Warnings, run.Timings, run.Cleaned, run.ID)
	if err != nil {
		slog.Error("database_update_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to update run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "run_id", run.ID, "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_run_not_found_for_update", "run_id", run.ID)
		return fmt.Errorf("run not found: id=%s", run.ID)
	}
	return nil
}

// UpdateStatus updates only the status and reason fields
func (r *Repository) UpdateStatus(id, status, reason string) error {
	slog.Info("database_update_status", "run_id", id, "status", status)

	query := `UPDATE runs SET status = ?, reason = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := r.db.Exec(query, status, reason, id)
	if err != nil {
		slog.Error("database_status_update_failed", "run_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}
	return nil
}

// MarkCleaned flags a run whose resources are released
func (r *Repository) MarkCleaned(id string) error {
	slog.Info("database_mark_cleaned", "run_id", id)

	query := `UPDATE runs SET cleaned = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, id); err != nil {
		slog.Error("database_mark_cleaned_failed", "run_id", id, "error", err)
		return errors.Wrap(err, "failed to mark run cleaned")
	}
	return nil
}

// List retrieves all runs, newest first
func (r *Repository) List() ([]*Run, error) {
	return r.list(`SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, rowid DESC`)
}

// ListFinished retrieves runs that reached a verdict, oldest first
func (r *Repository) ListFinished() ([]*Run, error) {
	return r.list(`SELECT ` + runColumns + ` FROM runs WHERE status IN ('pass', 'fail', 'error') ORDER BY created_at, rowid`)
}

// ListUncleaned retrieves runs whose resources were never released
func (r *Repository) ListUncleaned() ([]*Run, error) {
	return r.list(`SELECT ` + runColumns + ` FROM runs WHERE cleaned = 0 ORDER BY created_at, rowid`)
}

func (r *Repository) list(query string) ([]*Run, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Debug("database_list_complete", "run_count", len(runs))
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var reason, stderr, oldUUID, newUUID sql.NullString
	var descPath, descSHA, descFile, corruptFile sql.NullString
	var createdPool, poolHandle, device, timings sql.NullString

	err := s.Scan(
		&run.ID, &run.Scenario, &run.PoolName, &run.Mutation, &run.Flags, &run.Status, &run.Phase,
		&reason, &stderr, &oldUUID, &newUUID,
		&descPath, &descSHA, &descFile, &corruptFile,
		&createdPool, &run.CreateAttempted, &run.ForeignPool, &poolHandle, &device, &run.Warnings, &timings, &run.Cleaned,
		&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// Handle nullable fields
	run.Reason = reason.String
	run.Stderr = stderr.String
	run.OldUUID = oldUUID.String
	run.NewUUID = newUUID.String
	run.DescriptorPath = descPath.String
	run.DescriptorSHA256 = descSHA.String
	run.DescriptorFile = descFile.String
	run.CorruptFile = corruptFile.String
	run.CreatedPool = createdPool.String
	run.PoolHandle = poolHandle.String
	run.Device = device.String
	run.Timings = timings.String
	return &run, nil
}
