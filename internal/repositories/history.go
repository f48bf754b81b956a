package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/petredig/tidl/internal/models"
	"github.com/petredig/tidl/internal/shared"
)

// HistoryRepository implements models.Repository[*models.DownloadRecord].
//
// Every finished job is recorded here regardless of outcome, which is what the
// history command lists.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a new HistoryRepository with the given database connection
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Create inserts a new [models.DownloadRecord] into the database with generated ID and sequence
func (r *HistoryRepository) Create(record *models.DownloadRecord) error {
	sequence, err := NextSequence(r.db, "downloads")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	record.SetID(id)
	record.Sequence = sequence

	if err := record.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO downloads (id, sequence, url, title, codec, quality, final_code, fallback, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		id,
		sequence,
		record.URL,
		record.Title,
		record.Codec,
		record.Quality,
		record.FinalCode,
		record.Fallback,
		record.CreatedAt(),
		record.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert download record: %w", err)
	}

	return nil
}

// Get retrieves a record by ID, excluding soft-deleted records
func (r *HistoryRepository) Get(id string) (*models.DownloadRecord, error) {
	query := selectColumns + ` WHERE id = ? AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRow(query, id))
}

// Update modifies an existing record in the database
func (r *HistoryRepository) Update(record *models.DownloadRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	record.Touch()

	query := `
		UPDATE downloads
		SET url = ?, title = ?, codec = ?, quality = ?, final_code = ?, fallback = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		record.URL,
		record.Title,
		record.Codec,
		record.Quality,
		record.FinalCode,
		record.Fallback,
		record.UpdatedAt(),
		record.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update download record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("download record %s not found", record.ID())
	}

	return nil
}

// Delete soft-deletes a record by setting deleted_at
func (r *HistoryRepository) Delete(id string) error {
	query := `UPDATE downloads SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`

	result, err := r.db.Exec(query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete download record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("download record %s not found", id)
	}

	return nil
}

// List retrieves records matching the given criteria, newest first.
//
// Supported criteria keys: "url", "final_code".
func (r *HistoryRepository) List(criteria map[string]any) ([]*models.DownloadRecord, error) {
	query := selectColumns + ` WHERE deleted_at IS NULL`
	var args []any

	if url, ok := criteria["url"]; ok {
		query += " AND url = ?"
		args = append(args, url)
	}
	if code, ok := criteria["final_code"]; ok {
		query += " AND final_code = ?"
		args = append(args, code)
	}

	query += " ORDER BY sequence DESC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list download records: %w", err)
	}
	defer rows.Close()

	var records []*models.DownloadRecord
	for rows.Next() {
		record, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

const selectColumns = `
	SELECT id, sequence, url, title, codec, quality, final_code, fallback, created_at, updated_at, deleted_at
	FROM downloads`

type scannable interface {
	Scan(dest ...any) error
}

func (r *HistoryRepository) scanOne(row *sql.Row) (*models.DownloadRecord, error) {
	record, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("download record not found")
	}
	return record, err
}

func (r *HistoryRepository) scanRow(row scannable) (*models.DownloadRecord, error) {
	var (
		record    models.DownloadRecord
		id        string
		createdAt time.Time
		updatedAt time.Time
		deletedAt sql.NullTime
	)

	err := row.Scan(
		&id,
		&record.Sequence,
		&record.URL,
		&record.Title,
		&record.Codec,
		&record.Quality,
		&record.FinalCode,
		&record.Fallback,
		&createdAt,
		&updatedAt,
		&deletedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan download record: %w", err)
	}

	record.SetID(id)
	var deleted *time.Time
	if deletedAt.Valid {
		deleted = &deletedAt.Time
	}
	record.SetTimestamps(createdAt, updatedAt, deleted)

	return &record, nil
}
