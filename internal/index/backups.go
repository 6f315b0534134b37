package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/guardian/internal/apperr"
)

// BackupRow is one cataloged backup artifact.
type BackupRow struct {
	Path         string    `json:"path"`
	Checksum     string    `json:"checksum"`
	Size         int64     `json:"size"`
	CapsuleCount int       `json:"capsule_count"`
	Encrypted    bool      `json:"encrypted"`
	Valid        bool      `json:"valid"`
	Issue        string    `json:"issue,omitempty"`
	CreatedAt    int64     `json:"created_at"` // manifest creation, Unix ms
	CatalogedAt  time.Time `json:"cataloged_at"`
}

// UpsertBackup inserts or replaces a catalog row.
func (db *DB) UpsertBackup(ctx context.Context, b BackupRow) error {
	if b.CatalogedAt.IsZero() {
		b.CatalogedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO backups (path, checksum, size, capsule_count, encrypted, valid, issue, created_at, cataloged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			checksum      = excluded.checksum,
			size          = excluded.size,
			capsule_count = excluded.capsule_count,
			encrypted     = excluded.encrypted,
			valid         = excluded.valid,
			issue         = excluded.issue,
			created_at    = excluded.created_at,
			cataloged_at  = excluded.cataloged_at
	`, b.Path, b.Checksum, b.Size, b.CapsuleCount, b.Encrypted, b.Valid, b.Issue, b.CreatedAt, b.CatalogedAt)
	if err != nil {
		return fmt.Errorf("index: upsert backup: %w", err)
	}
	return nil
}

// DeleteBackup removes a catalog row.
func (db *DB) DeleteBackup(ctx context.Context, path string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM backups WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete backup: %w", err)
	}
	return nil
}

// GetBackup returns the catalog row for path, or apperr.ErrNotFound.
func (db *DB) GetBackup(ctx context.Context, path string) (*BackupRow, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT path, checksum, size, capsule_count, encrypted, valid, issue, created_at, cataloged_at
		FROM backups WHERE path = ?`, path)
	b, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backup %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get backup: %w", err)
	}
	return b, nil
}

// ListBackups returns the catalog, newest manifest first.
func (db *DB) ListBackups(ctx context.Context) ([]BackupRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT path, checksum, size, capsule_count, encrypted, valid, issue, created_at, cataloged_at
		FROM backups ORDER BY created_at DESC, path`)
	if err != nil {
		return nil, fmt.Errorf("index: list backups: %w", err)
	}
	defer rows.Close()

	out := make([]BackupRow, 0)
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// BackupChecksums returns the file checksum of every cataloged artifact.
func (db *DB) BackupChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, checksum FROM backups`)
	if err != nil {
		return nil, fmt.Errorf("index: backup checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

func scanBackup(row scanner) (*BackupRow, error) {
	var b BackupRow
	if err := row.Scan(&b.Path, &b.Checksum, &b.Size, &b.CapsuleCount, &b.Encrypted, &b.Valid,
		&b.Issue, &b.CreatedAt, &b.CatalogedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
