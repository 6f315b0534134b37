package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/starford/guardian/internal/apperr"
	"github.com/starford/guardian/internal/models"
)

// SearchResult represents one capsule search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// CapsuleStore is the SQLite capsule persistence store.
type CapsuleStore struct {
	db *DB
}

// Capsules returns the capsule store backed by db.
func (db *DB) Capsules() *CapsuleStore {
	return &CapsuleStore{db: db}
}

// Exists reports whether a capsule with id is stored.
func (s *CapsuleStore) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx, `SELECT count(*) FROM capsules WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("index: capsule exists: %w", err)
	}
	return n > 0, nil
}

// Upsert inserts or replaces a capsule and its search entry within a transaction.
func (s *CapsuleStore) Upsert(ctx context.Context, c models.CapsuleBackup) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: capsule id is required", apperr.ErrInvalidInput)
	}
	meta, err := json.Marshal(nonNilMap(c.Metadata))
	if err != nil {
		return fmt.Errorf("index: encode metadata: %w", err)
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.ExecContext(ctx, `
		INSERT INTO capsules (id, title, type, grief_score, timestamp, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			title       = excluded.title,
			type        = excluded.type,
			grief_score = excluded.grief_score,
			timestamp   = excluded.timestamp,
			metadata    = excluded.metadata,
			updated_at  = excluded.updated_at
	`, c.ID, c.Title, c.Type, c.GriefScore, c.Timestamp, string(meta))
	if err != nil {
		return fmt.Errorf("index: upsert capsule: %w", err)
	}

	if err := ftsUpsert(ctx, tx, c.ID, c.Title, c.Type, metadataText(c.Metadata)); err != nil {
		return err
	}
	return tx.Commit()
}

// Get returns the capsule with id, or apperr.ErrNotFound.
func (s *CapsuleStore) Get(ctx context.Context, id string) (models.CapsuleBackup, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT id, title, type, grief_score, timestamp, metadata FROM capsules WHERE id = ?`, id)
	c, err := scanCapsule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CapsuleBackup{}, fmt.Errorf("capsule %s: %w", id, apperr.ErrNotFound)
	}
	return c, err
}

// List returns every stored capsule ordered by id.
func (s *CapsuleStore) List(ctx context.Context) ([]models.CapsuleBackup, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, title, type, grief_score, timestamp, metadata FROM capsules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("index: list capsules: %w", err)
	}
	defer rows.Close()

	out := make([]models.CapsuleBackup, 0)
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a capsule and its search entry.
func (s *CapsuleStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(ctx, tx, id)
	_, _ = tx.ExecContext(ctx, `DELETE FROM capsules WHERE id = ?`, id)

	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCapsule(row scanner) (models.CapsuleBackup, error) {
	var c models.CapsuleBackup
	var meta string
	if err := row.Scan(&c.ID, &c.Title, &c.Type, &c.GriefScore, &c.Timestamp, &meta); err != nil {
		return models.CapsuleBackup{}, err
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return models.CapsuleBackup{}, fmt.Errorf("index: decode metadata of %s: %w", c.ID, err)
	}
	if len(c.Metadata) == 0 {
		c.Metadata = nil
	}
	return c, nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// metadataText flattens metadata values into a stable search document.
func metadataText(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, m[k])
	}
	return strings.Join(parts, " ")
}
