//go:build sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS capsules_fts USING fts5(
			id UNINDEXED,
			title,
			type,
			metadata,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(ctx context.Context, tx *sql.Tx, id, title, typ, metadata string) error {
	_, _ = tx.ExecContext(ctx, `DELETE FROM capsules_fts WHERE id = ?`, id)
	_, err := tx.ExecContext(ctx, `INSERT INTO capsules_fts (id, title, type, metadata) VALUES (?, ?, ?, ?)`,
		id, title, typ, metadata)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(ctx context.Context, tx *sql.Tx, id string) {
	_, _ = tx.ExecContext(ctx, `DELETE FROM capsules_fts WHERE id = ?`, id)
}

// Search performs an FTS5 full-text search over capsule titles, types and
// metadata values.
func (s *CapsuleStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id,
		       title,
		       snippet(capsules_fts, 1, '<b>', '</b>', '...', 32)
		FROM capsules_fts
		WHERE capsules_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
