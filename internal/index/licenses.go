package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/guardian/internal/apperr"
	"github.com/starford/guardian/internal/license"
	"github.com/starford/guardian/internal/models"
)

// LicenseStore persists licenses and license requests as JSON records with
// indexed lookup columns.
type LicenseStore struct {
	db *DB
}

var (
	_ license.LicenseRepository = (*LicenseStore)(nil)
	_ license.RequestRepository = (*LicenseStore)(nil)
)

// Licenses returns the license and request repository backed by db.
func (db *DB) Licenses() *LicenseStore {
	return &LicenseStore{db: db}
}

// SaveLicense implements license.LicenseRepository.
func (s *LicenseStore) SaveLicense(ctx context.Context, l *models.CapsuleLicense) error {
	rec, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("index: encode license: %w", err)
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO licenses (id, capsule_id, licensed_to, issued_at, record)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			capsule_id  = excluded.capsule_id,
			licensed_to = excluded.licensed_to,
			issued_at   = excluded.issued_at,
			record      = excluded.record
	`, l.ID, l.CapsuleID, l.LicensedTo, l.IssuedAt.UnixNano(), string(rec))
	if err != nil {
		return fmt.Errorf("index: save license: %w", err)
	}
	return nil
}

// GetLicense implements license.LicenseRepository.
func (s *LicenseStore) GetLicense(ctx context.Context, id string) (*models.CapsuleLicense, error) {
	var rec string
	err := s.db.conn.QueryRowContext(ctx, `SELECT record FROM licenses WHERE id = ?`, id).Scan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("license %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get license: %w", err)
	}
	return decodeLicense(rec)
}

// ListLicenses implements license.LicenseRepository.
func (s *LicenseStore) ListLicenses(ctx context.Context) ([]*models.CapsuleLicense, error) {
	return s.queryLicenses(ctx, `SELECT record FROM licenses ORDER BY issued_at, id`)
}

// LicensesByCapsule implements license.LicenseRepository.
func (s *LicenseStore) LicensesByCapsule(ctx context.Context, capsuleID string) ([]*models.CapsuleLicense, error) {
	return s.queryLicenses(ctx, `SELECT record FROM licenses WHERE capsule_id = ? ORDER BY issued_at, id`, capsuleID)
}

func (s *LicenseStore) queryLicenses(ctx context.Context, query string, args ...any) ([]*models.CapsuleLicense, error) {
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list licenses: %w", err)
	}
	defer rows.Close()

	out := make([]*models.CapsuleLicense, 0)
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, err
		}
		l, err := decodeLicense(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	license.SortLicenses(out)
	return out, nil
}

// SaveRequest implements license.RequestRepository.
func (s *LicenseStore) SaveRequest(ctx context.Context, r *models.LicenseRequest) error {
	rec, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("index: encode request: %w", err)
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO license_requests (id, capsule_id, status, record) VALUES (?, ?, ?, ?)
	`, r.ID, r.CapsuleID, string(r.Status), string(rec))
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("request %s: %w", r.ID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("index: save request: %w", err)
	}
	return nil
}

// GetRequest implements license.RequestRepository.
func (s *LicenseStore) GetRequest(ctx context.Context, id string) (*models.LicenseRequest, error) {
	var rec string
	err := s.db.conn.QueryRowContext(ctx, `SELECT record FROM license_requests WHERE id = ?`, id).Scan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get request: %w", err)
	}
	var r models.LicenseRequest
	if err := json.Unmarshal([]byte(rec), &r); err != nil {
		return nil, fmt.Errorf("index: decode request %s: %w", id, err)
	}
	return &r, nil
}

// UpdateRequest implements license.RequestRepository. The status check and
// the write happen in one statement.
func (s *LicenseStore) UpdateRequest(ctx context.Context, r *models.LicenseRequest, expected models.RequestStatus) error {
	rec, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("index: encode request: %w", err)
	}
	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE license_requests SET status = ?, record = ? WHERE id = ? AND status = ?
	`, string(r.Status), string(rec), r.ID, string(expected))
	if err != nil {
		return fmt.Errorf("index: update request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("index: update request: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetRequest(ctx, r.ID); err != nil {
		return err
	}
	return fmt.Errorf("request %s: %w", r.ID, apperr.ErrConflict)
}

func decodeLicense(rec string) (*models.CapsuleLicense, error) {
	var l models.CapsuleLicense
	if err := json.Unmarshal([]byte(rec), &l); err != nil {
		return nil, fmt.Errorf("index: decode license: %w", err)
	}
	if l.Verification.VerifiedBy == nil {
		l.Verification.VerifiedBy = []string{}
	}
	return &l, nil
}
