// Package capsuleservice coordinates the license manager, the restore
// manager, backup storage and the index for the HTTP and MCP layers.
package capsuleservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/starford/guardian/internal/apperr"
	"github.com/starford/guardian/internal/backup"
	"github.com/starford/guardian/internal/index"
	"github.com/starford/guardian/internal/license"
	"github.com/starford/guardian/internal/models"
	"github.com/starford/guardian/internal/restore"
	"github.com/starford/guardian/internal/storage"
)

// Service is the application layer shared by the API and the MCP server.
type Service struct {
	licenses  *license.Manager
	restorer  *restore.Manager
	archive   index.Inspector
	store     storage.Provider
	db        *index.DB
	recipient string
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRecipient sets the age public key new backups are encrypted to.
func WithRecipient(recipient string) Option {
	return func(s *Service) { s.recipient = recipient }
}

// WithLogger sets the logger used for best-effort catalog updates.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a new Service.
func NewService(licenses *license.Manager, restorer *restore.Manager, archive index.Inspector, store storage.Provider, db *index.DB, opts ...Option) *Service {
	s := &Service{
		licenses: licenses,
		restorer: restorer,
		archive:  archive,
		store:    store,
		db:       db,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateLicense issues a new license.
func (s *Service) GenerateLicense(ctx context.Context, in license.GenerateInput) (*models.CapsuleLicense, error) {
	return s.licenses.GenerateLicense(ctx, in)
}

// GetLicense returns a stored license.
func (s *Service) GetLicense(ctx context.Context, id string) (*models.CapsuleLicense, error) {
	return s.licenses.GetLicense(ctx, id)
}

// ListLicenses returns licenses, optionally narrowed to one capsule and/or
// one holder.
func (s *Service) ListLicenses(ctx context.Context, capsuleID, user string) ([]*models.CapsuleLicense, error) {
	var (
		ls  []*models.CapsuleLicense
		err error
	)
	switch {
	case capsuleID != "":
		ls, err = s.licenses.GetCapsuleLicenses(ctx, capsuleID)
	case user != "":
		return s.licenses.GetUserLicenses(ctx, user)
	default:
		ls, err = s.licenses.ListLicenses(ctx)
	}
	if err != nil {
		return nil, err
	}
	if user == "" {
		return nonNilSlice(ls), nil
	}
	out := make([]*models.CapsuleLicense, 0, len(ls))
	for _, l := range ls {
		if l.HeldBy(user) {
			out = append(out, l)
		}
	}
	return out, nil
}

// VerifyLicense verifies a license and records verifier as an attestation.
func (s *Service) VerifyLicense(ctx context.Context, id, verifier string) (*license.VerifyResult, error) {
	return s.licenses.VerifyLicense(ctx, id, verifier)
}

// LicenseMetrics returns aggregate license statistics.
func (s *Service) LicenseMetrics(ctx context.Context) (*license.Metrics, error) {
	return s.licenses.GetLicenseMetrics(ctx)
}

// HasValidLicense reports whether user may access capsuleID.
func (s *Service) HasValidLicense(ctx context.Context, capsuleID, user string) (bool, error) {
	return s.licenses.HasValidLicense(ctx, capsuleID, user)
}

// CreateLicenseRequest files a pending license request.
func (s *Service) CreateLicenseRequest(ctx context.Context, in license.RequestInput) (*models.LicenseRequest, error) {
	return s.licenses.CreateLicenseRequest(ctx, in)
}

// GetLicenseRequest returns a stored license request.
func (s *Service) GetLicenseRequest(ctx context.Context, id string) (*models.LicenseRequest, error) {
	return s.licenses.GetRequest(ctx, id)
}

// ProcessLicenseRequest approves or rejects a pending request.
func (s *Service) ProcessLicenseRequest(ctx context.Context, id string, action license.Action, authorAddress string) (*license.ProcessResult, error) {
	return s.licenses.ProcessLicenseRequest(ctx, id, action, authorAddress)
}

// GetCapsule returns a capsule from the capsule store.
func (s *Service) GetCapsule(ctx context.Context, id string) (models.CapsuleBackup, error) {
	return s.db.Capsules().Get(ctx, id)
}

// ListCapsules returns every capsule in the store.
func (s *Service) ListCapsules(ctx context.Context) ([]models.CapsuleBackup, error) {
	cs, err := s.db.Capsules().List(ctx)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(cs), nil
}

// SearchCapsules runs a full-text search over capsule titles, types and
// metadata.
func (s *Service) SearchCapsules(ctx context.Context, query string, limit int) ([]index.SearchResult, error) {
	rs, err := s.db.Capsules().Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(rs), nil
}

// ListBackups returns the backup catalog.
func (s *Service) ListBackups(ctx context.Context) ([]index.BackupRow, error) {
	return s.db.ListBackups(ctx)
}

// ImportBackup stores an uploaded artifact under name and catalogs it.
// Content that is not a readable backup is removed again and reported as
// apperr.ErrInvalidInput.
func (s *Service) ImportBackup(ctx context.Context, name string, data []byte) (*index.BackupRow, error) {
	p, err := BackupName(name)
	if err != nil {
		return nil, err
	}
	exists, err := s.store.Exists(p)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("backup %s: %w", p, apperr.ErrAlreadyExists)
	}
	if err := s.store.Write(p, data); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}
	if _, err := s.archive.Manifest(p); err != nil {
		if delErr := s.store.Delete(p); delErr != nil {
			s.logger.Warn("remove rejected upload failed", slog.String("path", p), slog.String("error", delErr.Error()))
		}
		return nil, fmt.Errorf("%w: %s is not a backup artifact: %v", apperr.ErrInvalidInput, p, err)
	}
	return s.catalog(ctx, p)
}

// CreateBackup snapshots the capsule store into a new artifact named name.
func (s *Service) CreateBackup(ctx context.Context, name string) (*index.BackupRow, error) {
	p, err := BackupName(name)
	if err != nil {
		return nil, err
	}
	exists, err := s.store.Exists(p)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("backup %s: %w", p, apperr.ErrAlreadyExists)
	}
	if _, err := s.restorer.CreateBackup(ctx, p, backup.WriteOptions{Recipient: s.recipient}); err != nil {
		return nil, err
	}
	return s.catalog(ctx, p)
}

// VerifyBackup inspects a backup artifact without restoring it.
func (s *Service) VerifyBackup(ctx context.Context, p string) (*restore.VerifyResult, error) {
	return s.restorer.VerifyBackup(ctx, p)
}

// Restore restores one backup.
func (s *Service) Restore(ctx context.Context, opts restore.Options) (*restore.Result, error) {
	res, err := s.restorer.RestoreCapsules(ctx, opts)
	s.catalogRecoveryPoint(ctx, res)
	return res, err
}

// IncrementalRestore restores capsules of one backup stamped at or after since.
func (s *Service) IncrementalRestore(ctx context.Context, p string, since int64, opts restore.Options) (*restore.Result, error) {
	res, err := s.restorer.IncrementalRestore(ctx, p, since, opts)
	s.catalogRecoveryPoint(ctx, res)
	return res, err
}

// MergeBackups restores the newest copy of every capsule across paths.
func (s *Service) MergeBackups(ctx context.Context, paths []string, opts restore.Options) (*restore.Result, error) {
	res, err := s.restorer.MergeBackups(ctx, paths, opts)
	s.catalogRecoveryPoint(ctx, res)
	return res, err
}

func (s *Service) catalog(ctx context.Context, p string) (*index.BackupRow, error) {
	if err := index.CatalogFile(ctx, s.db, s.store, s.archive, p); err != nil {
		return nil, fmt.Errorf("catalog backup: %w", err)
	}
	return s.db.GetBackup(ctx, p)
}

func (s *Service) catalogRecoveryPoint(ctx context.Context, res *restore.Result) {
	if res == nil || res.RecoveryPointPath == "" {
		return
	}
	if err := index.CatalogFile(ctx, s.db, s.store, s.archive, res.RecoveryPointPath); err != nil {
		s.logger.Warn("catalog recovery point failed",
			slog.String("path", res.RecoveryPointPath), slog.String("error", err.Error()))
	}
}

// BackupName normalises a user-supplied artifact name to a relative path
// ending in the backup extension.
func BackupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: backup name is required", apperr.ErrInvalidInput)
	}
	p := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if path.IsAbs(p) || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("%w: invalid backup name %q", apperr.ErrInvalidInput, name)
	}
	if !strings.HasSuffix(p, storage.BackupExt) {
		p += storage.BackupExt
	}
	return p, nil
}

// IsNotFound reports whether err means the addressed record or artifact does
// not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrBackupNotFound)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
